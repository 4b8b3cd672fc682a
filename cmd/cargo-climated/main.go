// Command cargo-climated runs the cargo-space climate control loop:
// it reads the SHT3x sensor, validates samples, decides a cooling mode,
// and drives the pump, chiller, and dehumidifier through the actuator
// safety layer. State is published over MQTT, logged to JSONL (and
// optionally Kafka), and served on an HTTP status page.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/cargo-climate/internal/actuator"
	"github.com/sweeney/cargo-climate/internal/climate"
	"github.com/sweeney/cargo-climate/internal/config"
	"github.com/sweeney/cargo-climate/internal/metrics"
	"github.com/sweeney/cargo-climate/internal/mqtt"
	"github.com/sweeney/cargo-climate/internal/sensor"
	"github.com/sweeney/cargo-climate/internal/status"
	"github.com/sweeney/cargo-climate/internal/store"
	"github.com/sweeney/cargo-climate/internal/web"
)

func main() {
	configPath := flag.String("config", "", "Config file path (YAML; empty searches . and /etc/cargo-climate)")
	broker := flag.String("broker", "", "MQTT broker address (overrides config)")
	httpAddr := flag.String("http", "", "HTTP status address (overrides config)")
	interval := flag.Duration("interval", 0, "Control cycle interval (overrides config)")
	sim := flag.Bool("sim", false, "Run with simulated sensor and actuators")
	printReading := flag.Bool("print-reading", false, "Read the sensor once, print, and exit")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")

	flag.Parse()

	log := logrus.New()
	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("invalid log level %q: %v", *logLevel, err)
	}
	log.SetLevel(level)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *broker != "" {
		cfg.MQTT.Broker = *broker
	}
	if *httpAddr != "" {
		cfg.Web.Addr = *httpAddr
	}
	if *interval > 0 {
		cfg.Sensor.ReadInterval = interval.Seconds()
	}

	if err := run(cfg, *sim, *printReading, log); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(cfg *config.Config, sim, printReading bool, log *logrus.Logger) error {
	// The simulator doubles as the fallback source while the hardware
	// sensor is absent, so it always exists.
	fallback := sensor.NewSimTransport(cfg.Targets.TempTarget, cfg.Targets.HumidityTarget, time.Now().UnixNano())

	var transport sensor.Transport = fallback
	if !sim {
		hw, err := sensor.NewSHT3xTransport(cfg.Sensor.I2CDevice, cfg.Sensor.I2CAddress)
		if err != nil {
			log.WithError(err).Warn("sensor hardware unavailable, running simulated")
		} else {
			transport = hw
		}
	}
	defer transport.Close()

	validator := sensor.NewValidator(sensor.ValidatorConfig{
		TempOffset:     cfg.Sensor.TempOffset,
		HumidityOffset: cfg.Sensor.HumidityOffset,
	})

	if printReading {
		raw, err := transport.Read()
		if err != nil {
			return fmt.Errorf("read sensor: %w", err)
		}
		reading, err := validator.Validate(raw, nil, time.Now())
		if err != nil {
			return fmt.Errorf("validate reading: %w", err)
		}
		fmt.Printf("%.2f°C %.1f%%RH (%s)\n", reading.Temperature, reading.Humidity, reading.Validity)
		return nil
	}

	var output actuator.Output
	if sim {
		output = actuator.NewFakeOutput()
	} else {
		real, err := actuator.NewRealOutput(cfg.Pins())
		if err != nil {
			log.WithError(err).Warn("gpio unavailable, running with simulated actuators")
			output = actuator.NewFakeOutput()
		} else {
			output = real
		}
	}
	defer output.Close()

	safety := actuator.NewSafetyLayer(output, cfg.Timing())

	tracker := status.NewTracker(time.Now(), status.Config{
		IntervalMs:      cfg.ReadInterval().Milliseconds(),
		HeartbeatMs:     cfg.MQTT.HeartbeatMs,
		SensorTimeoutMs: cfg.SensorTimeout().Milliseconds(),
		Broker:          cfg.MQTT.Broker,
		HTTPPort:        cfg.Web.Addr,
	})

	cmds := make(chan command, 16)

	publisher, err := mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID, func(mc mqtt.Command) {
		cmd, ok := fromMQTTCommand(mc)
		if !ok {
			return
		}
		select {
		case cmds <- cmd:
		default:
			log.Warn("command queue full, dropping mqtt command")
		}
	}, log)
	if err != nil {
		return fmt.Errorf("connect mqtt: %w", err)
	}
	defer publisher.Close()
	tracker.SetMQTTConnected(publisher.IsConnected())

	snap := tracker.Snapshot()
	startup := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startup); err != nil {
		log.WithError(err).Warn("publish startup event")
	}

	fileSink, err := store.NewFileSink(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open cycle log: %w", err)
	}
	fileSink.MaxBytes = cfg.Store.MaxBytes
	fileSink.MaxRotated = cfg.Store.MaxRotated
	sinks := []store.Sink{fileSink}
	if cfg.Store.KafkaEnabled {
		sinks = append(sinks, store.NewKafkaSink(cfg.Store.KafkaBrokers, cfg.Store.KafkaTopic))
	}
	sink := store.NewMultiSink(sinks...)
	defer sink.Close()

	m := metrics.NewMetrics()

	if cfg.Web.Enabled {
		srv := web.New(web.Config{
			Addr:           cfg.Web.Addr,
			AllowOverride:  cfg.Safety.EnableManualOverride,
			MetricsHandler: m.Handler(),
		}, tracker, &controller{cfg: cfg, cmds: cmds}, log)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("http server")
			}
		}()
		defer srv.Shutdown(context.Background())
		log.WithField("addr", cfg.Web.Addr).Info("http status server listening")
	}

	log.WithFields(logrus.Fields{
		"interval": cfg.ReadInterval(),
		"broker":   cfg.MQTT.Broker,
		"targets":  fmt.Sprintf("%.1f°C/%.1f%%", cfg.Targets.TempTarget, cfg.Targets.HumidityTarget),
	}).Info("started")

	ticker := time.NewTicker(cfg.ReadInterval())
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	d := &deps{
		transport: transport,
		fallback:  fallback,
		validator: validator,
		safety:    safety,
		publisher: publisher,
		mqttState: publisher,
		tracker:   tracker,
		sink:      sink,
		metrics:   m,
		cfg:       cfg,
		log:       log.WithField("component", "loop"),
	}
	return runLoop(d, time.Now, ticker.C, cmds, sigCh)
}

// command is a control request from the web API or the MQTT command
// topic, applied between cycles by the loop goroutine.
type command struct {
	kind    string // "override", "preset", "reset"
	enabled bool
	targets climate.ActuatorTargets
	name    string
}

func fromMQTTCommand(mc mqtt.Command) (command, bool) {
	switch mc.Type {
	case mqtt.CommandOverride:
		cmd := command{kind: "override", enabled: mc.Enabled}
		if mc.Targets != nil {
			cmd.targets = climate.ActuatorTargets{
				Pump:         mc.Targets.Pump,
				Chiller:      mc.Targets.Chiller,
				Dehumidifier: mc.Targets.Dehumidifier,
			}
		}
		return cmd, true
	case mqtt.CommandPreset:
		return command{kind: "preset", name: mc.Name}, true
	case mqtt.CommandReset:
		return command{kind: "reset"}, true
	}
	return command{}, false
}

// controller feeds web API requests into the command channel. Presets
// are validated synchronously so the handler can return 404.
type controller struct {
	cfg  *config.Config
	cmds chan<- command
}

func (c *controller) SetOverride(enabled bool, targets climate.ActuatorTargets) error {
	return c.send(command{kind: "override", enabled: enabled, targets: targets})
}

func (c *controller) ApplyPreset(name string) error {
	if _, ok := c.cfg.Presets[name]; !ok {
		return fmt.Errorf("unknown preset %q", name)
	}
	return c.send(command{kind: "preset", name: name})
}

func (c *controller) ResetEmergency() error {
	return c.send(command{kind: "reset"})
}

func (c *controller) send(cmd command) error {
	select {
	case c.cmds <- cmd:
		return nil
	default:
		return fmt.Errorf("control loop busy")
	}
}

// deps bundles everything runLoop needs; tests inject fakes.
type deps struct {
	transport sensor.Transport
	fallback  *sensor.SimTransport
	validator *sensor.Validator
	safety    *actuator.SafetyLayer
	publisher mqtt.Publisher
	mqttState mqtt.ConnectionStatus
	tracker   *status.Tracker
	sink      store.Sink
	metrics   *metrics.Metrics
	cfg       *config.Config
	log       *logrus.Entry
}

// loop is the control state owned by the runLoop goroutine.
type loop struct {
	d *deps

	history     *climate.History
	prevMode    climate.Mode
	prevTargets climate.ActuatorTargets

	lastReading climate.Reading
	haveReading bool
	lastGood    time.Time

	emergencyLatched bool
	sensorTimedOut   bool

	lastHeartbeat time.Time
}

func runLoop(d *deps, now func() time.Time, tick <-chan time.Time, cmds <-chan command, sig <-chan os.Signal) error {
	start := now()
	l := &loop{
		d:             d,
		history:       climate.NewHistory(d.cfg.Control.HistorySamples),
		prevMode:      climate.ModeIdle,
		lastGood:      start,
		lastHeartbeat: start,
	}

	for {
		select {
		case s := <-sig:
			name := "UNKNOWN"
			if s == syscall.SIGINT {
				name = "SIGINT"
			} else if s == syscall.SIGTERM {
				name = "SIGTERM"
			}
			d.log.WithField("signal", name).Info("shutting down")
			l.shutdown(name, now())
			return nil

		case cmd := <-cmds:
			l.handle(cmd, now())

		case <-tick:
			l.cycle(now())
		}
	}
}

// cycle runs one control pass: acquire, validate, decide, apply, report.
func (l *loop) cycle(t time.Time) {
	d := l.d
	wall := time.Now()

	var raw sensor.RawSample
	var readErr error
	switch {
	case d.transport.Available():
		raw, readErr = d.transport.Read()
	case d.fallback != nil:
		raw, readErr = d.fallback.Read()
	default:
		readErr = fmt.Errorf("sensor transport unavailable")
	}

	var reading climate.Reading
	haveReading := false
	if readErr != nil {
		d.log.WithError(readErr).Warn("sensor read failed")
		d.tracker.IncError()
		d.metrics.SensorRejected("READ_FAILURE")
	} else {
		var verr error
		reading, verr = d.validator.Validate(raw, l.history, t)
		if verr != nil {
			d.log.WithField("class", sensor.ClassOf(verr)).WithError(verr).Warn("sensor sample rejected")
			d.tracker.IncError()
			d.metrics.SensorRejected(string(sensor.ClassOf(verr)))
		} else {
			haveReading = true
			l.history.Push(reading)
			l.lastReading = reading
			l.haveReading = true
			l.lastGood = t
			d.metrics.Reading(reading.Temperature, reading.Humidity)
		}
	}

	sensorValid := t.Sub(l.lastGood) <= d.cfg.SensorTimeout()
	if !sensorValid && !l.sensorTimedOut {
		d.log.WithError(sensor.NewTimeoutError(t.Sub(l.lastGood))).Error("sensor timed out, holding actuators")
	}
	l.sensorTimedOut = !sensorValid

	waterOK := true
	if d.cfg.Safety.EnableWaterLevelCheck {
		ok, err := d.safety.WaterLevelOK()
		if err != nil {
			d.log.WithError(err).Warn("water level read failed")
			d.tracker.IncError()
			ok = false
		}
		waterOK = ok
	}

	// A relay transport that stopped responding cannot be trusted to
	// switch anything off later; latch now while Off still works.
	if d.safety.TransportFailed() && !l.emergencyLatched {
		l.emergencyLatched = true
		d.metrics.EmergencyLatched(true)
		d.log.Error("actuator transport failing, emergency latch engaged")
	}

	safetyStatus := climate.SafetyStatus{
		SensorValid:      sensorValid,
		WaterLevelOK:     waterOK,
		EmergencyLatched: l.emergencyLatched,
	}

	var readingPtr *climate.Reading
	if haveReading {
		r := reading
		readingPtr = &r
	}

	decision := climate.Decide(climate.DecisionInput{
		Reading:               readingPtr,
		History:               l.history,
		Profile:               d.cfg.Profile(),
		Weights:               d.cfg.Weights(),
		Safety:                safetyStatus,
		Runtimes:              d.safety.Runtimes(t),
		PreviousMode:          l.prevMode,
		PreviousTargets:       l.prevTargets,
		EmergencyShutdownTemp: d.cfg.Safety.EmergencyShutdownTemp,
		Now:                   t,
	})

	if decision.Mode == climate.ModeEmergency && !l.emergencyLatched {
		l.emergencyLatched = true
		safetyStatus.EmergencyLatched = true
		d.metrics.EmergencyLatched(true)
		d.log.WithFields(logrus.Fields{
			"reason": decision.Reason.Code,
			"detail": decision.Reason.Detail,
		}).Error("emergency latch engaged")
	}

	// Manual override replaces the engine targets at the apply step;
	// the engine decision is still recorded for audit. Emergencies are
	// never overridable.
	targets := decision.Targets
	override := d.tracker.Override()
	if override.Active && !l.emergencyLatched {
		targets = override.Targets
		d.metrics.OverrideCycle()
	}

	applied, err := d.safety.Apply(targets, t)
	if err != nil {
		d.log.WithError(err).Warn("actuator apply")
		d.tracker.IncError()
	}
	for _, st := range applied {
		d.metrics.Actuator(string(st.Name), st.On)
		if st.Refusal != actuator.RefusalNone {
			d.metrics.SafetyRefusal(string(st.Name), string(st.Refusal))
			d.log.WithFields(logrus.Fields{
				"actuator": st.Name,
				"refusal":  st.Refusal,
				"forced":   st.Forced,
			}).Debug("actuator request refused")
		}
	}

	if decision.Mode != climate.ModeHold {
		l.prevMode = decision.Mode
	}
	l.prevTargets = appliedTargets(applied)

	rate := l.history.Rate()
	var pred climate.Prediction
	if l.haveReading {
		pred = climate.Predict(l.lastReading, rate, d.cfg.Profile().PredictionHorizon)
	}
	if rate.Valid {
		d.metrics.TempRate(rate.TempPerMin)
	}

	d.tracker.UpdateCycle(status.CycleUpdate{
		Reading:     reading,
		HaveReading: haveReading,
		Decision:    decision,
		Applied:     applied,
		Safety:      safetyStatus,
		Rate:        rate,
		Prediction:  pred,
	})
	if d.mqttState != nil {
		d.tracker.SetMQTTConnected(d.mqttState.IsConnected())
	}

	if err := d.publisher.PublishCycle(mqtt.CycleEvent{
		Timestamp: t,
		Reading:   l.lastReading,
		Decision:  decision,
		Actuators: toMQTTStates(applied),
	}); err != nil {
		d.log.WithError(err).Warn("publish cycle")
	}

	if d.sink != nil {
		rec := store.NewRecord(t, reading, haveReading, decision, applied, safetyStatus)
		if err := d.sink.Write(context.Background(), rec); err != nil {
			d.log.WithError(err).Warn("write cycle record")
		}
	}

	d.metrics.Cycle(string(decision.Mode), time.Since(wall))

	if hb := time.Duration(d.cfg.MQTT.HeartbeatMs) * time.Millisecond; hb > 0 && t.Sub(l.lastHeartbeat) >= hb {
		l.lastHeartbeat = t
		snap := d.tracker.Snapshot()
		event := mqtt.SystemEvent{
			Timestamp:  t,
			Event:      "HEARTBEAT",
			RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
		}
		if err := d.publisher.PublishSystem(event); err != nil {
			d.log.WithError(err).Warn("publish heartbeat")
		}
	}
}

// handle applies an operator command between cycles.
func (l *loop) handle(cmd command, t time.Time) {
	d := l.d
	switch cmd.kind {
	case "override":
		if !d.cfg.Safety.EnableManualOverride {
			d.log.Warn("manual override disabled, command ignored")
			return
		}
		if cmd.enabled {
			d.tracker.SetOverride(status.OverrideState{Active: true, Targets: cmd.targets, Since: t})
			d.log.WithFields(logrus.Fields{
				"pump":         cmd.targets.Pump,
				"chiller":      cmd.targets.Chiller,
				"dehumidifier": cmd.targets.Dehumidifier,
			}).Info("manual override enabled")
		} else {
			d.tracker.ClearOverride()
			d.log.Info("manual override cleared")
		}

	case "preset":
		if err := d.cfg.ApplyPreset(cmd.name); err != nil {
			d.log.WithError(err).Warn("preset change rejected")
			return
		}
		d.tracker.SetPreset(cmd.name)
		d.log.WithFields(logrus.Fields{
			"preset":          cmd.name,
			"temp_target":     d.cfg.Targets.TempTarget,
			"humidity_target": d.cfg.Targets.HumidityTarget,
		}).Info("preset applied")

	case "reset":
		l.emergencyLatched = false
		d.safety.Reset()
		d.metrics.EmergencyLatched(false)
		d.log.Warn("emergency latch and actuator lockouts cleared")
	}
}

// shutdown publishes the final system event and de-energises everything.
func (l *loop) shutdown(reason string, t time.Time) {
	d := l.d
	if d.mqttState != nil {
		d.tracker.SetMQTTConnected(d.mqttState.IsConnected())
	}
	snap := d.tracker.Snapshot()
	event := mqtt.SystemEvent{
		Timestamp:  t,
		Event:      "SHUTDOWN",
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", reason),
	}
	if err := d.publisher.PublishSystem(event); err != nil {
		d.log.WithError(err).Warn("publish shutdown event")
	}
	if err := d.safety.EmergencyShutdown(t); err != nil {
		d.log.WithError(err).Error("emergency shutdown")
	}
}

func appliedTargets(applied []actuator.AppliedState) climate.ActuatorTargets {
	var t climate.ActuatorTargets
	for _, st := range applied {
		switch st.Name {
		case actuator.Pump:
			t.Pump = st.On
		case actuator.Chiller:
			t.Chiller = st.On
		case actuator.Dehumidifier:
			t.Dehumidifier = st.On
		}
	}
	return t
}

func toMQTTStates(applied []actuator.AppliedState) []mqtt.ActuatorState {
	out := make([]mqtt.ActuatorState, 0, len(applied))
	for _, st := range applied {
		out = append(out, mqtt.ActuatorState{
			Name:    string(st.Name),
			On:      st.On,
			Refusal: string(st.Refusal),
		})
	}
	return out
}
