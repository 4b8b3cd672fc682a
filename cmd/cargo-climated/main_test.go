package main

import (
	"io"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/cargo-climate/internal/actuator"
	"github.com/sweeney/cargo-climate/internal/climate"
	"github.com/sweeney/cargo-climate/internal/config"
	"github.com/sweeney/cargo-climate/internal/mqtt"
	"github.com/sweeney/cargo-climate/internal/sensor"
	"github.com/sweeney/cargo-climate/internal/status"
	"github.com/sweeney/cargo-climate/internal/store"
)

// fakeClock returns start, start+step, start+2*step, ... on successive
// calls. Only called from the runLoop goroutine.
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

func rawSample(temp, hum float64) sensor.RawSample {
	return sensor.RawSample{Temperature: temp, Humidity: hum}
}

// repeat returns n copies of sample.
func repeat(sample sensor.RawSample, n int) []sensor.RawSample {
	out := make([]sensor.RawSample, n)
	for i := range out {
		out[i] = sample
	}
	return out
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

type harness struct {
	d    *deps
	pub  *mqtt.FakePublisher
	out  *actuator.FakeOutput
	sink *store.FakeSink

	tick chan time.Time
	cmds chan command
	sig  chan os.Signal
	errc chan error
}

// newHarness wires runLoop with fakes. The loop is not running yet;
// tests may adjust the fakes, then call start.
func newHarness(t *testing.T, cfg *config.Config, transport sensor.Transport) *harness {
	t.Helper()

	out := actuator.NewFakeOutput()
	pub := mqtt.NewFakePublisher()
	pub.Connected = true
	sink := store.NewFakeSink()

	log := logrus.New()
	log.SetOutput(io.Discard)

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &harness{
		d: &deps{
			transport: transport,
			fallback:  sensor.NewSimTransport(cfg.Targets.TempTarget, cfg.Targets.HumidityTarget, 1),
			validator: sensor.NewValidator(sensor.ValidatorConfig{}),
			safety:    actuator.NewSafetyLayer(out, cfg.Timing()),
			publisher: pub,
			mqttState: pub,
			tracker:   status.NewTracker(start, status.Config{IntervalMs: 2000}),
			sink:      sink,
			cfg:       cfg,
			log:       log.WithField("component", "loop"),
		},
		pub:  pub,
		out:  out,
		sink: sink,
		tick: make(chan time.Time),
		cmds: make(chan command),
		sig:  make(chan os.Signal, 1),
		errc: make(chan error, 1),
	}
}

// start runs the loop with a 2s fake clock. Loop-owned state (the fake
// output, publisher, sink) must only be inspected after stop.
func (h *harness) start() {
	clock := fakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), 2*time.Second)
	go func() {
		h.errc <- runLoop(h.d, clock, h.tick, h.cmds, h.sig)
	}()
}

func (h *harness) ticks(n int) {
	for i := 0; i < n; i++ {
		h.tick <- time.Time{}
	}
}

// send hands a command to the loop; the unbuffered channel guarantees it
// is consumed before the next tick.
func (h *harness) send(cmd command) {
	h.cmds <- cmd
}

// stop signals the loop and waits for it to exit, after which the fakes
// are safe to read.
func (h *harness) stop(t *testing.T, sig os.Signal) {
	t.Helper()
	h.sig <- sig
	if err := <-h.errc; err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
}

func modes(pub *mqtt.FakePublisher) []climate.Mode {
	out := make([]climate.Mode, 0, len(pub.CycleEvents))
	for _, ev := range pub.CycleEvents {
		out = append(out, ev.Decision.Mode)
	}
	return out
}

// actuatorOn reports the published state of one actuator in one cycle.
func actuatorOn(ev mqtt.CycleEvent, name actuator.Name) bool {
	for _, a := range ev.Actuators {
		if a.Name == string(name) {
			return a.On
		}
	}
	return false
}

func TestRunLoopIdleCycles(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, cfg, sensor.NewFakeTransport(repeat(rawSample(11.0, 87.0), 3)))
	h.start()

	h.ticks(3)
	h.stop(t, syscall.SIGTERM)

	if len(h.pub.CycleEvents) != 3 {
		t.Fatalf("cycle events = %d, want 3", len(h.pub.CycleEvents))
	}
	for i, mode := range modes(h.pub) {
		if mode != climate.ModeIdle {
			t.Errorf("cycle %d mode = %s, want IDLE", i, mode)
		}
	}
	for _, ev := range h.pub.CycleEvents {
		for _, name := range actuator.All {
			if actuatorOn(ev, name) {
				t.Errorf("%s is on during an idle cycle", name)
			}
		}
	}

	// SHUTDOWN is the last system event, retained, with the signal name.
	if len(h.pub.SystemEvents) == 0 {
		t.Fatal("no system events published")
	}
	last := h.pub.SystemEvents[len(h.pub.SystemEvents)-1]
	if last.Event != "SHUTDOWN" || last.Reason != "SIGTERM" || !last.Retained {
		t.Errorf("shutdown event = %+v", last)
	}
}

func TestRunLoopCoolingEngages(t *testing.T) {
	cfg := testConfig(t)
	// Hot but dry: evaporative cooling is the cheapest admissible mode.
	h := newHarness(t, cfg, sensor.NewFakeTransport(repeat(rawSample(13.0, 80.0), 3)))
	h.start()

	h.ticks(3)
	h.stop(t, syscall.SIGTERM)

	for i, mode := range modes(h.pub) {
		if mode != climate.ModeEvaporative {
			t.Errorf("cycle %d mode = %s, want EVAPORATIVE", i, mode)
		}
	}
	if !actuatorOn(h.pub.CycleEvents[0], actuator.Pump) {
		t.Error("pump not engaged")
	}

	snap := h.d.tracker.Snapshot()
	if snap.CycleCount != 3 {
		t.Errorf("cycle count = %d, want 3", snap.CycleCount)
	}
	if !snap.HaveReading || snap.LastReading.Temperature != 13.0 {
		t.Errorf("last reading = %+v", snap.LastReading)
	}
}

func TestRunLoopSensorRejectionHolds(t *testing.T) {
	cfg := testConfig(t)
	// Two good hot cycles engage the pump, then three out-of-range
	// samples. The loop must hold the last targets, not shed them.
	samples := append(repeat(rawSample(13.0, 80.0), 2), repeat(rawSample(99.0, 80.0), 3)...)
	h := newHarness(t, cfg, sensor.NewFakeTransport(samples))
	h.start()

	h.ticks(5)
	h.stop(t, syscall.SIGTERM)

	got := modes(h.pub)
	want := []climate.Mode{climate.ModeEvaporative, climate.ModeEvaporative, climate.ModeHold, climate.ModeHold, climate.ModeHold}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("cycle %d mode = %s, want %s", i, got[i], want[i])
		}
	}
	for i, ev := range h.pub.CycleEvents {
		if !actuatorOn(ev, actuator.Pump) {
			t.Errorf("cycle %d: pump dropped", i)
		}
	}

	snap := h.d.tracker.Snapshot()
	if snap.ErrorCount != 3 {
		t.Errorf("error count = %d, want 3", snap.ErrorCount)
	}
	// The last good reading survives rejected cycles.
	if snap.LastReading.Temperature != 13.0 {
		t.Errorf("last reading temp = %v, want 13.0", snap.LastReading.Temperature)
	}

	// Rejected cycles log a record without a reading.
	if len(h.sink.Records) != 5 {
		t.Fatalf("records = %d, want 5", len(h.sink.Records))
	}
	if h.sink.Records[1].Reading == nil {
		t.Error("good cycle record missing reading")
	}
	if h.sink.Records[2].Reading != nil {
		t.Error("rejected cycle record carries a reading")
	}
}

func TestRunLoopEmergencyLatchAndReset(t *testing.T) {
	cfg := testConfig(t)
	samples := []sensor.RawSample{
		rawSample(16.0, 87.0), // above the 15°C shutdown limit
		rawSample(11.0, 84.0), // recovered, but the latch holds
		rawSample(10.0, 84.0), // after reset
	}
	h := newHarness(t, cfg, sensor.NewFakeTransport(samples))
	h.start()

	h.ticks(2)
	h.send(command{kind: "reset"})
	h.ticks(1)
	h.stop(t, syscall.SIGTERM)

	got := modes(h.pub)
	if got[0] != climate.ModeEmergency || got[1] != climate.ModeEmergency {
		t.Fatalf("modes = %v, want EMERGENCY, EMERGENCY, ...", got)
	}
	if got[2] != climate.ModeIdle {
		t.Errorf("post-reset mode = %s, want IDLE", got[2])
	}

	first := h.pub.CycleEvents[0]
	if !actuatorOn(first, actuator.Chiller) || !actuatorOn(first, actuator.Dehumidifier) {
		t.Error("emergency must engage chiller and dehumidifier")
	}
	for _, name := range actuator.All {
		if actuatorOn(h.pub.CycleEvents[2], name) {
			t.Errorf("%s still on after reset and idle cycle", name)
		}
	}
}

func TestRunLoopManualOverride(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, cfg, sensor.NewFakeTransport(repeat(rawSample(11.0, 87.0), 4)))
	h.start()

	h.ticks(1)
	h.send(command{kind: "override", enabled: true, targets: climate.ActuatorTargets{Dehumidifier: true}})
	h.ticks(2)
	h.send(command{kind: "override", enabled: false})
	h.ticks(1)
	h.stop(t, syscall.SIGTERM)

	events := h.pub.CycleEvents
	if actuatorOn(events[0], actuator.Dehumidifier) {
		t.Error("dehumidifier on before the override")
	}
	if !actuatorOn(events[1], actuator.Dehumidifier) || !actuatorOn(events[2], actuator.Dehumidifier) {
		t.Error("override did not engage the dehumidifier")
	}
	if actuatorOn(events[3], actuator.Dehumidifier) {
		t.Error("dehumidifier still on after override cleared")
	}

	// The engine decision is still recorded for audit.
	for i, mode := range modes(h.pub) {
		if mode != climate.ModeIdle {
			t.Errorf("cycle %d recorded mode %s, want IDLE", i, mode)
		}
	}
	if h.d.tracker.Override().Active {
		t.Error("override still active after clear")
	}
}

func TestRunLoopOverrideDisabledByConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Safety.EnableManualOverride = false
	h := newHarness(t, cfg, sensor.NewFakeTransport(repeat(rawSample(11.0, 87.0), 2)))
	h.start()

	h.ticks(1)
	h.send(command{kind: "override", enabled: true, targets: climate.ActuatorTargets{Pump: true}})
	h.ticks(1)
	h.stop(t, syscall.SIGTERM)

	if actuatorOn(h.pub.CycleEvents[1], actuator.Pump) {
		t.Error("override applied despite being disabled")
	}
	if h.d.tracker.Override().Active {
		t.Error("override recorded despite being disabled")
	}
}

func TestRunLoopPresetSwitch(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, cfg, sensor.NewFakeTransport(repeat(rawSample(11.0, 80.0), 2)))
	h.start()

	h.ticks(1)
	h.send(command{kind: "preset", name: "berries"})
	h.ticks(1)
	h.stop(t, syscall.SIGTERM)

	got := modes(h.pub)
	if got[0] != climate.ModeIdle {
		t.Errorf("pre-preset mode = %s, want IDLE", got[0])
	}
	// 11°C is severely above the 2°C berries band.
	if got[1] != climate.ModeChiller {
		t.Errorf("post-preset mode = %s, want CHILLER", got[1])
	}
	if cfg.Targets.TempTarget != 2.0 {
		t.Errorf("temp target = %v, want 2.0", cfg.Targets.TempTarget)
	}
	if snap := h.d.tracker.Snapshot(); snap.Preset != "berries" {
		t.Errorf("preset = %q, want berries", snap.Preset)
	}
}

func TestRunLoopSyntheticFallback(t *testing.T) {
	cfg := testConfig(t)
	// Hardware reports the sensor absent; the loop substitutes the
	// simulator and marks readings synthetic.
	h := newHarness(t, cfg, &sensor.FakeTransport{Absent: true})
	h.start()

	h.ticks(2)
	h.stop(t, syscall.SIGTERM)

	snap := h.d.tracker.Snapshot()
	if !snap.HaveReading {
		t.Fatal("no reading recorded from the fallback")
	}
	if snap.LastReading.Validity != climate.ValiditySynthetic {
		t.Errorf("validity = %s, want SYNTHETIC", snap.LastReading.Validity)
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	cfg := testConfig(t)
	cfg.MQTT.HeartbeatMs = 4000 // every other 2s cycle
	h := newHarness(t, cfg, sensor.NewFakeTransport(repeat(rawSample(11.0, 87.0), 5)))
	h.start()

	h.ticks(5)
	h.stop(t, syscall.SIGTERM)

	var heartbeats int
	for _, se := range h.pub.SystemEvents {
		if se.Event == "HEARTBEAT" {
			heartbeats++
			if se.RawPayload == nil {
				t.Error("heartbeat missing status payload")
			}
		}
	}
	if heartbeats != 2 {
		t.Errorf("heartbeats = %d, want 2", heartbeats)
	}
}

func TestRunLoopShutdownDeenergises(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, cfg, sensor.NewFakeTransport(repeat(rawSample(13.0, 80.0), 2)))
	h.start()

	h.ticks(2)
	h.stop(t, syscall.SIGINT)

	if !actuatorOn(h.pub.CycleEvents[1], actuator.Pump) {
		t.Fatal("pump should have been running")
	}
	// EmergencyShutdown de-energised everything on the way out.
	for _, name := range actuator.All {
		if h.out.States[name] {
			t.Errorf("%s still energised after shutdown", name)
		}
	}
	last := h.pub.SystemEvents[len(h.pub.SystemEvents)-1]
	if last.Event != "SHUTDOWN" || last.Reason != "SIGINT" {
		t.Errorf("shutdown event = %+v", last)
	}
}

func TestRunLoopPumpBlockedWithoutWater(t *testing.T) {
	cfg := testConfig(t)
	h := newHarness(t, cfg, sensor.NewFakeTransport(repeat(rawSample(13.0, 80.0), 2)))
	h.out.WaterOK = false
	h.start()

	h.ticks(2)
	h.stop(t, syscall.SIGTERM)

	for i, ev := range h.pub.CycleEvents {
		if actuatorOn(ev, actuator.Pump) {
			t.Errorf("cycle %d: pump ran with an empty reservoir", i)
		}
	}
	snap := h.d.tracker.Snapshot()
	if snap.Safety.WaterLevelOK {
		t.Error("safety status should report low water")
	}
}

func TestControllerValidatesPreset(t *testing.T) {
	cfg := testConfig(t)
	cmds := make(chan command, 1)
	c := &controller{cfg: cfg, cmds: cmds}

	if err := c.ApplyPreset("durian"); err == nil {
		t.Error("expected error for unknown preset")
	}
	if err := c.ApplyPreset("mango"); err != nil {
		t.Errorf("ApplyPreset(mango): %v", err)
	}
	if len(cmds) != 1 {
		t.Errorf("queued commands = %d, want 1", len(cmds))
	}
}

func TestFromMQTTCommand(t *testing.T) {
	cmd, ok := fromMQTTCommand(mqtt.Command{
		Type:    mqtt.CommandOverride,
		Enabled: true,
		Targets: &mqtt.CommandTargets{Chiller: true},
	})
	if !ok || cmd.kind != "override" || !cmd.enabled || !cmd.targets.Chiller {
		t.Errorf("override conversion = %+v, %v", cmd, ok)
	}

	cmd, ok = fromMQTTCommand(mqtt.Command{Type: mqtt.CommandPreset, Name: "citrus"})
	if !ok || cmd.kind != "preset" || cmd.name != "citrus" {
		t.Errorf("preset conversion = %+v, %v", cmd, ok)
	}

	if _, ok := fromMQTTCommand(mqtt.Command{Type: "bogus"}); ok {
		t.Error("unknown command type converted")
	}
}
