package status

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/cargo-climate/internal/actuator"
	"github.com/sweeney/cargo-climate/internal/climate"
)

func testTracker() *Tracker {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return NewTracker(start, Config{
		IntervalMs:      2000,
		HeartbeatMs:     30000,
		SensorTimeoutMs: 30000,
		Broker:          "tcp://localhost:1883",
		HTTPPort:        "8080",
	})
}

func sampleUpdate() CycleUpdate {
	now := time.Date(2025, 6, 1, 12, 0, 2, 0, time.UTC)
	return CycleUpdate{
		Reading: climate.Reading{
			Time:        now,
			Temperature: 13.2,
			Humidity:    91.0,
			Validity:    climate.ValidityHardware,
		},
		HaveReading: true,
		Decision: climate.Decision{
			Mode: climate.ModeChiller,
			Targets: climate.ActuatorTargets{Chiller: true, Pump: true},
			Reason: climate.Reason{
				Code:   climate.ReasonSevereTemp,
				Detail: "temperature 13.2°C exceeds limit",
			},
			Time: now,
		},
		Applied: []actuator.AppliedState{
			{Name: actuator.Pump, Requested: true, On: true},
			{Name: actuator.Chiller, Requested: true, On: true},
			{Name: actuator.Dehumidifier},
		},
		Safety: climate.SafetyStatus{SensorValid: true, WaterLevelOK: true},
		Rate:   climate.RateEstimate{TempPerMin: 0.3, Valid: true},
		Prediction: climate.Prediction{Temperature: 14.7, Humidity: 91.0},
	}
}

func TestTrackerCycleUpdate(t *testing.T) {
	tr := testTracker()
	tr.UpdateCycle(sampleUpdate())
	tr.UpdateCycle(sampleUpdate())

	snap := tr.Snapshot()
	if snap.CycleCount != 2 {
		t.Errorf("CycleCount = %d, want 2", snap.CycleCount)
	}
	if !snap.HaveReading || snap.LastReading.Temperature != 13.2 {
		t.Errorf("reading not recorded: %+v", snap.LastReading)
	}
	if snap.LastDecision.Mode != climate.ModeChiller {
		t.Errorf("decision mode = %s, want CHILLER", snap.LastDecision.Mode)
	}
	if len(snap.Applied) != 3 {
		t.Fatalf("applied states = %d, want 3", len(snap.Applied))
	}
}

func TestTrackerReadingSurvivesRejectedCycle(t *testing.T) {
	tr := testTracker()
	tr.UpdateCycle(sampleUpdate())

	// A Hold cycle carries no reading; the last good one must remain.
	tr.UpdateCycle(CycleUpdate{
		Decision: climate.Decision{Mode: climate.ModeHold},
		Safety:   climate.SafetyStatus{SensorValid: false},
	})

	snap := tr.Snapshot()
	if !snap.HaveReading {
		t.Fatal("HaveReading lost after rejected cycle")
	}
	if snap.LastReading.Temperature != 13.2 {
		t.Errorf("LastReading.Temperature = %v, want 13.2", snap.LastReading.Temperature)
	}
	if snap.LastDecision.Mode != climate.ModeHold {
		t.Errorf("decision mode = %s, want HOLD", snap.LastDecision.Mode)
	}
}

func TestSnapshotIsIsolatedCopy(t *testing.T) {
	tr := testTracker()
	tr.UpdateCycle(sampleUpdate())

	snap := tr.Snapshot()
	snap.Applied[0].On = false

	if !tr.Snapshot().Applied[0].On {
		t.Error("mutating a snapshot leaked into the tracker")
	}
}

func TestOverrideLifecycle(t *testing.T) {
	tr := testTracker()
	if tr.Override().Active {
		t.Fatal("override active before being set")
	}

	tr.SetOverride(OverrideState{
		Active:  true,
		Targets: climate.ActuatorTargets{Dehumidifier: true},
		Since:   time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC),
	})
	o := tr.Override()
	if !o.Active || !o.Targets.Dehumidifier {
		t.Errorf("override not recorded: %+v", o)
	}

	tr.ClearOverride()
	if tr.Override().Active {
		t.Error("override still active after clear")
	}
}

func TestFormatJSON(t *testing.T) {
	tr := testTracker()
	tr.UpdateCycle(sampleUpdate())
	tr.SetPreset("berries")
	tr.SetMQTTConnected(true)

	data := FormatJSON(tr.Snapshot())

	var out StatusJSON
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if out.Status.Decision == nil || out.Status.Decision.Mode != "CHILLER" {
		t.Errorf("decision missing or wrong: %+v", out.Status.Decision)
	}
	if out.Status.Reading == nil || out.Status.Reading.Validity != "HARDWARE" {
		t.Errorf("reading missing or wrong: %+v", out.Status.Reading)
	}
	if out.Status.Preset != "berries" {
		t.Errorf("preset = %q, want berries", out.Status.Preset)
	}
	if !out.Status.MQTT.Connected {
		t.Error("mqtt connected not reported")
	}
	if out.Status.Trend == nil || out.Status.Trend.TempPerMin != 0.3 {
		t.Errorf("trend missing or wrong: %+v", out.Status.Trend)
	}
	if out.Status.Event != "" {
		t.Errorf("web JSON carries event %q", out.Status.Event)
	}
}

func TestFormatStatusEvent(t *testing.T) {
	tr := testTracker()
	data := FormatStatusEvent(tr.Snapshot(), "STARTUP", "daemon started")

	s := string(data)
	if !strings.Contains(s, `"event":"STARTUP"`) {
		t.Errorf("event missing: %s", s)
	}
	if !strings.Contains(s, `"reason":"daemon started"`) {
		t.Errorf("reason missing: %s", s)
	}
	if strings.Contains(s, "\n") {
		t.Error("event JSON should be compact")
	}
}
