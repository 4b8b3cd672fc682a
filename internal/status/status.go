// Package status provides a thread-safe status tracker for the
// cargo-climated daemon. It is read by HTTP handlers and by the MQTT
// lifecycle publisher.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/cargo-climate/internal/actuator"
	"github.com/sweeney/cargo-climate/internal/climate"
)

// Config contains daemon configuration for display.
type Config struct {
	IntervalMs      int64
	HeartbeatMs     int64
	SensorTimeoutMs int64
	Broker          string
	HTTPPort        string
}

// OverrideState is the manual-override view. While active, the operator
// targets replace the engine decision at the apply step; the engine
// decision is still recorded for audit.
type OverrideState struct {
	Active  bool
	Targets climate.ActuatorTargets
	Since   time.Time
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type — safe to use after the lock is released.
type Snapshot struct {
	LastReading  climate.Reading
	HaveReading  bool
	LastDecision climate.Decision
	HaveDecision bool
	Applied      []actuator.AppliedState
	Safety       climate.SafetyStatus
	Rate         climate.RateEstimate
	Prediction   climate.Prediction

	Override OverrideState
	Preset   string

	CycleCount uint64
	ErrorCount uint64

	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// CycleUpdate carries one control cycle's results into the tracker.
type CycleUpdate struct {
	Reading     climate.Reading
	HaveReading bool
	Decision    climate.Decision
	Applied     []actuator.AppliedState
	Safety      climate.SafetyStatus
	Rate        climate.RateEstimate
	Prediction  climate.Prediction
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// UpdateCycle records one control cycle. Called from runLoop every tick.
func (t *Tracker) UpdateCycle(u CycleUpdate) {
	t.mu.Lock()
	if u.HaveReading {
		t.snap.LastReading = u.Reading
		t.snap.HaveReading = true
	}
	t.snap.LastDecision = u.Decision
	t.snap.HaveDecision = true
	t.snap.Applied = u.Applied
	t.snap.Safety = u.Safety
	t.snap.Rate = u.Rate
	t.snap.Prediction = u.Prediction
	t.snap.CycleCount++
	t.mu.Unlock()
}

// IncError counts a cycle-level error (sensor rejection, apply failure).
func (t *Tracker) IncError() {
	t.mu.Lock()
	t.snap.ErrorCount++
	t.mu.Unlock()
}

// SetOverride activates or replaces the manual override.
func (t *Tracker) SetOverride(o OverrideState) {
	t.mu.Lock()
	t.snap.Override = o
	t.mu.Unlock()
}

// ClearOverride returns control to the engine.
func (t *Tracker) ClearOverride() {
	t.mu.Lock()
	t.snap.Override = OverrideState{}
	t.mu.Unlock()
}

// Override returns the current override state.
func (t *Tracker) Override() OverrideState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap.Override
}

// SetPreset records the name of the active produce preset.
func (t *Tracker) SetPreset(name string) {
	t.mu.Lock()
	t.snap.Preset = name
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	if len(t.snap.Applied) > 0 {
		s.Applied = make([]actuator.AppliedState, len(t.snap.Applied))
		copy(s.Applied, t.snap.Applied)
	}
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
