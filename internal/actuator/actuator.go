// Package actuator drives the pump, chiller, and dehumidifier relays
// through a safety layer that enforces minimum cycle time, maximum
// continuous runtime, and the pump's water-level precondition.
// Decisions say what should run; this package decides what may run.
package actuator

import (
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/cargo-climate/internal/climate"
)

// Name identifies one of the three actuators.
type Name string

const (
	Pump         Name = "pump"
	Chiller      Name = "chiller"
	Dehumidifier Name = "dehumidifier"
)

// All lists the actuators in the fixed order states are reported in.
var All = []Name{Pump, Chiller, Dehumidifier}

// Output switches the physical relays. Implementations own the
// logical-to-physical polarity (the relay board is active low).
type Output interface {
	// Set drives the named actuator to the logical on/off state.
	Set(name Name, on bool) error

	// WaterLevelOK reports whether the reservoir float switch allows
	// running the pump.
	WaterLevelOK() (bool, error)

	// Close de-energises all relays and releases resources.
	Close() error
}

// Refusal explains why a requested state change was not applied.
type Refusal string

const (
	RefusalNone         Refusal = ""
	RefusalInterlock    Refusal = "INTERLOCK_BLOCKED"
	RefusalMaxRuntime   Refusal = "MAX_RUNTIME_EXCEEDED"
	RefusalPrecondition Refusal = "PRECONDITION_FAILED"
	RefusalLockedOut    Refusal = "LOCKED_OUT"
)

// AppliedState is the per-actuator outcome of one apply pass.
type AppliedState struct {
	Name      Name
	Requested bool
	On        bool // actual state after the pass
	Refusal   Refusal
	// Forced marks an autonomous change the safety layer made against
	// the request, e.g. a max-runtime force-off.
	Forced bool
}

// Timing holds the safety limits.
type Timing struct {
	// MinCycleTime is the minimum time between an actuator's state
	// changes before it may switch on again. Protects compressors and
	// relay contacts from short cycling.
	MinCycleTime time.Duration

	// Max continuous runtime per actuator. Exceeding it forces the
	// actuator off; it may switch on again once MinCycleTime has
	// elapsed, so a sustained demand duty-cycles the unit.
	PumpMaxRuntime         time.Duration
	ChillerMaxRuntime      time.Duration
	DehumidifierMaxRuntime time.Duration
}

// DefaultTiming returns the stock limits for the cargo-space unit.
func DefaultTiming() Timing {
	return Timing{
		MinCycleTime:           10 * time.Second,
		PumpMaxRuntime:         10 * time.Minute,
		ChillerMaxRuntime:      30 * time.Minute,
		DehumidifierMaxRuntime: 20 * time.Minute,
	}
}

func (t Timing) maxRuntime(name Name) time.Duration {
	switch name {
	case Pump:
		return t.PumpMaxRuntime
	case Chiller:
		return t.ChillerMaxRuntime
	case Dehumidifier:
		return t.DehumidifierMaxRuntime
	}
	return 0
}

// maxSetFailures is how many consecutive transport failures mark the
// output as failed; the orchestrator treats that as an emergency.
const maxSetFailures = 3

// lineState tracks one actuator's history within the safety layer.
type lineState struct {
	on         bool
	haveChange bool
	lastChange time.Time
	onSince    time.Time
	accrued    time.Duration // runtime of completed on-segments
	lockedOut  bool
}

// SafetyLayer owns the actuator state machines. Not safe for concurrent
// use; the control loop is the single caller.
type SafetyLayer struct {
	out    Output
	timing Timing

	lines       map[Name]*lineState
	setFailures int
}

// NewSafetyLayer wraps an output with the given timing limits.
func NewSafetyLayer(out Output, timing Timing) *SafetyLayer {
	lines := make(map[Name]*lineState, len(All))
	for _, name := range All {
		lines[name] = &lineState{}
	}
	return &SafetyLayer{out: out, timing: timing, lines: lines}
}

// WaterLevelOK reports the reservoir state from the output transport.
func (s *SafetyLayer) WaterLevelOK() (bool, error) {
	return s.out.WaterLevelOK()
}

// Apply drives all actuators toward the decision targets, applying the
// safety rules per actuator. The returned states always cover all
// actuators in the order of All, even when the transport errors.
func (s *SafetyLayer) Apply(targets climate.ActuatorTargets, now time.Time) ([]AppliedState, error) {
	waterOK, waterErr := s.out.WaterLevelOK()
	if waterErr != nil {
		// Fail safe: an unreadable float switch means no pumping.
		waterOK = false
	}

	desired := map[Name]bool{
		Pump:         targets.Pump,
		Chiller:      targets.Chiller,
		Dehumidifier: targets.Dehumidifier,
	}

	states := make([]AppliedState, 0, len(All))
	var errs []error
	if waterErr != nil {
		errs = append(errs, fmt.Errorf("read water level: %w", waterErr))
	}
	for _, name := range All {
		st, err := s.request(name, desired[name], waterOK, now)
		if err != nil {
			errs = append(errs, err)
		}
		states = append(states, st)
	}
	return states, errors.Join(errs...)
}

func (s *SafetyLayer) request(name Name, on, waterOK bool, now time.Time) (AppliedState, error) {
	line := s.lines[name]
	st := AppliedState{Name: name, Requested: on, On: line.on}

	// Autonomous force-off on max runtime, regardless of the request.
	// Not a lockout: the min-cycle interlock paces the restart, so a
	// sustained demand duty-cycles the unit.
	if line.on {
		if max := s.timing.maxRuntime(name); max > 0 && now.Sub(line.onSince) >= max {
			err := s.switchOff(name, line, now)
			st.On = line.on
			st.Refusal = RefusalMaxRuntime
			st.Forced = true
			return st, err
		}
	}

	switch {
	case on == line.on:
		// Already there.
		return st, nil

	case !on:
		// On -> Off is always granted.
		err := s.switchOff(name, line, now)
		st.On = line.on
		return st, err

	default:
		// Off -> On runs the interlock chain.
		if line.lockedOut {
			st.Refusal = RefusalLockedOut
			return st, nil
		}
		if line.haveChange && now.Sub(line.lastChange) < s.timing.MinCycleTime {
			st.Refusal = RefusalInterlock
			return st, nil
		}
		if name == Pump && !waterOK {
			st.Refusal = RefusalPrecondition
			return st, nil
		}
		if err := s.set(name, true); err != nil {
			return st, err
		}
		line.on = true
		line.onSince = now
		line.lastChange = now
		line.haveChange = true
		st.On = true
		return st, nil
	}
}

func (s *SafetyLayer) switchOff(name Name, line *lineState, now time.Time) error {
	err := s.set(name, false)
	if line.on {
		line.accrued += now.Sub(line.onSince)
	}
	line.on = false
	line.lastChange = now
	line.haveChange = true
	return err
}

func (s *SafetyLayer) set(name Name, on bool) error {
	if err := s.out.Set(name, on); err != nil {
		s.setFailures++
		return fmt.Errorf("set %s %v: %w", name, on, err)
	}
	s.setFailures = 0
	return nil
}

// Runtime returns the cumulative on-time of one actuator.
func (s *SafetyLayer) Runtime(name Name, now time.Time) time.Duration {
	line := s.lines[name]
	total := line.accrued
	if line.on {
		total += now.Sub(line.onSince)
	}
	return total
}

// Runtimes returns all cumulative runtimes for the decision input.
func (s *SafetyLayer) Runtimes(now time.Time) climate.ActuatorRuntimes {
	return climate.ActuatorRuntimes{
		Pump:         s.Runtime(Pump, now),
		Chiller:      s.Runtime(Chiller, now),
		Dehumidifier: s.Runtime(Dehumidifier, now),
	}
}

// States reports the current actuator states without changing anything.
func (s *SafetyLayer) States(now time.Time) []AppliedState {
	states := make([]AppliedState, 0, len(All))
	for _, name := range All {
		line := s.lines[name]
		refusal := RefusalNone
		if line.lockedOut {
			refusal = RefusalLockedOut
		}
		states = append(states, AppliedState{
			Name:      name,
			Requested: line.on,
			On:        line.on,
			Refusal:   refusal,
		})
	}
	return states
}

// EmergencyShutdown forces every actuator off and locks all of them
// out, bypassing minimum cycle time. Used on fatal faults and on
// daemon shutdown.
func (s *SafetyLayer) EmergencyShutdown(now time.Time) error {
	var errs []error
	for _, name := range All {
		line := s.lines[name]
		if err := s.switchOff(name, line, now); err != nil {
			errs = append(errs, err)
		}
		line.lockedOut = true
	}
	return errors.Join(errs...)
}

// Reset clears all lockouts. Runtimes and cycle timers are preserved,
// so a reset does not bypass the minimum cycle interlock.
func (s *SafetyLayer) Reset() {
	for _, line := range s.lines {
		line.lockedOut = false
	}
}

// TransportFailed reports whether the output transport has failed
// repeatedly and can no longer be trusted to switch relays.
func (s *SafetyLayer) TransportFailed() bool {
	return s.setFailures >= maxSetFailures
}
