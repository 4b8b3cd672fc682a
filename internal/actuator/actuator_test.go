package actuator

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/cargo-climate/internal/climate"
)

func stateOf(t *testing.T, states []AppliedState, name Name) AppliedState {
	t.Helper()
	for _, st := range states {
		if st.Name == name {
			return st
		}
	}
	t.Fatalf("no state for %s", name)
	return AppliedState{}
}

func TestMinCycleInterlock(t *testing.T) {
	out := NewFakeOutput()
	layer := NewSafetyLayer(out, DefaultTiming())
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// First switch-on has no prior change to measure against.
	states, err := layer.Apply(climate.ActuatorTargets{Chiller: true}, t0)
	require.NoError(t, err)
	assert.True(t, stateOf(t, states, Chiller).On)

	// Off is always granted, even just after the change.
	states, err = layer.Apply(climate.ActuatorTargets{}, t0.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, stateOf(t, states, Chiller).On)

	// On again inside the minimum cycle time is refused.
	states, err = layer.Apply(climate.ActuatorTargets{Chiller: true}, t0.Add(2*time.Second))
	require.NoError(t, err)
	st := stateOf(t, states, Chiller)
	assert.False(t, st.On)
	assert.Equal(t, RefusalInterlock, st.Refusal)
	assert.True(t, st.Requested)

	// Once the interlock elapses the request is granted.
	states, err = layer.Apply(climate.ActuatorTargets{Chiller: true}, t0.Add(12*time.Second))
	require.NoError(t, err)
	st = stateOf(t, states, Chiller)
	assert.True(t, st.On)
	assert.Equal(t, RefusalNone, st.Refusal)
}

func TestMaxRuntimeForceOff(t *testing.T) {
	out := NewFakeOutput()
	layer := NewSafetyLayer(out, DefaultTiming())
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	_, err := layer.Apply(climate.ActuatorTargets{Chiller: true}, t0)
	require.NoError(t, err)

	// Still inside the runtime budget.
	states, err := layer.Apply(climate.ActuatorTargets{Chiller: true}, t0.Add(29*time.Minute))
	require.NoError(t, err)
	assert.True(t, stateOf(t, states, Chiller).On)

	// Past the budget: forced off against the request.
	states, err = layer.Apply(climate.ActuatorTargets{Chiller: true}, t0.Add(31*time.Minute))
	require.NoError(t, err)
	st := stateOf(t, states, Chiller)
	assert.False(t, st.On)
	assert.Equal(t, RefusalMaxRuntime, st.Refusal)
	assert.True(t, st.Forced)

	// The min-cycle interlock paces the restart.
	states, err = layer.Apply(climate.ActuatorTargets{Chiller: true}, t0.Add(31*time.Minute+5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, RefusalInterlock, stateOf(t, states, Chiller).Refusal)

	// A sustained demand duty-cycles: the unit restarts unattended once
	// the interlock elapses, with a fresh continuous-runtime budget.
	states, err = layer.Apply(climate.ActuatorTargets{Chiller: true}, t0.Add(32*time.Minute))
	require.NoError(t, err)
	st = stateOf(t, states, Chiller)
	assert.True(t, st.On)
	assert.Equal(t, RefusalNone, st.Refusal)

	states, err = layer.Apply(climate.ActuatorTargets{Chiller: true}, t0.Add(61*time.Minute))
	require.NoError(t, err)
	assert.True(t, stateOf(t, states, Chiller).On)
}

func TestPumpWaterPrecondition(t *testing.T) {
	out := NewFakeOutput()
	out.WaterOK = false
	layer := NewSafetyLayer(out, DefaultTiming())
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	states, err := layer.Apply(climate.ActuatorTargets{Pump: true, Chiller: true}, t0)
	require.NoError(t, err)

	pump := stateOf(t, states, Pump)
	assert.False(t, pump.On)
	assert.Equal(t, RefusalPrecondition, pump.Refusal)

	// The chiller does not depend on water and switches normally.
	assert.True(t, stateOf(t, states, Chiller).On)

	// Water returns; the pump follows on the next pass.
	out.WaterOK = true
	states, err = layer.Apply(climate.ActuatorTargets{Pump: true, Chiller: true}, t0.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, stateOf(t, states, Pump).On)
}

func TestWaterReadFailureFailsSafe(t *testing.T) {
	out := NewFakeOutput()
	out.WaterError = errors.New("float switch wiring fault")
	layer := NewSafetyLayer(out, DefaultTiming())
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	states, err := layer.Apply(climate.ActuatorTargets{Pump: true}, t0)
	assert.Error(t, err)
	pump := stateOf(t, states, Pump)
	assert.False(t, pump.On)
	assert.Equal(t, RefusalPrecondition, pump.Refusal)
}

func TestEmergencyShutdown(t *testing.T) {
	out := NewFakeOutput()
	layer := NewSafetyLayer(out, DefaultTiming())
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	_, err := layer.Apply(climate.ActuatorTargets{Pump: true, Chiller: true, Dehumidifier: true}, t0)
	require.NoError(t, err)

	require.NoError(t, layer.EmergencyShutdown(t0.Add(time.Minute)))
	for _, name := range All {
		assert.False(t, out.States[name], "%s still on after shutdown", name)
	}

	// Everything is locked out until reset.
	states, err := layer.Apply(climate.ActuatorTargets{Chiller: true}, t0.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, RefusalLockedOut, stateOf(t, states, Chiller).Refusal)

	layer.Reset()
	states, err = layer.Apply(climate.ActuatorTargets{Chiller: true}, t0.Add(3*time.Minute))
	require.NoError(t, err)
	assert.True(t, stateOf(t, states, Chiller).On)
}

func TestRuntimeAccrual(t *testing.T) {
	out := NewFakeOutput()
	layer := NewSafetyLayer(out, DefaultTiming())
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	_, err := layer.Apply(climate.ActuatorTargets{Dehumidifier: true}, t0)
	require.NoError(t, err)

	// Mid-segment runtime includes the running stretch.
	assert.Equal(t, 3*time.Minute, layer.Runtime(Dehumidifier, t0.Add(3*time.Minute)))

	_, err = layer.Apply(climate.ActuatorTargets{}, t0.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, layer.Runtime(Dehumidifier, t0.Add(8*time.Minute)))

	// A second segment accrues on top.
	_, err = layer.Apply(climate.ActuatorTargets{Dehumidifier: true}, t0.Add(10*time.Minute))
	require.NoError(t, err)
	rt := layer.Runtimes(t0.Add(12 * time.Minute))
	assert.Equal(t, 7*time.Minute, rt.Dehumidifier)
	assert.Equal(t, time.Duration(0), rt.Pump)
}

func TestTransportFailureDetection(t *testing.T) {
	out := NewFakeOutput()
	out.SetError = errors.New("relay board i2c timeout")
	layer := NewSafetyLayer(out, DefaultTiming())
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		_, err := layer.Apply(climate.ActuatorTargets{Chiller: true}, t0.Add(time.Duration(i)*time.Second))
		assert.Error(t, err)
		assert.False(t, layer.TransportFailed())
	}

	_, err := layer.Apply(climate.ActuatorTargets{Chiller: true}, t0.Add(2*time.Second))
	assert.Error(t, err)
	assert.True(t, layer.TransportFailed())

	// A successful switch clears the failure streak.
	out.SetError = nil
	_, err = layer.Apply(climate.ActuatorTargets{Chiller: true}, t0.Add(3*time.Second))
	require.NoError(t, err)
	assert.False(t, layer.TransportFailed())
}
