// Package climate contains the pure control core for the cargo space:
// validated readings, the rolling history window, rate estimation, and
// the hybrid rule-based/predictive decision engine.
// This package has NO external dependencies (no GPIO, MQTT, OS, or
// time.Sleep). Time is always injectable via time.Time parameters.
package climate

import "time"

// Mode is the operating mode of the cooling system.
// Exactly one mode is active per control cycle.
type Mode string

const (
	ModeIdle              Mode = "IDLE"
	ModeEvaporative       Mode = "EVAPORATIVE"         // pump only
	ModeChiller           Mode = "CHILLER"             // chiller + pump
	ModeDehumidify        Mode = "DEHUMIDIFY"          // dehumidifier only
	ModeCoolAndDehumidify Mode = "COOL_AND_DEHUMIDIFY" // chiller + dehumidifier
	ModeEmergency         Mode = "EMERGENCY"           // maximal safe cooling
	ModeHold              Mode = "HOLD"                // keep previous actuator targets
)

// Validity marks how a Reading was produced.
type Validity string

const (
	// ValidityHardware is a reading validated from the physical sensor.
	ValidityHardware Validity = "HARDWARE"
	// ValiditySynthetic is a plausible fallback reading produced while the
	// sensor transport reports the sensor absent. It must never be logged
	// as a hardware reading downstream.
	ValiditySynthetic Validity = "SYNTHETIC"
)

// Reading is a single validated sensor sample. Immutable once created.
type Reading struct {
	Time        time.Time
	Temperature float64 // °C
	Humidity    float64 // %RH
	Validity    Validity
}

// RateEstimate is the slope of temperature and humidity over the trailing
// history window, expressed per minute.
type RateEstimate struct {
	TempPerMin     float64
	HumidityPerMin float64
	// Valid is false until the window spans enough samples and time for a
	// meaningful slope.
	Valid bool
}

// Prediction is a linear extrapolation of the current reading at a fixed
// horizon using the current rate estimate.
type Prediction struct {
	Temperature float64
	Humidity    float64
}

// TargetProfile holds the target bands and control thresholds for one
// produce profile. Immutable per cycle; swappable wholesale between cycles.
type TargetProfile struct {
	TempMin    float64
	TempTarget float64
	TempMax    float64

	HumidityMin    float64
	HumidityTarget float64
	HumidityMax    float64

	TempHysteresis     float64
	HumidityHysteresis float64

	TempRateWarning     float64 // °C per minute
	HumidityRateWarning float64 // %RH per minute

	PredictionHorizon time.Duration
}

// Weights are the multi-objective priorities used to break ties when more
// than one mode would address the current deviation.
type Weights struct {
	Temperature float64
	Humidity    float64
	Energy      float64
}

// SafetyStatus is the per-cycle safety view the engine decides against.
// EmergencyLatched is sticky: once set it is cleared only by an explicit
// external reset, never by the engine.
type SafetyStatus struct {
	SensorValid      bool
	WaterLevelOK     bool
	EmergencyLatched bool
}

// ActuatorTargets are the logical on/off targets for the three actuators.
// Logical only: physical polarity is the actuator layer's concern.
type ActuatorTargets struct {
	Pump         bool
	Chiller      bool
	Dehumidifier bool
}

// ActuatorRuntimes carries the cumulative on-time of each actuator into
// the decision, for runtime-aware tie-breaking and audit.
type ActuatorRuntimes struct {
	Pump         time.Duration
	Chiller      time.Duration
	Dehumidifier time.Duration
}

// ReasonCode classifies a decision for logging and metrics.
type ReasonCode string

const (
	ReasonSensorInvalid    ReasonCode = "SENSOR_INVALID"
	ReasonEmergencyLatched ReasonCode = "EMERGENCY_LATCHED"
	ReasonEmergencyTemp    ReasonCode = "EMERGENCY_TEMPERATURE"
	ReasonSevereTemp       ReasonCode = "TEMPERATURE_SEVERE"
	ReasonSevereHumidity   ReasonCode = "HUMIDITY_SEVERE"
	ReasonAboveTarget      ReasonCode = "TEMPERATURE_ABOVE_TARGET"
	ReasonHumidityHigh     ReasonCode = "HUMIDITY_ABOVE_TARGET"
	ReasonPredictive       ReasonCode = "PREDICTIVE_TREND"
	ReasonOptimal          ReasonCode = "CONDITIONS_OPTIMAL"
)

// Reason is the structured explanation attached to every decision.
type Reason struct {
	Code   ReasonCode
	Detail string

	// Inputs the reason cites, kept numeric so downstream consumers do
	// not have to parse Detail.
	Temperature float64
	Humidity    float64
	TempRate    float64 // °C/min; zero when no valid estimate
}

// Decision is the engine output for one cycle. Pure data; ownership
// transfers to the caller.
type Decision struct {
	Mode    Mode
	Targets ActuatorTargets
	Reason  Reason
	Score   float64
	Time    time.Time
}

// Energy cost ranks, normalised to [0,1] for scoring. Evaporative cooling
// is the cheapest active mode; chiller + dehumidifier the dearest.
func energyCost(m Mode) float64 {
	switch m {
	case ModeIdle, ModeHold:
		return 0
	case ModeEvaporative:
		return 0.25
	case ModeDehumidify:
		return 0.5
	case ModeChiller:
		return 0.75
	case ModeCoolAndDehumidify, ModeEmergency:
		return 1.0
	}
	return 0
}

// cools reports whether the mode drives any cooling actuator toward
// the temperature band.
func (m Mode) cools() bool {
	switch m {
	case ModeEvaporative, ModeChiller, ModeCoolAndDehumidify, ModeEmergency:
		return true
	}
	return false
}

func (m Mode) dehumidifies() bool {
	switch m {
	case ModeDehumidify, ModeCoolAndDehumidify, ModeEmergency:
		return true
	}
	return false
}
