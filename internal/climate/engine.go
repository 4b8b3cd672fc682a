package climate

import (
	"fmt"
	"math"
	"time"
)

// Default margins, overridable through DecisionInput.
const (
	// DefaultEscalationMargin is how far above TempMax temperature must
	// climb before the severe-deviation rule takes over from the
	// moderate band.
	DefaultEscalationMargin = 2.0 // °C
	// DefaultHumidityCriticalMargin above HumidityMax defines the "very
	// high" humidity threshold for the severe-humidity rule.
	DefaultHumidityCriticalMargin = 5.0 // %RH
	// DefaultEvaporativeHeadroom is the margin below HumidityMax that
	// must be free before evaporative cooling (which adds moisture) is
	// an admissible choice.
	DefaultEvaporativeHeadroom = 5.0 // %RH
)

// scoreEpsilon below which two candidate scores count as a tie.
const scoreEpsilon = 1e-9

// rateEpsilon absorbs float rounding in the least-squares slope so a
// trend sitting exactly on the warning threshold still counts as
// confirmed.
const rateEpsilon = 1e-9

// DecisionInput carries everything Decide needs for one cycle. The engine
// is pure and deterministic given this input; it performs no I/O and
// never fails.
type DecisionInput struct {
	// Reading is the validated reading for this cycle, nil when
	// validation failed.
	Reading *Reading
	// History is the rolling window of validated readings, used for the
	// rate estimate. May be nil early in a session.
	History *History

	Profile  TargetProfile
	Weights  Weights
	Safety   SafetyStatus
	Runtimes ActuatorRuntimes

	// PreviousMode and PreviousTargets are the engine's own mode and the
	// actuator states actually in effect after the previous cycle. Hold
	// reuses PreviousTargets; hysteresis keys off PreviousMode.
	PreviousMode    Mode
	PreviousTargets ActuatorTargets

	// EmergencyShutdownTemp triggers the Emergency mode when exceeded.
	// Zero disables the temperature trigger (the latch still applies).
	EmergencyShutdownTemp float64

	// Optional margins; zero selects the package defaults.
	EscalationMargin       float64
	HumidityCriticalMargin float64
	EvaporativeHeadroom    float64

	Now time.Time
}

// Decide maps the cycle inputs to a control decision.
//
// Rules are evaluated in order, first match wins: invalid input (Hold),
// emergency, severe temperature, severe humidity, moderate band with
// weighted tie-break, predictive trigger, idle. The moderate band
// re-evaluates against the hysteresis band rather than the raw target
// whenever the previous mode was already an active cooling or
// dehumidifying mode, so the engine does not flap strictly inside the
// band.
func Decide(in DecisionInput) Decision {
	escalation := in.EscalationMargin
	if escalation == 0 {
		escalation = DefaultEscalationMargin
	}
	humCritical := in.HumidityCriticalMargin
	if humCritical == 0 {
		humCritical = DefaultHumidityCriticalMargin
	}
	headroom := in.EvaporativeHeadroom
	if headroom == 0 {
		headroom = DefaultEvaporativeHeadroom
	}

	// Rule 1: no usable reading. Keep whatever is currently applied.
	if in.Reading == nil || !in.Safety.SensorValid {
		return Decision{
			Mode:    ModeHold,
			Targets: in.PreviousTargets,
			Reason:  Reason{Code: ReasonSensorInvalid, Detail: "sensor invalid, holding"},
			Time:    in.Now,
		}
	}

	r := *in.Reading
	p := in.Profile

	// Rule 2: emergency. Maximal safe response: chiller and dehumidifier
	// on, pump assisting only while the reservoir precondition holds.
	if in.Safety.EmergencyLatched {
		return emergencyDecision(in, r,
			Reason{
				Code:        ReasonEmergencyLatched,
				Detail:      "emergency latch active, awaiting reset",
				Temperature: r.Temperature,
				Humidity:    r.Humidity,
			})
	}
	if in.EmergencyShutdownTemp > 0 && r.Temperature > in.EmergencyShutdownTemp {
		return emergencyDecision(in, r,
			Reason{
				Code: ReasonEmergencyTemp,
				Detail: fmt.Sprintf("emergency: temperature %.1f°C exceeds shutdown limit %.1f°C",
					r.Temperature, in.EmergencyShutdownTemp),
				Temperature: r.Temperature,
				Humidity:    r.Humidity,
			})
	}

	// Rule 3: rate estimate and prediction.
	var rate RateEstimate
	if in.History != nil {
		rate = in.History.Rate()
	}
	pred := Predict(r, rate, p.PredictionHorizon)

	tempDev := normDeviation(r.Temperature, p.TempTarget, p.TempMax)
	humDev := normDeviation(r.Humidity, p.HumidityTarget, p.HumidityMax)
	rateNote := tempRateNote(rate, p)

	// Rule 4: severe temperature deviation.
	if r.Temperature > p.TempMax+escalation {
		mode := ModeChiller
		detail := fmt.Sprintf("temperature %.1f°C well above maximum %.1f°C, chiller with evaporative assist%s",
			r.Temperature, p.TempMax, rateNote)
		if r.Humidity > p.HumidityTarget {
			mode = ModeCoolAndDehumidify
			detail = fmt.Sprintf("temperature %.1f°C well above maximum %.1f°C with humidity %.1f%%, chiller and dehumidifier%s",
				r.Temperature, p.TempMax, r.Humidity, rateNote)
		}
		return decisionFor(mode, in,
			Reason{Code: ReasonSevereTemp, Detail: detail, Temperature: r.Temperature, Humidity: r.Humidity, TempRate: rate.TempPerMin},
			tempDev, humDev)
	}

	// Rule 5: severe humidity, a "very high" threshold above HumidityMax.
	if r.Humidity > p.HumidityMax+humCritical {
		mode := ModeDehumidify
		detail := fmt.Sprintf("humidity %.1f%% critically high, dehumidifying", r.Humidity)
		if r.Temperature > p.TempTarget {
			mode = ModeCoolAndDehumidify
			detail = fmt.Sprintf("humidity %.1f%% critically high with temperature %.1f°C above target, chiller and dehumidifier",
				r.Humidity, r.Temperature)
		}
		return decisionFor(mode, in,
			Reason{Code: ReasonSevereHumidity, Detail: detail, Temperature: r.Temperature, Humidity: r.Humidity, TempRate: rate.TempPerMin},
			tempDev, humDev)
	}

	// Rule 9: thresholds move to the far edge of the hysteresis band
	// while the matching mode is already active.
	tempThreshold := p.TempTarget + p.TempHysteresis
	if in.PreviousMode.cools() {
		tempThreshold = p.TempTarget - p.TempHysteresis
	}
	humThreshold := p.HumidityTarget + p.HumidityHysteresis
	if in.PreviousMode.dehumidifies() {
		humThreshold = p.HumidityTarget - p.HumidityHysteresis
	}

	tempHigh := r.Temperature > tempThreshold
	humHigh := r.Humidity > humThreshold

	// Rules 6 and 10: moderate deviation, weighted multi-objective pick
	// among the admissible modes.
	if tempHigh || humHigh {
		var candidates []Mode
		if tempHigh {
			if !humHigh && r.Humidity < p.HumidityMax-headroom {
				candidates = append(candidates, ModeEvaporative)
			}
			candidates = append(candidates, ModeChiller)
		}
		if humHigh {
			candidates = append(candidates, ModeDehumidify)
		}
		if tempHigh && humHigh {
			candidates = append(candidates, ModeCoolAndDehumidify)
		}

		mode := pickMode(candidates, tempDev, humDev, in.Weights, in.Runtimes)

		code := ReasonAboveTarget
		detail := fmt.Sprintf("temperature %.1f°C above target %.1f°C%s", r.Temperature, p.TempTarget, rateNote)
		if !tempHigh {
			code = ReasonHumidityHigh
			detail = fmt.Sprintf("humidity %.1f%% above target %.1f%%", r.Humidity, p.HumidityTarget)
		} else if humHigh {
			detail = fmt.Sprintf("temperature %.1f°C and humidity %.1f%% above target%s", r.Temperature, r.Humidity, rateNote)
		}
		return decisionFor(mode, in,
			Reason{Code: code, Detail: detail, Temperature: r.Temperature, Humidity: r.Humidity, TempRate: rate.TempPerMin},
			tempDev, humDev)
	}

	// Rule 7: anticipatory action on a confirmed warming trend.
	if rate.Valid && pred.Temperature > p.TempMax && math.Abs(rate.TempPerMin) >= p.TempRateWarning-rateEpsilon {
		mode := ModeEvaporative
		if r.Humidity >= p.HumidityMax-headroom {
			mode = ModeChiller
		}
		detail := fmt.Sprintf("predictive: temperature rising at %.2f°C/min, %.1f°C expected in %.0f min",
			rate.TempPerMin, pred.Temperature, p.PredictionHorizon.Minutes())
		return decisionFor(mode, in,
			Reason{Code: ReasonPredictive, Detail: detail, Temperature: r.Temperature, Humidity: r.Humidity, TempRate: rate.TempPerMin},
			tempDev, humDev)
	}

	// Rule 8: everything inside the bands.
	return Decision{
		Mode:    ModeIdle,
		Targets: ActuatorTargets{},
		Reason: Reason{
			Code:        ReasonOptimal,
			Detail:      "conditions within target bands",
			Temperature: r.Temperature,
			Humidity:    r.Humidity,
			TempRate:    rate.TempPerMin,
		},
		Time: in.Now,
	}
}

// Targets returns the logical actuator set for a mode. The Emergency
// pump target additionally depends on the reservoir precondition, so it
// is handled by the caller.
func (m Mode) targets() ActuatorTargets {
	switch m {
	case ModeEvaporative:
		return ActuatorTargets{Pump: true}
	case ModeChiller:
		return ActuatorTargets{Pump: true, Chiller: true}
	case ModeDehumidify:
		return ActuatorTargets{Dehumidifier: true}
	case ModeCoolAndDehumidify:
		return ActuatorTargets{Chiller: true, Dehumidifier: true}
	}
	return ActuatorTargets{}
}

func emergencyDecision(in DecisionInput, r Reading, reason Reason) Decision {
	return Decision{
		Mode: ModeEmergency,
		Targets: ActuatorTargets{
			Pump:         in.Safety.WaterLevelOK,
			Chiller:      true,
			Dehumidifier: true,
		},
		Reason: reason,
		Score:  in.Weights.Temperature + in.Weights.Humidity,
		Time:   in.Now,
	}
}

func decisionFor(mode Mode, in DecisionInput, reason Reason, tempDev, humDev float64) Decision {
	return Decision{
		Mode:    mode,
		Targets: mode.targets(),
		Reason:  reason,
		Score:   modeScore(mode, tempDev, humDev, in.Weights),
		Time:    in.Now,
	}
}

// normDeviation maps value above target into [0, 1.5], where 1.0 means
// the value sits at the band maximum.
func normDeviation(value, target, max float64) float64 {
	span := max - target
	if span <= 0 {
		span = 1
	}
	dev := (value - target) / span
	if dev < 0 {
		return 0
	}
	if dev > 1.5 {
		return 1.5
	}
	return dev
}

// modeScore is the weighted multi-objective score:
// temperature priority times the temperature deviation the mode
// addresses, plus the same for humidity, minus the energy priority times
// the mode's normalised energy cost.
func modeScore(m Mode, tempDev, humDev float64, w Weights) float64 {
	var s float64
	if m.cools() {
		s += w.Temperature * tempDev
	}
	if m.dehumidifies() {
		s += w.Humidity * humDev
	}
	return s - w.Energy*energyCost(m)
}

// pickMode returns the highest-scoring candidate. Ties go first to the
// lower energy cost, then to the mode whose primary actuator has accrued
// less runtime.
func pickMode(candidates []Mode, tempDev, humDev float64, w Weights, rt ActuatorRuntimes) Mode {
	best := candidates[0]
	bestScore := modeScore(best, tempDev, humDev, w)
	for _, c := range candidates[1:] {
		s := modeScore(c, tempDev, humDev, w)
		switch {
		case s > bestScore+scoreEpsilon:
			best, bestScore = c, s
		case math.Abs(s-bestScore) <= scoreEpsilon:
			if energyCost(c) < energyCost(best) ||
				(energyCost(c) == energyCost(best) && primaryRuntime(c, rt) < primaryRuntime(best, rt)) {
				best, bestScore = c, s
			}
		}
	}
	return best
}

// primaryRuntime is the cumulative runtime of the actuator a mode leans
// on hardest, used as the last tie-break so load spreads across units.
func primaryRuntime(m Mode, rt ActuatorRuntimes) time.Duration {
	switch m {
	case ModeEvaporative:
		return rt.Pump
	case ModeChiller, ModeCoolAndDehumidify, ModeEmergency:
		return rt.Chiller
	case ModeDehumidify:
		return rt.Dehumidifier
	}
	return 0
}

func tempRateNote(rate RateEstimate, p TargetProfile) string {
	if !rate.Valid || math.Abs(rate.TempPerMin) < p.TempRateWarning-rateEpsilon {
		return ""
	}
	if rate.TempPerMin >= 0 {
		return fmt.Sprintf(", rising at %.2f°C/min", rate.TempPerMin)
	}
	return fmt.Sprintf(", falling at %.2f°C/min", math.Abs(rate.TempPerMin))
}
