package sensor

import (
	"fmt"
	"time"

	"github.com/sweeney/cargo-climate/internal/climate"
)

// Physical envelope for the cargo space. Values outside are sensor
// faults, not conditions to control toward.
const (
	PhysicalTempMin     = -10.0 // °C
	PhysicalTempMax     = 50.0  // °C
	PhysicalHumidityMin = 0.0   // %RH
	PhysicalHumidityMax = 100.0 // %RH
)

// Anomaly rejection defaults. A candidate is rejected when it deviates
// from the window mean by more than AnomalyFactor times the typical
// sample-to-sample delta (floored so a flat window does not reject
// ordinary noise).
const (
	DefaultAnomalyFactor     = 6.0
	DefaultTempDeltaFloor    = 0.5 // °C
	DefaultHumidityFloor     = 1.0 // %RH
	DefaultMinAnomalySamples = 3
)

// ValidatorConfig holds calibration offsets and anomaly tuning.
// Zero-valued tuning fields select the package defaults.
type ValidatorConfig struct {
	TempOffset     float64 // additive °C calibration
	HumidityOffset float64 // additive %RH calibration

	AnomalyFactor     float64
	TempDeltaFloor    float64
	HumidityFloor     float64
	MinAnomalySamples int
}

// Validator turns raw sensor transactions into validated readings.
// Stateless per call: history is owned by the caller and passed in.
type Validator struct {
	cfg ValidatorConfig
}

// NewValidator creates a Validator with the given config.
func NewValidator(cfg ValidatorConfig) *Validator {
	if cfg.AnomalyFactor == 0 {
		cfg.AnomalyFactor = DefaultAnomalyFactor
	}
	if cfg.TempDeltaFloor == 0 {
		cfg.TempDeltaFloor = DefaultTempDeltaFloor
	}
	if cfg.HumidityFloor == 0 {
		cfg.HumidityFloor = DefaultHumidityFloor
	}
	if cfg.MinAnomalySamples == 0 {
		cfg.MinAnomalySamples = DefaultMinAnomalySamples
	}
	return &Validator{cfg: cfg}
}

// Validate checks a raw sample against the physical envelope, its
// checksums, and the recent history, returning a validated Reading.
// Checks run in order: range, integrity, calibration, anomaly. A
// rejected sample must not be appended to history by the caller.
func (v *Validator) Validate(raw RawSample, history *climate.History, now time.Time) (climate.Reading, error) {
	if raw.Temperature < PhysicalTempMin || raw.Temperature > PhysicalTempMax {
		return climate.Reading{}, &ValidationError{
			Class:  ClassOutOfRange,
			Detail: fmt.Sprintf("temperature %.2f°C outside %.0f..%.0f°C", raw.Temperature, PhysicalTempMin, PhysicalTempMax),
		}
	}
	if raw.Humidity < PhysicalHumidityMin || raw.Humidity > PhysicalHumidityMax {
		return climate.Reading{}, &ValidationError{
			Class:  ClassOutOfRange,
			Detail: fmt.Sprintf("humidity %.2f%% outside %.0f..%.0f%%", raw.Humidity, PhysicalHumidityMin, PhysicalHumidityMax),
		}
	}

	if raw.HasCRC {
		if err := verifyCRC(raw); err != nil {
			return climate.Reading{}, err
		}
	}

	temp := raw.Temperature + v.cfg.TempOffset
	humidity := raw.Humidity + v.cfg.HumidityOffset

	if history != nil && history.Len() >= v.cfg.MinAnomalySamples {
		if err := v.checkAnomaly(temp, humidity, history); err != nil {
			return climate.Reading{}, err
		}
	}

	validity := climate.ValidityHardware
	if raw.Synthetic {
		validity = climate.ValiditySynthetic
	}

	return climate.Reading{
		Time:        now,
		Temperature: temp,
		Humidity:    humidity,
		Validity:    validity,
	}, nil
}

func verifyCRC(raw RawSample) error {
	tempBytes := []byte{byte(raw.TempRaw >> 8), byte(raw.TempRaw)}
	if crc8(tempBytes) != raw.TempCRC {
		return &ValidationError{
			Class:  ClassIntegrity,
			Detail: fmt.Sprintf("temperature CRC mismatch: got 0x%02X, want 0x%02X", raw.TempCRC, crc8(tempBytes)),
		}
	}
	humBytes := []byte{byte(raw.HumidityRaw >> 8), byte(raw.HumidityRaw)}
	if crc8(humBytes) != raw.HumidityCRC {
		return &ValidationError{
			Class:  ClassIntegrity,
			Detail: fmt.Sprintf("humidity CRC mismatch: got 0x%02X, want 0x%02X", raw.HumidityCRC, crc8(humBytes)),
		}
	}
	return nil
}

// checkAnomaly rejects a candidate that deviates from the window mean by
// more than AnomalyFactor times the typical sample-to-sample delta.
func (v *Validator) checkAnomaly(temp, humidity float64, history *climate.History) error {
	ts := history.TempStats()
	yard := ts.TypicalDelta
	if yard < v.cfg.TempDeltaFloor {
		yard = v.cfg.TempDeltaFloor
	}
	if dev := abs(temp - ts.Mean); dev > v.cfg.AnomalyFactor*yard {
		return &ValidationError{
			Class:  ClassAnomaly,
			Detail: fmt.Sprintf("temperature %.2f°C deviates %.2f°C from window mean %.2f°C", temp, dev, ts.Mean),
		}
	}

	hs := history.HumidityStats()
	yard = hs.TypicalDelta
	if yard < v.cfg.HumidityFloor {
		yard = v.cfg.HumidityFloor
	}
	if dev := abs(humidity - hs.Mean); dev > v.cfg.AnomalyFactor*yard {
		return &ValidationError{
			Class:  ClassAnomaly,
			Detail: fmt.Sprintf("humidity %.2f%% deviates %.2f%% from window mean %.2f%%", humidity, dev, hs.Mean),
		}
	}
	return nil
}

// NewTimeoutError builds the timeout rejection the orchestrator raises
// after repeated failures; the validator itself is stateless and never
// produces it.
func NewTimeoutError(since time.Duration) error {
	return &ValidationError{
		Class:  ClassTimeout,
		Detail: fmt.Sprintf("no valid reading for %s", since.Truncate(time.Second)),
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
