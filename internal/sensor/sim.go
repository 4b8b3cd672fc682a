package sensor

import (
	"math/rand"
	"sync"
)

// SimTransport produces plausible synthetic samples around a baseline,
// with bounded random drift. It serves two roles: the -sim mode of the
// daemon, and the fallback source the orchestrator switches to while
// the hardware transport reports the sensor absent.
type SimTransport struct {
	mu sync.Mutex

	temp     float64
	humidity float64

	// TempDrift and HumidityDrift bound the per-sample random walk.
	TempDrift     float64
	HumidityDrift float64

	// TempFloor/TempCeil and HumidityFloor/HumidityCeil clamp the walk
	// so a long run cannot wander out of the physical envelope.
	TempFloor     float64
	TempCeil      float64
	HumidityFloor float64
	HumidityCeil  float64

	rng    *rand.Rand
	closed bool
}

// NewSimTransport creates a simulator starting at the given baseline.
func NewSimTransport(baseTemp, baseHumidity float64, seed int64) *SimTransport {
	return &SimTransport{
		temp:          baseTemp,
		humidity:      baseHumidity,
		TempDrift:     0.1,
		HumidityDrift: 0.5,
		TempFloor:     baseTemp - 3,
		TempCeil:      baseTemp + 3,
		HumidityFloor: clampPct(baseHumidity - 8),
		HumidityCeil:  clampPct(baseHumidity + 8),
		rng:           rand.New(rand.NewSource(seed)),
	}
}

// Read returns the next synthetic sample. Samples are marked Synthetic
// so the validity never reads as hardware downstream.
func (s *SimTransport) Read() (RawSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.temp += (s.rng.Float64()*2 - 1) * s.TempDrift
	s.humidity += (s.rng.Float64()*2 - 1) * s.HumidityDrift

	if s.temp < s.TempFloor {
		s.temp = s.TempFloor
	} else if s.temp > s.TempCeil {
		s.temp = s.TempCeil
	}
	if s.humidity < s.HumidityFloor {
		s.humidity = s.HumidityFloor
	} else if s.humidity > s.HumidityCeil {
		s.humidity = s.HumidityCeil
	}

	return RawSample{
		Temperature: s.temp,
		Humidity:    s.humidity,
		Synthetic:   true,
	}, nil
}

// Set moves the simulated conditions, for tests and demos.
func (s *SimTransport) Set(temp, humidity float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temp = temp
	s.humidity = humidity
}

// Available always reports true: the simulator never disappears.
func (s *SimTransport) Available() bool {
	return true
}

// Close marks the simulator closed.
func (s *SimTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
