package climate

import (
	"math"
	"time"
)

// DefaultHistorySize is the default ring capacity: 20 samples, roughly
// the last minute at a 2s sampling interval.
const DefaultHistorySize = 20

// minRateSpan is the minimum time the window must span before a rate
// estimate is considered meaningful.
const minRateSpan = time.Second

// History is a fixed-capacity ring buffer of validated readings.
// Oldest readings are evicted on overflow. Rejected (anomalous, out of
// range) samples are never pushed, so gaps in wall time simply widen the
// slope's time base rather than distorting it.
type History struct {
	buf   []Reading
	head  int // next write position
	count int
}

// NewHistory creates a History with the given capacity.
// A capacity <= 0 falls back to DefaultHistorySize.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{buf: make([]Reading, capacity)}
}

// Push appends a reading, evicting the oldest when full.
func (h *History) Push(r Reading) {
	h.buf[h.head] = r
	h.head = (h.head + 1) % len(h.buf)
	if h.count < len(h.buf) {
		h.count++
	}
}

// Len returns the number of readings currently held.
func (h *History) Len() int {
	return h.count
}

// Cap returns the ring capacity.
func (h *History) Cap() int {
	return len(h.buf)
}

// Last returns the most recent reading, if any.
func (h *History) Last() (Reading, bool) {
	if h.count == 0 {
		return Reading{}, false
	}
	idx := (h.head - 1 + len(h.buf)) % len(h.buf)
	return h.buf[idx], true
}

// Readings returns a copy of the window, oldest first.
func (h *History) Readings() []Reading {
	out := make([]Reading, h.count)
	start := (h.head - h.count + len(h.buf)) % len(h.buf)
	for i := 0; i < h.count; i++ {
		out[i] = h.buf[(start+i)%len(h.buf)]
	}
	return out
}

// at returns the i-th reading, oldest first. Caller guarantees i < count.
func (h *History) at(i int) Reading {
	start := (h.head - h.count + len(h.buf)) % len(h.buf)
	return h.buf[(start+i)%len(h.buf)]
}

// FieldStats summarises one measured quantity over the window, used by
// the sensor validator for anomaly rejection.
type FieldStats struct {
	Mean float64
	// TypicalDelta is the mean absolute sample-to-sample change, the
	// yardstick a candidate reading's deviation is measured against.
	TypicalDelta float64
	Samples      int
}

func (h *History) stats(value func(Reading) float64) FieldStats {
	if h.count == 0 {
		return FieldStats{}
	}

	var sum float64
	for i := 0; i < h.count; i++ {
		sum += value(h.at(i))
	}
	mean := sum / float64(h.count)

	var deltaSum float64
	for i := 1; i < h.count; i++ {
		deltaSum += math.Abs(value(h.at(i)) - value(h.at(i-1)))
	}
	var typical float64
	if h.count > 1 {
		typical = deltaSum / float64(h.count-1)
	}

	return FieldStats{Mean: mean, TypicalDelta: typical, Samples: h.count}
}

// TempStats returns the temperature statistics of the window.
func (h *History) TempStats() FieldStats {
	return h.stats(func(r Reading) float64 { return r.Temperature })
}

// HumidityStats returns the humidity statistics of the window.
func (h *History) HumidityStats() FieldStats {
	return h.stats(func(r Reading) float64 { return r.Humidity })
}

// Rate computes the least-squares slope of temperature and humidity over
// the window, in units per minute. The estimate is marked invalid until
// the window holds at least two samples spanning minRateSpan of time.
// Bounded O(N) over the ring; never walks unbounded memory.
func (h *History) Rate() RateEstimate {
	if h.count < 2 {
		return RateEstimate{}
	}

	first := h.at(0)
	span := h.at(h.count - 1).Time.Sub(first.Time)
	if span < minRateSpan {
		return RateEstimate{}
	}

	// Least squares with x in minutes since the oldest sample.
	var sumX, sumXX float64
	var sumT, sumXT float64
	var sumH, sumXH float64
	n := float64(h.count)
	for i := 0; i < h.count; i++ {
		r := h.at(i)
		x := r.Time.Sub(first.Time).Minutes()
		sumX += x
		sumXX += x * x
		sumT += r.Temperature
		sumXT += x * r.Temperature
		sumH += r.Humidity
		sumXH += x * r.Humidity
	}

	den := n*sumXX - sumX*sumX
	if den == 0 {
		return RateEstimate{}
	}

	return RateEstimate{
		TempPerMin:     (n*sumXT - sumX*sumT) / den,
		HumidityPerMin: (n*sumXH - sumX*sumH) / den,
		Valid:          true,
	}
}

// Predict extrapolates the current reading linearly to the given horizon
// using the rate estimate. With no valid estimate the current values are
// returned unchanged.
func Predict(current Reading, rate RateEstimate, horizon time.Duration) Prediction {
	if !rate.Valid {
		return Prediction{Temperature: current.Temperature, Humidity: current.Humidity}
	}
	minutes := horizon.Minutes()
	return Prediction{
		Temperature: current.Temperature + rate.TempPerMin*minutes,
		Humidity:    current.Humidity + rate.HumidityPerMin*minutes,
	}
}
