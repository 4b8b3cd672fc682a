// Package store persists control-cycle records to append-only sinks:
// a local JSONL file with rotation, and optionally a Kafka topic for
// fleet-wide collection.
package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/cargo-climate/internal/actuator"
	"github.com/sweeney/cargo-climate/internal/climate"
)

// Record is one persisted control cycle. The schema is append-only:
// fields are added, never renamed, so old log files stay readable.
type Record struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	Reading  *ReadingRecord  `json:"reading,omitempty"`
	Decision DecisionRecord  `json:"decision"`
	Applied  []AppliedRecord `json:"applied"`
	Safety   SafetyRecord    `json:"safety"`
}

// ReadingRecord is the persisted sensor reading.
type ReadingRecord struct {
	Temperature float64 `json:"temperature_c"`
	Humidity    float64 `json:"humidity_pct"`
	Validity    string  `json:"validity"`
}

// DecisionRecord is the persisted engine decision.
type DecisionRecord struct {
	Mode        string  `json:"mode"`
	Reason      string  `json:"reason"`
	Detail      string  `json:"detail,omitempty"`
	Score       float64 `json:"score"`
	Temperature float64 `json:"cited_temperature_c"`
	Humidity    float64 `json:"cited_humidity_pct"`
	TempRate    float64 `json:"cited_temp_rate,omitempty"`
}

// AppliedRecord is the persisted outcome for one actuator.
type AppliedRecord struct {
	Name      string `json:"name"`
	Requested bool   `json:"requested"`
	On        bool   `json:"on"`
	Refusal   string `json:"refusal,omitempty"`
	Forced    bool   `json:"forced,omitempty"`
}

// SafetyRecord is the persisted safety view of the cycle.
type SafetyRecord struct {
	SensorValid      bool `json:"sensor_valid"`
	WaterLevelOK     bool `json:"water_level_ok"`
	EmergencyLatched bool `json:"emergency_latched"`
}

// NewRecord assembles a Record from one cycle's outputs, assigning a
// fresh uuid. haveReading false leaves the reading empty (Hold cycles
// after a rejected sample).
func NewRecord(ts time.Time, reading climate.Reading, haveReading bool, decision climate.Decision, applied []actuator.AppliedState, safety climate.SafetyStatus) Record {
	rec := Record{
		ID:        uuid.NewString(),
		Timestamp: ts.UTC(),
		Decision: DecisionRecord{
			Mode:        string(decision.Mode),
			Reason:      string(decision.Reason.Code),
			Detail:      decision.Reason.Detail,
			Score:       decision.Score,
			Temperature: decision.Reason.Temperature,
			Humidity:    decision.Reason.Humidity,
			TempRate:    decision.Reason.TempRate,
		},
		Safety: SafetyRecord{
			SensorValid:      safety.SensorValid,
			WaterLevelOK:     safety.WaterLevelOK,
			EmergencyLatched: safety.EmergencyLatched,
		},
	}

	if haveReading {
		rec.Reading = &ReadingRecord{
			Temperature: reading.Temperature,
			Humidity:    reading.Humidity,
			Validity:    string(reading.Validity),
		}
	}

	rec.Applied = make([]AppliedRecord, 0, len(applied))
	for _, st := range applied {
		rec.Applied = append(rec.Applied, AppliedRecord{
			Name:      string(st.Name),
			Requested: st.Requested,
			On:        st.On,
			Refusal:   string(st.Refusal),
			Forced:    st.Forced,
		})
	}

	return rec
}
