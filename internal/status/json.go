package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event  string `json:"event,omitempty"`
	Reason string `json:"reason,omitempty"`

	Reading   *ReadingJSON   `json:"reading,omitempty"`
	Decision  *DecisionJSON  `json:"decision,omitempty"`
	Actuators []ActuatorJSON `json:"actuators"`
	Safety    SafetyJSON     `json:"safety"`
	Trend     *TrendJSON     `json:"trend,omitempty"`
	Override  *OverrideJSON  `json:"override,omitempty"`
	Preset    string         `json:"preset,omitempty"`
	Cycles    uint64         `json:"cycles"`
	Errors    uint64         `json:"errors"`

	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	MQTT          MQTTStatus `json:"mqtt"`
	Config        ConfigJSON `json:"config"`
}

// ReadingJSON is the JSON representation of the last validated reading.
type ReadingJSON struct {
	Temperature float64 `json:"temperature_c"`
	Humidity    float64 `json:"humidity_pct"`
	Validity    string  `json:"validity"`
	Time        string  `json:"time"`
}

// DecisionJSON is the JSON representation of the last engine decision.
type DecisionJSON struct {
	Mode       string  `json:"mode"`
	ReasonCode string  `json:"reason_code"`
	Detail     string  `json:"detail"`
	Score      float64 `json:"score"`
	Time       string  `json:"time"`
}

// ActuatorJSON is the JSON representation of one applied actuator state.
type ActuatorJSON struct {
	Name      string `json:"name"`
	On        bool   `json:"on"`
	Requested bool   `json:"requested"`
	Refusal   string `json:"refusal,omitempty"`
	Forced    bool   `json:"forced,omitempty"`
}

// SafetyJSON is the JSON representation of the safety flags.
type SafetyJSON struct {
	SensorValid      bool `json:"sensor_valid"`
	WaterLevelOK     bool `json:"water_level_ok"`
	EmergencyLatched bool `json:"emergency_latched"`
}

// TrendJSON is the JSON representation of the rate estimate and the
// prediction at the configured horizon.
type TrendJSON struct {
	TempPerMin        float64 `json:"temp_rate_c_per_min"`
	HumidityPerMin    float64 `json:"humidity_rate_pct_per_min"`
	PredictedTemp     float64 `json:"predicted_temperature_c"`
	PredictedHumidity float64 `json:"predicted_humidity_pct"`
}

// OverrideJSON is the JSON representation of an active manual override.
type OverrideJSON struct {
	Pump         bool   `json:"pump"`
	Chiller      bool   `json:"chiller"`
	Dehumidifier bool   `json:"dehumidifier"`
	Since        string `json:"since"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	IntervalMs      int64  `json:"interval_ms"`
	HeartbeatMs     int64  `json:"heartbeat_ms"`
	SensorTimeoutMs int64  `json:"sensor_timeout_ms"`
	Broker          string `json:"broker"`
	HTTPPort        string `json:"http_port"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Safety: SafetyJSON{
			SensorValid:      snap.Safety.SensorValid,
			WaterLevelOK:     snap.Safety.WaterLevelOK,
			EmergencyLatched: snap.Safety.EmergencyLatched,
		},
		Preset:        snap.Preset,
		Cycles:        snap.CycleCount,
		Errors:        snap.ErrorCount,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			IntervalMs:      snap.Config.IntervalMs,
			HeartbeatMs:     snap.Config.HeartbeatMs,
			SensorTimeoutMs: snap.Config.SensorTimeoutMs,
			Broker:          snap.Config.Broker,
			HTTPPort:        snap.Config.HTTPPort,
		},
	}

	if snap.HaveReading {
		inner.Reading = &ReadingJSON{
			Temperature: snap.LastReading.Temperature,
			Humidity:    snap.LastReading.Humidity,
			Validity:    string(snap.LastReading.Validity),
			Time:        snap.LastReading.Time.UTC().Format(time.RFC3339),
		}
	}
	if snap.HaveDecision {
		inner.Decision = &DecisionJSON{
			Mode:       string(snap.LastDecision.Mode),
			ReasonCode: string(snap.LastDecision.Reason.Code),
			Detail:     snap.LastDecision.Reason.Detail,
			Score:      snap.LastDecision.Score,
			Time:       snap.LastDecision.Time.UTC().Format(time.RFC3339),
		}
	}

	inner.Actuators = make([]ActuatorJSON, 0, len(snap.Applied))
	for _, st := range snap.Applied {
		inner.Actuators = append(inner.Actuators, ActuatorJSON{
			Name:      string(st.Name),
			On:        st.On,
			Requested: st.Requested,
			Refusal:   string(st.Refusal),
			Forced:    st.Forced,
		})
	}

	if snap.Rate.Valid {
		inner.Trend = &TrendJSON{
			TempPerMin:        snap.Rate.TempPerMin,
			HumidityPerMin:    snap.Rate.HumidityPerMin,
			PredictedTemp:     snap.Prediction.Temperature,
			PredictedHumidity: snap.Prediction.Humidity,
		}
	}

	if snap.Override.Active {
		inner.Override = &OverrideJSON{
			Pump:         snap.Override.Targets.Pump,
			Chiller:      snap.Override.Targets.Chiller,
			Dehumidifier: snap.Override.Targets.Dehumidifier,
			Since:        snap.Override.Since.UTC().Format(time.RFC3339),
		}
	}

	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
