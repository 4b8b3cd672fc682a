// Package mqtt provides MQTT publishing and command intake with
// abstraction for testing.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sweeney/cargo-climate/internal/climate"
)

// TopicCycles is the MQTT topic for per-cycle climate records.
const TopicCycles = "cargo/climate/cycles"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "cargo/climate/system"

// TopicCommand is the MQTT topic operators send commands on.
const TopicCommand = "cargo/climate/command"

// Publisher publishes climate records to MQTT.
type Publisher interface {
	// PublishCycle sends one control-cycle record to the broker.
	// Returns error if publishing fails (should not crash the process).
	PublishCycle(event CycleEvent) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// ActuatorState is the published view of one actuator. This is a local
// copy to avoid importing internal/actuator from mqtt.
type ActuatorState struct {
	Name    string
	On      bool
	Refusal string
}

// CycleEvent is one control cycle as published on TopicCycles.
type CycleEvent struct {
	Timestamp time.Time
	Reading   climate.Reading
	Decision  climate.Decision
	Actuators []ActuatorState
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Climate ClimatePayload `json:"climate"`
}

// ClimatePayload contains the cycle record details.
type ClimatePayload struct {
	Timestamp string            `json:"timestamp"`
	Reading   ReadingPayload    `json:"reading"`
	Decision  DecisionPayload   `json:"decision"`
	Actuators []ActuatorPayload `json:"actuators"`
}

// ReadingPayload is the published sensor reading.
type ReadingPayload struct {
	Temperature float64 `json:"temperature_c"`
	Humidity    float64 `json:"humidity_pct"`
	Validity    string  `json:"validity"`
}

// DecisionPayload is the published engine decision.
type DecisionPayload struct {
	Mode   string  `json:"mode"`
	Reason string  `json:"reason"`
	Detail string  `json:"detail,omitempty"`
	Score  float64 `json:"score"`
}

// ActuatorPayload is the published state of one actuator.
type ActuatorPayload struct {
	Name    string `json:"name"`
	On      bool   `json:"on"`
	Refusal string `json:"refusal,omitempty"`
}

// FormatCyclePayload creates the JSON payload for a cycle record.
func FormatCyclePayload(event CycleEvent) ([]byte, error) {
	actuators := make([]ActuatorPayload, 0, len(event.Actuators))
	for _, a := range event.Actuators {
		actuators = append(actuators, ActuatorPayload{
			Name:    a.Name,
			On:      a.On,
			Refusal: a.Refusal,
		})
	}

	payload := Payload{
		Climate: ClimatePayload{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Reading: ReadingPayload{
				Temperature: event.Reading.Temperature,
				Humidity:    event.Reading.Humidity,
				Validity:    string(event.Reading.Validity),
			},
			Decision: DecisionPayload{
				Mode:   string(event.Decision.Mode),
				Reason: string(event.Decision.Reason.Code),
				Detail: event.Decision.Reason.Detail,
				Score:  event.Decision.Score,
			},
			Actuators: actuators,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// Command types accepted on TopicCommand.
const (
	CommandOverride = "override"
	CommandPreset   = "preset"
	CommandReset    = "reset"
)

// CommandTargets are the operator-requested actuator states for an
// override command.
type CommandTargets struct {
	Pump         bool `json:"pump"`
	Chiller      bool `json:"chiller"`
	Dehumidifier bool `json:"dehumidifier"`
}

// Command is an operator command received on TopicCommand.
type Command struct {
	Type string `json:"type"`

	// Override fields.
	Enabled bool            `json:"enabled,omitempty"`
	Targets *CommandTargets `json:"targets,omitempty"`

	// Preset field.
	Name string `json:"name,omitempty"`
}

// CommandHandler receives parsed commands from the broker. Called on
// the MQTT client goroutine; implementations must hand off quickly.
type CommandHandler func(Command)

// ParseCommand decodes and validates a command payload.
func ParseCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}

	switch cmd.Type {
	case CommandOverride:
		if cmd.Enabled && cmd.Targets == nil {
			return Command{}, fmt.Errorf("override command without targets")
		}
	case CommandPreset:
		if cmd.Name == "" {
			return Command{}, fmt.Errorf("preset command without name")
		}
	case CommandReset:
		// No fields.
	default:
		return Command{}, fmt.Errorf("unknown command type %q", cmd.Type)
	}
	return cmd, nil
}
