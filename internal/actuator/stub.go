//go:build !linux

package actuator

import "errors"

// Pins maps the actuators and the float switch to BCM line offsets.
type Pins struct {
	Pump         int
	Chiller      int
	Dehumidifier int
	WaterLevel   int
}

// RealOutput is not available on non-Linux platforms.
type RealOutput struct{}

// NewRealOutput returns an error on non-Linux platforms.
func NewRealOutput(pins Pins) (*RealOutput, error) {
	return nil, errors.New("actuator: gpio not supported on this platform (requires Linux)")
}

// Set is not implemented on non-Linux platforms.
func (r *RealOutput) Set(name Name, on bool) error {
	return errors.New("actuator: not supported")
}

// WaterLevelOK is not implemented on non-Linux platforms.
func (r *RealOutput) WaterLevelOK() (bool, error) {
	return false, errors.New("actuator: not supported")
}

// Close is not implemented on non-Linux platforms.
func (r *RealOutput) Close() error {
	return nil
}
