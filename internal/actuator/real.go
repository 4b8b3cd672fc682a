//go:build linux

package actuator

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// Pins maps the actuators and the float switch to BCM line offsets.
type Pins struct {
	Pump         int
	Chiller      int
	Dehumidifier int
	WaterLevel   int
}

// RealOutput drives the relay board through the Linux GPIO character
// device. The relay board is active low: logical on = line low.
type RealOutput struct {
	chip  *gpiocdev.Chip
	lines map[Name]*gpiocdev.Line
	water *gpiocdev.Line
}

// NewRealOutput requests the relay lines as outputs (initially off) and
// the water-level line as input with pull-up. The float switch pulls
// the line low while the reservoir holds enough water.
func NewRealOutput(pins Pins) (*RealOutput, error) {
	chip, err := gpiocdev.NewChip("gpiochip0")
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	out := &RealOutput{chip: chip, lines: make(map[Name]*gpiocdev.Line)}

	relayPins := map[Name]int{
		Pump:         pins.Pump,
		Chiller:      pins.Chiller,
		Dehumidifier: pins.Dehumidifier,
	}
	for _, name := range All {
		// Active low: initial value 1 keeps the relay de-energised.
		line, err := chip.RequestLine(relayPins[name], gpiocdev.AsOutput(1))
		if err != nil {
			out.Close()
			return nil, fmt.Errorf("request %s pin %d: %w", name, relayPins[name], err)
		}
		out.lines[name] = line
	}

	water, err := chip.RequestLine(pins.WaterLevel, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		out.Close()
		return nil, fmt.Errorf("request water level pin %d: %w", pins.WaterLevel, err)
	}
	out.water = water

	return out, nil
}

// Set drives the named relay. Logical on maps to physical low.
func (r *RealOutput) Set(name Name, on bool) error {
	line, ok := r.lines[name]
	if !ok {
		return fmt.Errorf("unknown actuator %q", name)
	}
	value := 1
	if on {
		value = 0
	}
	if err := line.SetValue(value); err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}
	return nil
}

// WaterLevelOK reads the float switch. Raw low means water present.
func (r *RealOutput) WaterLevelOK() (bool, error) {
	raw, err := r.water.Value()
	if err != nil {
		return false, fmt.Errorf("read water level: %w", err)
	}
	return raw == 0, nil
}

// Close de-energises all relays, then releases the lines and chip.
func (r *RealOutput) Close() error {
	var errs []error

	for name, line := range r.lines {
		if err := line.SetValue(1); err != nil {
			errs = append(errs, fmt.Errorf("de-energise %s: %w", name, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s line: %w", name, err))
		}
	}
	if r.water != nil {
		if err := r.water.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close water level line: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
