// Package sensor provides raw sample acquisition and validation for the
// SHT3x cargo-space sensor, with hardware abstraction.
// The real implementation talks to the sensor over the Linux I2C
// character device. The simulated implementation allows running and
// testing without hardware.
package sensor

import (
	"errors"
	"fmt"
)

// RawSample is one raw transaction from the sensor transport.
// Temperature and Humidity are already unit-converted; the raw words
// and checksums are carried alongside when the transport provides them
// so the validator can verify integrity.
type RawSample struct {
	Temperature float64 // °C, before calibration
	Humidity    float64 // %RH, before calibration

	TempRaw     uint16
	TempCRC     byte
	HumidityRaw uint16
	HumidityCRC byte
	HasCRC      bool

	// Synthetic marks a fallback sample produced while the sensor is
	// absent. It propagates into Reading.Validity and must never be
	// presented downstream as a hardware reading.
	Synthetic bool
}

// Transport acquires raw samples from the sensor hardware.
type Transport interface {
	// Read performs one sensor transaction. It blocks briefly for the
	// measurement but enforces a bounded timeout internally.
	Read() (RawSample, error)

	// Available reports whether the sensor is believed present. The
	// caller substitutes synthetic fallback samples while false.
	Available() bool

	// Close releases transport resources.
	Close() error
}

// ErrorClass identifies why a sample was rejected.
type ErrorClass string

const (
	ClassOutOfRange ErrorClass = "OUT_OF_RANGE"
	ClassIntegrity  ErrorClass = "INTEGRITY_FAILURE"
	ClassAnomaly    ErrorClass = "ANOMALY_DETECTED"
	ClassTimeout    ErrorClass = "TIMEOUT"
)

// ValidationError is a typed rejection of a raw sample. Rejected samples
// are discarded for the cycle and never enter the history window.
type ValidationError struct {
	Class  ErrorClass
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("sensor %s: %s", e.Class, e.Detail)
}

// ClassOf extracts the error class, or "" for non-validation errors.
func ClassOf(err error) ErrorClass {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Class
	}
	return ""
}

// crc8 computes the SHT3x CRC-8 (polynomial 0x31, init 0xFF) over data.
func crc8(data []byte) byte {
	crc := byte(0xFF)
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// convertTemperature converts a raw 16-bit SHT3x word to °C.
func convertTemperature(raw uint16) float64 {
	return -45 + 175*float64(raw)/65535.0
}

// convertHumidity converts a raw 16-bit SHT3x word to %RH.
func convertHumidity(raw uint16) float64 {
	return 100 * float64(raw) / 65535.0
}
