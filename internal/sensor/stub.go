//go:build !linux

package sensor

import "errors"

// SHT3xTransport is not available on non-Linux platforms.
type SHT3xTransport struct{}

// NewSHT3xTransport returns an error on non-Linux platforms.
func NewSHT3xTransport(device string, addr int) (*SHT3xTransport, error) {
	return nil, errors.New("sensor: i2c not supported on this platform (requires Linux)")
}

// Read is not implemented on non-Linux platforms.
func (t *SHT3xTransport) Read() (RawSample, error) {
	return RawSample{}, errors.New("sensor: not supported")
}

// Available is not implemented on non-Linux platforms.
func (t *SHT3xTransport) Available() bool {
	return false
}

// Close is not implemented on non-Linux platforms.
func (t *SHT3xTransport) Close() error {
	return nil
}
