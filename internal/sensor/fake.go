package sensor

import "errors"

// FakeTransport is a test double that returns scripted samples.
type FakeTransport struct {
	// Samples contains the scripted values to return.
	// Each call to Read() consumes the next sample.
	Samples []RawSample

	// index tracks current position in Samples
	index int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Read()
	ReadError error

	// Absent, if set, makes Available() report false.
	Absent bool
}

// NewFakeTransport creates a FakeTransport with the given samples.
func NewFakeTransport(samples []RawSample) *FakeTransport {
	return &FakeTransport{Samples: samples}
}

// Read returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeTransport) Read() (RawSample, error) {
	if f.ReadError != nil {
		return RawSample{}, f.ReadError
	}

	if len(f.Samples) == 0 {
		return RawSample{}, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}

	return sample, nil
}

// Available reports the scripted presence.
func (f *FakeTransport) Available() bool {
	return !f.Absent
}

// Close marks the transport as closed.
func (f *FakeTransport) Close() error {
	f.Closed = true
	return nil
}

// Reset resets the transport to the beginning of samples.
func (f *FakeTransport) Reset() {
	f.index = 0
	f.Closed = false
}
