package store

import (
	"context"
	"errors"
)

// Sink receives cycle records. Implementations must tolerate being
// called every control cycle and fail without blocking the loop longer
// than their own timeout.
type Sink interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}

// MultiSink fans records out to several sinks. A failing sink does not
// stop the others; errors are joined.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink combines the given sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

// Write sends the record to every sink.
func (m *MultiSink) Write(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Write(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FakeSink records writes for test assertions.
type FakeSink struct {
	// Records contains every record written, in order.
	Records []Record

	// WriteError, if set, will be returned by Write.
	WriteError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeSink creates a FakeSink for testing.
func NewFakeSink() *FakeSink {
	return &FakeSink{}
}

// Write records the record.
func (f *FakeSink) Write(_ context.Context, rec Record) error {
	if f.WriteError != nil {
		return f.WriteError
	}
	f.Records = append(f.Records, rec)
	return nil
}

// Close marks the sink as closed.
func (f *FakeSink) Close() error {
	f.Closed = true
	return nil
}
