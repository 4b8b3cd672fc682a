package actuator

// FakeOutput is a test double recording every switch operation.
type FakeOutput struct {
	// States holds the last logical state set per actuator.
	States map[Name]bool

	// Ops records every Set call in order.
	Ops []SetOp

	// WaterOK is the scripted float-switch reading.
	WaterOK bool

	// SetError, if set, will be returned by Set().
	SetError error

	// WaterError, if set, will be returned by WaterLevelOK().
	WaterError error

	// Closed tracks if Close was called
	Closed bool
}

// SetOp is one recorded Set call.
type SetOp struct {
	Name Name
	On   bool
}

// NewFakeOutput creates a FakeOutput with water present.
func NewFakeOutput() *FakeOutput {
	return &FakeOutput{States: make(map[Name]bool), WaterOK: true}
}

// Set records the operation and updates the tracked state.
func (f *FakeOutput) Set(name Name, on bool) error {
	if f.SetError != nil {
		return f.SetError
	}
	f.States[name] = on
	f.Ops = append(f.Ops, SetOp{Name: name, On: on})
	return nil
}

// WaterLevelOK returns the scripted reading.
func (f *FakeOutput) WaterLevelOK() (bool, error) {
	if f.WaterError != nil {
		return false, f.WaterError
	}
	return f.WaterOK, nil
}

// Close marks the output as closed.
func (f *FakeOutput) Close() error {
	f.Closed = true
	return nil
}
