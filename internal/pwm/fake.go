package pwm

import "errors"

// FakeOutput records duty writes for test assertions.
type FakeOutput struct {
	// Max is the channel's maximum duty.
	Max uint32

	// Writes contains every duty value that was accepted.
	Writes []uint32

	// WriteError, if set, will be returned by SetDuty.
	WriteError error

	// FailAt, if > 0, makes the FailAt-th SetDuty call (1-based) and every
	// later call fail; failed writes are not recorded.
	FailAt int

	// Closed tracks if Close was called.
	Closed bool

	calls int
}

// NewFakeOutput creates a FakeOutput with the given maximum duty.
func NewFakeOutput(max uint32) *FakeOutput {
	return &FakeOutput{Max: max}
}

// SetDuty records the duty value.
func (f *FakeOutput) SetDuty(duty uint32) error {
	f.calls++
	if f.FailAt > 0 && f.calls >= f.FailAt {
		if f.WriteError != nil {
			return f.WriteError
		}
		return errors.New("scripted write failure")
	}
	if f.WriteError != nil {
		return f.WriteError
	}
	if err := checkRange(duty, f.Max); err != nil {
		return err
	}
	f.Writes = append(f.Writes, duty)
	return nil
}

// MaxDuty returns the configured maximum.
func (f *FakeOutput) MaxDuty() uint32 {
	return f.Max
}

// Close marks the output as closed.
func (f *FakeOutput) Close() error {
	f.Closed = true
	return nil
}

// Last returns the most recent accepted duty, or false if none.
func (f *FakeOutput) Last() (uint32, bool) {
	if len(f.Writes) == 0 {
		return 0, false
	}
	return f.Writes[len(f.Writes)-1], true
}
