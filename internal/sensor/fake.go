package sensor

import "errors"

// FakeReader is a test double that returns scripted levels.
type FakeReader struct {
	// Samples contains scripted levels to return.
	// Each call to Level() consumes the next sample.
	Samples []bool

	// index tracks current position in Samples
	index int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Level()
	ReadError error

	// FailAt, if > 0, makes the FailAt-th call (1-based) and every later
	// call return ReadError (or a generic error if ReadError is nil).
	FailAt int

	calls int
}

// NewFakeReader creates a FakeReader with the given samples.
func NewFakeReader(samples []bool) *FakeReader {
	return &FakeReader{Samples: samples}
}

// Level returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeReader) Level() (bool, error) {
	f.calls++
	if f.FailAt > 0 && f.calls >= f.FailAt {
		if f.ReadError != nil {
			return false, f.ReadError
		}
		return false, errors.New("scripted read failure")
	}
	if f.ReadError != nil {
		return false, f.ReadError
	}

	if len(f.Samples) == 0 {
		return false, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}

	return sample, nil
}

// Calls returns how many times Level has been called.
func (f *FakeReader) Calls() int {
	return f.calls
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.Closed = true
	return nil
}

// Reset resets the reader to the beginning of samples.
func (f *FakeReader) Reset() {
	f.index = 0
	f.calls = 0
	f.Closed = false
}
