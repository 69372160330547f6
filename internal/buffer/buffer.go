package buffer

// Accumulator collects serialized records into one growable byte region and
// keeps a logical record count alongside it. The zero value is ready to use.
type Accumulator struct {
	data    []byte
	records int
}

// Append adds a serialized region holding n records. Appending an empty
// region is a no-op: no bytes means no records.
func (a *Accumulator) Append(p []byte, n int) {
	if len(p) == 0 {
		return
	}
	a.data = append(a.data, p...)
	a.records += n
}

// Len returns the accumulated byte size.
func (a *Accumulator) Len() int {
	return len(a.data)
}

// Records returns the number of logical records appended so far.
func (a *Accumulator) Records() int {
	return a.records
}

// Bytes exposes the accumulated region without copying. The region stays
// owned by the accumulator; callers that need to keep it must use Flush or
// CopyOut instead.
func (a *Accumulator) Bytes() []byte {
	return a.data
}

// Flush hands ownership of the accumulated region to the caller and leaves
// the accumulator freshly initialized. The old region can no longer be
// reached through the accumulator.
func (a *Accumulator) Flush() ([]byte, int) {
	data, n := a.data, a.records
	a.data = nil
	a.records = 0
	return data, n
}

// CopyOut returns an independent copy of the accumulated region and resets
// the accumulator in place. An empty accumulator yields (nil, 0).
func (a *Accumulator) CopyOut() ([]byte, int) {
	if len(a.data) == 0 {
		return nil, 0
	}
	out := make([]byte, len(a.data))
	copy(out, a.data)
	n := a.records
	a.data = nil
	a.records = 0
	return out, n
}

// Reset drops any accumulated data.
func (a *Accumulator) Reset() {
	a.data = nil
	a.records = 0
}
