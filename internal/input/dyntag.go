package input

import (
	"time"

	"sluice/internal/buffer"
	"sluice/internal/metrics"
	"sluice/internal/record"
)

// A per-tag buffer stops taking appends past this size until flushed.
const dyntagLockSize = 2000000

// Dyntag is a per-tag buffer owned by an instance of a dynamic tag
// plugin. Once locked it waits for a flush; once flushed it is busy and
// waits for destruction.
type Dyntag struct {
	ins  *Instance
	tag  string
	busy bool
	lock bool
	buf  buffer.Accumulator
}

func (dt *Dyntag) Tag() string { return dt.tag }

func (dt *Dyntag) Busy() bool {
	dt.ins.mu.Lock()
	defer dt.ins.mu.Unlock()
	return dt.busy
}

func (dt *Dyntag) Locked() bool {
	dt.ins.mu.Lock()
	defer dt.ins.mu.Unlock()
	return dt.lock
}

func (dt *Dyntag) Len() int {
	dt.ins.mu.Lock()
	defer dt.ins.mu.Unlock()
	return dt.buf.Len()
}

func (dt *Dyntag) Records() int {
	dt.ins.mu.Lock()
	defer dt.ins.mu.Unlock()
	return dt.buf.Records()
}

// Flush moves the buffered region out. The dyntag unlocks, turns busy
// and stays out of append matching until destroyed.
func (dt *Dyntag) Flush() ([]byte, int) {
	dt.ins.mu.Lock()
	defer dt.ins.mu.Unlock()
	data, n := dt.buf.Flush()
	dt.lock = false
	dt.busy = true
	return data, n
}

// dyntagGet returns the writable buffer for tag, skipping busy or
// locked candidates and creating a fresh one when none matches. Caller
// holds ins.mu.
func (ins *Instance) dyntagGet(tag string) (*Dyntag, error) {
	if tag == "" {
		return nil, ErrEmptyTag
	}
	for _, dt := range ins.dyntags {
		if dt.busy || dt.lock {
			continue
		}
		if dt.tag == tag {
			return dt, nil
		}
	}
	dt := &Dyntag{ins: ins, tag: tag}
	ins.dyntags = append(ins.dyntags, dt)
	return dt, nil
}

// DyntagAppend encodes one record under tag into the matching per-tag
// buffer.
func (ins *Instance) DyntagAppend(tag string, t time.Time, rec record.Record) error {
	data, err := record.Encode(t, rec)
	if err != nil {
		return err
	}
	return ins.dyntagAppend(tag, data)
}

// DyntagAppendRaw adds an already encoded region holding one record
// under tag.
func (ins *Instance) DyntagAppendRaw(tag string, p []byte) error {
	return ins.dyntagAppend(tag, p)
}

func (ins *Instance) dyntagAppend(tag string, p []byte) error {
	ins.mu.Lock()
	dt, err := ins.dyntagGet(tag)
	if err != nil {
		ins.mu.Unlock()
		return err
	}
	dt.buf.Append(p, 1)
	if dt.buf.Len() > dyntagLockSize {
		dt.lock = true
	}
	ins.mu.Unlock()

	ins.metrics.Add(metrics.CounterRecords, 1)
	ins.metrics.Add(metrics.CounterBytes, uint64(len(p)))
	ins.checkLimit()
	return nil
}

// Dyntags returns the instance's per-tag buffers.
func (ins *Instance) Dyntags() []*Dyntag {
	ins.mu.Lock()
	defer ins.mu.Unlock()
	out := make([]*Dyntag, len(ins.dyntags))
	copy(out, ins.dyntags)
	return out
}

// DestroyDyntag unlinks one per-tag buffer from the instance.
func (ins *Instance) DestroyDyntag(dt *Dyntag) {
	ins.mu.Lock()
	defer ins.mu.Unlock()
	for i, cur := range ins.dyntags {
		if cur == dt {
			ins.dyntags = append(ins.dyntags[:i], ins.dyntags[i+1:]...)
			return
		}
	}
}

// DestroyDyntags drops every per-tag buffer of the instance.
func (ins *Instance) DestroyDyntags() {
	ins.mu.Lock()
	ins.dyntags = nil
	ins.mu.Unlock()
}
