package input

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"sluice/internal/buffer"
	"sluice/internal/metrics"
	"sluice/internal/util"
)

// Property is one key/value pair from the instance configuration.
// Properties keep insertion order and may repeat keys; lookups return
// the first match.
type Property struct {
	Key   string
	Value string
}

// Instance is one configured occurrence of a plugin. Collector and
// property mutations belong to the dispatch goroutine; buffers, tags
// and pause state may be touched from task goroutines and are guarded.
type Instance struct {
	p        Plugin
	id       int
	name     string
	registry *Registry
	data     any
	context  any
	threaded bool
	log      *logrus.Entry

	// Host carries the network settings parsed from the instance spec,
	// overridable through the host/port/listen/ipv6 properties.
	Host Host

	properties []Property
	collectors []*Collector
	tasks      []Task

	mu          sync.Mutex
	tag         string
	memBufLimit int64
	paused      bool
	buf         buffer.Accumulator
	dyntags     []*Dyntag

	metrics *metrics.Set
}

func (ins *Instance) ID() int { return ins.id }

func (ins *Instance) Name() string { return ins.name }

// Data returns the opaque value handed to NewInstance.
func (ins *Instance) Data() any { return ins.data }

// Context returns the plugin-owned context set during Init.
func (ins *Instance) Context() any { return ins.context }

// SetContext stores the plugin's per-instance state. Exit receives it
// back at teardown.
func (ins *Instance) SetContext(ctx any) { ins.context = ctx }

func (ins *Instance) Threaded() bool { return ins.threaded }

// Log returns the instance-scoped log entry for plugin use.
func (ins *Instance) Log() *logrus.Entry { return ins.log }

func (ins *Instance) Metrics() *metrics.Set { return ins.metrics }

// Pipe mints an event loop descriptor plus its ring function for
// plugin-side wakeups.
func (ins *Instance) Pipe() (int, func(), error) {
	return ins.registry.loop.Pipe()
}

func (ins *Instance) Tag() string {
	ins.mu.Lock()
	defer ins.mu.Unlock()
	return ins.tag
}

func (ins *Instance) setTag(tag string) {
	ins.mu.Lock()
	ins.tag = tag
	ins.mu.Unlock()
}

// MemBufLimit returns the configured buffer cap in bytes, 0 meaning
// unlimited.
func (ins *Instance) MemBufLimit() int64 {
	ins.mu.Lock()
	defer ins.mu.Unlock()
	return ins.memBufLimit
}

// SetProperty interprets one configuration pair. The value goes through
// environment translation first; a value that translates to empty is
// treated as absent. Unrecognized keys land in the ordered property
// table.
func (ins *Instance) SetProperty(k, v string) error {
	value := ins.registry.env.Translate(v)
	if value == "" {
		return nil
	}

	switch {
	case strings.EqualFold(k, "tag"):
		ins.setTag(value)
	case strings.EqualFold(k, "mem_buf_limit"):
		n, err := util.ParseSize(value)
		if err != nil {
			return fmt.Errorf("%w: mem_buf_limit %q: %v", ErrInvalidProperty, value, err)
		}
		ins.mu.Lock()
		ins.memBufLimit = n
		ins.mu.Unlock()
	case strings.EqualFold(k, "listen"):
		ins.Host.Listen = value
	case strings.EqualFold(k, "host"):
		ins.Host.Name = value
	case strings.EqualFold(k, "port"):
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: port %q", ErrInvalidProperty, value)
		}
		ins.Host.Port = port
	case strings.EqualFold(k, "ipv6"):
		b, err := util.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: ipv6 %q", ErrInvalidProperty, value)
		}
		ins.Host.IPv6 = b
	default:
		ins.properties = append(ins.properties, Property{Key: k, Value: value})
	}
	return nil
}

// GetProperty returns the first value recorded for key, matching case
// insensitively.
func (ins *Instance) GetProperty(key string) (string, bool) {
	for _, p := range ins.properties {
		if strings.EqualFold(p.Key, key) {
			return p.Value, true
		}
	}
	return "", false
}

// Properties returns a copy of the ordered property table.
func (ins *Instance) Properties() []Property {
	out := make([]Property, len(ins.properties))
	copy(out, ins.properties)
	return out
}

// Append adds an encoded region holding n records to the default buffer
// and applies the buffer limit.
func (ins *Instance) Append(p []byte, n int) {
	ins.mu.Lock()
	ins.buf.Append(p, n)
	ins.mu.Unlock()

	ins.metrics.Add(metrics.CounterRecords, uint64(n))
	ins.metrics.Add(metrics.CounterBytes, uint64(len(p)))
	ins.checkLimit()
}

// FlushDefault copies out the default buffer contents and resets it.
func (ins *Instance) FlushDefault() ([]byte, int) {
	ins.mu.Lock()
	defer ins.mu.Unlock()
	return ins.buf.CopyOut()
}

// BufferTotal returns the bytes buffered across the default buffer and
// every per-tag buffer.
func (ins *Instance) BufferTotal() int64 {
	ins.mu.Lock()
	defer ins.mu.Unlock()
	return ins.bufferTotalLocked()
}

func (ins *Instance) bufferTotalLocked() int64 {
	total := int64(ins.buf.Len())
	for _, dt := range ins.dyntags {
		total += int64(dt.buf.Len())
	}
	return total
}

// checkLimit pauses the instance once buffered data crosses the
// configured limit. The engine resumes it after draining.
func (ins *Instance) checkLimit() {
	ins.mu.Lock()
	over := ins.memBufLimit > 0 && !ins.paused && ins.bufferTotalLocked() > ins.memBufLimit
	ins.mu.Unlock()
	if over {
		ins.Pause()
	}
}

func (ins *Instance) Paused() bool {
	ins.mu.Lock()
	defer ins.mu.Unlock()
	return ins.paused
}

// Pause stops every collector of the instance and notifies the plugin.
// It may run off the dispatch goroutine when an append crosses the
// buffer limit, so the collector list is read under the lock.
func (ins *Instance) Pause() {
	ins.mu.Lock()
	if ins.paused {
		ins.mu.Unlock()
		return
	}
	ins.paused = true
	collectors := append([]*Collector(nil), ins.collectors...)
	ins.mu.Unlock()

	ins.log.Info("pausing")
	for _, c := range collectors {
		if err := c.pause(); err != nil {
			ins.log.WithError(err).WithField("collector", c.id).Error("pause collector")
		}
	}
	if p, ok := ins.p.(Pauser); ok && ins.context != nil {
		p.Pause(ins.context)
	}
}

// Resume restarts the collectors of a paused instance.
func (ins *Instance) Resume() {
	ins.mu.Lock()
	if !ins.paused {
		ins.mu.Unlock()
		return
	}
	ins.paused = false
	collectors := append([]*Collector(nil), ins.collectors...)
	ins.mu.Unlock()

	ins.log.Info("resuming")
	for _, c := range collectors {
		if err := c.resume(); err != nil {
			ins.log.WithError(err).WithField("collector", c.id).Error("resume collector")
		}
	}
}

// Tasks returns the in-flight tasks spawned for this instance.
func (ins *Instance) Tasks() []Task {
	out := make([]Task, len(ins.tasks))
	copy(out, ins.tasks)
	return out
}

// trackTask records a spawned task, pruning finished ones.
func (ins *Instance) trackTask(t Task) {
	live := ins.tasks[:0]
	for _, old := range ins.tasks {
		select {
		case <-old.Done():
		default:
			live = append(live, old)
		}
	}
	ins.tasks = append(live, t)
}

// destroy releases everything the instance holds: collectors and their
// descriptors, per-tag buffers, the default buffer, queued tasks and
// the property table. Safe on instances that never initialized.
func (ins *Instance) destroy() {
	for _, c := range ins.collectors {
		c.destroy()
	}

	ins.mu.Lock()
	ins.collectors = nil
	ins.dyntags = nil
	ins.buf.Reset()
	ins.tag = ""
	ins.mu.Unlock()

	if ins.registry.tasks != nil {
		ins.registry.tasks.Discard(ins.name)
	}
	ins.tasks = nil
	ins.properties = nil
}
