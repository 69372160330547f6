package input

import (
	"fmt"
	"time"
)

// CollectorKind selects how a collector is woken.
type CollectorKind int

const (
	// CollectTime fires on a repeating timer.
	CollectTime CollectorKind = iota
	// CollectFDEvent fires when a descriptor becomes ready.
	CollectFDEvent
	// CollectFDServer fires when a listening descriptor has work.
	CollectFDServer
)

func (k CollectorKind) String() string {
	switch k {
	case CollectTime:
		return "time"
	case CollectFDEvent:
		return "fd_event"
	case CollectFDServer:
		return "fd_server"
	}
	return "unknown"
}

// CollectFunc is a collector callback. It runs on the dispatch
// goroutine unless the owning plugin is isolated.
type CollectFunc func(ins *Instance) error

// Collector ties a wakeup source to a callback. Time collectors own a
// timer descriptor while running and drop it when paused; descriptor
// collectors keep theirs registered and idle it instead.
type Collector struct {
	id      int
	kind    CollectorKind
	cb      CollectFunc
	fdEvent int
	fdTimer int
	seconds int64
	nanos   int64
	running bool
	ins     *Instance
}

func (c *Collector) ID() int { return c.id }

func (c *Collector) Kind() CollectorKind { return c.kind }

func (c *Collector) Running() bool { return c.running }

// EventFD returns the descriptor an fd collector watches, -1 for timer
// collectors.
func (c *Collector) EventFD() int { return c.fdEvent }

// TimerFD returns the armed timer descriptor, -1 while not running.
func (c *Collector) TimerFD() int { return c.fdTimer }

func (c *Collector) interval() time.Duration {
	return time.Duration(c.seconds)*time.Second + time.Duration(c.nanos)*time.Nanosecond
}

func (ins *Instance) newCollector(kind CollectorKind, cb CollectFunc) (*Collector, error) {
	if cb == nil {
		return nil, fmt.Errorf("input: nil collect callback on %s", ins.name)
	}
	ins.mu.Lock()
	id := 0
	if n := len(ins.collectors); n > 0 {
		id = ins.collectors[n-1].id + 1
	}
	c := &Collector{
		id:      id,
		kind:    kind,
		cb:      cb,
		fdEvent: -1,
		fdTimer: -1,
		ins:     ins,
	}
	ins.collectors = append(ins.collectors, c)
	ins.mu.Unlock()
	ins.registry.collectors = append(ins.registry.collectors, c)
	return c, nil
}

// SetCollectorTime registers a collector firing every
// seconds+nanoseconds and returns its id.
func (ins *Instance) SetCollectorTime(cb CollectFunc, seconds, nanoseconds int64) (int, error) {
	c, err := ins.newCollector(CollectTime, cb)
	if err != nil {
		return -1, err
	}
	c.seconds = seconds
	c.nanos = nanoseconds
	return c.id, nil
}

// SetCollectorEvent registers a collector woken whenever fd is ready
// and returns its id.
func (ins *Instance) SetCollectorEvent(cb CollectFunc, fd int) (int, error) {
	c, err := ins.newCollector(CollectFDEvent, cb)
	if err != nil {
		return -1, err
	}
	c.fdEvent = fd
	return c.id, nil
}

// SetCollectorServer registers a collector for a listening descriptor
// and returns its id.
func (ins *Instance) SetCollectorServer(cb CollectFunc, fd int) (int, error) {
	c, err := ins.newCollector(CollectFDServer, cb)
	if err != nil {
		return -1, err
	}
	c.fdEvent = fd
	return c.id, nil
}

// Collectors returns the instance's collectors in registration order.
func (ins *Instance) Collectors() []*Collector {
	ins.mu.Lock()
	defer ins.mu.Unlock()
	out := make([]*Collector, len(ins.collectors))
	copy(out, ins.collectors)
	return out
}

func (ins *Instance) collectorByID(id int) *Collector {
	ins.mu.Lock()
	defer ins.mu.Unlock()
	for _, c := range ins.collectors {
		if c.id == id {
			return c
		}
	}
	return nil
}

// Start arms the collector on the event loop. Starting a running
// collector is a no-op. A registration failure leaves the collector
// stopped.
func (c *Collector) Start() error {
	if c.running {
		return nil
	}
	loop := c.ins.registry.loop
	switch c.kind {
	case CollectTime:
		fd, err := loop.RegisterTimer(c.interval())
		if err != nil {
			c.ins.log.WithError(err).Error("timer collector registration failed")
			return err
		}
		c.fdTimer = fd
	case CollectFDEvent, CollectFDServer:
		if err := loop.RegisterFD(c.fdEvent); err != nil {
			c.ins.log.WithError(err).WithField("fd", c.fdEvent).Error("fd collector registration failed")
			return err
		}
	}
	c.running = true
	return nil
}

func (c *Collector) pause() error {
	if !c.running {
		return nil
	}
	loop := c.ins.registry.loop
	if c.kind == CollectTime {
		if err := loop.Deregister(c.fdTimer); err != nil {
			return err
		}
		c.fdTimer = -1
	} else {
		if err := loop.IdleFD(c.fdEvent); err != nil {
			return err
		}
	}
	c.running = false
	return nil
}

func (c *Collector) resume() error {
	if c.running {
		return fmt.Errorf("%w: collector %d on %s", ErrAlreadyRunning, c.id, c.ins.name)
	}
	loop := c.ins.registry.loop
	if c.kind == CollectTime {
		fd, err := loop.RegisterTimer(c.interval())
		if err != nil {
			return err
		}
		c.fdTimer = fd
	} else {
		if err := loop.RegisterFD(c.fdEvent); err != nil {
			return err
		}
	}
	c.running = true
	return nil
}

// destroy releases the collector's loop registrations.
func (c *Collector) destroy() {
	loop := c.ins.registry.loop
	if c.kind == CollectTime {
		if c.fdTimer >= 0 {
			_ = loop.Deregister(c.fdTimer)
			c.fdTimer = -1
		}
	} else if c.fdEvent >= 0 {
		_ = loop.Deregister(c.fdEvent)
	}
	c.running = false
}

// PauseCollector pauses the collector with the given id. A paused timer
// collector gives up its descriptor and gets a fresh one on resume.
func (ins *Instance) PauseCollector(id int) error {
	c := ins.collectorByID(id)
	if c == nil {
		return fmt.Errorf("%w: id %d on %s", ErrCollectorNotFound, id, ins.name)
	}
	return c.pause()
}

// ResumeCollector restarts a paused collector. Resuming a collector
// that is still running is an error.
func (ins *Instance) ResumeCollector(id int) error {
	c := ins.collectorByID(id)
	if c == nil {
		return fmt.Errorf("%w: id %d on %s", ErrCollectorNotFound, id, ins.name)
	}
	if err := c.resume(); err != nil {
		ins.log.WithError(err).WithField("collector", id).Error("cannot resume collector")
		return err
	}
	return nil
}
