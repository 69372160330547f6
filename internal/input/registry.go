package input

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"sluice/internal/env"
	"sluice/internal/metrics"
)

// Registry owns the registered plugins, their instances and the global
// collector list. All lifecycle methods belong to the dispatch
// goroutine.
type Registry struct {
	log   *logrus.Entry
	loop  EventLoop
	env   *env.Translator
	tasks TaskRunner

	plugins    []Plugin
	instances  []*Instance
	collectors []*Collector
	nextID     map[string]int
}

// New builds a registry on top of loop. translator and log may be nil;
// a nil tasks runner makes isolated plugins collect inline.
func New(loop EventLoop, translator *env.Translator, tasks TaskRunner, log *logrus.Entry) *Registry {
	if translator == nil {
		translator = env.NewTranslator()
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Registry{
		log:    log,
		loop:   loop,
		env:    translator,
		tasks:  tasks,
		nextID: make(map[string]int),
	}
}

// Register adds a plugin descriptor. Names are matched in registration
// order when instances are created.
func (r *Registry) Register(p Plugin) {
	r.plugins = append(r.plugins, p)
}

// matchSpec reports whether a plugin name selects the instance spec:
// the declared name must be a case insensitive prefix of the spec.
func matchSpec(name, spec string) bool {
	if len(name) > len(spec) {
		return false
	}
	return strings.EqualFold(name, spec[:len(name)])
}

// NewInstance creates an instance of the first plugin matching spec.
// Network capable plugins parse the remainder of spec as their address;
// a parse failure aborts the creation. Instance ids count up per plugin
// and are never reused.
func (r *Registry) NewInstance(spec string, data any) (*Instance, error) {
	var p Plugin
	for _, cand := range r.plugins {
		if matchSpec(cand.Name(), spec) {
			p = cand
			break
		}
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoMatchingPlugin, spec)
	}

	caps := p.Capabilities()
	var host Host
	if HasCapability(caps, CapNetwork) {
		if err := parseNetworkSpec(p.Name(), spec, &host); err != nil {
			return nil, err
		}
	}

	id := r.nextID[p.Name()]
	r.nextID[p.Name()] = id + 1

	ins := &Instance{
		p:        p,
		id:       id,
		name:     fmt.Sprintf("%s.%d", p.Name(), id),
		registry: r,
		data:     data,
		threaded: HasCapability(caps, CapIsolated),
		Host:     host,
	}
	ins.log = r.log.WithField("instance", ins.name)
	ins.metrics = metrics.NewSet(ins.name)
	ins.metrics.Register(metrics.CounterRecords)
	ins.metrics.Register(metrics.CounterBytes)

	r.instances = append(r.instances, ins)
	return ins, nil
}

// Instances returns the live instances in creation order.
func (r *Registry) Instances() []*Instance {
	out := make([]*Instance, len(r.instances))
	copy(out, r.instances)
	return out
}

// unlink removes an instance and everything it registered.
func (r *Registry) unlink(ins *Instance) {
	for i, cur := range r.instances {
		if cur == ins {
			r.instances = append(r.instances[:i], r.instances[i+1:]...)
			break
		}
	}
	kept := r.collectors[:0]
	for _, c := range r.collectors {
		if c.ins != ins {
			kept = append(kept, c)
		}
	}
	r.collectors = kept
	ins.destroy()
}

// InitializeAll assigns default tags and runs every instance's Init.
// An instance whose Init fails is unlinked; the others proceed.
func (r *Registry) InitializeAll() {
	pending := make([]*Instance, len(r.instances))
	copy(pending, r.instances)
	for _, ins := range pending {
		if !HasCapability(ins.p.Capabilities(), CapDynamicTag) && ins.Tag() == "" {
			ins.setTag(ins.name)
		}
		if err := ins.p.Init(ins); err != nil {
			ins.log.WithError(err).Error("failed to initialize input")
			r.unlink(ins)
		}
	}
}

// PreRunAll runs the optional pre-run hook of every instance.
func (r *Registry) PreRunAll() {
	for _, ins := range r.instances {
		pr, ok := ins.p.(PreRunner)
		if !ok {
			continue
		}
		if err := pr.PreRun(ins, ins.context); err != nil {
			ins.log.WithError(err).Error("pre run failed")
		}
	}
}

// ExitAll tears every instance down. Instances that never set a context
// skip their exit callback but still release their resources.
func (r *Registry) ExitAll() {
	pending := make([]*Instance, len(r.instances))
	copy(pending, r.instances)
	for _, ins := range pending {
		if ins.context != nil {
			if err := ins.p.Exit(ins.context); err != nil {
				ins.log.WithError(err).Error("exit failed")
			}
		}
		r.unlink(ins)
	}
}

// PauseAll marks every instance paused and reports how many moved from
// running to paused. Collector registrations stay in place; the caller
// stops dispatching instead.
func (r *Registry) PauseAll() int {
	paused := 0
	for _, ins := range r.instances {
		ins.mu.Lock()
		was := ins.paused
		ins.paused = true
		ins.mu.Unlock()
		if was {
			continue
		}
		if p, ok := ins.p.(Pauser); ok && ins.context != nil {
			ins.log.Info("pausing")
			p.Pause(ins.context)
		}
		paused++
	}
	return paused
}

// AnyEnabled reports whether at least one instance survived creation
// and initialization.
func (r *Registry) AnyEnabled() bool {
	return len(r.instances) > 0
}

// StartAll arms every registered collector. Failures are logged by the
// collector and leave it stopped.
func (r *Registry) StartAll() {
	for _, c := range r.collectors {
		_ = c.Start()
	}
}

func (r *Registry) collectorByFD(fd int) *Collector {
	for _, c := range r.collectors {
		if c.kind == CollectTime {
			if c.fdTimer == fd {
				return c
			}
			continue
		}
		if c.fdEvent == fd {
			return c
		}
	}
	return nil
}

// Dispatch routes a ready descriptor to its collector. Timer
// descriptors are consumed before the callback runs. Isolated instances
// collect on a spawned task; everyone else collects inline. Callback
// errors are logged, not returned.
func (r *Registry) Dispatch(fd int) error {
	c := r.collectorByFD(fd)
	if c == nil {
		return fmt.Errorf("%w: descriptor %d", ErrCollectorNotFound, fd)
	}
	if c.kind == CollectTime {
		r.loop.ConsumeTimer(fd)
	}

	ins := c.ins
	cb := c.cb
	if ins.threaded && r.tasks != nil {
		t := r.tasks.Spawn(ins.name, func() {
			if err := cb(ins); err != nil {
				ins.log.WithError(err).Error("collect failed")
			}
		})
		ins.trackTask(t)
		t.Resume()
		return nil
	}

	if err := cb(ins); err != nil {
		ins.log.WithError(err).Error("collect failed")
	}
	return nil
}
