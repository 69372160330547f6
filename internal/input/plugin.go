// Package input implements the input side of the pipeline: plugin
// instances, their collectors, per-tag dynamic buffers and the registry
// that drives them. Collectors surface data through an event loop owned
// by the caller; the registry itself never spawns goroutines for
// non-isolated plugins.
package input

import "time"

// Capability declares an optional trait of an input plugin.
type Capability string

const (
	// CapNetwork plugins take a network address in the instance spec
	// ("tcp://0.0.0.0:5170") and expose it through Instance.Host.
	CapNetwork Capability = "network"

	// CapIsolated plugins have blocking collect callbacks; the registry
	// runs them through the task runner instead of inline.
	CapIsolated Capability = "isolated"

	// CapDynamicTag plugins route records into per-tag buffers and get
	// no default tag assigned.
	CapDynamicTag Capability = "dynamic_tag"
)

// HasCapability reports whether caps contains c.
func HasCapability(caps []Capability, c Capability) bool {
	for _, have := range caps {
		if have == c {
			return true
		}
	}
	return false
}

// Plugin is the contract an input plugin implements. Init runs once per
// instance and typically registers collectors; Exit receives the context
// the plugin stored with Instance.SetContext.
type Plugin interface {
	Name() string
	Capabilities() []Capability
	Init(ins *Instance) error
	Exit(ctx any) error
}

// PreRunner is implemented by plugins that need a hook after every
// instance is initialized but before collectors start.
type PreRunner interface {
	PreRun(ins *Instance, ctx any) error
}

// Pauser is implemented by plugins that want to stop producing while
// their instance is paused.
type Pauser interface {
	Pause(ctx any)
}

// EventLoop is the reactor surface the input core drives collectors
// with. Descriptors are opaque integers minted by the loop.
type EventLoop interface {
	RegisterTimer(d time.Duration) (int, error)
	ConsumeTimer(fd int)
	Pipe() (int, func(), error)
	RegisterFD(fd int) error
	IdleFD(fd int) error
	Deregister(fd int) error
}

// Task is a parked collect callback for an isolated plugin. Resume
// unparks it exactly once; Done closes when the callback has finished
// or the task was discarded.
type Task interface {
	ID() string
	Resume()
	Done() <-chan struct{}
}

// TaskRunner launches collect callbacks for isolated plugins. Discard
// drops an owner's never-resumed tasks and reports how many it dropped.
type TaskRunner interface {
	Spawn(owner string, fn func()) Task
	Discard(owner string) int
}
