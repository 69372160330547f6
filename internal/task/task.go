// Package task runs collect callbacks for isolated plugins on their own
// goroutines so blocking work never stalls the dispatch loop. A spawned
// task parks until resumed; tasks that were never resumed can be
// discarded in bulk when their owner exits.
package task

import (
	"sync"

	"github.com/google/uuid"

	"sluice/internal/input"
)

// Runner keeps the ledger of parked and running tasks per owner.
type Runner struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

func NewRunner() *Runner {
	return &Runner{tasks: make(map[string]*Task)}
}

// Task is one parked callback. It satisfies input.Task.
type Task struct {
	id     string
	owner  string
	fn     func()
	runner *Runner

	park chan struct{}
	done chan struct{}

	resumed   bool
	discarded bool
}

func (t *Task) ID() string { return t.id }

// Done closes when the callback finished or the task was discarded.
func (t *Task) Done() <-chan struct{} { return t.done }

// Resume unparks the callback exactly once. Later calls are no-ops.
func (t *Task) Resume() {
	t.runner.mu.Lock()
	if t.resumed || t.discarded {
		t.runner.mu.Unlock()
		return
	}
	t.resumed = true
	t.runner.mu.Unlock()
	t.park <- struct{}{}
}

func (t *Task) run() {
	defer close(t.done)
	<-t.park
	t.runner.mu.Lock()
	discarded := t.discarded
	t.runner.mu.Unlock()
	if discarded {
		return
	}
	t.fn()
	t.runner.remove(t.id)
}

// Spawn parks fn under owner and returns its handle.
func (r *Runner) Spawn(owner string, fn func()) input.Task {
	t := &Task{
		id:     uuid.NewString(),
		owner:  owner,
		fn:     fn,
		runner: r,
		park:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	r.mu.Lock()
	r.tasks[t.id] = t
	r.mu.Unlock()
	go t.run()
	return t
}

// Discard drops the owner's never-resumed tasks and reports how many it
// dropped. Tasks already running finish on their own.
func (r *Runner) Discard(owner string) int {
	r.mu.Lock()
	var drop []*Task
	for id, t := range r.tasks {
		if t.owner == owner && !t.resumed {
			t.discarded = true
			delete(r.tasks, id)
			drop = append(drop, t)
		}
	}
	r.mu.Unlock()

	for _, t := range drop {
		close(t.park)
	}
	return len(drop)
}

// Pending counts the owner's tasks still on the ledger, parked or
// running.
func (r *Runner) Pending(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.tasks {
		if t.owner == owner {
			n++
		}
	}
	return n
}

func (r *Runner) remove(id string) {
	r.mu.Lock()
	delete(r.tasks, id)
	r.mu.Unlock()
}
