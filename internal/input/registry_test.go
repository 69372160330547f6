package input

import (
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sluice/internal/env"
)

type fakeLoop struct {
	nextFD       int
	timers       map[int]time.Duration
	active       map[int]bool
	consumed     []int
	registered   []int
	idled        []int
	deregistered []int
	failTimer    bool
	failRegister bool
}

func newFakeLoop() *fakeLoop {
	return &fakeLoop{
		nextFD: 100,
		timers: make(map[int]time.Duration),
		active: make(map[int]bool),
	}
}

func (l *fakeLoop) RegisterTimer(d time.Duration) (int, error) {
	if l.failTimer {
		return 0, errors.New("timer registration refused")
	}
	fd := l.nextFD
	l.nextFD++
	l.timers[fd] = d
	l.active[fd] = true
	return fd, nil
}

func (l *fakeLoop) ConsumeTimer(fd int) {
	l.consumed = append(l.consumed, fd)
}

func (l *fakeLoop) Pipe() (int, func(), error) {
	fd := l.nextFD
	l.nextFD++
	l.active[fd] = false
	return fd, func() {}, nil
}

func (l *fakeLoop) RegisterFD(fd int) error {
	if l.failRegister {
		return errors.New("descriptor registration refused")
	}
	l.active[fd] = true
	l.registered = append(l.registered, fd)
	return nil
}

func (l *fakeLoop) IdleFD(fd int) error {
	l.active[fd] = false
	l.idled = append(l.idled, fd)
	return nil
}

func (l *fakeLoop) Deregister(fd int) error {
	delete(l.timers, fd)
	delete(l.active, fd)
	l.deregistered = append(l.deregistered, fd)
	return nil
}

type fakePlugin struct {
	name    string
	caps    []Capability
	initErr error
	initFn  func(*Instance) error
	inited  int
	exited  []any
	exitErr error
}

func (p *fakePlugin) Name() string { return p.name }

func (p *fakePlugin) Capabilities() []Capability { return p.caps }

func (p *fakePlugin) Init(ins *Instance) error {
	p.inited++
	if p.initFn != nil {
		return p.initFn(ins)
	}
	if p.initErr != nil {
		return p.initErr
	}
	ins.SetContext("ctx-" + ins.Name())
	return nil
}

func (p *fakePlugin) Exit(ctx any) error {
	p.exited = append(p.exited, ctx)
	return p.exitErr
}

type pausablePlugin struct {
	fakePlugin
	pauses int
}

func (p *pausablePlugin) Pause(ctx any) { p.pauses++ }

type preRunPlugin struct {
	fakePlugin
	preRuns   []any
	preRunErr error
}

func (p *preRunPlugin) PreRun(ins *Instance, ctx any) error {
	p.preRuns = append(p.preRuns, ctx)
	return p.preRunErr
}

type immediateTask struct {
	id      string
	fn      func()
	done    chan struct{}
	resumed bool
}

func (t *immediateTask) ID() string { return t.id }

func (t *immediateTask) Done() <-chan struct{} { return t.done }

func (t *immediateTask) Resume() {
	if t.resumed {
		return
	}
	t.resumed = true
	t.fn()
	close(t.done)
}

type fakeRunner struct {
	spawned  []string
	discards []string
}

func (r *fakeRunner) Spawn(owner string, fn func()) Task {
	r.spawned = append(r.spawned, owner)
	return &immediateTask{
		id:   fmt.Sprintf("task-%d", len(r.spawned)),
		fn:   fn,
		done: make(chan struct{}),
	}
}

func (r *fakeRunner) Discard(owner string) int {
	r.discards = append(r.discards, owner)
	return 0
}

func quietLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func newTestRegistry(loop EventLoop, tasks TaskRunner) *Registry {
	return New(loop, env.NewTranslator(), tasks, quietLogger())
}

func TestNewInstanceMatchesNamePrefix(t *testing.T) {
	r := newTestRegistry(newFakeLoop(), nil)
	r.Register(&fakePlugin{name: "dummy"})

	tests := []struct {
		spec    string
		wantErr error
	}{
		{spec: "dummy"},
		{spec: "DUMMY"},
		{spec: "dummy_extra"},
		{spec: "dum", wantErr: ErrNoMatchingPlugin},
		{spec: "other", wantErr: ErrNoMatchingPlugin},
	}
	for _, tc := range tests {
		t.Run(tc.spec, func(t *testing.T) {
			ins, err := r.NewInstance(tc.spec, nil)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "dummy", ins.p.Name())
		})
	}
}

func TestNewInstanceAssignsPerPluginIDs(t *testing.T) {
	r := newTestRegistry(newFakeLoop(), nil)
	r.Register(&fakePlugin{name: "dummy"})
	r.Register(&fakePlugin{name: "other"})

	a, err := r.NewInstance("dummy", nil)
	require.NoError(t, err)
	b, err := r.NewInstance("dummy", nil)
	require.NoError(t, err)
	c, err := r.NewInstance("other", nil)
	require.NoError(t, err)

	assert.Equal(t, "dummy.0", a.Name())
	assert.Equal(t, "dummy.1", b.Name())
	assert.Equal(t, "other.0", c.Name())
	assert.Equal(t, 0, a.ID())
	assert.Equal(t, 1, b.ID())
}

func TestNewInstanceParsesNetworkSpec(t *testing.T) {
	r := newTestRegistry(newFakeLoop(), nil)
	r.Register(&fakePlugin{name: "tcp", caps: []Capability{CapNetwork}})

	ins, err := r.NewInstance("tcp://127.0.0.1:5170/stream", nil)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", ins.Host.Name)
	assert.Equal(t, 5170, ins.Host.Port)
	assert.Equal(t, "/stream", ins.Host.URI)
	assert.False(t, ins.Host.IPv6)
}

func TestNewInstanceBadNetworkSpecAbortsCreation(t *testing.T) {
	r := newTestRegistry(newFakeLoop(), nil)
	r.Register(&fakePlugin{name: "tcp", caps: []Capability{CapNetwork}})

	_, err := r.NewInstance("tcp://host:notaport", nil)
	assert.ErrorIs(t, err, ErrNetworkConfig)
	assert.Empty(t, r.Instances())

	// The failed attempt must not burn an id.
	ins, err := r.NewInstance("tcp://host:5170", nil)
	require.NoError(t, err)
	assert.Equal(t, "tcp.0", ins.Name())
}

func TestInitializeAllAssignsDefaultTag(t *testing.T) {
	r := newTestRegistry(newFakeLoop(), nil)
	r.Register(&fakePlugin{name: "dummy"})
	r.Register(&fakePlugin{name: "dyn", caps: []Capability{CapDynamicTag}})

	plain, err := r.NewInstance("dummy", nil)
	require.NoError(t, err)
	tagged, err := r.NewInstance("dummy", nil)
	require.NoError(t, err)
	require.NoError(t, tagged.SetProperty("tag", "custom"))
	dyn, err := r.NewInstance("dyn", nil)
	require.NoError(t, err)

	r.InitializeAll()

	assert.Equal(t, "dummy.0", plain.Tag())
	assert.Equal(t, "custom", tagged.Tag())
	assert.Equal(t, "", dyn.Tag(), "dynamic tag plugins get no default tag")
}

func TestInitializeAllIsolatesFailures(t *testing.T) {
	loop := newFakeLoop()
	r := newTestRegistry(loop, nil)
	bad := &fakePlugin{name: "bad", initFn: func(ins *Instance) error {
		// Collectors registered before the failure must be cleaned up.
		_, err := ins.SetCollectorTime(func(*Instance) error { return nil }, 1, 0)
		if err != nil {
			return err
		}
		return errors.New("backend unreachable")
	}}
	good := &fakePlugin{name: "good"}
	r.Register(bad)
	r.Register(good)

	_, err := r.NewInstance("bad", nil)
	require.NoError(t, err)
	survivor, err := r.NewInstance("good", nil)
	require.NoError(t, err)

	r.InitializeAll()

	require.Len(t, r.Instances(), 1)
	assert.Same(t, survivor, r.Instances()[0])
	assert.Empty(t, r.collectors, "failed instance's collectors must be unlinked")
	assert.True(t, r.AnyEnabled())
}

func TestPreRunAllPassesContext(t *testing.T) {
	r := newTestRegistry(newFakeLoop(), nil)
	p := &preRunPlugin{fakePlugin: fakePlugin{name: "dummy"}}
	r.Register(p)

	_, err := r.NewInstance("dummy", nil)
	require.NoError(t, err)
	r.InitializeAll()
	r.PreRunAll()

	require.Len(t, p.preRuns, 1)
	assert.Equal(t, "ctx-dummy.0", p.preRuns[0])
}

func TestExitAllTearsDownInstances(t *testing.T) {
	loop := newFakeLoop()
	runner := &fakeRunner{}
	r := newTestRegistry(loop, runner)

	withCollector := &fakePlugin{name: "dummy", initFn: func(ins *Instance) error {
		ins.SetContext("live")
		_, err := ins.SetCollectorTime(func(*Instance) error { return nil }, 1, 0)
		return err
	}}
	silent := &fakePlugin{name: "silent", initFn: func(ins *Instance) error {
		return nil // initializes without setting a context
	}}
	r.Register(withCollector)
	r.Register(silent)

	_, err := r.NewInstance("dummy", nil)
	require.NoError(t, err)
	_, err = r.NewInstance("silent", nil)
	require.NoError(t, err)

	r.InitializeAll()
	r.StartAll()
	r.ExitAll()

	assert.Empty(t, r.Instances())
	assert.False(t, r.AnyEnabled())
	assert.Equal(t, []any{"live"}, withCollector.exited)
	assert.Empty(t, silent.exited, "no exit callback without a context")
	assert.NotEmpty(t, loop.deregistered, "armed timer must be released")
	assert.Equal(t, []string{"dummy.0", "silent.0"}, runner.discards)
}

func TestPauseAllCountsOnlyNewlyPaused(t *testing.T) {
	r := newTestRegistry(newFakeLoop(), nil)
	p := &pausablePlugin{fakePlugin: fakePlugin{name: "dummy"}}
	r.Register(p)

	first, err := r.NewInstance("dummy", nil)
	require.NoError(t, err)
	second, err := r.NewInstance("dummy", nil)
	require.NoError(t, err)

	r.InitializeAll()
	first.Pause()
	require.Equal(t, 1, p.pauses)

	assert.Equal(t, 1, r.PauseAll(), "only the second instance newly pauses")
	assert.True(t, first.Paused())
	assert.True(t, second.Paused())
	assert.Equal(t, 2, p.pauses)

	assert.Equal(t, 0, r.PauseAll(), "second round finds everyone paused")
}

func TestDispatchTimerCollector(t *testing.T) {
	loop := newFakeLoop()
	r := newTestRegistry(loop, nil)

	collected := 0
	p := &fakePlugin{name: "dummy", initFn: func(ins *Instance) error {
		ins.SetContext("ctx")
		_, err := ins.SetCollectorTime(func(*Instance) error {
			collected++
			return nil
		}, 1, 0)
		return err
	}}
	r.Register(p)

	ins, err := r.NewInstance("dummy", nil)
	require.NoError(t, err)
	r.InitializeAll()
	r.StartAll()

	fd := ins.Collectors()[0].TimerFD()
	require.NoError(t, r.Dispatch(fd))
	assert.Equal(t, 1, collected)
	assert.Equal(t, []int{fd}, loop.consumed, "timer expirations must be acknowledged")
}

func TestDispatchEventCollector(t *testing.T) {
	loop := newFakeLoop()
	r := newTestRegistry(loop, nil)

	collected := 0
	var pipeFD int
	p := &fakePlugin{name: "dummy", initFn: func(ins *Instance) error {
		ins.SetContext("ctx")
		fd, _, err := ins.Pipe()
		if err != nil {
			return err
		}
		pipeFD = fd
		_, err = ins.SetCollectorEvent(func(*Instance) error {
			collected++
			return nil
		}, fd)
		return err
	}}
	r.Register(p)

	_, err := r.NewInstance("dummy", nil)
	require.NoError(t, err)
	r.InitializeAll()
	r.StartAll()

	require.NoError(t, r.Dispatch(pipeFD))
	assert.Equal(t, 1, collected)
	assert.Empty(t, loop.consumed)
}

func TestDispatchUnknownDescriptor(t *testing.T) {
	r := newTestRegistry(newFakeLoop(), nil)
	assert.ErrorIs(t, r.Dispatch(12345), ErrCollectorNotFound)
}

func TestDispatchIsolatedInstanceGoesThroughRunner(t *testing.T) {
	loop := newFakeLoop()
	runner := &fakeRunner{}
	r := newTestRegistry(loop, runner)

	collected := 0
	p := &fakePlugin{
		name: "blocking",
		caps: []Capability{CapIsolated},
		initFn: func(ins *Instance) error {
			ins.SetContext("ctx")
			_, err := ins.SetCollectorTime(func(*Instance) error {
				collected++
				return nil
			}, 1, 0)
			return err
		},
	}
	r.Register(p)

	ins, err := r.NewInstance("blocking", nil)
	require.NoError(t, err)
	require.True(t, ins.Threaded())

	r.InitializeAll()
	r.StartAll()

	fd := ins.Collectors()[0].TimerFD()
	require.NoError(t, r.Dispatch(fd))

	assert.Equal(t, []string{"blocking.0"}, runner.spawned)
	assert.Equal(t, 1, collected, "immediate runner resumes synchronously")
	assert.Len(t, ins.Tasks(), 1)
}
