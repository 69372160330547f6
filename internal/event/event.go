// Package event implements the reactor the input core runs on. The loop
// deals in synthetic descriptors of its own minting: ticker-backed timer
// descriptors and pipe descriptors that plugin goroutines ring from the
// outside. A single consumer drains readiness through Next.
package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrUnknownFD = errors.New("event: unknown descriptor")

type kind int

const (
	kindTimer kind = iota
	kindPipe
)

type source struct {
	kind    kind
	active  bool
	pending bool
	stop    chan struct{}
}

// Loop multiplexes timer expirations and pipe rings into a single
// readiness queue. Descriptors are never reused.
type Loop struct {
	mu      sync.Mutex
	nextFD  int
	sources map[int]*source
	queue   []int
	queued  map[int]bool
	wake    chan struct{}
}

func NewLoop() *Loop {
	return &Loop{
		nextFD:  1,
		sources: make(map[int]*source),
		queued:  make(map[int]bool),
		wake:    make(chan struct{}, 1),
	}
}

// post queues fd for delivery. Caller holds l.mu.
func (l *Loop) post(fd int) {
	if l.queued[fd] {
		return
	}
	l.queued[fd] = true
	l.queue = append(l.queue, fd)
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// RegisterTimer arms a repeating timer and returns its descriptor. The
// timer starts active; expirations coalesce until ConsumeTimer is called.
func (l *Loop) RegisterTimer(d time.Duration) (int, error) {
	if d <= 0 {
		return 0, fmt.Errorf("event: invalid timer interval %v", d)
	}
	l.mu.Lock()
	fd := l.nextFD
	l.nextFD++
	src := &source{kind: kindTimer, active: true, stop: make(chan struct{})}
	l.sources[fd] = src
	l.mu.Unlock()

	go l.runTimer(fd, d, src.stop)
	return fd, nil
}

func (l *Loop) runTimer(fd int, d time.Duration, stop chan struct{}) {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			l.mu.Lock()
			if src, ok := l.sources[fd]; ok && src.active && !src.pending {
				src.pending = true
				l.post(fd)
			}
			l.mu.Unlock()
		}
	}
}

// ConsumeTimer acknowledges a delivered expiration so the next tick can
// post again. Calling it for a non-timer descriptor is a no-op.
func (l *Loop) ConsumeTimer(fd int) {
	l.mu.Lock()
	if src, ok := l.sources[fd]; ok && src.kind == kindTimer {
		src.pending = false
	}
	l.mu.Unlock()
}

// Pipe mints a descriptor that outside goroutines ring through the
// returned notify function. The descriptor starts idle; RegisterFD arms
// it. Rings while idle are held and delivered once on arming.
func (l *Loop) Pipe() (int, func(), error) {
	l.mu.Lock()
	fd := l.nextFD
	l.nextFD++
	l.sources[fd] = &source{kind: kindPipe}
	l.mu.Unlock()

	notify := func() {
		l.mu.Lock()
		if src, ok := l.sources[fd]; ok && !src.pending {
			src.pending = true
			if src.active {
				l.post(fd)
			}
		}
		l.mu.Unlock()
	}
	return fd, notify, nil
}

// RegisterFD arms a descriptor for delivery.
func (l *Loop) RegisterFD(fd int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	src, ok := l.sources[fd]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownFD, fd)
	}
	src.active = true
	if src.pending {
		l.post(fd)
	}
	return nil
}

// IdleFD keeps a descriptor registered but mutes delivery.
func (l *Loop) IdleFD(fd int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	src, ok := l.sources[fd]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownFD, fd)
	}
	src.active = false
	return nil
}

// Deregister drops a descriptor. Timer descriptors stop ticking; queued
// readiness for the descriptor is discarded.
func (l *Loop) Deregister(fd int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	src, ok := l.sources[fd]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownFD, fd)
	}
	if src.kind == kindTimer {
		close(src.stop)
	}
	delete(l.sources, fd)
	return nil
}

// Next blocks until a descriptor becomes ready or ctx is done. Readiness
// for idle or deregistered descriptors is dropped, not delivered.
func (l *Loop) Next(ctx context.Context) (int, error) {
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}

		l.mu.Lock()
		for len(l.queue) > 0 {
			fd := l.queue[0]
			l.queue = l.queue[1:]
			delete(l.queued, fd)
			src, ok := l.sources[fd]
			if !ok {
				continue
			}
			if !src.active {
				// Held while idle; RegisterFD reposts it.
				continue
			}
			if src.kind == kindPipe {
				src.pending = false
			}
			l.mu.Unlock()
			return fd, nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-l.wake:
		}
	}
}
