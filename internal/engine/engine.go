// Package engine drives the input side of the daemon: it multiplexes
// collector readiness into dispatches and periodically flushes buffered
// records to a sink.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"sluice/internal/event"
	"sluice/internal/input"
	"sluice/internal/task"
)

// Sink receives one flushed region of serialized records, buffered
// under tag. The engine does not retry; a rejected region is logged and
// dropped.
type Sink func(ins *input.Instance, tag string, data []byte, records int) error

type Engine struct {
	loop       *event.Loop
	registry   *input.Registry
	sink       Sink
	flushEvery time.Duration
	flushFD    int
	log        *logrus.Entry
}

func New(flushEvery time.Duration, sink Sink) *Engine {
	log := logrus.WithField("component", "engine")
	loop := event.NewLoop()
	e := &Engine{
		loop:       loop,
		registry:   input.New(loop, nil, task.NewRunner(), log),
		sink:       sink,
		flushEvery: flushEvery,
		flushFD:    -1,
		log:        log,
	}
	if e.sink == nil {
		e.sink = e.discard
	}
	if e.flushEvery <= 0 {
		e.flushEvery = 5 * time.Second
	}
	return e
}

func (e *Engine) Registry() *input.Registry { return e.registry }

func (e *Engine) discard(ins *input.Instance, tag string, data []byte, records int) error {
	e.log.WithFields(logrus.Fields{
		"instance": ins.Name(),
		"tag":      tag,
		"records":  records,
		"bytes":    len(data),
	}).Debug("discarding flushed records")
	return nil
}

// Run initializes and starts every input, then blocks dispatching
// readiness until ctx is cancelled. Shutdown pauses the inputs, drains
// what they buffered and runs their exit callbacks.
func (e *Engine) Run(ctx context.Context) error {
	e.registry.InitializeAll()
	e.registry.PreRunAll()
	if !e.registry.AnyEnabled() {
		return errors.New("no input instances enabled")
	}
	e.registry.StartAll()

	fd, err := e.loop.RegisterTimer(e.flushEvery)
	if err != nil {
		return err
	}
	e.flushFD = fd
	e.log.WithField("interval", e.flushEvery.String()).Info("engine started")

	for {
		fd, err := e.loop.Next(ctx)
		if err != nil {
			e.shutdown()
			return nil
		}
		if fd == e.flushFD {
			e.loop.ConsumeTimer(fd)
			e.flushAll(true)
			continue
		}
		if err := e.registry.Dispatch(fd); err != nil {
			e.log.WithField("fd", fd).WithError(err).Debug("dropped event")
		}
	}
}

func (e *Engine) flushAll(resume bool) {
	for _, ins := range e.registry.Instances() {
		e.flushInstance(ins, resume)
	}
}

// flushInstance drains the default buffer and every dynamic tag buffer.
// Dynamic tag buffers are destroyed after handoff; appends arriving in
// between start a fresh one.
func (e *Engine) flushInstance(ins *input.Instance, resume bool) {
	data, records := ins.FlushDefault()
	if len(data) > 0 {
		tag := ins.Tag()
		if tag == "" {
			tag = ins.Name()
		}
		e.deliver(ins, tag, data, records)
	}

	for _, dt := range ins.Dyntags() {
		if dt.Len() == 0 {
			ins.DestroyDyntag(dt)
			continue
		}
		tag := dt.Tag()
		data, records := dt.Flush()
		e.deliver(ins, tag, data, records)
		ins.DestroyDyntag(dt)
	}

	if !resume {
		return
	}
	if limit := ins.MemBufLimit(); limit > 0 && ins.Paused() && ins.BufferTotal() <= limit {
		e.log.WithField("instance", ins.Name()).Info("buffers drained, resuming input")
		ins.Resume()
	}
}

func (e *Engine) deliver(ins *input.Instance, tag string, data []byte, records int) {
	if err := e.sink(ins, tag, data, records); err != nil {
		e.log.WithFields(logrus.Fields{
			"instance": ins.Name(),
			"tag":      tag,
		}).WithError(err).Error("sink rejected records")
	}
}

func (e *Engine) shutdown() {
	paused := e.registry.PauseAll()
	e.log.WithField("paused", paused).Info("draining inputs")
	e.flushAll(false)
	e.registry.ExitAll()
	e.log.Info("engine stopped")
}
