// Package gelfin implements the gelf input: GELF messages over UDP,
// chunked and compressed payloads included, turned into structured
// records on the instance's default buffer.
package gelfin

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"gopkg.in/Graylog2/go-gelf.v2/gelf"

	"sluice/internal/input"
	"sluice/internal/record"
)

const (
	defaultListen     = "0.0.0.0"
	defaultPort       = 12201
	maxQueuedMessages = 1000
)

type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (*Plugin) Name() string { return "gelf" }

func (*Plugin) Capabilities() []input.Capability {
	return []input.Capability{input.CapNetwork}
}

type state struct {
	ins    *input.Instance
	reader *gelf.Reader
	notify func()

	mu    sync.Mutex
	queue []*gelf.Message

	closed chan struct{}
	wg     sync.WaitGroup
}

func (*Plugin) Init(ins *input.Instance) error {
	listen := ins.Host.Listen
	if listen == "" {
		listen = defaultListen
	}
	port := ins.Host.Port
	if port == 0 {
		port = defaultPort
	}

	addr := net.JoinHostPort(listen, strconv.Itoa(port))
	reader, err := gelf.NewReader(addr)
	if err != nil {
		return fmt.Errorf("gelf input: listen %s: %w", addr, err)
	}

	st := &state{
		ins:    ins,
		reader: reader,
		closed: make(chan struct{}),
	}
	fd, notify, err := ins.Pipe()
	if err != nil {
		return err
	}
	st.notify = notify
	if _, err := ins.SetCollectorEvent(st.drainQueue, fd); err != nil {
		return err
	}

	ins.SetContext(st)
	st.wg.Add(1)
	go st.readLoop()

	ins.Log().WithField("addr", reader.Addr()).Info("gelf input listening")
	return nil
}

// Addr reports the bound listen address of a gelf input instance.
func Addr(ins *input.Instance) (string, bool) {
	st, ok := ins.Context().(*state)
	if !ok || st.reader == nil {
		return "", false
	}
	return st.reader.Addr(), true
}

func (st *state) readLoop() {
	defer st.wg.Done()
	for {
		msg, err := st.reader.ReadMessage()
		select {
		case <-st.closed:
			return
		default:
		}
		if err != nil {
			st.ins.Log().WithError(err).Debug("gelf read failed")
			continue
		}

		st.mu.Lock()
		if len(st.queue) >= maxQueuedMessages {
			st.mu.Unlock()
			st.ins.Log().Warn("gelf queue full, dropping message")
			continue
		}
		st.queue = append(st.queue, msg)
		st.mu.Unlock()
		st.notify()
	}
}

func (st *state) drainQueue(ins *input.Instance) error {
	st.mu.Lock()
	msgs := st.queue
	st.queue = nil
	st.mu.Unlock()

	for _, msg := range msgs {
		rec := record.Record{
			"version":       msg.Version,
			"host":          msg.Host,
			"short_message": msg.Short,
			"level":         msg.Level,
		}
		if msg.Full != "" {
			rec["full_message"] = msg.Full
		}
		if msg.Facility != "" {
			rec["facility"] = msg.Facility
		}
		for k, v := range msg.Extra {
			rec[k] = v
		}

		ts := time.Now()
		if msg.TimeUnix != 0 {
			sec := int64(msg.TimeUnix)
			nsec := int64((msg.TimeUnix - float64(sec)) * float64(time.Second))
			ts = time.Unix(sec, nsec)
		}

		data, err := record.Encode(ts, rec)
		if err != nil {
			ins.Log().WithError(err).Error("could not encode gelf record")
			continue
		}
		ins.Append(data, 1)
	}
	return nil
}

// Exit stops the reader. The gelf reader has no close, so a loopback
// datagram unblocks its pending read.
func (*Plugin) Exit(ctx any) error {
	st, ok := ctx.(*state)
	if !ok {
		return nil
	}
	st.ins.Log().Info("stopping gelf input")
	close(st.closed)

	if conn, err := net.Dial("udp", st.reader.Addr()); err == nil {
		conn.Write([]byte{0})
		conn.Close()
	}

	done := make(chan struct{})
	go func() {
		st.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		st.ins.Log().Warn("gelf reader did not stop, detaching")
	}
	return nil
}
