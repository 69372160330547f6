// Package tcpin implements the tcp input: newline delimited JSON over
// TCP, routed into per-tag buffers. A line may carry a "tag" field to
// pick its route; everything else lands under the instance tag.
package tcpin

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"sluice/internal/input"
	"sluice/internal/record"
	"sluice/internal/util"
)

const (
	defaultListen     = "0.0.0.0"
	defaultPort       = 5170
	defaultBufferSize = 64 << 10 // max line length
	defaultMaxConns   = 50
	maxQueuedMessages = 1000
)

type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (*Plugin) Name() string { return "tcp" }

func (*Plugin) Capabilities() []input.Capability {
	return []input.Capability{input.CapNetwork, input.CapDynamicTag}
}

type message struct {
	tag  string
	time time.Time
	rec  record.Record
}

type state struct {
	ins      *input.Instance
	listener net.Listener
	bufSize  int
	maxConns int

	serverNotify func()
	eventNotify  func()

	mu      sync.Mutex
	pending []net.Conn
	queue   []message

	activeConns sync.Map
	connMu      sync.Mutex
	connCount   int

	closed chan struct{}
	wg     sync.WaitGroup
}

func (*Plugin) Init(ins *input.Instance) error {
	st := &state{
		ins:      ins,
		bufSize:  defaultBufferSize,
		maxConns: defaultMaxConns,
		closed:   make(chan struct{}),
	}

	listen := ins.Host.Listen
	if listen == "" {
		listen = defaultListen
	}
	port := ins.Host.Port
	if port == 0 {
		port = defaultPort
	}

	if v, ok := ins.GetProperty("buffer_size"); ok {
		n, err := util.ParseSize(v)
		if err != nil {
			return fmt.Errorf("tcp input: invalid buffer_size %q: %v", v, err)
		}
		st.bufSize = int(n)
	}
	if v, ok := ins.GetProperty("max_connections"); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("tcp input: invalid max_connections %q", v)
		}
		st.maxConns = n
	}

	addr := net.JoinHostPort(listen, strconv.Itoa(port))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("tcp input: listen %s: %w", addr, err)
	}
	st.listener = l

	serverFD, serverNotify, err := ins.Pipe()
	if err != nil {
		l.Close()
		return err
	}
	st.serverNotify = serverNotify
	eventFD, eventNotify, err := ins.Pipe()
	if err != nil {
		l.Close()
		return err
	}
	st.eventNotify = eventNotify

	if _, err := ins.SetCollectorServer(st.acceptReady, serverFD); err != nil {
		l.Close()
		return err
	}
	if _, err := ins.SetCollectorEvent(st.drainQueue, eventFD); err != nil {
		l.Close()
		return err
	}

	ins.SetContext(st)
	st.wg.Add(1)
	go st.acceptLoop()

	ins.Log().WithFields(logrus.Fields{
		"addr":            l.Addr().String(),
		"buffer_size":     st.bufSize,
		"max_connections": st.maxConns,
	}).Info("tcp input listening")
	return nil
}

// Addr reports the bound listen address of a tcp input instance.
func Addr(ins *input.Instance) (net.Addr, bool) {
	st, ok := ins.Context().(*state)
	if !ok || st.listener == nil {
		return nil, false
	}
	return st.listener.Addr(), true
}

// acceptLoop hands accepted connections to the server collector; the
// readers only start once the collector dispatches.
func (st *state) acceptLoop() {
	defer st.wg.Done()
	for {
		conn, err := st.listener.Accept()
		if err != nil {
			select {
			case <-st.closed:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			st.ins.Log().WithError(err).Error("could not accept tcp connection")
			continue
		}
		st.mu.Lock()
		st.pending = append(st.pending, conn)
		st.mu.Unlock()
		st.serverNotify()
	}
}

func (st *state) acceptReady(ins *input.Instance) error {
	st.mu.Lock()
	conns := st.pending
	st.pending = nil
	st.mu.Unlock()

	for _, conn := range conns {
		if !st.addConn() {
			ins.Log().WithFields(logrus.Fields{
				"remote_addr":     conn.RemoteAddr().String(),
				"max_connections": st.maxConns,
			}).Warn("connection limit reached, rejecting")
			conn.Close()
			continue
		}
		st.activeConns.Store(conn, struct{}{})
		st.wg.Add(1)
		go st.readConn(conn)
	}
	return nil
}

func (st *state) addConn() bool {
	st.connMu.Lock()
	defer st.connMu.Unlock()
	if st.connCount >= st.maxConns {
		return false
	}
	st.connCount++
	return true
}

func (st *state) dropConn(conn net.Conn) {
	conn.Close()
	st.activeConns.Delete(conn)
	st.connMu.Lock()
	if st.connCount > 0 {
		st.connCount--
	}
	st.connMu.Unlock()
}

func (st *state) readConn(conn net.Conn) {
	defer st.wg.Done()
	defer st.dropConn(conn)

	remote := conn.RemoteAddr().String()
	st.ins.Log().WithField("remote_addr", remote).Debug("tcp connection established")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, st.bufSize), st.bufSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		st.enqueue(line, remote)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		st.ins.Log().WithField("remote_addr", remote).WithError(err).Debug("tcp read ended")
	}
}

// enqueue parses one line and queues it for the event collector. Lines
// that are not JSON objects are wrapped under a "log" key.
func (st *state) enqueue(line, remote string) {
	var rec record.Record
	if err := json.Unmarshal([]byte(line), &rec); err != nil || rec == nil {
		rec = record.Record{"log": line}
	}
	tag := ""
	if v, ok := rec["tag"].(string); ok && v != "" {
		tag = v
		delete(rec, "tag")
	}

	st.mu.Lock()
	if len(st.queue) >= maxQueuedMessages {
		st.mu.Unlock()
		st.ins.Log().WithField("remote_addr", remote).Warn("tcp queue full, dropping message")
		return
	}
	st.queue = append(st.queue, message{tag: tag, time: time.Now(), rec: rec})
	st.mu.Unlock()
	st.eventNotify()
}

func (st *state) drainQueue(ins *input.Instance) error {
	st.mu.Lock()
	msgs := st.queue
	st.queue = nil
	st.mu.Unlock()

	for _, m := range msgs {
		tag := m.tag
		if tag == "" {
			tag = ins.Tag()
		}
		if tag == "" {
			tag = ins.Name()
		}
		if err := ins.DyntagAppend(tag, m.time, m.rec); err != nil {
			ins.Log().WithError(err).WithField("tag", tag).Error("could not append record")
		}
	}
	return nil
}

func (*Plugin) Exit(ctx any) error {
	st, ok := ctx.(*state)
	if !ok {
		return nil
	}
	st.ins.Log().Info("stopping tcp input")
	close(st.closed)

	if err := st.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		st.ins.Log().WithError(err).Error("could not close tcp listener")
	}
	st.activeConns.Range(func(key, _ any) bool {
		if conn, ok := key.(net.Conn); ok {
			conn.Close()
		}
		return true
	})
	st.mu.Lock()
	pending := st.pending
	st.pending = nil
	st.mu.Unlock()
	for _, conn := range pending {
		conn.Close()
	}

	st.wg.Wait()
	return nil
}
