package channel

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"client_go/internal/clock"
	"client_go/internal/protocol"
)

// State is the connection lifecycle of the channel.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Conn is a framed bidirectional connection to the server.
type Conn interface {
	ReadFrame() (*protocol.Frame, error)
	WriteFrame(f *protocol.Frame) error
	Close() error
}

// Transport establishes connections. Injected so tests can script traffic.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// Hooks are the supervisor's outward notifications. All fields are
// optional.
type Hooks struct {
	// OnPush receives every server push frame in read order.
	OnPush func(event string, data json.RawMessage)
	// OnSnapshot receives the initialize result after every transition
	// into Connected. Raw so the engine owns decoding.
	OnSnapshot func(data json.RawMessage)
	// OnState is invoked on every lifecycle transition.
	OnState func(s State)
	// OnNotice surfaces a user-visible connectivity notice; raised at
	// most once per disconnect episode.
	OnNotice func(text string)
}

// Options tune the supervisor.
type Options struct {
	RequestTimeout    time.Duration // per-request ack deadline, clamped to 6-8s
	ReconnectDelay    time.Duration
	ReconnectDelayMax time.Duration
	Logger            *logrus.Logger
	Clock             clock.Clock
}

func (o *Options) normalize() {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 6 * time.Second
	}
	if o.RequestTimeout > 8*time.Second {
		o.RequestTimeout = 8 * time.Second
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 500 * time.Millisecond
	}
	if o.ReconnectDelayMax < o.ReconnectDelay {
		o.ReconnectDelayMax = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = logrus.New()
	}
	if o.Clock == nil {
		o.Clock = clock.NewSystem()
	}
}

// Supervisor owns the connection lifecycle, correlates requests with
// acknowledgements and enforces per-request timeouts. Every request gets
// exactly one terminal envelope: the server ack, or a synthesized
// timeout/offline failure.
type Supervisor struct {
	transport Transport
	opts      Options
	hooks     Hooks
	log       *logrus.Logger
	clk       clock.Clock

	state atomic.Int32
	seq   atomic.Uint64

	mu        sync.Mutex
	conn      Conn
	pending   map[uint64]chan *protocol.Envelope
	noticed   bool // connectivity notice already raised this episode
	connected bool
}

func NewSupervisor(transport Transport, hooks Hooks, opts Options) *Supervisor {
	opts.normalize()
	return &Supervisor{
		transport: transport,
		opts:      opts,
		hooks:     hooks,
		log:       opts.Logger,
		clk:       opts.Clock,
		pending:   make(map[uint64]chan *protocol.Envelope),
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

func (s *Supervisor) setState(next State) {
	if State(s.state.Swap(int32(next))) == next {
		return
	}
	s.log.WithField("state", next.String()).Debug("channel state change")
	if s.hooks.OnState != nil {
		s.hooks.OnState(next)
	}
}

// Run drives the connect/read/reconnect loop until ctx is cancelled.
// Blocks; callers usually run it in its own goroutine.
func (s *Supervisor) Run(ctx context.Context) {
	delay := s.opts.ReconnectDelay
	first := true
	for {
		if ctx.Err() != nil {
			s.setState(Disconnected)
			return
		}
		if first {
			s.setState(Connecting)
		} else {
			s.setState(Reconnecting)
		}

		conn, err := s.transport.Dial(ctx)
		if err != nil {
			s.log.WithError(err).Warn("channel dial failed")
			s.noticeOnce("Unable to reach the server. Retrying…")
			if !sleepCtx(ctx, delay) {
				s.setState(Disconnected)
				return
			}
			delay = nextDelay(delay, s.opts.ReconnectDelayMax)
			continue
		}
		first = false
		delay = s.opts.ReconnectDelay

		s.mu.Lock()
		s.conn = conn
		s.connected = true
		s.noticed = false
		s.mu.Unlock()
		s.setState(Connected)

		// The initialize ack arrives through the read loop, so the
		// request must not block it.
		go s.initialize(ctx)
		s.readLoop(conn)

		s.mu.Lock()
		s.conn = nil
		s.connected = false
		s.mu.Unlock()
		conn.Close()
		s.failPending("offline")
		s.noticeOnce("Connection lost. Attempting to reconnect…")

		if !sleepCtx(ctx, delay) {
			s.setState(Disconnected)
			return
		}
		delay = nextDelay(delay, s.opts.ReconnectDelayMax)
	}
}

// initialize issues the full-state fetch that follows every transition
// into Connected. Failure is non-fatal; the next reconnect retries.
func (s *Supervisor) initialize(ctx context.Context) {
	env := s.Request(ctx, protocol.ReqInitialize, struct{}{})
	if !env.OK {
		s.log.WithField("error", env.Error).Warn("initialize failed")
		return
	}
	if s.hooks.OnSnapshot != nil {
		var body struct {
			State json.RawMessage `json:"state"`
		}
		if err := env.Decode(&body); err != nil {
			s.log.WithError(err).Warn("initialize returned malformed state")
			return
		}
		s.hooks.OnSnapshot(body.State)
	}
}

func (s *Supervisor) readLoop(conn Conn) {
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			s.log.WithError(err).Debug("channel read ended")
			return
		}
		if frame.Ack != 0 {
			env, err := protocol.ParseEnvelope(frame.Data)
			if err != nil {
				s.log.WithError(err).Warn("malformed ack frame")
				env = protocol.Fail("malformed response")
			}
			s.resolve(frame.Ack, env)
			continue
		}
		if s.hooks.OnPush != nil {
			s.hooks.OnPush(frame.Event, frame.Data)
		}
	}
}

// Request sends a named request and returns exactly one terminal
// envelope. A missing acknowledgement is converted into {ok:false,
// error:"timeout"} after the configured deadline; a dead channel yields
// {ok:false, error:"offline"} immediately.
func (s *Supervisor) Request(ctx context.Context, event string, payload any) *protocol.Envelope {
	data, err := json.Marshal(payload)
	if err != nil {
		return protocol.Fail("encode request")
	}

	seq := s.seq.Add(1)
	ch := make(chan *protocol.Envelope, 1)

	s.mu.Lock()
	if !s.connected || s.conn == nil {
		s.mu.Unlock()
		return protocol.Fail("offline")
	}
	conn := s.conn
	s.pending[seq] = ch
	s.mu.Unlock()

	frame := &protocol.Frame{Event: event, Seq: seq, Data: data}
	if err := conn.WriteFrame(frame); err != nil {
		s.log.WithError(err).WithField("event", event).Warn("channel write failed")
		s.resolve(seq, protocol.Fail("offline"))
	}

	timer := s.clk.AfterFunc(s.opts.RequestTimeout, func() {
		s.resolve(seq, protocol.Fail("timeout"))
	})
	defer timer.Stop()

	select {
	case env := <-ch:
		return env
	case <-ctx.Done():
		s.resolve(seq, protocol.Fail("cancelled"))
		return <-ch
	}
}

// Notify sends a fire-and-forget notice (typing indicators). Best effort.
func (s *Supervisor) Notify(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.WriteFrame(&protocol.Frame{Event: event, Data: data}); err != nil {
		s.log.WithError(err).WithField("event", event).Debug("notify failed")
	}
}

// resolve delivers a terminal envelope to a pending request. The pending
// entry is removed first, so a late ack after a timeout is a no-op.
func (s *Supervisor) resolve(seq uint64, env *protocol.Envelope) {
	s.mu.Lock()
	ch, ok := s.pending[seq]
	if ok {
		delete(s.pending, seq)
	}
	s.mu.Unlock()
	if ok {
		ch <- env
	}
}

func (s *Supervisor) failPending(reason string) {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[uint64]chan *protocol.Envelope)
	s.mu.Unlock()
	for _, ch := range pending {
		ch <- protocol.Fail(reason)
	}
}

func (s *Supervisor) noticeOnce(text string) {
	s.mu.Lock()
	if s.noticed {
		s.mu.Unlock()
		return
	}
	s.noticed = true
	s.mu.Unlock()
	if s.hooks.OnNotice != nil {
		s.hooks.OnNotice(text)
	}
}

func nextDelay(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
