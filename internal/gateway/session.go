// Package gateway speaks the Janus JSON protocol: one session per client,
// plugin handles attached to it, keep-alives and session reclaiming.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Meet/internal/core"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"golang.org/x/sync/singleflight"
)

type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateAttaching
	StateActive
	StateDisconnected
	StateReconnecting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateAttaching:
		return "attaching"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Transition is reported on every state change. Err carries the cause when
// the session was lost (ErrNoSuchSession) or terminated.
type Transition struct {
	From State
	To   State
	Err  error
}

type Options struct {
	KeepAlive        time.Duration
	ReconnectDelay   time.Duration
	ReconnectCeiling int
}

func DefaultOptions() Options {
	return Options{
		KeepAlive:        25 * time.Second,
		ReconnectDelay:   2 * time.Second,
		ReconnectCeiling: 5,
	}
}

// Session owns the single logical gateway session of this client.
type Session struct {
	dialer core.SignalDialer
	probe  func() error
	opts   Options

	init singleflight.Group

	mu           sync.Mutex
	state        State
	id           uint64
	link         *link
	handles      map[uint64]*Handle
	fatal        error
	reconnecting bool
	attempts     int
	life         context.Context
	cancel       context.CancelFunc
	onTransition func(Transition)
	queued       []Transition
	flushMu      sync.Mutex
}

// NewSession prepares a session; nothing is dialed until EnsureReady.
// probe reports whether peer connections are possible at all; nil skips the check.
func NewSession(dialer core.SignalDialer, probe func() error, opts Options) *Session {
	def := DefaultOptions()
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = def.KeepAlive
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = def.ReconnectDelay
	}
	if opts.ReconnectCeiling <= 0 {
		opts.ReconnectCeiling = def.ReconnectCeiling
	}
	life, cancel := context.WithCancel(context.Background())
	return &Session{
		dialer:  dialer,
		probe:   probe,
		opts:    opts,
		handles: make(map[uint64]*Handle),
		life:    life,
		cancel:  cancel,
	}
}

// OnTransition sets the state change callback. It runs outside the session lock.
func (s *Session) OnTransition(fn func(Transition)) {
	s.mu.Lock()
	s.onTransition = fn
	s.mu.Unlock()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) ID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Attempts returns the reconnect counter.
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Session) usableLocked() bool {
	switch s.state {
	case StateReady, StateAttaching, StateActive:
		return true
	}
	return false
}

// EnsureReady brings the session up once. Concurrent callers share the
// in-flight bring-up; later callers return immediately.
func (s *Session) EnsureReady(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.fatal != nil:
		err := s.fatal
		s.mu.Unlock()
		return err
	case s.usableLocked():
		s.mu.Unlock()
		return nil
	case s.state == StateTerminated:
		s.mu.Unlock()
		return ErrSessionTerminated
	case s.state == StateDisconnected || s.state == StateReconnecting:
		s.mu.Unlock()
		return ErrNotReady
	}
	s.mu.Unlock()

	_, err, shared := s.init.Do("init", func() (any, error) {
		return nil, s.bringUp(ctx)
	})
	if shared {
		log.Debug().Str("module", "gateway.session").Msg("joined in-flight bring-up")
	}
	return err
}

func (s *Session) bringUp(ctx context.Context) error {
	s.mu.Lock()
	if s.usableLocked() {
		s.mu.Unlock()
		return nil
	}
	if s.fatal != nil {
		err := s.fatal
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	if s.probe != nil {
		if err := s.probe(); err != nil {
			err = fmt.Errorf("%w: %w", ErrTransportUnsupported, err)
			s.mu.Lock()
			s.fatal = err
			s.setStateLocked(StateTerminated, err)
			s.mu.Unlock()
			s.flush()
			return err
		}
	}

	s.transition(StateInitializing, nil)

	l, err := s.open(ctx)
	if err != nil {
		s.transition(StateUninitialized, err)
		return err
	}
	reply, err := s.call(ctx, l, &Envelope{Janus: "create"})
	if err == nil && reply.Data == nil {
		err = errors.New("gateway: create reply without id")
	}
	if err != nil {
		l.close()
		s.transition(StateUninitialized, err)
		return fmt.Errorf("gateway: create session: %w", err)
	}

	s.mu.Lock()
	s.id = reply.Data.ID
	s.link = l
	s.attempts = 0
	s.setStateLocked(StateReady, nil)
	s.mu.Unlock()
	s.flush()

	go s.keepAlive(l)
	log.Info().Str("module", "gateway.session").Uint64("session", reply.Data.ID).Msg("session created")
	return nil
}

// Attach attaches a plugin handle. handler receives every event addressed to
// the handle in transport order, on the session read goroutine.
func (s *Session) Attach(ctx context.Context, plugin string, handler func(*Envelope)) (*Handle, error) {
	s.mu.Lock()
	if !s.usableLocked() {
		st := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: session %s", ErrAttachFailed, st)
	}
	l, id := s.link, s.id
	if s.state == StateReady {
		s.setStateLocked(StateAttaching, nil)
	}
	s.mu.Unlock()
	s.flush()

	reply, err := s.call(ctx, l, &Envelope{Janus: "attach", SessionID: id, Plugin: plugin})
	if err == nil && reply.Data == nil {
		err = errors.New("attach reply without id")
	}

	s.mu.Lock()
	if err != nil {
		if s.state == StateAttaching {
			if len(s.handles) > 0 {
				s.setStateLocked(StateActive, nil)
			} else {
				s.setStateLocked(StateReady, nil)
			}
		}
		s.mu.Unlock()
		s.flush()
		return nil, fmt.Errorf("%w: %w", ErrAttachFailed, err)
	}
	h := &Handle{session: s, id: reply.Data.ID, plugin: plugin, handler: handler}
	s.handles[h.id] = h
	if s.state == StateAttaching || s.state == StateReady {
		s.setStateLocked(StateActive, nil)
	}
	s.mu.Unlock()
	s.flush()

	log.Info().Str("module", "gateway.session").Uint64("session", id).Uint64("handle", h.id).Str("plugin", plugin).Msg("attached")
	return h, nil
}

// Destroy releases every handle first, then the session itself.
func (s *Session) Destroy(ctx context.Context) error {
	s.mu.Lock()
	handles := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	var wg conc.WaitGroup
	for _, h := range handles {
		wg.Go(func() {
			if err := h.Detach(ctx); err != nil {
				log.Warn().Err(err).Str("module", "gateway.session").Uint64("handle", h.id).Msg("detach on destroy")
			}
		})
	}
	wg.Wait()

	s.mu.Lock()
	l, id := s.link, s.id
	s.mu.Unlock()

	var err error
	if l != nil && id != 0 {
		_, err = s.call(ctx, l, &Envelope{Janus: "destroy", SessionID: id})
		if err != nil {
			log.Warn().Err(err).Str("module", "gateway.session").Uint64("session", id).Msg("destroy")
		}
	}
	s.reset(StateUninitialized, nil)
	log.Info().Str("module", "gateway.session").Uint64("session", id).Msg("session destroyed")
	return err
}

// Reset drops all local session state so the next EnsureReady starts fresh.
func (s *Session) Reset() {
	s.reset(StateUninitialized, nil)
}

func (s *Session) reset(to State, cause error) {
	s.mu.Lock()
	s.cancel()
	s.life, s.cancel = context.WithCancel(context.Background())
	l := s.link
	s.link = nil
	s.id = 0
	s.handles = make(map[uint64]*Handle)
	s.fatal = nil
	s.reconnecting = false
	s.attempts = 0
	s.setStateLocked(to, cause)
	s.mu.Unlock()
	s.flush()
	if l != nil {
		l.close()
	}
}

// Close stops the session without talking to the gateway.
func (s *Session) Close() {
	s.reset(StateUninitialized, nil)
}

func (s *Session) handle(id uint64) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[id]
}

func (s *Session) forget(id uint64) {
	s.mu.Lock()
	delete(s.handles, id)
	s.mu.Unlock()
}

// current returns the live link and session id, or ErrNotReady.
func (s *Session) current() (*link, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == nil || s.id == 0 {
		return nil, 0, ErrNotReady
	}
	return s.link, s.id, nil
}

func (s *Session) open(ctx context.Context) (*link, error) {
	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("gateway: dial: %w", err)
	}
	l := newLink(conn)
	go s.readLoop(l)
	return l, nil
}

func (s *Session) call(ctx context.Context, l *link, env *Envelope) (*Envelope, error) {
	env.Transaction = uuid.NewString()
	ch, err := l.register(env.Transaction)
	if err != nil {
		return nil, err
	}
	defer l.unregister(env.Transaction)

	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("gateway: marshal %s: %w", env.Janus, err)
	}
	if err := l.conn.TrySend(b); err != nil {
		return nil, fmt.Errorf("gateway: send %s: %w", env.Janus, err)
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		if reply.Janus == "error" {
			if reply.Error == nil {
				return nil, &GatewayError{Message: "unknown error"}
			}
			return nil, &GatewayError{Code: reply.Error.Code, Message: reply.Error.Reason}
		}
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) readLoop(l *link) {
	for f := range l.conn.Frames() {
		s.dispatch(l, f)
	}
	l.close()
	s.onLinkLost(l)
}

func (s *Session) dispatch(l *link, f core.Frame) {
	var env Envelope
	if err := json.Unmarshal(f, &env); err != nil {
		log.Error().Err(err).Str("module", "gateway.session").Msg("bad json")
		return
	}

	switch env.Janus {
	case "success", "error", "ack", "server_info":
		if env.Transaction != "" && l.resolve(env.Transaction, &env) {
			return
		}
		if env.Janus != "error" {
			log.Trace().Str("module", "gateway.session").Str("janus", env.Janus).Msg("unsolicited reply")
			return
		}
	case "keepalive":
		return
	case "timeout":
		log.Warn().Str("module", "gateway.session").Uint64("session", env.SessionID).Msg("session timed out on gateway")
		s.lost(l, ErrNoSuchSession)
		return
	}

	if env.Sender == 0 {
		log.Debug().Str("module", "gateway.session").Str("janus", env.Janus).Msg("event without sender")
		return
	}
	h := s.handle(env.Sender)
	if h == nil {
		log.Debug().Str("module", "gateway.session").Uint64("handle", env.Sender).Str("janus", env.Janus).Msg("event for unknown handle")
		return
	}
	h.dispatch(&env)
}

func (s *Session) keepAlive(l *link) {
	ticker := time.NewTicker(s.opts.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			id := s.id
			s.mu.Unlock()
			if id == 0 {
				return
			}
			b, _ := json.Marshal(&Envelope{Janus: "keepalive", SessionID: id, Transaction: uuid.NewString()})
			if err := l.conn.TrySend(b); err != nil {
				log.Warn().Err(err).Str("module", "gateway.session").Msg("keepalive")
			}
		}
	}
}

func (s *Session) setStateLocked(to State, err error) {
	if s.state == to && err == nil {
		return
	}
	t := Transition{From: s.state, To: to, Err: err}
	s.state = to
	log.Info().Str("module", "gateway.session").Str("from", t.From.String()).Str("to", to.String()).AnErr("cause", err).Msg("state")
	if s.onTransition != nil {
		s.queued = append(s.queued, t)
	}
}

func (s *Session) transition(to State, err error) {
	s.mu.Lock()
	s.setStateLocked(to, err)
	s.mu.Unlock()
	s.flush()
}

// flush delivers queued transitions outside the lock, in order.
func (s *Session) flush() {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	s.mu.Lock()
	queued := s.queued
	s.queued = nil
	fn := s.onTransition
	s.mu.Unlock()
	if fn == nil {
		return
	}
	for _, t := range queued {
		fn(t)
	}
}
