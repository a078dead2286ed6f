package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/Meet/internal/app/media"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/gateway"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Deps are the collaborators shared by the coordinators.
type Deps struct {
	Session  *gateway.Session
	Media    core.MediaFactory
	Requests gateway.Requests
	Feeds    *FeedArena
	Mute     *MuteStateChannel
	Hub      *Hub
}

type joinOutcome struct {
	ev  *gateway.RoomEvent
	err error
}

// Publisher joins the room as a publisher identity and sends local media.
// The camera publisher also routes room membership events to the
// SubscriberCoordinator; the screen publisher only publishes.
type Publisher struct {
	kind     domain.FeedKind
	deps     Deps
	listener Listener

	mu      sync.Mutex
	channel *Channel
	room    domain.RoomID
	user    domain.User
	stream  *core.LocalStream
	pending chan joinOutcome
	joined  bool
	onState func(ChannelState)
}

func NewPublisher(deps Deps, subs *SubscriberCoordinator) *Publisher {
	p := &Publisher{kind: domain.FeedCamera, deps: deps}
	p.listener = &cameraListener{p: p, subs: subs}
	return p
}

// OnStateChange sets a hook for connection state changes of the publisher channel.
func (p *Publisher) OnStateChange(fn func(ChannelState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

func (p *Publisher) role() Role {
	if p.kind == domain.FeedScreen {
		return RoleScreen
	}
	return RolePublisher
}

// Attach returns the publisher channel, attaching it first if needed.
func (p *Publisher) Attach(ctx context.Context) (*Channel, error) {
	p.mu.Lock()
	ch := p.channel
	if ch == nil || ch.Detached() {
		ch = NewChannel(p.role(), p.role().String(), p.deps.Session, p.deps.Media, p.listener)
		p.channel = ch
	}
	p.mu.Unlock()

	if err := ch.Attach(ctx); err != nil {
		p.mu.Lock()
		if p.channel == ch {
			p.channel = nil
		}
		p.mu.Unlock()
		return nil, err
	}
	return ch, nil
}

func (p *Publisher) Channel() *Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel
}

func (p *Publisher) Joined() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.joined
}

func (p *Publisher) User() domain.User {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.user
}

func (p *Publisher) Room() domain.RoomID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.room
}

func (p *Publisher) Stream() *core.LocalStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stream
}

// Join joins room as user, then offers the local stream with audio and video
// forced on. Muting is applied to the tracks, never negotiated. The publisher
// owns stream from here on.
func (p *Publisher) Join(ctx context.Context, room domain.RoomID, user domain.User, stream *core.LocalStream) (*gateway.RoomEvent, error) {
	ch, err := p.Attach(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.joined || p.pending != nil {
		p.mu.Unlock()
		return nil, ErrAlreadyJoined
	}
	outcome := make(chan joinOutcome, 1)
	p.pending = outcome
	p.room, p.user, p.stream = room, user, stream
	p.mu.Unlock()

	logger := log.With().Str("module", "app.publisher").Str("role", p.role().String()).Str("feed", user.ID.String()).Logger()

	conn := ch.Conn()
	for _, t := range stream.Tracks() {
		if err := conn.AddLocalTrack(t.Track()); err != nil {
			p.abandon()
			return nil, fmt.Errorf("add %s track: %w", t.Kind(), err)
		}
	}
	if p.kind == domain.FeedCamera {
		dc, err := conn.CreateDataChannel(DataChannelLabel)
		if err != nil {
			p.abandon()
			return nil, fmt.Errorf("data channel: %w", err)
		}
		p.deps.Mute.BindPublisher(dc)
	}

	if err := ch.Send(ctx, p.deps.Requests.JoinPublisher(room, user.Display, user.ID), nil); err != nil {
		p.abandon()
		return nil, fmt.Errorf("join: %w", err)
	}

	var ev *gateway.RoomEvent
	select {
	case o := <-outcome:
		if o.err != nil {
			p.abandon()
			return nil, fmt.Errorf("join: %w", o.err)
		}
		ev = o.ev
	case <-ctx.Done():
		p.abandon()
		return nil, ctx.Err()
	}
	logger.Info().Str("room", room.String()).Msg("joined")

	offer, err := conn.CreateAndSetOffer()
	if err != nil {
		return ev, fmt.Errorf("create offer: %w", err)
	}
	if err := ch.Send(ctx, p.deps.Requests.Configure(), offer); err != nil {
		return ev, fmt.Errorf("configure: %w", err)
	}
	return ev, nil
}

func (p *Publisher) abandon() {
	p.mu.Lock()
	p.pending = nil
	p.stream = nil
	p.mu.Unlock()
}

// Leave leaves the room, hangs up the publisher handle and detaches it.
func (p *Publisher) Leave(ctx context.Context) error {
	p.mu.Lock()
	ch, joined, stream, user := p.channel, p.joined, p.stream, p.user
	p.channel, p.joined, p.pending, p.stream = nil, false, nil, nil
	p.mu.Unlock()

	if stream != nil {
		stream.Stop()
	}
	if user.ID != 0 {
		p.deps.Feeds.Remove(user.ID)
	}
	if ch == nil {
		return nil
	}

	logger := log.With().Str("module", "app.publisher").Str("role", p.role().String()).Str("feed", user.ID.String()).Logger()
	if joined {
		if err := ch.Send(ctx, p.deps.Requests.Leave(), nil); err != nil {
			logger.Warn().Err(err).Msg("leave")
		}
		if err := ch.Hangup(ctx); err != nil {
			logger.Warn().Err(err).Msg("hangup")
		}
	}
	if err := ch.Detach(ctx); err != nil {
		return fmt.Errorf("detach %s: %w", p.role(), err)
	}
	logger.Info().Msg("left")
	return nil
}

// Drop forgets the channel without talking to the gateway, after the session was lost.
func (p *Publisher) Drop() {
	p.mu.Lock()
	ch, stream, user := p.channel, p.stream, p.user
	p.channel, p.joined, p.pending, p.stream = nil, false, nil, nil
	p.mu.Unlock()
	if ch != nil {
		if conn := ch.Conn(); conn != nil {
			conn.Close()
		}
	}
	if stream != nil {
		stream.Stop()
	}
	if user.ID != 0 {
		p.deps.Feeds.Remove(user.ID)
	}
}

// ReplaceStream swaps the outgoing tracks without renegotiation and stops the old ones.
func (p *Publisher) ReplaceStream(stream *core.LocalStream) error {
	p.mu.Lock()
	ch, old, user := p.channel, p.stream, p.user
	p.mu.Unlock()
	if ch == nil || ch.Conn() == nil {
		return ErrNotJoined
	}
	conn := ch.Conn()
	for _, t := range stream.Tracks() {
		if err := conn.ReplaceLocalTrack(media.CodecType(t.Kind()), t.Track()); err != nil {
			return fmt.Errorf("replace %s track: %w", t.Kind(), err)
		}
	}

	p.mu.Lock()
	p.stream = stream
	p.mu.Unlock()
	if old != nil {
		old.Stop()
	}
	p.deps.Feeds.Replace(p.localFeed(user, stream))
	return nil
}

func (p *Publisher) localFeed(user domain.User, stream *core.LocalStream) *Feed {
	s := media.NewStream()
	for _, t := range stream.Tracks() {
		s.Add(t.Kind(), t.ID())
	}
	return &Feed{ID: user.ID, Display: user.Display, Kind: p.kind, Local: true, Stream: s}
}

// onJoined resolves a pending Join and adds the local feed. A joined event
// nobody waits for belongs to an abandoned Join: the channel is retired, which
// leaves the room, and onJoined reports false.
func (p *Publisher) onJoined(ev *gateway.RoomEvent) bool {
	p.mu.Lock()
	pending := p.pending
	if pending == nil {
		ch := p.channel
		p.channel = nil
		p.mu.Unlock()
		p.dropStale(ch, ev)
		return false
	}
	p.pending = nil
	p.joined = true
	user, stream := p.user, p.stream
	p.mu.Unlock()

	if stream != nil {
		f := p.localFeed(user, stream)
		if err := p.deps.Feeds.Append(f); err != nil {
			p.deps.Feeds.Replace(f)
		}
	}
	pending <- joinOutcome{ev: ev}
	return true
}

func (p *Publisher) dropStale(ch *Channel, ev *gateway.RoomEvent) {
	logger := log.With().Str("module", "app.publisher").Str("role", p.role().String()).Str("feed", ev.ID.String()).Logger()
	logger.Warn().Str("room", ev.Room.String()).Msg("late join for an abandoned attempt, leaving")
	if ch == nil {
		return
	}
	h := ch.Handle()
	release := ch.Retire()
	go func() {
		ctx := context.Background()
		if h != nil {
			if err := h.Send(ctx, p.deps.Requests.Leave(), nil); err != nil {
				logger.Warn().Err(err).Msg("leave after late join")
			}
		}
		if err := release(ctx); err != nil {
			logger.Warn().Err(err).Msg("detach after late join")
		}
	}()
}

// onAnswer applies the gateway answer to the publish offer.
func (p *Publisher) onAnswer(jsep *webrtc.SessionDescription) {
	ch := p.Channel()
	if ch == nil || ch.Conn() == nil {
		return
	}
	if err := ch.Conn().ApplyAnswer(*jsep); err != nil {
		log.Error().Err(err).Str("module", "app.publisher").Str("role", p.role().String()).Msg("apply answer")
		p.deps.Hub.Publish(EventError, ErrorEvent{Message: err.Error()})
	}
}

// onError hands the error to a pending Join, otherwise logs or surfaces it.
func (p *Publisher) onError(err error) {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()
	if pending != nil {
		pending <- joinOutcome{err: err}
		return
	}
	surface(p.deps.Hub, "app.publisher", err)
}

func (p *Publisher) notifyState(s ChannelState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// surface logs benign gateway codes and publishes everything else.
func surface(hub *Hub, module string, err error) {
	code := gateway.Code(err)
	if gateway.IsBenign(code) {
		log.Info().Str("module", module).Int("code", code).Err(err).Msg("benign gateway condition")
		return
	}
	log.Error().Str("module", module).Int("code", code).Err(err).Msg("gateway error")
	hub.Publish(EventError, ErrorEvent{Code: code, Message: err.Error()})
}

type cameraListener struct {
	p    *Publisher
	subs *SubscriberCoordinator
}

func (l *cameraListener) OnMessage(ev *gateway.RoomEvent, jsep *webrtc.SessionDescription) {
	p := l.p
	switch ev.VideoRoom {
	case "joined":
		if p.onJoined(ev) {
			l.subs.AddPublishers(ev.Publishers)
		}
	case "destroyed":
		log.Warn().Str("module", "app.publisher").Str("room", ev.Room.String()).Msg("room destroyed")
		p.deps.Hub.Publish(EventError, ErrorEvent{Message: "room destroyed"})
	case "event":
		switch {
		case len(ev.Publishers) > 0:
			p.deps.Hub.Publish(EventCue, CueJoin)
			screen := p.deps.Mute.Screen()
			for _, pub := range ev.Publishers {
				if screen != 0 && pub.ID == screen {
					p.deps.Mute.BroadcastVideo(screen)
				}
			}
			l.subs.AddPublishers(ev.Publishers)
		case ev.Joining != nil:
			log.Debug().Str("module", "app.publisher").Str("feed", ev.Joining.ID.String()).Str("display", ev.Joining.Display).Msg("participant joining")
		case ev.Unpublished != nil && ev.Unpublished.Self:
			log.Info().Str("module", "app.publisher").Msg("own unpublish acknowledged")
			if ch := p.Channel(); ch != nil {
				go func() {
					if err := ch.Hangup(context.Background()); err != nil {
						log.Warn().Err(err).Str("module", "app.publisher").Msg("hangup after unpublish")
					}
				}()
			}
		case ev.Leaving != nil && ev.Leaving.Self:
			log.Debug().Str("module", "app.publisher").Msg("own leave acknowledged")
		case ev.Leaving != nil:
			if l.subs.Remove(ev.Leaving.ID) {
				p.deps.Hub.Publish(EventCue, CueLeave)
			}
		case ev.Unpublished != nil:
			if l.subs.Remove(ev.Unpublished.ID) {
				p.deps.Hub.Publish(EventCue, CueLeave)
			}
		}
	}
	if jsep != nil && jsep.Type == webrtc.SDPTypeAnswer {
		p.onAnswer(jsep)
	}
}

func (l *cameraListener) OnTrackAdded(context.Context, core.RemoteTrack) {
	log.Debug().Str("module", "app.publisher").Msg("unexpected remote track on publisher")
}

func (l *cameraListener) OnStateChange(s ChannelState) {
	switch s {
	case ChannelWebRTCUp:
		l.p.deps.Hub.Publish(EventConnection, ConnectionEvent{Up: true, State: s.String()})
	case ChannelHangup:
		l.p.deps.Hub.Publish(EventConnection, ConnectionEvent{Up: false, State: s.String()})
	}
	l.p.notifyState(s)
}

func (l *cameraListener) OnError(err error) { l.p.onError(err) }
