package orch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/app/media"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/gateway"
	"github.com/rs/zerolog/log"
)

// recoverTimeout bounds the fresh bring-up after the gateway lost the session.
const recoverTimeout = 30 * time.Second

type Config struct {
	Requests    gateway.Requests
	Session     gateway.Options
	Video       core.Constraints
	EventBuffer int
}

// Deps are the external collaborators.
type Deps struct {
	Dialer  core.SignalDialer
	Media   core.MediaFactory
	Capture core.MediaCapture
	Devices core.DeviceEnumerator
	Store   core.Store
	Sinks   media.SinkFactory
}

// Orchestrator drives one local participant through a video room.
type Orchestrator struct {
	cfg  Config
	deps Deps

	Session     *gateway.Session
	Hub         *app.Hub
	Feeds       *app.FeedArena
	Mute        *app.MuteStateChannel
	Relays      *media.RelayManager
	Subscribers *app.SubscriberCoordinator
	Publisher   *app.Publisher
	Screen      *app.Publisher
	State       *StateStore

	// op serializes join, leave, reset and recovery.
	op sync.Mutex

	mu       sync.Mutex
	room     domain.RoomID
	name     domain.RoomName
	desc     string
	user     domain.User
	screen   domain.User
	joined   bool
	since    time.Time
	settings core.TrackSettings
}

func New(cfg Config, deps Deps) *Orchestrator {
	o := &Orchestrator{cfg: cfg, deps: deps}
	o.Hub = app.NewHub(cfg.EventBuffer, app.SimplePolicy{})
	o.Feeds = app.NewFeedArena(func(feeds []app.FeedInfo) {
		o.Hub.Publish(app.EventFeeds, feeds)
	})
	o.Relays = media.NewRelayManager(deps.Sinks)
	o.Mute = app.NewMuteStateChannel(app.NewMuteRegistry(), func(ev app.MuteEvent) {
		o.Relays.MuteSink(ev.Feed, ev.Kind, media.DefaultSink, !ev.Enabled)
		o.Hub.Publish(app.EventMute, ev)
	})
	o.Session = gateway.NewSession(deps.Dialer, deps.Media.Probe, cfg.Session)
	o.State = NewStateStore(deps.Store)

	shared := app.Deps{
		Session:  o.Session,
		Media:    deps.Media,
		Requests: cfg.Requests,
		Feeds:    o.Feeds,
		Mute:     o.Mute,
		Hub:      o.Hub,
	}
	o.Subscribers = app.NewSubscriberCoordinator(shared, o.Relays)
	o.Publisher = app.NewPublisher(shared, o.Subscribers)
	o.Screen = app.NewScreenPublisher(shared)

	o.Publisher.OnStateChange(o.onPublisherState)
	o.Session.OnTransition(o.onTransition)
	return o
}

// Status is a point-in-time view for the control surface.
type Status struct {
	Session       string             `json:"session"`
	SessionID     uint64             `json:"session_id,omitempty"`
	Attempts      int                `json:"attempts,omitempty"`
	Joined        bool               `json:"joined"`
	Room          domain.RoomID      `json:"room,omitempty"`
	RoomName      domain.RoomName    `json:"room_name,omitempty"`
	Description   string             `json:"description,omitempty"`
	Self          domain.FeedID      `json:"self,omitempty"`
	Display       string             `json:"display,omitempty"`
	Screen        domain.FeedID      `json:"screen,omitempty"`
	Audio         bool               `json:"audio"`
	Video         bool               `json:"video"`
	Since         time.Time          `json:"since,omitzero"`
	Subscriptions int                `json:"subscriptions"`
	Settings      core.TrackSettings `json:"video_settings,omitzero"`
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	st := Status{
		Joined:      o.joined,
		Room:        o.room,
		RoomName:    o.name,
		Description: o.desc,
		Self:        o.user.ID,
		Display:     o.user.Display,
		Screen:      o.screen.ID,
		Since:       o.since,
		Settings:    o.settings,
	}
	o.mu.Unlock()
	st.Session = o.Session.State().String()
	st.SessionID = o.Session.ID()
	st.Attempts = o.Session.Attempts()
	st.Audio = o.Mute.Own(domain.TrackAudio)
	st.Video = o.Mute.Own(domain.TrackVideo)
	st.Subscriptions = o.Subscribers.Len()
	return st
}

func (o *Orchestrator) Joined() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.joined
}

// Reset tears down the call and the gateway session and leaves the
// orchestrator ready for a fresh Join, as a logout would.
func (o *Orchestrator) Reset(ctx context.Context) error {
	o.op.Lock()
	defer o.op.Unlock()

	if o.Joined() {
		if err := o.leave(ctx); err != nil {
			log.Warn().Err(err).Str("module", "orch").Msg("leave on reset")
		}
	}
	o.dropLocal(ctx)
	err := o.Session.Destroy(ctx)
	o.Session.Reset()
	if cerr := o.State.Clear(); cerr != nil {
		log.Error().Err(cerr).Str("module", "orch").Msg("clear state")
	}
	o.Hub.Publish(app.EventConnection, app.ConnectionEvent{Up: false, State: o.Session.State().String()})
	log.Info().Str("module", "orch").Msg("reset")
	return err
}

// Close leaves the room if joined and stops everything without reinitializing.
func (o *Orchestrator) Close(ctx context.Context) {
	o.op.Lock()
	if o.Joined() {
		if err := o.leave(ctx); err != nil {
			log.Warn().Err(err).Str("module", "orch").Msg("leave on close")
		}
	}
	o.op.Unlock()
	if err := o.Session.Destroy(ctx); err != nil {
		log.Warn().Err(err).Str("module", "orch").Msg("destroy on close")
	}
	o.Session.Close()
	o.Hub.Close()
}

func (o *Orchestrator) onTransition(t gateway.Transition) {
	logger := log.With().Str("module", "orch").Str("from", t.From.String()).Str("to", t.To.String()).Logger()
	if t.Err != nil {
		logger.Info().Err(t.Err).Msg("session transition")
	} else {
		logger.Debug().Msg("session transition")
	}

	switch t.To {
	case gateway.StateActive, gateway.StateReady:
		if t.From != gateway.StateReconnecting {
			return
		}
		if err := o.State.SavePlayLeaveSound(LeaveSoundNone); err != nil {
			logger.Warn().Err(err).Msg("save leave sound")
		}
		o.Hub.Publish(app.EventConnection, app.ConnectionEvent{Up: true, State: t.To.String()})
		if o.Joined() {
			o.Hub.Publish(app.EventCue, app.CueJoin)
		}
	case gateway.StateDisconnected, gateway.StateReconnecting:
		o.Hub.Publish(app.EventConnection, app.ConnectionEvent{Up: false, State: t.To.String()})
	case gateway.StateUninitialized:
		if errors.Is(t.Err, gateway.ErrNoSuchSession) {
			go o.recover()
		}
	case gateway.StateTerminated:
		go o.terminate(t.Err)
	}
}

// onPublisherState starts a session reconnect when the publisher transport drops.
func (o *Orchestrator) onPublisherState(s app.ChannelState) {
	if s != app.ChannelICEDisconnected && s != app.ChannelICEFailed {
		return
	}
	if !o.Joined() || o.Session.State() != gateway.StateActive {
		return
	}
	log.Warn().Str("module", "orch").Str("state", s.String()).Msg("publisher transport lost, reconnecting")
	o.Hub.Publish(app.EventCue, app.CueLeave)
	if err := o.State.SavePlayLeaveSound(LeaveSoundPending); err != nil {
		log.Warn().Err(err).Str("module", "orch").Msg("save leave sound")
	}
	o.Session.Reconnect()
}

// recover rebuilds the session and rejoins after the gateway forgot it.
func (o *Orchestrator) recover() {
	o.op.Lock()
	defer o.op.Unlock()

	o.mu.Lock()
	joined, name, display := o.joined, o.name, o.user.Display
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), recoverTimeout)
	defer cancel()

	o.dropLocal(ctx)
	if !joined {
		return
	}
	log.Info().Str("module", "orch").Str("room", string(name)).Msg("session lost, rejoining")
	user := domain.User{ID: domain.NewFeedID(), Display: display}
	if _, err := o.join(ctx, name, user); err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("rejoin failed")
		o.Hub.Publish(app.EventError, app.ErrorEvent{Code: gateway.Code(err), Message: err.Error()})
		if cerr := o.State.Clear(); cerr != nil {
			log.Error().Err(cerr).Str("module", "orch").Msg("clear state")
		}
		o.Hub.Publish(app.EventTerminated, app.TerminatedEvent{Reason: err.Error()})
	}
}

// terminate is the forced logout after the reconnection ceiling.
func (o *Orchestrator) terminate(cause error) {
	o.op.Lock()
	defer o.op.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), recoverTimeout)
	defer cancel()

	o.dropLocal(ctx)
	if err := o.State.Clear(); err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("clear state")
	}
	o.Session.Reset()

	reason := "terminated"
	if cause != nil {
		reason = cause.Error()
	}
	log.Error().Str("module", "orch").Str("reason", reason).Msg("session terminated, logged out")
	o.Hub.Publish(app.EventConnection, app.ConnectionEvent{Up: false, State: gateway.StateTerminated.String()})
	o.Hub.Publish(app.EventTerminated, app.TerminatedEvent{Reason: reason})
}

// dropLocal forgets every channel and feed without waiting on the gateway.
func (o *Orchestrator) dropLocal(ctx context.Context) {
	o.Screen.Drop()
	o.Publisher.Drop()
	o.Subscribers.ReleaseAll(ctx)
	o.Relays.StopAll()
	o.Feeds.Reset()
	o.Mute.Reset()

	o.mu.Lock()
	o.joined = false
	o.screen = domain.User{}
	o.since = time.Time{}
	o.mu.Unlock()
}
