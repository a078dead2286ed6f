package orch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/gateway"
	"github.com/rs/zerolog/log"
)

// control returns the publisher channel, which also carries room queries.
func (o *Orchestrator) control(ctx context.Context) (*app.Channel, error) {
	if err := o.Session.EnsureReady(ctx); err != nil {
		return nil, err
	}
	return o.Publisher.Attach(ctx)
}

// EnsureRoom resolves name and creates the room unless it already exists.
func (o *Orchestrator) EnsureRoom(ctx context.Context, name string) (domain.RoomID, error) {
	room, err := domain.NewRoomName(name)
	if err != nil {
		return 0, err
	}
	return o.ensureRoom(ctx, room)
}

func (o *Orchestrator) ensureRoom(ctx context.Context, name domain.RoomName) (domain.RoomID, error) {
	ch, err := o.control(ctx)
	if err != nil {
		return 0, err
	}
	id := domain.ResolveRoomID(name)
	logger := log.With().Str("module", "orch.room").Str("room", id.String()).Str("name", string(name)).Logger()

	ev, err := ch.Request(ctx, o.cfg.Requests.Exists(id))
	if err != nil {
		return 0, fmt.Errorf("exists: %w", err)
	}
	if ev.Exists {
		logger.Debug().Msg("room exists")
		return id, nil
	}

	_, err = ch.Request(ctx, o.cfg.Requests.Create(id, name))
	switch code := gateway.Code(err); {
	case err == nil:
		logger.Info().Msg("room created")
	case code == gateway.CodeRoomExists:
		logger.Info().Msg("room created concurrently")
	default:
		return 0, fmt.Errorf("create: %w", err)
	}
	return id, nil
}

// Rooms lists the rooms known to the gateway.
func (o *Orchestrator) Rooms(ctx context.Context) ([]domain.Room, error) {
	ch, err := o.control(ctx)
	if err != nil {
		return nil, err
	}
	ev, err := ch.Request(ctx, o.cfg.Requests.List())
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	return ev.Rooms, nil
}

// Participants lists the participants of a room.
func (o *Orchestrator) Participants(ctx context.Context, room domain.RoomID) ([]gateway.Participant, error) {
	ch, err := o.control(ctx)
	if err != nil {
		return nil, err
	}
	ev, err := ch.Request(ctx, o.cfg.Requests.ListParticipants(room))
	if err != nil {
		return nil, fmt.Errorf("listparticipants: %w", err)
	}
	return ev.Participants, nil
}

// Join creates or joins the room and publishes local media as display.
func (o *Orchestrator) Join(ctx context.Context, roomName, display string) (*app.RoomInfo, error) {
	o.op.Lock()
	defer o.op.Unlock()

	if o.Joined() {
		return nil, app.ErrAlreadyJoined
	}
	name, err := domain.NewRoomName(roomName)
	if err != nil {
		return nil, fmt.Errorf("room name: %w", err)
	}
	user, err := domain.NewUser(display)
	if err != nil {
		return nil, fmt.Errorf("display name: %w", err)
	}
	return o.join(ctx, name, *user)
}

// Resume rejoins the room of a previous run. The stored room id is corrected
// when it no longer matches the name.
func (o *Orchestrator) Resume(ctx context.Context) (*app.RoomInfo, error) {
	o.op.Lock()
	defer o.op.Unlock()

	if o.Joined() {
		return nil, app.ErrAlreadyJoined
	}
	st, err := o.State.Load()
	if err != nil {
		return nil, err
	}
	if !st.LoggedIn || st.RoomName == "" || st.UserName == "" {
		return nil, ErrNothingToResume
	}
	if id := domain.ResolveRoomID(st.RoomName); st.RoomID != id {
		log.Info().Str("module", "orch.room").Str("stored", st.RoomID.String()).Str("resolved", id.String()).Msg("correcting stored room id")
		if err := o.State.SaveRoomID(id); err != nil {
			log.Warn().Err(err).Str("module", "orch.room").Msg("save room id")
		}
	}
	user, err := domain.NewUser(st.UserName)
	if err != nil {
		return nil, fmt.Errorf("stored user name: %w", err)
	}
	return o.join(ctx, st.RoomName, *user)
}

func (o *Orchestrator) join(ctx context.Context, name domain.RoomName, user domain.User) (*app.RoomInfo, error) {
	id, err := o.ensureRoom(ctx, name)
	if err != nil {
		return nil, err
	}
	logger := log.With().Str("module", "orch.room").Str("room", id.String()).Str("feed", user.ID.String()).Logger()

	st, err := o.State.Load()
	if err != nil {
		logger.Warn().Err(err).Msg("load saved state, using defaults")
	}
	stream, err := o.deps.Capture.Capture(ctx, o.constraints(st.AudioDeviceID, st.VideoDeviceID))
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	setEnabled(stream, st.AudioEnabled, st.VideoEnabled)
	o.Mute.SetLocal(user.ID, st.AudioEnabled, st.VideoEnabled)
	o.Subscribers.Begin(id, user.ID)

	ev, err := o.Publisher.Join(ctx, id, user, stream)
	if err != nil {
		if ev == nil {
			stream.Stop()
		} else if lerr := o.Publisher.Leave(ctx); lerr != nil {
			logger.Warn().Err(lerr).Msg("leave after failed negotiation")
		}
		o.Subscribers.ReleaseAll(ctx)
		o.Mute.Reset()
		return nil, err
	}

	now := time.Now()
	o.mu.Lock()
	o.room, o.name, o.desc, o.user = id, name, ev.Description, user
	o.joined, o.since = true, now
	if stream.Video != nil {
		o.settings = stream.Video.Settings()
	}
	o.mu.Unlock()

	if err := o.State.SaveJoin(id, name, user.Display, now); err != nil {
		logger.Warn().Err(err).Msg("save join")
	}

	info := &app.RoomInfo{
		Room:        id,
		Name:        name,
		Description: ev.Description,
		Self:        user.ID,
		Display:     user.Display,
		Publishers:  ev.Publishers,
		Attendees:   ev.Attendees,
	}
	o.Hub.Publish(app.EventRoom, *info)
	o.Hub.Publish(app.EventCue, app.CueJoin)
	logger.Info().Int("publishers", len(ev.Publishers)).Msg("in room")
	return info, nil
}

// Leave finishes the call: leave and hang up the publisher, release every
// subscription and mark the user logged out.
func (o *Orchestrator) Leave(ctx context.Context) error {
	o.op.Lock()
	defer o.op.Unlock()
	if !o.Joined() {
		return app.ErrNotJoined
	}
	return o.leave(ctx)
}

func (o *Orchestrator) leave(ctx context.Context) error {
	if err := o.stopScreen(ctx); err != nil && !errors.Is(err, app.ErrScreenInactive) {
		log.Warn().Err(err).Str("module", "orch.room").Msg("stop screen share")
	}
	err := o.Publisher.Leave(ctx)
	o.Subscribers.ReleaseAll(ctx)
	o.Relays.StopAll()
	o.Feeds.Reset()
	o.Mute.Reset()

	o.mu.Lock()
	room := o.room
	o.joined = false
	o.since = time.Time{}
	o.mu.Unlock()

	if cerr := o.State.Clear(); cerr != nil {
		log.Error().Err(cerr).Str("module", "orch.room").Msg("clear state")
	}
	log.Info().Str("module", "orch.room").Str("room", room.String()).Msg("left room")
	return err
}

func (o *Orchestrator) constraints(audioDevice, videoDevice string) core.Constraints {
	c := o.cfg.Video
	c.Audio, c.Video = true, true
	c.AudioDeviceID, c.VideoDeviceID = audioDevice, videoDevice
	return c
}

func setEnabled(stream *core.LocalStream, audio, video bool) {
	if t := stream.Track(domain.TrackAudio); t != nil {
		t.SetEnabled(audio)
	}
	if t := stream.Track(domain.TrackVideo); t != nil {
		t.SetEnabled(video)
	}
}
