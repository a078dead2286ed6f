package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/rs/zerolog/log"
)

// SetMute enables or disables a local track without renegotiation and
// broadcasts the new state. Outside a call only the preference is saved.
func (o *Orchestrator) SetMute(kind domain.TrackKind, enabled bool) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err := o.State.SaveEnabled(kind, enabled); err != nil {
		log.Warn().Err(err).Str("module", "orch.media").Msg("save enabled flag")
	}
	if t := o.Publisher.Stream().Track(kind); t != nil {
		t.SetEnabled(enabled)
	}
	o.Mute.SetOwn(kind, enabled)
	log.Info().Str("module", "orch.media").Str("kind", string(kind)).Bool("enabled", enabled).Msg("local track toggled")
	return nil
}

// ReplaceDevices captures from new devices and swaps the outgoing tracks.
// The saved enabled flags are applied to the new tracks and both states are
// broadcast again.
func (o *Orchestrator) ReplaceDevices(ctx context.Context, audioDevice, videoDevice string) (core.TrackSettings, error) {
	if err := o.State.SaveDevices(audioDevice, videoDevice); err != nil {
		log.Warn().Err(err).Str("module", "orch.media").Msg("save devices")
	}
	if !o.Joined() {
		return core.TrackSettings{}, nil
	}

	stream, err := o.deps.Capture.Capture(ctx, o.constraints(audioDevice, videoDevice))
	if err != nil {
		return core.TrackSettings{}, fmt.Errorf("capture: %w", err)
	}
	audio, video := o.Mute.Own(domain.TrackAudio), o.Mute.Own(domain.TrackVideo)
	setEnabled(stream, audio, video)

	if err := o.Publisher.ReplaceStream(stream); err != nil {
		stream.Stop()
		return core.TrackSettings{}, err
	}

	var settings core.TrackSettings
	if stream.Video != nil {
		settings = stream.Video.Settings()
	}
	o.mu.Lock()
	o.settings = settings
	o.mu.Unlock()

	o.Mute.BroadcastOwn()
	log.Info().
		Str("module", "orch.media").
		Str("audio_device", audioDevice).
		Str("video_device", videoDevice).
		Int("width", settings.Width).
		Int("height", settings.Height).
		Msg("devices replaced")
	return settings, nil
}

// Devices lists capture and playback devices.
func (o *Orchestrator) Devices(ctx context.Context) ([]core.Device, error) {
	if o.deps.Devices == nil {
		return nil, nil
	}
	return o.deps.Devices.Devices(ctx)
}

// StartScreenShare publishes the screen as a second participant of the same
// room. It does not touch the camera's mute state.
func (o *Orchestrator) StartScreenShare(ctx context.Context) (domain.FeedID, error) {
	o.op.Lock()
	defer o.op.Unlock()

	o.mu.Lock()
	joined, room, user, active := o.joined, o.room, o.user, o.screen.ID != 0
	o.mu.Unlock()
	if !joined {
		return 0, app.ErrNotJoined
	}
	if active {
		return 0, app.ErrScreenActive
	}

	stream, err := o.deps.Capture.CaptureScreen(ctx)
	if err != nil {
		return 0, fmt.Errorf("capture screen: %w", err)
	}
	if stream.Video == nil {
		stream.Stop()
		return 0, app.ErrNoLocalStream
	}
	screen := domain.User{ID: domain.NewFeedID(), Display: user.ScreenDisplay()}
	o.Mute.SetScreen(screen.ID)
	o.Subscribers.Skip(screen.ID)

	if _, err := o.Screen.Join(ctx, room, screen, stream); err != nil {
		o.Mute.SetScreen(0)
		if lerr := o.Screen.Leave(ctx); lerr != nil {
			log.Warn().Err(lerr).Str("module", "orch.media").Msg("leave after failed screen share")
		}
		stream.Stop()
		return 0, err
	}

	o.mu.Lock()
	o.screen = screen
	o.mu.Unlock()

	go o.watchScreen(screen.ID, stream.Video.Done())
	log.Info().Str("module", "orch.media").Str("feed", screen.ID.String()).Msg("screen share started")
	return screen.ID, nil
}

// watchScreen stops the share when the captured source ends on its own.
func (o *Orchestrator) watchScreen(id domain.FeedID, done <-chan struct{}) {
	<-done
	o.op.Lock()
	defer o.op.Unlock()
	o.mu.Lock()
	current := o.screen.ID
	o.mu.Unlock()
	if current != id {
		return
	}
	log.Info().Str("module", "orch.media").Str("feed", id.String()).Msg("screen source ended")
	if err := o.stopScreen(context.Background()); err != nil {
		log.Warn().Err(err).Str("module", "orch.media").Msg("stop screen share")
	}
}

func (o *Orchestrator) StopScreenShare(ctx context.Context) error {
	o.op.Lock()
	defer o.op.Unlock()
	return o.stopScreen(ctx)
}

func (o *Orchestrator) stopScreen(ctx context.Context) error {
	o.mu.Lock()
	id := o.screen.ID
	o.screen = domain.User{}
	o.mu.Unlock()
	if id == 0 {
		return app.ErrScreenInactive
	}
	o.Mute.SetScreen(0)
	err := o.Screen.Leave(ctx)
	log.Info().Str("module", "orch.media").Str("feed", id.String()).Msg("screen share stopped")
	return err
}
