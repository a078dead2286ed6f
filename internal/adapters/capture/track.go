package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/h264reader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	opusClockRate    = 48000
	defaultFrameRate = 30
)

// track plays one file into a sample track. A track without a file stays
// silent until stopped.
type track struct {
	kind     domain.TrackKind
	local    *webrtc.TrackLocalStaticSample
	settings core.TrackSettings
	enabled  atomic.Bool

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	doneOnce sync.Once
}

func newTrack(kind domain.TrackKind, path string, settings core.TrackSettings, loop bool) (*track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mimeOf(kind)},
		string(kind)+"-"+uuid.NewString(),
		"meet",
	)
	if err != nil {
		return nil, fmt.Errorf("capture: new %s track: %w", kind, err)
	}
	t := &track{
		kind:     kind,
		local:    local,
		settings: settings,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	t.enabled.Store(true)
	if path == "" {
		return t, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("capture: open %s: %w", path, err)
	}
	logger := log.With().
		Str("module", "adapters.capture").
		Str("kind", string(kind)).
		Str("device", settings.DeviceID).
		Logger()
	go t.pump(f, loop, &logger)
	return t, nil
}

func (t *track) ID() string                   { return t.local.ID() }
func (t *track) Kind() domain.TrackKind       { return t.kind }
func (t *track) Track() webrtc.TrackLocal     { return t.local }
func (t *track) Enabled() bool                { return t.enabled.Load() }
func (t *track) SetEnabled(v bool)            { t.enabled.Store(v) }
func (t *track) Settings() core.TrackSettings { return t.settings }
func (t *track) Done() <-chan struct{}        { return t.done }

func (t *track) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
	t.end()
}

func (t *track) end() {
	t.doneOnce.Do(func() { close(t.done) })
}

func (t *track) pump(f *os.File, loop bool, logger *zerolog.Logger) {
	defer f.Close()
	defer t.end()
	for {
		var err error
		if t.kind == domain.TrackAudio {
			err = t.playOgg(f)
		} else {
			err = t.playH264(f)
		}
		switch {
		case errors.Is(err, errStopped):
			return
		case err != nil:
			logger.Error().Err(err).Msg("capture source failed")
			return
		case !loop:
			logger.Info().Msg("capture source ended")
			return
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			logger.Error().Err(err).Msg("rewind capture source")
			return
		}
	}
}

var errStopped = errors.New("capture: stopped")

// wait sleeps for d or until the track is stopped.
func (t *track) wait(d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-t.stop:
		return errStopped
	case <-timer.C:
		return nil
	}
}

// write sends a sample unless the track is muted.
func (t *track) write(s media.Sample) error {
	if !t.enabled.Load() {
		return nil
	}
	return t.local.WriteSample(s)
}

func (t *track) playOgg(r io.Reader) error {
	ogg, _, err := oggreader.NewWith(r)
	if err != nil {
		return fmt.Errorf("ogg header: %w", err)
	}
	var lastGranule uint64
	for {
		page, header, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("ogg page: %w", err)
		}
		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		d := time.Duration(samples) * time.Second / opusClockRate

		if err := t.write(media.Sample{Data: page, Duration: d}); err != nil {
			return err
		}
		if err := t.wait(d); err != nil {
			return err
		}
	}
}

func (t *track) playH264(r io.Reader) error {
	h264, err := h264reader.NewReader(r)
	if err != nil {
		return fmt.Errorf("h264 reader: %w", err)
	}
	fps := t.settings.FrameRate
	if fps <= 0 {
		fps = defaultFrameRate
	}
	d := time.Duration(float64(time.Second) / fps)
	for {
		nal, err := h264.NextNAL()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("h264 nal: %w", err)
		}
		if err := t.write(media.Sample{Data: nal.Data, Duration: d}); err != nil {
			return err
		}
		if err := t.wait(d); err != nil {
			return err
		}
	}
}
