// Package record writes relayed remote tracks to disk: Opus audio to Ogg files
// and H264 video to Annex B files.
package record

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/pion/webrtc/v4/pkg/media/h264writer"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog/log"
)

const (
	SampleRate = 48000
	Channels   = 2
)

// Recorder opens one file per relayed track. It satisfies media.SinkFactory.
type Recorder struct {
	dir string
	now func() time.Time
}

func NewRecorder(dir string) *Recorder {
	return &Recorder{dir: dir, now: time.Now}
}

func (r *Recorder) Path(feed domain.FeedID, kind domain.TrackKind, at time.Time) string {
	ext := ".h264"
	if kind == domain.TrackAudio {
		ext = ".ogg"
	}
	return filepath.Join(r.dir, fmt.Sprintf("%s-%s-%d%s", feed, kind, at.Unix(), ext))
}

func (r *Recorder) OpenSink(feed domain.FeedID, kind domain.TrackKind) (core.RTPSink, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, fmt.Errorf("record: create %s: %w", r.dir, err)
	}
	path := r.Path(feed, kind, r.now())

	var (
		sink core.RTPSink
		err  error
	)
	switch kind {
	case domain.TrackAudio:
		sink, err = oggwriter.New(path, SampleRate, Channels)
	case domain.TrackVideo:
		sink, err = h264writer.New(path)
	default:
		return nil, fmt.Errorf("record: unknown track kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("record: open %s: %w", path, err)
	}
	log.Info().Str("module", "adapters.record").
		Str("feed", feed.String()).
		Str("kind", string(kind)).
		Str("path", path).
		Msg("recording track")
	return sink, nil
}
