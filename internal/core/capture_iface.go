package core

import (
	"context"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/pion/webrtc/v4"
)

type Constraints struct {
	AudioDeviceID string  `json:"audio_device_id,omitempty"`
	VideoDeviceID string  `json:"video_device_id,omitempty"`
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	FrameRate     float64 `json:"frame_rate"`
	AspectRatio   float64 `json:"aspect_ratio"`
	Audio         bool    `json:"audio"`
	Video         bool    `json:"video"`
}

// TrackSettings are the effective parameters of a captured track.
type TrackSettings struct {
	DeviceID  string  `json:"device_id"`
	Width     int     `json:"width,omitempty"`
	Height    int     `json:"height,omitempty"`
	FrameRate float64 `json:"frame_rate,omitempty"`
}

type LocalTrack interface {
	ID() string
	Kind() domain.TrackKind
	Track() webrtc.TrackLocal
	Enabled() bool
	// SetEnabled mutes or unmutes the track without touching negotiation.
	SetEnabled(bool)
	Settings() TrackSettings
	// Done is closed when the source ends on its own.
	Done() <-chan struct{}
	Stop()
}

type LocalStream struct {
	Audio LocalTrack
	Video LocalTrack
}

func (s *LocalStream) Track(kind domain.TrackKind) LocalTrack {
	if s == nil {
		return nil
	}
	switch kind {
	case domain.TrackAudio:
		return s.Audio
	case domain.TrackVideo:
		return s.Video
	}
	return nil
}

func (s *LocalStream) Tracks() []LocalTrack {
	out := make([]LocalTrack, 0, 2)
	if s == nil {
		return out
	}
	if s.Audio != nil {
		out = append(out, s.Audio)
	}
	if s.Video != nil {
		out = append(out, s.Video)
	}
	return out
}

func (s *LocalStream) Stop() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

type MediaCapture interface {
	Capture(ctx context.Context, c Constraints) (*LocalStream, error)
	CaptureScreen(ctx context.Context) (*LocalStream, error)
}

type DeviceKind string

const (
	AudioInput  DeviceKind = "audioinput"
	VideoInput  DeviceKind = "videoinput"
	AudioOutput DeviceKind = "audiooutput"
)

type Device struct {
	ID    string     `json:"device_id"`
	Label string     `json:"label"`
	Kind  DeviceKind `json:"kind"`
}

type DeviceEnumerator interface {
	Devices(ctx context.Context) ([]Device, error)
}

// Store persists string values across restarts.
type Store interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(keys ...string) error
}
