package testutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Capture implements core.MediaCapture and core.DeviceEnumerator with synthetic tracks.
type Capture struct {
	Err error

	mu       sync.Mutex
	captured []core.Constraints
	screens  []*LocalTrack
}

func (c *Capture) Capture(ctx context.Context, cons core.Constraints) (*core.LocalStream, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	c.mu.Lock()
	c.captured = append(c.captured, cons)
	c.mu.Unlock()

	s := &core.LocalStream{}
	if cons.Audio {
		s.Audio = NewLocalTrack(domain.TrackAudio, core.TrackSettings{DeviceID: orDefault(cons.AudioDeviceID)})
	}
	if cons.Video {
		s.Video = NewLocalTrack(domain.TrackVideo, core.TrackSettings{
			DeviceID:  orDefault(cons.VideoDeviceID),
			Width:     cons.Width,
			Height:    cons.Height,
			FrameRate: cons.FrameRate,
		})
	}
	return s, nil
}

func (c *Capture) CaptureScreen(ctx context.Context) (*core.LocalStream, error) {
	if c.Err != nil {
		return nil, c.Err
	}
	t := NewLocalTrack(domain.TrackVideo, core.TrackSettings{DeviceID: "screen", Width: 1920, Height: 1080, FrameRate: 15})
	c.mu.Lock()
	c.screens = append(c.screens, t)
	c.mu.Unlock()
	return &core.LocalStream{Video: t}, nil
}

func (c *Capture) Devices(ctx context.Context) ([]core.Device, error) {
	return []core.Device{
		{ID: "default", Label: "Default microphone", Kind: core.AudioInput},
		{ID: "default", Label: "Default camera", Kind: core.VideoInput},
		{ID: "usb-cam", Label: "USB camera", Kind: core.VideoInput},
		{ID: "default", Label: "Default speaker", Kind: core.AudioOutput},
	}, nil
}

// Captured returns the constraints of every Capture call.
func (c *Capture) Captured() []core.Constraints {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.Constraints(nil), c.captured...)
}

// LastScreen returns the most recent screen track.
func (c *Capture) LastScreen() *LocalTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.screens) == 0 {
		return nil
	}
	return c.screens[len(c.screens)-1]
}

func orDefault(id string) string {
	if id == "" {
		return "default"
	}
	return id
}

var ErrCaptureDenied = errors.New("testutil: capture denied")

// LocalTrack implements core.LocalTrack.
type LocalTrack struct {
	kind     domain.TrackKind
	track    webrtc.TrackLocal
	settings core.TrackSettings
	enabled  atomic.Bool
	stopped  atomic.Bool
	done     chan struct{}
	once     sync.Once
}

func NewLocalTrack(kind domain.TrackKind, settings core.TrackSettings) *LocalTrack {
	mime := webrtc.MimeTypeOpus
	if kind == domain.TrackVideo {
		mime = webrtc.MimeTypeH264
	}
	tr, _ := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, string(kind)+"-"+settings.DeviceID, "local")
	t := &LocalTrack{kind: kind, track: tr, settings: settings, done: make(chan struct{})}
	t.enabled.Store(true)
	return t
}

func (t *LocalTrack) ID() string                   { return t.track.ID() }
func (t *LocalTrack) Kind() domain.TrackKind       { return t.kind }
func (t *LocalTrack) Track() webrtc.TrackLocal     { return t.track }
func (t *LocalTrack) Enabled() bool                { return t.enabled.Load() }
func (t *LocalTrack) SetEnabled(v bool)            { t.enabled.Store(v) }
func (t *LocalTrack) Settings() core.TrackSettings { return t.settings }
func (t *LocalTrack) Done() <-chan struct{}        { return t.done }
func (t *LocalTrack) Stopped() bool                { return t.stopped.Load() }

func (t *LocalTrack) Stop() {
	t.stopped.Store(true)
	t.End()
}

// End simulates the source ending on its own.
func (t *LocalTrack) End() {
	t.once.Do(func() { close(t.done) })
}
