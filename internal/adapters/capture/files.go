// Package capture provides capture devices backed by media files. Each *.ogg
// file in the media directory is a microphone, each *.h264 file a camera, and
// screen.h264 the shared screen.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	DefaultDevice = "default"
	screenDevice  = "screen"

	extAudio = ".ogg"
	extVideo = ".h264"
)

var (
	ErrDeviceNotFound   = errors.New("capture: device not found")
	ErrNothingToCapture = errors.New("capture: neither audio nor video requested")
)

// ScreenOptions describes the shared screen.
type ScreenOptions struct {
	Width     int
	Height    int
	FrameRate float64
}

// Files implements core.MediaCapture and core.DeviceEnumerator over a directory.
type Files struct {
	dir    string
	screen ScreenOptions
}

func NewFiles(dir string, screen ScreenOptions) *Files {
	if screen.FrameRate <= 0 {
		screen.FrameRate = 15
	}
	return &Files{dir: dir, screen: screen}
}

func (f *Files) Devices(ctx context.Context) ([]core.Device, error) {
	entries, err := f.entries()
	if err != nil {
		return nil, err
	}
	out := []core.Device{
		{ID: DefaultDevice, Label: "Default microphone", Kind: core.AudioInput},
		{ID: DefaultDevice, Label: "Default camera", Kind: core.VideoInput},
	}
	for _, name := range entries {
		id := strings.TrimSuffix(name, filepath.Ext(name))
		switch filepath.Ext(name) {
		case extAudio:
			out = append(out, core.Device{ID: id, Label: name, Kind: core.AudioInput})
		case extVideo:
			if id == screenDevice {
				continue
			}
			out = append(out, core.Device{ID: id, Label: name, Kind: core.VideoInput})
		}
	}
	out = append(out, core.Device{ID: DefaultDevice, Label: "Default speaker", Kind: core.AudioOutput})
	return out, nil
}

func (f *Files) Capture(ctx context.Context, c core.Constraints) (*core.LocalStream, error) {
	if !c.Audio && !c.Video {
		return nil, ErrNothingToCapture
	}
	s := &core.LocalStream{}
	if c.Audio {
		path, id, err := f.resolve(c.AudioDeviceID, extAudio)
		if err != nil {
			return nil, err
		}
		t, err := newTrack(domain.TrackAudio, path, core.TrackSettings{DeviceID: id}, true)
		if err != nil {
			return nil, err
		}
		s.Audio = t
	}
	if c.Video {
		path, id, err := f.resolve(c.VideoDeviceID, extVideo)
		if err != nil {
			s.Stop()
			return nil, err
		}
		t, err := newTrack(domain.TrackVideo, path, core.TrackSettings{
			DeviceID:  id,
			Width:     c.Width,
			Height:    c.Height,
			FrameRate: c.FrameRate,
		}, true)
		if err != nil {
			s.Stop()
			return nil, err
		}
		s.Video = t
	}
	log.Info().Str("module", "adapters.capture").
		Str("audio", deviceOf(s.Audio)).
		Str("video", deviceOf(s.Video)).
		Msg("captured")
	return s, nil
}

// CaptureScreen plays screen.h264 once; the track ends with the file.
func (f *Files) CaptureScreen(ctx context.Context) (*core.LocalStream, error) {
	path := filepath.Join(f.dir, screenDevice+extVideo)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, screenDevice)
	}
	t, err := newTrack(domain.TrackVideo, path, core.TrackSettings{
		DeviceID:  screenDevice,
		Width:     f.screen.Width,
		Height:    f.screen.Height,
		FrameRate: f.screen.FrameRate,
	}, false)
	if err != nil {
		return nil, err
	}
	return &core.LocalStream{Video: t}, nil
}

// resolve maps a device id to a file. The default device is the first file of
// the kind, or silence when there is none.
func (f *Files) resolve(id, ext string) (string, string, error) {
	if id == "" || id == DefaultDevice {
		entries, err := f.entries()
		if err != nil {
			return "", "", err
		}
		for _, name := range entries {
			if filepath.Ext(name) == ext && name != screenDevice+extVideo {
				return filepath.Join(f.dir, name), DefaultDevice, nil
			}
		}
		return "", DefaultDevice, nil
	}
	if id == screenDevice || strings.ContainsAny(id, `/\`) {
		return "", "", fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	path := filepath.Join(f.dir, id+ext)
	if _, err := os.Stat(path); err != nil {
		return "", "", fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return path, id, nil
}

func (f *Files) entries() ([]string, error) {
	if f.dir == "" {
		return nil, nil
	}
	dir, err := os.ReadDir(f.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("capture: read %s: %w", f.dir, err)
	}
	names := make([]string, 0, len(dir))
	for _, e := range dir {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func deviceOf(t core.LocalTrack) string {
	if t == nil {
		return ""
	}
	return t.Settings().DeviceID
}

func mimeOf(kind domain.TrackKind) string {
	if kind == domain.TrackAudio {
		return webrtc.MimeTypeOpus
	}
	return webrtc.MimeTypeH264
}
