package capture_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkeye/Meet/internal/adapters/capture"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Three NAL units: SPS, PPS and an IDR slice.
var h264Clip = []byte{
	0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0xc0, 0x1f, 0xda,
	0x00, 0x00, 0x00, 0x01, 0x68, 0xce, 0x3c, 0x80,
	0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x84, 0x00, 0x33,
}

func mediaDir(t *testing.T, files map[string][]byte) string {
	t.Helper()
	dir := t.TempDir()
	for name, data := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
	}
	return dir
}

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestDevicesListsMediaFiles(t *testing.T) {
	dir := mediaDir(t, map[string][]byte{
		"mic.ogg":     nil,
		"cam.h264":    h264Clip,
		"screen.h264": h264Clip,
		"notes.txt":   nil,
	})
	f := capture.NewFiles(dir, capture.ScreenOptions{})

	devices, err := f.Devices(context.Background())
	require.NoError(t, err)

	assert.Contains(t, devices, core.Device{ID: "mic", Label: "mic.ogg", Kind: core.AudioInput})
	assert.Contains(t, devices, core.Device{ID: "cam", Label: "cam.h264", Kind: core.VideoInput})
	for _, d := range devices {
		assert.NotEqual(t, "screen", d.ID)
		assert.NotEqual(t, "notes", d.ID)
	}
}

func TestDevicesWithoutDirectory(t *testing.T) {
	f := capture.NewFiles(filepath.Join(t.TempDir(), "missing"), capture.ScreenOptions{})
	devices, err := f.Devices(context.Background())
	require.NoError(t, err)
	assert.Len(t, devices, 3)
}

func TestCaptureUnknownDevice(t *testing.T) {
	f := capture.NewFiles(mediaDir(t, nil), capture.ScreenOptions{})
	ctx := context.Background()

	_, err := f.Capture(ctx, core.Constraints{Audio: true, AudioDeviceID: "nope"})
	require.ErrorIs(t, err, capture.ErrDeviceNotFound)

	_, err = f.Capture(ctx, core.Constraints{Video: true, VideoDeviceID: "../cam"})
	require.ErrorIs(t, err, capture.ErrDeviceNotFound)

	_, err = f.Capture(ctx, core.Constraints{})
	require.ErrorIs(t, err, capture.ErrNothingToCapture)
}

func TestCaptureDefaultIsSilentWithoutFiles(t *testing.T) {
	f := capture.NewFiles(mediaDir(t, nil), capture.ScreenOptions{})
	s, err := f.Capture(context.Background(), core.Constraints{
		Audio: true, Video: true, Width: 1280, Height: 720, FrameRate: 30,
	})
	require.NoError(t, err)
	require.NotNil(t, s.Audio)
	require.NotNil(t, s.Video)

	assert.Equal(t, domain.TrackAudio, s.Audio.Kind())
	assert.Equal(t, "default", s.Audio.Settings().DeviceID)
	assert.Equal(t, core.TrackSettings{DeviceID: "default", Width: 1280, Height: 720, FrameRate: 30}, s.Video.Settings())
	assert.NotEqual(t, s.Audio.ID(), s.Video.ID())

	assert.True(t, s.Video.Enabled())
	s.Video.SetEnabled(false)
	assert.False(t, s.Video.Enabled())

	assert.False(t, closed(s.Audio.Done()))
	s.Stop()
	assert.True(t, closed(s.Audio.Done()))
	assert.True(t, closed(s.Video.Done()))
}

func TestCameraLoopsUntilStopped(t *testing.T) {
	f := capture.NewFiles(mediaDir(t, map[string][]byte{"cam.h264": h264Clip}), capture.ScreenOptions{})
	s, err := f.Capture(context.Background(), core.Constraints{Video: true, VideoDeviceID: "cam", FrameRate: 200})
	require.NoError(t, err)
	assert.Equal(t, "cam", s.Video.Settings().DeviceID)

	time.Sleep(100 * time.Millisecond)
	assert.False(t, closed(s.Video.Done()))

	s.Video.Stop()
	assert.True(t, closed(s.Video.Done()))
}

func TestScreenEndsWithFile(t *testing.T) {
	f := capture.NewFiles(mediaDir(t, map[string][]byte{"screen.h264": h264Clip}), capture.ScreenOptions{
		Width: 1920, Height: 1080, FrameRate: 200,
	})
	s, err := f.CaptureScreen(context.Background())
	require.NoError(t, err)
	assert.Nil(t, s.Audio)
	assert.Equal(t, "screen", s.Video.Settings().DeviceID)

	require.Eventually(t, func() bool { return closed(s.Video.Done()) }, 2*time.Second, 5*time.Millisecond)
}

func TestScreenRequiresFile(t *testing.T) {
	f := capture.NewFiles(mediaDir(t, nil), capture.ScreenOptions{})
	_, err := f.CaptureScreen(context.Background())
	require.ErrorIs(t, err, capture.ErrDeviceNotFound)
}
