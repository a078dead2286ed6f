package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "ws://localhost:8188/janus", cfg.GatewayURL)
	assert.Equal(t, 512000, cfg.Bitrate)
	assert.Equal(t, 25*time.Second, cfg.KeepAlivePeriod)
	assert.Equal(t, 2*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 5, cfg.ReconnectCeiling)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICEServers)
	assert.Equal(t, VideoConfig{Width: 1280, Height: 720, FrameRate: 30}, cfg.Video)
	assert.False(t, cfg.StringRoomIDs)
}

func TestLoadFileOverrides(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.test.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
mode: debug
gateway_url: wss://janus.example.org/ws
string_room_ids: true
reconnect_delay: 10ms
video:
  width: 640
  height: 360
`), 0o644))

	t.Setenv("MEET_PORT", "9090")
	t.Setenv("MEET_VIDEO_FRAME_RATE", "15")

	cfg, err := LoadFile(file)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, "wss://janus.example.org/ws", cfg.GatewayURL)
	assert.True(t, cfg.StringRoomIDs)
	assert.Equal(t, 10*time.Millisecond, cfg.ReconnectDelay)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, VideoConfig{Width: 640, Height: 360, FrameRate: 15}, cfg.Video)
}

func TestLoadFileRejectsInvalid(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(file, []byte("port: 70000\n"), 0o644))

	_, err := LoadFile(file)
	assert.Error(t, err)
}
