package main

import (
	"bytes"
	"testing"

	"github.com/dkeye/Meet/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runRoomID(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(append([]string{"room-id"}, args...))
	t.Cleanup(func() { roomIDString = false })
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestRoomIDCommand(t *testing.T) {
	assert.Equal(t, "1870295636\n", runRoomID(t, "demo-room"))
	assert.Equal(t, "\"1870295636\"\n", runRoomID(t, "demo-room", "--string"))
}

func TestDevicesTable(t *testing.T) {
	out := devicesTable([]core.Device{
		{ID: "default", Label: "Default microphone", Kind: core.AudioInput},
		{ID: "cam", Label: "cam.h264", Kind: core.VideoInput},
	})
	assert.Contains(t, out, "Kind")
	assert.Contains(t, out, "audioinput")
	assert.Contains(t, out, "cam.h264")
}
