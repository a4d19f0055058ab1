package rtmp

import (
	"testing"

	"livecast/pkg/ffmpeg"
	"livecast/pkg/hls"
	utils "livecast/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHLSPackagerStartFailureLeavesNoJob(t *testing.T) {
	utils.InitDiscard()
	manager := hls.NewManager(t.TempDir(), 2, 5)
	packager := NewHLSPackager(manager, ffmpeg.New("/nonexistent/ffmpeg"), "rtmp://127.0.0.1:1935/live")

	err := packager.Start(&PendingPublish{Key: "sk_alice", Username: "alice"})
	require.Error(t, err)
	assert.Equal(t, 0, packager.Running())

	// the directory is prepared before ffmpeg starts
	assert.DirExists(t, manager.StreamDir("alice"))

	packager.Stop("sk_alice")
	packager.Close()
}

func TestHLSPackagerRejectsUnsafeUsername(t *testing.T) {
	utils.InitDiscard()
	manager := hls.NewManager(t.TempDir(), 2, 5)
	packager := NewHLSPackager(manager, ffmpeg.New("ffmpeg"), "rtmp://127.0.0.1:1935/live")

	err := packager.Start(&PendingPublish{Key: "sk_x", Username: "../etc"})
	assert.ErrorIs(t, err, hls.ErrInvalidStreamName)
	assert.Equal(t, 0, packager.Running())
}
