package ffmpeg

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemuxArgs(t *testing.T) {
	f := New("")
	assert.Equal(t, "ffmpeg", f.Path())

	args := f.RemuxArgs(RemuxOptions{
		InputURL:       "rtmp://127.0.0.1:1935/live/sk_abc",
		PlaylistPath:   "/hls/alice/index.m3u8",
		SegmentPattern: "/hls/alice/segment_%05d.ts",
		SegmentTime:    4,
		ListSize:       6,
	})
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-i rtmp://127.0.0.1:1935/live/sk_abc")
	assert.Contains(t, joined, "-c copy")
	assert.Contains(t, joined, "-f hls")
	assert.Contains(t, joined, "-hls_time 4")
	assert.Contains(t, joined, "-hls_list_size 6")
	assert.Contains(t, joined, "-hls_segment_filename /hls/alice/segment_%05d.ts")
	assert.Equal(t, "/hls/alice/index.m3u8", args[len(args)-1])
}

func TestRemuxArgsDefaults(t *testing.T) {
	joined := strings.Join(New("ffmpeg").RemuxArgs(RemuxOptions{}), " ")
	assert.Contains(t, joined, "-hls_time 2")
	assert.Contains(t, joined, "-hls_list_size 10")
}

func TestStartRemuxValidatesOptions(t *testing.T) {
	_, err := New("ffmpeg").StartRemux(context.Background(), RemuxOptions{InputURL: "rtmp://x"})
	assert.Error(t, err)
}

func TestStartRemuxMissingBinary(t *testing.T) {
	_, err := New("/nonexistent/ffmpeg").StartRemux(context.Background(), RemuxOptions{
		InputURL:       "rtmp://127.0.0.1:1/live/k",
		PlaylistPath:   t.TempDir() + "/index.m3u8",
		SegmentPattern: t.TempDir() + "/segment_%05d.ts",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start ffmpeg")
}

func TestLimitedBuffer(t *testing.T) {
	b := &limitedBuffer{limit: 4}
	n, err := b.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	_, _ = b.Write([]byte("gh"))
	assert.Equal(t, "abcd", b.String())
}
