package hls

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSegments(t *testing.T, m *HLSManager, name string, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		path := fmt.Sprintf(m.SegmentPattern(name), i)
		require.NoError(t, os.WriteFile(path, []byte("ts"), 0644))
	}
}

func TestLayout(t *testing.T) {
	m := NewManager("/var/hls", 0, 0)
	assert.Equal(t, filepath.Join("/var/hls", "alice", "index.m3u8"), m.PlaylistPath("alice"))
	assert.Equal(t, filepath.Join("/var/hls", "alice", "segment_%05d.ts"), m.SegmentPattern("alice"))
	assert.Equal(t, 2, m.SegmentTime())
	assert.Equal(t, 10, m.MaxSegments())
}

func TestCreateStreamDirectoryClearsPreviousOutput(t *testing.T) {
	m := NewManager(t.TempDir(), 2, 3)
	require.NoError(t, m.CreateStreamDirectory("alice"))
	writeSegments(t, m, "alice", 2)

	require.NoError(t, m.CreateStreamDirectory("alice"))
	entries, err := os.ReadDir(m.StreamDir("alice"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRejectsUnsafeNames(t *testing.T) {
	m := NewManager(t.TempDir(), 2, 3)
	for _, name := range []string{"", ".", "..", "a/b", `a\b`} {
		assert.ErrorIs(t, m.CreateStreamDirectory(name), ErrInvalidStreamName, name)
		assert.ErrorIs(t, m.Remove(name), ErrInvalidStreamName, name)
	}
}

func TestCleanupOldSegments(t *testing.T) {
	m := NewManager(t.TempDir(), 2, 3)
	require.NoError(t, m.CreateStreamDirectory("alice"))
	writeSegments(t, m, "alice", 8)
	require.NoError(t, os.WriteFile(m.PlaylistPath("alice"), []byte("#EXTM3U\n"), 0644))

	require.NoError(t, m.CleanupOldSegments("alice"))

	segments, err := m.getSegments("alice")
	require.NoError(t, err)
	// playlist window plus the segment being written
	assert.Equal(t, []string{"segment_00004.ts", "segment_00005.ts", "segment_00006.ts", "segment_00007.ts"}, segments)
	_, err = os.Stat(m.PlaylistPath("alice"))
	assert.NoError(t, err)
}

func TestFinalizeAppendsEndListOnce(t *testing.T) {
	m := NewManager(t.TempDir(), 2, 3)
	require.NoError(t, m.CreateStreamDirectory("alice"))
	require.NoError(t, os.WriteFile(m.PlaylistPath("alice"), []byte("#EXTM3U\n#EXTINF:2.000,\nsegment_00000.ts"), 0644))

	require.NoError(t, m.Finalize("alice"))
	require.NoError(t, m.Finalize("alice"))

	content, err := os.ReadFile(m.PlaylistPath("alice"))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(content), "#EXT-X-ENDLIST"))
	assert.True(t, strings.HasSuffix(string(content), "segment_00000.ts\n#EXT-X-ENDLIST\n"))
}

func TestFinalizeWithoutPlaylist(t *testing.T) {
	m := NewManager(t.TempDir(), 2, 3)
	assert.NoError(t, m.Finalize("nobody"))
}

func TestRemove(t *testing.T) {
	m := NewManager(t.TempDir(), 2, 3)
	require.NoError(t, m.CreateStreamDirectory("alice"))
	require.NoError(t, m.Remove("alice"))
	_, err := os.Stat(m.StreamDir("alice"))
	assert.True(t, os.IsNotExist(err))
}
