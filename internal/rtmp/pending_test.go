package rtmp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingMapCopies(t *testing.T) {
	pending := NewPendingMap()
	entry := &PendingPublish{Key: "k", UserID: "u", Username: "alice", StartedAt: time.Now()}
	pending.Put(entry)

	entry.Username = "mutated"
	got, ok := pending.Get("k")
	require.True(t, ok)
	assert.Equal(t, "alice", got.Username)

	got.Confirmed = true
	again, _ := pending.Get("k")
	assert.False(t, again.Confirmed)

	pending.MarkConfirmed("k")
	again, _ = pending.Get("k")
	assert.True(t, again.Confirmed)

	removed, ok := pending.Remove("k")
	require.True(t, ok)
	assert.Equal(t, "u", removed.UserID)
	assert.Equal(t, 0, pending.Len())

	_, ok = pending.Remove("k")
	assert.False(t, ok)
}

func TestPendingSnapshotOrder(t *testing.T) {
	pending := NewPendingMap()
	base := time.Now()
	pending.Put(&PendingPublish{Key: "b", Username: "second", StartedAt: base.Add(time.Second)})
	pending.Put(&PendingPublish{Key: "a", Username: "first", StartedAt: base})

	snapshot := pending.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "first", snapshot[0].Username)
	assert.Equal(t, "second", snapshot[1].Username)
}

func TestAwaitFindsEntryImmediately(t *testing.T) {
	pending := NewPendingMap()
	pending.Put(&PendingPublish{Key: "k", Username: "alice"})

	entry, attempts, err := pending.Await(context.Background(), "k", 10, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, "alice", entry.Username)
}

func TestAwaitFindsLateEntry(t *testing.T) {
	pending := NewPendingMap()
	go func() {
		time.Sleep(30 * time.Millisecond)
		pending.Put(&PendingPublish{Key: "k", Username: "alice"})
	}()

	entry, attempts, err := pending.Await(context.Background(), "k", 100, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Greater(t, attempts, 1)
	assert.Equal(t, "alice", entry.Username)
}

func TestAwaitGivesUpAfterAttempts(t *testing.T) {
	pending := NewPendingMap()

	start := time.Now()
	entry, attempts, err := pending.Await(context.Background(), "missing", 3, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrPendingNotFound)
	assert.Nil(t, entry)
	assert.Equal(t, 3, attempts)
	// two waits between three attempts
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestAwaitStopsOnCancel(t *testing.T) {
	pending := NewPendingMap()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, attempts, err := pending.Await(ctx, "missing", 10, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestPendingAddKeepsExistingEntry(t *testing.T) {
	pending := NewPendingMap()
	require.True(t, pending.Add(&PendingPublish{Key: "k", Username: "first"}))
	pending.MarkConfirmed("k")

	assert.False(t, pending.Add(&PendingPublish{Key: "k", Username: "second"}))
	entry, ok := pending.Get("k")
	require.True(t, ok)
	assert.Equal(t, "first", entry.Username)
	assert.True(t, entry.Confirmed)
}
