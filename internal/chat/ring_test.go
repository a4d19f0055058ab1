package chat

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msgWithID(id string) *ChatMessage {
	return &ChatMessage{ID: id, Message: id}
}

func ids(messages []*ChatMessage) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.ID
	}
	return out
}

func TestRingEvictsOldestFirst(t *testing.T) {
	ring := NewRing(DefaultHistorySize)

	for i := 1; i <= DefaultHistorySize; i++ {
		assert.Nil(t, ring.Push(msgWithID(fmt.Sprint(i))))
	}
	assert.Equal(t, DefaultHistorySize, ring.Len())

	evicted := ring.Push(msgWithID("201"))
	require.NotNil(t, evicted)
	assert.Equal(t, "1", evicted.ID)

	snapshot := ring.Snapshot()
	require.Len(t, snapshot, DefaultHistorySize)
	assert.Equal(t, "2", snapshot[0].ID)
	assert.Equal(t, "200", snapshot[DefaultHistorySize-2].ID)
	assert.Equal(t, "201", snapshot[DefaultHistorySize-1].ID)
}

func TestRingNeverExceedsCapacity(t *testing.T) {
	ring := NewRing(5)
	for i := 0; i < 1000; i++ {
		ring.Push(msgWithID(fmt.Sprint(i)))
		assert.LessOrEqual(t, ring.Len(), 5)
	}
	assert.Equal(t, []string{"995", "996", "997", "998", "999"}, ids(ring.Snapshot()))
}

func TestRingRemove(t *testing.T) {
	ring := NewRing(4)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		ring.Push(msgWithID(id))
	}

	assert.True(t, ring.Remove("c"))
	assert.Equal(t, []string{"b", "d", "e"}, ids(ring.Snapshot()))

	assert.False(t, ring.Remove("a"), "evicted messages are gone")
	assert.False(t, ring.Remove("c"))

	ring.Push(msgWithID("f"))
	ring.Push(msgWithID("g"))
	assert.Equal(t, []string{"d", "e", "f", "g"}, ids(ring.Snapshot()))
}

func TestRingMinimumCapacity(t *testing.T) {
	ring := NewRing(0)
	assert.Equal(t, 1, ring.Cap())
	ring.Push(msgWithID("a"))
	evicted := ring.Push(msgWithID("b"))
	require.NotNil(t, evicted)
	assert.Equal(t, "a", evicted.ID)
}
