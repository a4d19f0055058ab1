package chat

import (
	"encoding/json"
	"testing"
	"time"

	utils "livecast/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeRelay(t *testing.T, msg RelayMessage) string {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	return string(data)
}

func TestRelayHandleSkipsOwnInstance(t *testing.T) {
	utils.InitDiscard()
	relay := NewRelay(nil, "chat", "instance-a")

	var received []*RelayMessage
	handler := func(msg *RelayMessage) { received = append(received, msg) }

	relay.handle(encodeRelay(t, RelayMessage{InstanceID: "instance-a", Room: "r", Event: EventChatMessage}), handler)
	assert.Empty(t, received)

	relay.handle(encodeRelay(t, RelayMessage{
		InstanceID: "instance-b",
		Room:       "r",
		Event:      EventSlowModeUpdate,
		Payload:    json.RawMessage(`{"enabled":true,"seconds":5}`),
		Timestamp:  time.Now(),
	}), handler)
	require.Len(t, received, 1)
	assert.Equal(t, "r", received[0].Room)
	assert.JSONEq(t, `{"enabled":true,"seconds":5}`, string(received[0].Payload))

	relay.handle("not json", handler)
	assert.Len(t, received, 1)
}

func TestRelayEnqueueDoesNotBlock(t *testing.T) {
	utils.InitDiscard()
	relay := NewRelay(nil, "chat", "instance-a")

	for i := 0; i < relayQueueSize+10; i++ {
		relay.Enqueue("r", EventChatMessage, []byte(`{}`))
	}
	assert.Len(t, relay.queue, relayQueueSize)

	msg := <-relay.queue
	assert.Equal(t, "instance-a", msg.InstanceID)
	assert.Equal(t, EventChatMessage, msg.Event)
}
