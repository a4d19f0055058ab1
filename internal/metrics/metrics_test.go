package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordIngestEvent(t *testing.T) {
	before := testutil.ToFloat64(IngestEventsTotal.WithLabelValues("publish", "accepted"))
	RecordIngestEvent("publish", "accepted")
	after := testutil.ToFloat64(IngestEventsTotal.WithLabelValues("publish", "accepted"))
	assert.Equal(t, before+1, after)
}

func TestRoomViewersLifecycle(t *testing.T) {
	SetRoomViewers("room-a", 3)
	assert.Equal(t, float64(3), testutil.ToFloat64(RoomViewers.WithLabelValues("room-a")))

	SetRoomViewers("room-a", 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(RoomViewers.WithLabelValues("room-a")))

	withRoom := testutil.CollectAndCount(RoomViewers)
	ForgetRoom("room-a")
	assert.Equal(t, withRoom-1, testutil.CollectAndCount(RoomViewers))
}

func TestRecordBackendRequest(t *testing.T) {
	RecordBackendRequest("validate", true, 20*time.Millisecond)
	RecordBackendRequest("validate", false, time.Second)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(BackendRequestDuration), 2)
}

func TestRecordChatRejection(t *testing.T) {
	before := testutil.ToFloat64(ChatRejectionsTotal.WithLabelValues("banned"))
	RecordChatRejection("banned")
	RecordChatRejection("banned")
	assert.Equal(t, before+2, testutil.ToFloat64(ChatRejectionsTotal.WithLabelValues("banned")))
}
