// Package metrics exposes Prometheus instruments for the ingest bridge,
// presence and chat.
//
// Usage:
//
//	metrics.RecordIngestEvent("publish", "accepted")
//	metrics.SetRoomViewers(roomID, count)
//	metrics.RecordChatRejection("banned")
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest

	// IngestEventsTotal counts ingest bridge events by kind and outcome.
	IngestEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livecast_ingest_events_total",
			Help: "Ingest bridge events by event and outcome",
		},
		[]string{"event", "outcome"},
	)

	// IngestReconciliationFailuresTotal counts confirmations that never found a pending record.
	IngestReconciliationFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livecast_ingest_reconciliation_failures_total",
			Help: "Publish confirmations that gave up waiting for validation",
		},
	)

	// IngestPollAttempts tracks how many polls a confirmation needed.
	IngestPollAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "livecast_ingest_poll_attempts",
			Help:    "Pending map polls needed per publish confirmation",
			Buckets: []float64{1, 2, 3, 5, 8, 10, 20},
		},
	)

	// BackendRequestDuration tracks ingest to backend calls.
	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "livecast_backend_request_duration_seconds",
			Help:    "Duration of ingest to backend notifications",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "outcome"},
	)

	// PendingPublishes is the current size of the pending map.
	PendingPublishes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "livecast_ingest_pending_publishes",
			Help: "Validated publishes awaiting confirmation or unpublish",
		},
	)

	// Sessions

	// LiveSessions is the number of sessions this process knows to be live.
	LiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "livecast_live_sessions",
			Help: "Stream sessions currently live",
		},
	)

	// Presence

	// RoomViewers is the presence count per room.
	RoomViewers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "livecast_room_viewers",
			Help: "Connections joined to a room",
		},
		[]string{"room"},
	)

	// ChatConnections is the number of open chat sockets.
	ChatConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "livecast_chat_connections",
			Help: "Open chat websocket connections",
		},
	)

	// Chat

	// ChatMessagesTotal counts accepted chat lines.
	ChatMessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livecast_chat_messages_total",
			Help: "Chat messages accepted and broadcast",
		},
	)

	// ChatRejectionsTotal counts rejected chat lines by reason.
	ChatRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livecast_chat_rejections_total",
			Help: "Chat messages rejected before broadcast",
		},
		[]string{"reason"},
	)

	// ModerationActionsTotal counts applied moderation actions.
	ModerationActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livecast_moderation_actions_total",
			Help: "Moderation actions applied",
		},
		[]string{"action"},
	)
)

func RecordIngestEvent(event, outcome string) {
	IngestEventsTotal.WithLabelValues(event, outcome).Inc()
}

func RecordBackendRequest(endpoint string, ok bool, duration time.Duration) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	BackendRequestDuration.WithLabelValues(endpoint, outcome).Observe(duration.Seconds())
}

func SetRoomViewers(room string, count int) {
	RoomViewers.WithLabelValues(room).Set(float64(count))
}

// ForgetRoom drops the per-room series once the room is closed.
func ForgetRoom(room string) {
	RoomViewers.DeleteLabelValues(room)
}

func RecordChatRejection(reason string) {
	ChatRejectionsTotal.WithLabelValues(reason).Inc()
}

func RecordModerationAction(action string) {
	ModerationActionsTotal.WithLabelValues(action).Inc()
}
