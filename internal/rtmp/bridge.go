package rtmp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"livecast/internal/metrics"
	utils "livecast/pkg/utils"
)

const (
	DefaultPollAttempts = 10
	DefaultPollInterval = 100 * time.Millisecond
	defaultNotifyWait   = 5 * time.Second
)

// ErrPublishActive is returned when a key already has a validated publish.
var ErrPublishActive = errors.New("stream key is already publishing")

// Packager turns a confirmed publish into viewer output.
type Packager interface {
	Start(entry *PendingPublish) error
	Stop(key string)
}

type BridgeConfig struct {
	PollAttempts  int
	PollInterval  time.Duration
	NotifyTimeout time.Duration
}

type confirmation struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Bridge reconciles ingest events with the backend's live state.
type Bridge struct {
	backend  Backend
	pending  *PendingMap
	packager Packager
	config   BridgeConfig

	mu       sync.Mutex
	inflight map[string]*confirmation
}

// NewBridge creates a bridge. packager may be nil.
func NewBridge(backend Backend, packager Packager, config BridgeConfig) *Bridge {
	if config.PollAttempts < 1 {
		config.PollAttempts = DefaultPollAttempts
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.NotifyTimeout <= 0 {
		config.NotifyTimeout = defaultNotifyWait
	}
	return &Bridge{
		backend:  backend,
		pending:  NewPendingMap(),
		packager: packager,
		config:   config,
		inflight: make(map[string]*confirmation),
	}
}

func (b *Bridge) Pending() *PendingMap {
	return b.pending
}

// OnPublishAttempt validates key with the backend. Any error means the
// publish must be refused. A key that already has an entry is refused with
// ErrPublishActive and the existing entry is left alone. On success the
// pending entry exists before this returns.
func (b *Bridge) OnPublishAttempt(ctx context.Context, key string) (*PendingPublish, error) {
	if key == "" {
		metrics.RecordIngestEvent("publish_attempt", "rejected")
		return nil, ErrKeyRejected
	}
	if _, exists := b.pending.Get(key); exists {
		metrics.RecordIngestEvent("publish_attempt", "duplicate")
		return nil, ErrPublishActive
	}

	result, err := b.backend.Validate(ctx, key)
	if err != nil {
		metrics.RecordIngestEvent("publish_attempt", "backend_error")
		return nil, fmt.Errorf("failed to validate stream key: %w", err)
	}
	if !result.Valid {
		metrics.RecordIngestEvent("publish_attempt", "rejected")
		return nil, ErrKeyRejected
	}

	entry := &PendingPublish{
		Key:       key,
		UserID:    result.UserID,
		Username:  result.Username,
		StartedAt: time.Now(),
	}
	if !b.pending.Add(entry) {
		metrics.RecordIngestEvent("publish_attempt", "duplicate")
		return nil, ErrPublishActive
	}
	metrics.RecordIngestEvent("publish_attempt", "accepted")
	utils.WithFields(map[string]interface{}{
		"user_id":  entry.UserID,
		"username": entry.Username,
	}).Info("Publish attempt accepted")
	return entry, nil
}

// OnPublishConfirmed finds the validated entry for key with a bounded poll
// and tells the backend the user is live. Failures are logged and returned
// but never affect the publishing connection.
func (b *Bridge) OnPublishConfirmed(ctx context.Context, key string) error {
	return b.startConfirmation(ctx, key)()
}

// ConfirmAsync registers the confirmation for key and runs it in the
// background. A later OnUnpublish for key always waits for it.
func (b *Bridge) ConfirmAsync(ctx context.Context, key string) <-chan error {
	run := b.startConfirmation(ctx, key)
	result := make(chan error, 1)
	go func() {
		result <- run()
	}()
	return result
}

func (b *Bridge) startConfirmation(ctx context.Context, key string) func() error {
	ctx, cancel := context.WithCancel(ctx)
	c := &confirmation{cancel: cancel, done: make(chan struct{})}

	b.mu.Lock()
	if prev, ok := b.inflight[key]; ok {
		prev.cancel()
	}
	b.inflight[key] = c
	b.mu.Unlock()

	return func() error {
		defer func() {
			cancel()
			b.mu.Lock()
			if b.inflight[key] == c {
				delete(b.inflight, key)
			}
			b.mu.Unlock()
			close(c.done)
		}()
		return b.confirm(ctx, key)
	}
}

func (b *Bridge) confirm(ctx context.Context, key string) error {
	entry, attempts, err := b.pending.Await(ctx, key, b.config.PollAttempts, b.config.PollInterval)
	metrics.IngestPollAttempts.Observe(float64(attempts))
	if err != nil {
		if errors.Is(err, ErrPendingNotFound) {
			metrics.IngestReconciliationFailuresTotal.Inc()
			metrics.RecordIngestEvent("publish_confirmed", "unreconciled")
			utils.Logger.Errorf("Publish confirmed without a validated entry after %d attempts", attempts)
		} else {
			metrics.RecordIngestEvent("publish_confirmed", "cancelled")
		}
		return err
	}

	notifyCtx, notifyCancel := context.WithTimeout(ctx, b.config.NotifyTimeout)
	err = b.backend.NotifyLive(notifyCtx, key, entry.UserID)
	notifyCancel()
	if err != nil {
		metrics.RecordIngestEvent("publish_confirmed", "backend_error")
		utils.Logger.Errorf("Failed to notify live for %s: %v", entry.Username, err)
		return fmt.Errorf("failed to notify live: %w", err)
	}

	b.pending.MarkConfirmed(key)
	metrics.RecordIngestEvent("publish_confirmed", "live")
	utils.Logger.Infof("Stream for %s is live", entry.Username)

	if b.packager != nil {
		if err := b.packager.Start(entry); err != nil {
			utils.Logger.Errorf("Failed to start HLS packaging for %s: %v", entry.Username, err)
		}
	}
	return nil
}

// OnUnpublish stops any confirmation still running for key, tells the
// backend the stream ended and forgets the entry.
func (b *Bridge) OnUnpublish(ctx context.Context, key string) {
	b.mu.Lock()
	c, ok := b.inflight[key]
	b.mu.Unlock()
	if ok {
		c.cancel()
		<-c.done
	}

	if b.packager != nil {
		b.packager.Stop(key)
	}

	entry, ok := b.pending.Remove(key)
	if !ok {
		return
	}

	notifyCtx, cancel := context.WithTimeout(ctx, b.config.NotifyTimeout)
	defer cancel()
	if err := b.backend.NotifyEnded(notifyCtx, key, entry.UserID); err != nil {
		metrics.RecordIngestEvent("unpublish", "backend_error")
		utils.Logger.Errorf("Failed to notify end of stream for %s: %v", entry.Username, err)
		return
	}
	metrics.RecordIngestEvent("unpublish", "ended")
	utils.Logger.Infof("Stream for %s ended", entry.Username)
}
