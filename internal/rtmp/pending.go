package rtmp

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"livecast/internal/metrics"
)

// ErrPendingNotFound is returned when a confirmed publish has no validated entry.
var ErrPendingNotFound = errors.New("no pending publish for stream key")

// PendingPublish is a validated publish waiting for, or past, confirmation.
type PendingPublish struct {
	Key       string    `json:"-"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	StartedAt time.Time `json:"started_at"`
	Confirmed bool      `json:"confirmed"`
}

// PendingMap holds validated publishes keyed by stream key.
type PendingMap struct {
	mu      sync.RWMutex
	entries map[string]*PendingPublish
}

func NewPendingMap() *PendingMap {
	return &PendingMap{entries: make(map[string]*PendingPublish)}
}

func (p *PendingMap) Put(entry *PendingPublish) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := *entry
	p.entries[entry.Key] = &cp
	metrics.PendingPublishes.Set(float64(len(p.entries)))
}

// Add stores entry unless key already has one.
func (p *PendingMap) Add(entry *PendingPublish) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.entries[entry.Key]; exists {
		return false
	}
	cp := *entry
	p.entries[entry.Key] = &cp
	metrics.PendingPublishes.Set(float64(len(p.entries)))
	return true
}

// Get returns a copy of the entry for key.
func (p *PendingMap) Get(key string) (*PendingPublish, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	entry, ok := p.entries[key]
	if !ok {
		return nil, false
	}
	cp := *entry
	return &cp, true
}

func (p *PendingMap) MarkConfirmed(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.entries[key]; ok {
		entry.Confirmed = true
	}
}

func (p *PendingMap) Remove(key string) (*PendingPublish, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[key]
	delete(p.entries, key)
	metrics.PendingPublishes.Set(float64(len(p.entries)))
	return entry, ok
}

func (p *PendingMap) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// Snapshot lists the entries ordered by start time.
func (p *PendingMap) Snapshot() []PendingPublish {
	p.mu.RLock()
	out := make([]PendingPublish, 0, len(p.entries))
	for _, entry := range p.entries {
		out = append(out, *entry)
	}
	p.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Await polls for key up to attempts times, interval apart. It returns the
// entry and the number of attempts used.
func (p *PendingMap) Await(ctx context.Context, key string, attempts int, interval time.Duration) (*PendingPublish, int, error) {
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		if entry, ok := p.Get(key); ok {
			return entry, attempt, nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, attempt, ctx.Err()
		case <-time.After(interval):
		}
	}
	return nil, attempts, ErrPendingNotFound
}
