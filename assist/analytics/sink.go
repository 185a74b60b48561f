// Package analytics is a best-effort, batched event sink. Delivery failures
// are retried on the next flush and persisted to a local sqlite store, so
// analytics can never affect the chat/search critical path.
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Event is one analytics event.
type Event struct {
	Type      string         `json:"type"`
	SessionID string         `json:"sessionId"`
	UserID    string         `json:"userId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Config tunes the sink.
type Config struct {
	URL          string        // delivery endpoint; empty disables remote delivery
	FlushEvery   time.Duration // default 10s
	BatchSize    int           // default 20
	FallbackPath string        // sqlite file for undelivered batches; empty disables persistence
}

// maxQueued bounds the in-memory queue; beyond it the oldest events are
// dropped. Analytics is lossy by contract.
const maxQueued = 1000

// Sink batches events and flushes them in the background.
type Sink struct {
	cfg    Config
	client *http.Client
	store  *fallbackStore

	mu    sync.Mutex
	queue []Event

	done chan struct{}
	wg   sync.WaitGroup
}

// NewSink creates and starts a sink. Pending events from the fallback store
// are picked up again on the first flush.
func NewSink(cfg Config) (*Sink, error) {
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}

	s := &Sink{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		done:   make(chan struct{}),
	}
	if cfg.FallbackPath != "" {
		store, err := openFallbackStore(cfg.FallbackPath)
		if err != nil {
			// Persistence is an optimization; run without it.
			slog.Warn("analytics fallback store unavailable", "path", cfg.FallbackPath, "error", err)
		} else {
			s.store = store
		}
	}

	s.wg.Add(1)
	go s.loop()
	return s, nil
}

// Track enqueues an event. Never blocks on the network.
func (s *Sink) Track(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	if len(s.queue) > maxQueued {
		s.queue = s.queue[len(s.queue)-maxQueued:]
	}
	s.mu.Unlock()
}

// Close stops the flush loop, attempts one final flush and closes the store.
func (s *Sink) Close() {
	close(s.done)
	s.wg.Wait()
	s.flush()
	if s.store != nil {
		s.store.close()
	}
}

func (s *Sink) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.FlushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.flush()
		case <-s.done:
			return
		}
	}
}

func (s *Sink) flush() {
	s.mu.Lock()
	batch := s.queue
	s.queue = nil
	s.mu.Unlock()

	// Re-adopt previously failed events first.
	var (
		persistedIDs []int64
		persisted    int
	)
	if s.store != nil {
		stored, ids, err := s.store.load(s.cfg.BatchSize)
		if err == nil && len(stored) > 0 {
			batch = append(stored, batch...)
			persistedIDs = ids
			persisted = len(stored)
		}
	}
	if len(batch) == 0 {
		return
	}

	if s.cfg.URL == "" || !s.deliver(batch) {
		s.stash(batch, persisted)
		return
	}
	if s.store != nil && len(persistedIDs) > 0 {
		if err := s.store.delete(persistedIDs); err != nil {
			slog.Debug("failed to prune delivered analytics events", "error", err)
		}
	}
}

func (s *Sink) deliver(batch []Event) bool {
	payload, err := json.Marshal(batch)
	if err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Debug("analytics delivery failed", "error", err, "events", len(batch))
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode/100 == 2
}

// stash keeps undelivered events for the next flush: persisted when a store
// is available, re-queued in memory otherwise.
func (s *Sink) stash(batch []Event, persisted int) {
	if s.store != nil {
		fresh := batch[persisted:] // already-persisted rows stay put
		if err := s.store.save(fresh); err == nil {
			return
		}
	}
	s.mu.Lock()
	s.queue = append(batch, s.queue...)
	if len(s.queue) > maxQueued {
		s.queue = s.queue[:maxQueued]
	}
	s.mu.Unlock()
}
