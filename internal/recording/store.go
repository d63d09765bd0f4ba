// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package recording

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ManuGH/rokutuner/internal/config"
	"github.com/ManuGH/rokutuner/internal/domain"
)

// Status is the lifecycle state of a catalog entry.
type Status string

const (
	StatusRecording Status = "recording"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Stop reasons.
const (
	ReasonPlaybackEnded = "playback_ended"
	ReasonMaxDuration   = "max_duration"
	ReasonManual        = "manual"
	ReasonError         = "error"
	ReasonShutdown      = "shutdown"
)

// Entry is one recording in the catalog.
type Entry struct {
	ID        string    `json:"id"`
	Tuner     string    `json:"tuner"`
	ChannelID string    `json:"channel_id,omitempty"`
	Path      string    `json:"path"`
	Metadata  Metadata  `json:"metadata"`
	Status    Status    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
	Bytes     int64     `json:"bytes"`
}

// Duration is the captured wall-clock length.
func (e Entry) Duration() time.Duration {
	if e.EndedAt.IsZero() {
		return time.Since(e.StartedAt)
	}
	return e.EndedAt.Sub(e.StartedAt)
}

// Store persists the recording catalog.
type Store interface {
	Put(ctx context.Context, e Entry) error
	Get(ctx context.Context, id string) (Entry, error)
	List(ctx context.Context) ([]Entry, error)
	Close() error
}

// OpenStore opens the configured backend.
func OpenStore(cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
			return nil, fmt.Errorf("create catalog dir: %w", err)
		}
		return OpenSQLiteStore(cfg.Path)
	case "badger":
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create catalog dir: %w", err)
		}
		return OpenBadgerStore(cfg.Path)
	default:
		return nil, fmt.Errorf("%w: unknown recording store %q", domain.ErrConfigurationInvalid, cfg.Backend)
	}
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", domain.ErrRecordingNotFound, id)
}

func sortNewestFirst(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].StartedAt.After(entries[j].StartedAt)
	})
}

// MemoryStore keeps the catalog in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty in-memory catalog.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Put(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.ID] = e
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, notFound(id)
	}
	return e, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.mu.RUnlock()
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
