// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package recording

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/rokutuner/internal/config"
	"github.com/ManuGH/rokutuner/internal/domain"
)

func storeContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 5, 1, 18, 0, 0, 0, time.UTC)

	first := Entry{
		ID:        "a",
		Tuner:     "Living Room",
		Path:      "/rec/Movies/Heat (1995)/Heat (1995).ts",
		Metadata:  Metadata{Kind: KindMovie, Title: "Heat", Year: 1995, Summary: "Cops and robbers"},
		Status:    StatusRecording,
		StartedAt: base,
	}
	second := Entry{
		ID:        "b",
		Tuner:     "Den",
		ChannelID: "espn",
		Path:      "/rec/Recordings/x.ts",
		Metadata:  Metadata{Title: "x"},
		Status:    StatusRecording,
		StartedAt: base.Add(time.Hour),
	}
	require.NoError(t, s.Put(ctx, first))
	require.NoError(t, s.Put(ctx, second))

	first.Status = StatusCompleted
	first.Reason = ReasonPlaybackEnded
	first.EndedAt = base.Add(2 * time.Hour)
	first.Bytes = 4096
	require.NoError(t, s.Put(ctx, first))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	if diff := cmp.Diff(first, got); diff != "" {
		t.Errorf("entry mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2*time.Hour, got.Duration())

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID, "newest first")
	assert.Equal(t, "a", list[1].ID)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrRecordingNotFound)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	storeContract(t, s)
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenStore(config.StoreConfig{Backend: "sqlite", Path: filepath.Join(t.TempDir(), "catalog.sqlite")})
	require.NoError(t, err)
	defer s.Close()
	storeContract(t, s)
}

func TestBadgerStore(t *testing.T) {
	s, err := OpenStore(config.StoreConfig{Backend: "badger", Path: filepath.Join(t.TempDir(), "catalog.badger")})
	require.NoError(t, err)
	defer s.Close()
	storeContract(t, s)
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.sqlite")
	s, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), Entry{ID: "keep", Tuner: "T", Path: "/p", Status: StatusCompleted, StartedAt: time.Now().UTC().Truncate(time.Millisecond)}))
	require.NoError(t, s.Close())

	s, err = OpenSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(context.Background(), "keep")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestOpenStore_UnknownBackend(t *testing.T) {
	_, err := OpenStore(config.StoreConfig{Backend: "postgres"})
	assert.ErrorIs(t, err, domain.ErrConfigurationInvalid)
}
