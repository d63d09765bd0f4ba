// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package recording

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/rokutuner/internal/domain"
	"github.com/ManuGH/rokutuner/internal/ecp"
)

// liveReader yields TS-sized chunks until closed.
type liveReader struct {
	closed atomic.Bool
}

func (r *liveReader) Read(p []byte) (int, error) {
	if r.closed.Load() {
		return 0, errors.New("stream closed")
	}
	time.Sleep(2 * time.Millisecond)
	n := min(len(p), 188)
	for i := 0; i < n; i++ {
		p[i] = 0x47
	}
	return n, nil
}

// scriptedPlayer replays states; the last one repeats.
type scriptedPlayer struct {
	mu     sync.Mutex
	states []ecp.PlayerState
	err    error
	polls  int
}

func (p *scriptedPlayer) MediaPlayer(context.Context) (ecp.PlayerState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.polls++
	if p.err != nil {
		return ecp.PlayerState{}, p.err
	}
	st := p.states[0]
	if len(p.states) > 1 {
		p.states = p.states[1:]
	}
	return st, nil
}

type recordingHandoff struct {
	mu   sync.Mutex
	jobs []Job
}

func (h *recordingHandoff) Submit(_ context.Context, job Job) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.jobs = append(h.jobs, job)
	return nil
}

func (h *recordingHandoff) Close() error { return nil }

func (h *recordingHandoff) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.jobs)
}

func newTestRecorder(t *testing.T, opts Options, factory CommandFactory) (*Recorder, *MemoryStore, *recordingHandoff) {
	t.Helper()
	opts.Root = t.TempDir()
	if opts.PollInterval == 0 {
		opts.PollInterval = 20 * time.Millisecond
	}
	if opts.MaxDuration == 0 {
		opts.MaxDuration = 10 * time.Second
	}
	if opts.KillGrace == 0 {
		opts.KillGrace = 500 * time.Millisecond
	}
	store := NewMemoryStore()
	handoff := &recordingHandoff{}
	r := NewRecorder(opts, store, handoff)
	if factory == nil {
		// write stdin to the output path, the last capture argument
		factory = func(_ string, args ...string) *exec.Cmd {
			return exec.Command("sh", "-c", `exec cat > "$1"`, "sh", args[len(args)-1])
		}
	}
	r.WithCommandFactory(factory)
	return r, store, handoff
}

func waitDone(t *testing.T, rc *Recording, within time.Duration) Entry {
	t.Helper()
	select {
	case <-rc.Done():
		return rc.Entry()
	case <-time.After(within):
		t.Fatalf("recording %s did not finish within %s", rc.ID(), within)
		return Entry{}
	}
}

func movie() Metadata {
	return Metadata{Kind: KindMovie, Title: "Heat", Year: 1995, Summary: "Cops and robbers"}
}

func TestRecorder_StopsOnPlaybackEnd(t *testing.T) {
	r, store, handoff := newTestRecorder(t, Options{}, nil)
	src := &liveReader{}
	defer src.closed.Store(true)
	player := &scriptedPlayer{states: []ecp.PlayerState{
		{State: ecp.PlayerPlay, PluginID: "12", Position: time.Minute},
		{State: ecp.PlayerPlay, PluginID: "12", Position: 2 * time.Minute},
		{State: ecp.PlayerPlay, PluginID: "12", Position: 3 * time.Minute},
		{State: ecp.PlayerStop},
	}}

	var finished atomic.Int32
	rc, err := r.Start(context.Background(), Params{
		Tuner:    "Living Room",
		Source:   src,
		Player:   player,
		Metadata: movie(),
		OnFinish: func(Entry) { finished.Add(1) },
	})
	require.NoError(t, err)

	e := waitDone(t, rc, 5*time.Second)
	assert.Equal(t, StatusCompleted, e.Status)
	assert.Equal(t, ReasonPlaybackEnded, e.Reason)
	assert.Positive(t, e.Bytes)
	assert.Equal(t, int32(1), finished.Load())

	info, err := os.Stat(e.Path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	stored, err := store.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
	assert.Equal(t, 1, handoff.count())
	assert.Empty(t, r.Active())
}

func TestRecorder_PaddingExtendsCapture(t *testing.T) {
	r, _, _ := newTestRecorder(t, Options{}, nil)
	src := &liveReader{}
	defer src.closed.Store(true)
	player := &scriptedPlayer{states: []ecp.PlayerState{
		{State: ecp.PlayerPlay, PluginID: "12"},
		{State: ecp.PlayerStop},
	}}

	padding := 300 * time.Millisecond
	rc, err := r.Start(context.Background(), Params{Tuner: "T", Source: src, Player: player, Metadata: movie(), Padding: padding})
	require.NoError(t, err)

	e := waitDone(t, rc, 5*time.Second)
	assert.Equal(t, ReasonPlaybackEnded, e.Reason)
	assert.GreaterOrEqual(t, e.Duration(), padding)
}

func TestRecorder_UnreachablePlayerBoundedByMaxDuration(t *testing.T) {
	r, _, handoff := newTestRecorder(t, Options{MaxDuration: 250 * time.Millisecond}, nil)
	src := &liveReader{}
	defer src.closed.Store(true)
	player := &scriptedPlayer{err: errors.New("dial tcp: connection refused")}

	rc, err := r.Start(context.Background(), Params{Tuner: "T", Source: src, Player: player, Metadata: movie()})
	require.NoError(t, err)

	e := waitDone(t, rc, 3*time.Second)
	assert.Equal(t, ReasonMaxDuration, e.Reason)
	assert.Equal(t, StatusCompleted, e.Status)
	assert.Equal(t, 1, handoff.count())
}

func TestRecorder_ManualStop(t *testing.T) {
	r, _, _ := newTestRecorder(t, Options{}, nil)
	src := &liveReader{}
	defer src.closed.Store(true)
	player := &scriptedPlayer{states: []ecp.PlayerState{{State: ecp.PlayerPlay, PluginID: "12"}}}

	rc, err := r.Start(context.Background(), Params{Tuner: "T", Source: src, Player: player, Metadata: movie()})
	require.NoError(t, err)
	require.Len(t, r.Active(), 1)

	e, err := r.Stop(rc.ID())
	require.NoError(t, err)
	assert.Equal(t, ReasonManual, e.Reason)
	assert.Equal(t, StatusCompleted, e.Status)

	// second stop after finalisation is a lookup miss
	_, err = r.Stop(rc.ID())
	assert.ErrorIs(t, err, domain.ErrRecordingNotFound)
	// the handle itself stays usable
	assert.Equal(t, ReasonManual, rc.Stop(ReasonManual).Reason)
}

func TestRecorder_CaptureFailureDiscardsOutput(t *testing.T) {
	failing := func(_ string, args ...string) *exec.Cmd {
		return exec.Command("sh", "-c", `head -c 500 > "$1"; echo 'muxer error' >&2; exit 2`, "sh", args[len(args)-1])
	}
	r, store, handoff := newTestRecorder(t, Options{}, failing)
	src := &liveReader{}
	defer src.closed.Store(true)
	player := &scriptedPlayer{states: []ecp.PlayerState{{State: ecp.PlayerPlay}}}

	rc, err := r.Start(context.Background(), Params{Tuner: "T", Source: src, Player: player, Metadata: movie()})
	require.NoError(t, err)

	e := waitDone(t, rc, 5*time.Second)
	assert.Equal(t, StatusFailed, e.Status)
	assert.Equal(t, ReasonError, e.Reason)
	assert.Contains(t, e.Error, "muxer error")
	assert.Zero(t, handoff.count())

	_, err = os.Stat(e.Path)
	assert.True(t, os.IsNotExist(err), "partial output must be removed")

	stored, err := store.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
}

// failingReader delivers limit bytes, then fails like a dead transcoder.
type failingReader struct {
	limit int
	sent  int
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.sent >= r.limit {
		return 0, fmt.Errorf("%w: transcoder exited: exit status 3", domain.ErrTranscodeFailure)
	}
	time.Sleep(time.Millisecond)
	n := min(len(p), 188, r.limit-r.sent)
	for i := 0; i < n; i++ {
		p[i] = 0x47
	}
	r.sent += n
	return n, nil
}

func TestRecorder_SourceFailureDiscardsOutput(t *testing.T) {
	// the capture keeps running after stdin closes, so only the feed error ends it
	lingering := func(_ string, args ...string) *exec.Cmd {
		return exec.Command("sh", "-c", `cat > "$1"; sleep 30`, "sh", args[len(args)-1])
	}
	r, store, handoff := newTestRecorder(t, Options{}, lingering)
	player := &scriptedPlayer{states: []ecp.PlayerState{{State: ecp.PlayerPlay}}}

	rc, err := r.Start(context.Background(), Params{Tuner: "T", Source: &failingReader{limit: 4000}, Player: player, Metadata: movie()})
	require.NoError(t, err)

	e := waitDone(t, rc, 5*time.Second)
	assert.Equal(t, StatusFailed, e.Status)
	assert.Equal(t, ReasonError, e.Reason)
	assert.Contains(t, e.Error, "transcoder exited")
	assert.Zero(t, handoff.count(), "failed captures are not tagged")

	_, err = os.Stat(e.Path)
	assert.True(t, os.IsNotExist(err), "partial output must be removed")

	stored, err := store.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
}

func TestRecorder_ShutdownStopsAll(t *testing.T) {
	r, _, _ := newTestRecorder(t, Options{}, nil)
	player := &scriptedPlayer{states: []ecp.PlayerState{{State: ecp.PlayerPlay}}}

	var recs []*Recording
	for _, title := range []string{"One", "Two"} {
		src := &liveReader{}
		defer src.closed.Store(true)
		rc, err := r.Start(context.Background(), Params{Tuner: title, Source: src, Player: player, Metadata: Metadata{Title: title}})
		require.NoError(t, err)
		recs = append(recs, rc)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))
	for _, rc := range recs {
		assert.Equal(t, ReasonShutdown, rc.Entry().Reason)
	}
}

func TestRecorder_RejectsBadParams(t *testing.T) {
	r, _, _ := newTestRecorder(t, Options{}, nil)
	_, err := r.Start(context.Background(), Params{Tuner: "T", Source: &liveReader{}, Player: &scriptedPlayer{}, Metadata: Metadata{Kind: KindMovie}})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = r.Start(context.Background(), Params{Tuner: "T", Metadata: movie()})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = r.Start(context.Background(), Params{Tuner: "T", Source: &liveReader{}, Player: &scriptedPlayer{}, Metadata: movie(), Padding: -time.Second})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}
