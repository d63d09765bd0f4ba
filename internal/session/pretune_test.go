// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/rokutuner/internal/domain"
	"github.com/ManuGH/rokutuner/internal/ecp"
	"github.com/ManuGH/rokutuner/internal/recording"
)

func TestPretune_StageCommitAndTake(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	state, err := h.engine.StartPretune(ctx, "")
	require.NoError(t, err)
	assert.True(t, state.Active)
	assert.False(t, state.Committed)
	assert.Equal(t, "A", state.Tuner)
	assert.Equal(t, domain.TunerLocked, h.status("A").Status)

	_, err = h.engine.StartPretune(ctx, "")
	require.ErrorIs(t, err, domain.ErrPretuneActive)

	require.NoError(t, h.engine.PretuneLaunch(ctx, "movies"))
	require.NoError(t, h.engine.PretuneLaunch(ctx, "2285"))
	require.NoError(t, h.engine.PretuneKeypress(ctx, "Down"))
	require.ErrorIs(t, h.engine.PretuneKeypress(ctx, " "), domain.ErrInvalidRequest)
	assert.Equal(t, []string{"launch:12", "launch:2285", "key:Down"}, h.device("10.0.0.1:8060").Calls())

	_, err = h.engine.TakeCommitted(ctx, "")
	require.ErrorIs(t, err, domain.ErrNoPretuneSession, "uncommitted stage is not handed out")

	state, err = h.engine.CommitPretune()
	require.NoError(t, err)
	assert.True(t, state.Committed)

	s, err := h.engine.TakeCommitted(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, state.SessionID, s.ID())
	assert.False(t, h.engine.Pretune().Active, "taking the stage clears it")

	_, err = h.engine.TakeCommitted(ctx, "")
	require.ErrorIs(t, err, domain.ErrNoPretuneSession, "a commit is taken once")

	relayCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Relay(relayCtx, io.Discard))
	assert.Equal(t, domain.TunerStreaming, h.status("A").Status)

	require.NoError(t, s.Close())
	assert.Equal(t, domain.TunerIdle, h.status("A").Status)
}

func TestPretune_StopReleasesStage(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	require.ErrorIs(t, h.engine.StopPretune(), domain.ErrNoPretuneSession)
	require.ErrorIs(t, h.engine.PretuneKeypress(ctx, "Down"), domain.ErrNoPretuneSession)
	_, err := h.engine.CommitPretune()
	require.ErrorIs(t, err, domain.ErrNoPretuneSession)

	_, err = h.engine.StartPretune(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, domain.TunerLocked, h.status("B").Status)

	require.NoError(t, h.engine.StopPretune())
	assert.Equal(t, domain.TunerIdle, h.status("B").Status)
	assert.False(t, h.engine.Pretune().Active)
	assert.Equal(t, 1, h.device("10.0.0.2:8060").count("key:Home"))

	_, err = h.engine.StartPretune(ctx, "")
	require.NoError(t, err, "a new stage can start after stop")
}

func TestPretune_ReleasedTunerClearsStage(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	_, err := h.engine.StartPretune(context.Background(), "A")
	require.NoError(t, err)

	require.NoError(t, h.engine.Release(context.Background(), "A"))
	assert.False(t, h.engine.Pretune().Active)
}

func movie() recording.Metadata {
	return recording.Metadata{Kind: recording.KindMovie, Title: "Heat", Year: 1995}
}

func TestStartRecording_StageFinishesOnPlaybackEnd(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()
	dev := h.device("10.0.0.1:8060")
	dev.states = []ecp.PlayerState{
		{State: ecp.PlayerPlay, PluginID: "12", Position: time.Minute},
		{State: ecp.PlayerPlay, PluginID: "12", Position: 2 * time.Minute},
		{State: ecp.PlayerPlay, PluginID: "12", Position: 3 * time.Minute},
		{State: ecp.PlayerStop},
	}

	_, err := h.engine.StartPretune(ctx, "")
	require.NoError(t, err)

	entry, err := h.engine.StartRecording(ctx, RecordRequest{Metadata: movie()})
	require.NoError(t, err)
	assert.Equal(t, recording.StatusRecording, entry.Status)
	assert.Equal(t, "A", entry.Tuner)
	assert.False(t, h.engine.Pretune().Active, "the stage became a recording session")
	assert.Equal(t, domain.TunerRecording, h.status("A").Status)

	h.waitIdle(t, "A")

	entries, err := h.engine.ListRecordings(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entry.ID, entries[0].ID)
	assert.Equal(t, recording.StatusCompleted, entries[0].Status)
	assert.Equal(t, recording.ReasonPlaybackEnded, entries[0].Reason)

	info, err := os.Stat(entries[0].Path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestStartRecording_ChannelManualStop(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	entry, err := h.engine.StartRecording(ctx, RecordRequest{ChannelID: "news", Metadata: movie(), Padding: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, "news", entry.ChannelID)
	assert.Equal(t, domain.TunerRecording, h.status("A").Status)

	live, err := h.engine.ListRecordings(ctx)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, recording.StatusRecording, live[0].Status)

	stopped, err := h.engine.StopRecording(entry.ID)
	require.NoError(t, err)
	assert.Equal(t, recording.ReasonManual, stopped.Reason)
	h.waitIdle(t, "A")

	_, err = h.engine.StopRecording(entry.ID)
	require.ErrorIs(t, err, domain.ErrRecordingNotFound)
}

func TestStartRecording_StreamFailureFailsCapture(t *testing.T) {
	// the transcoder dies only after the capture is attached
	h := newHarness(t, harnessOptions{
		transcoder: script("head -c 4000; sleep 0.3; echo 'aac: codec failure' >&2; exit 3"),
	})
	ctx := context.Background()

	entry, err := h.engine.StartRecording(ctx, RecordRequest{ChannelID: "news", Mode: "reencode", Metadata: movie()})
	require.NoError(t, err)

	h.waitIdle(t, "A")

	var final recording.Entry
	require.Eventually(t, func() bool {
		entries, err := h.engine.ListRecordings(ctx)
		if err != nil || len(entries) != 1 {
			return false
		}
		final = entries[0]
		return final.Status != recording.StatusRecording
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, entry.ID, final.ID)
	assert.Equal(t, recording.StatusFailed, final.Status)
	assert.Equal(t, recording.ReasonError, final.Reason)
	assert.NotEmpty(t, final.Error)
	_, err = os.Stat(final.Path)
	assert.True(t, os.IsNotExist(err), "truncated recording must be removed")
}

func TestRecordingStopReason(t *testing.T) {
	assert.Equal(t, recording.ReasonError, recordingStopReason(closeStreamEnded))
	assert.Equal(t, recording.ReasonError, recordingStopReason(closeFailed))
	assert.Equal(t, recording.ReasonShutdown, recordingStopReason(closeShutdown))
	assert.Equal(t, recording.ReasonManual, recordingStopReason(closeRequested))
	assert.Equal(t, recording.ReasonManual, recordingStopReason(closeReleased))
}

func TestStartRecording_RejectsBadRequests(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	_, err := h.engine.StartRecording(ctx, RecordRequest{Metadata: movie()})
	require.ErrorIs(t, err, domain.ErrNoPretuneSession)

	_, err = h.engine.StartPretune(ctx, "")
	require.NoError(t, err)

	_, err = h.engine.StartRecording(ctx, RecordRequest{Metadata: recording.Metadata{Kind: recording.KindMovie}})
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
	_, err = h.engine.StartRecording(ctx, RecordRequest{Metadata: movie(), Padding: -time.Second})
	require.ErrorIs(t, err, domain.ErrInvalidRequest)

	assert.True(t, h.engine.Pretune().Active, "invalid requests leave the stage alone")
}
