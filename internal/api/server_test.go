// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/rokutuner/internal/config"
	"github.com/ManuGH/rokutuner/internal/domain"
	"github.com/ManuGH/rokutuner/internal/hdhr"
	"github.com/ManuGH/rokutuner/internal/recording"
	"github.com/ManuGH/rokutuner/internal/session"
	"github.com/ManuGH/rokutuner/internal/tuner"
)

// fakeEngine records control calls and fails every operation with err.
type fakeEngine struct {
	mu       sync.Mutex
	err      error
	calls    []string
	pretune  session.PretuneState
	recorded session.RecordRequest
}

func (f *fakeEngine) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeEngine) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeEngine) AcquireAndTune(_ context.Context, req session.Request) (*session.Session, error) {
	err := f.record("tune:" + req.ChannelID + ":" + req.TunerName + ":" + req.Mode)
	if err == nil {
		err = domain.ErrNoTunerAvailable
	}
	return nil, err
}

func (f *fakeEngine) TakeCommitted(context.Context, string) (*session.Session, error) {
	_ = f.record("take")
	return nil, domain.ErrNoPretuneSession
}

func (f *fakeEngine) Status() []tuner.Status {
	return []tuner.Status{{Name: "A", RokuAddress: "10.0.0.1:8060", Status: domain.TunerStreaming, Owner: "s1"}}
}

func (f *fakeEngine) Sessions() []session.Info {
	return []session.Info{{ID: "s1", Kind: session.KindChannel, Tuner: "A", ChannelID: "news"}}
}

func (f *fakeEngine) TunerCount() int { return 3 }

func (f *fakeEngine) Release(_ context.Context, name string) error {
	return f.record("release:" + name)
}

func (f *fakeEngine) Pretune() session.PretuneState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pretune
}

func (f *fakeEngine) StartPretune(_ context.Context, name string) (session.PretuneState, error) {
	if err := f.record("pretune.start:" + name); err != nil {
		return session.PretuneState{}, err
	}
	return session.PretuneState{Active: true, Tuner: "A"}, nil
}

func (f *fakeEngine) StopPretune() error { return f.record("pretune.stop") }

func (f *fakeEngine) CommitPretune() (session.PretuneState, error) {
	if err := f.record("pretune.commit"); err != nil {
		return session.PretuneState{}, err
	}
	return session.PretuneState{Active: true, Committed: true}, nil
}

func (f *fakeEngine) PretuneLaunch(_ context.Context, appID string) error {
	return f.record("pretune.launch:" + appID)
}

func (f *fakeEngine) PretuneKeypress(_ context.Context, key string) error {
	return f.record("pretune.key:" + key)
}

func (f *fakeEngine) StartRecording(_ context.Context, req session.RecordRequest) (recording.Entry, error) {
	f.mu.Lock()
	f.recorded = req
	f.mu.Unlock()
	if err := f.record("record"); err != nil {
		return recording.Entry{}, err
	}
	return recording.Entry{ID: "r1", Status: recording.StatusRecording, Metadata: req.Metadata}, nil
}

func (f *fakeEngine) StopRecording(id string) (recording.Entry, error) {
	if err := f.record("record.stop:" + id); err != nil {
		return recording.Entry{}, err
	}
	return recording.Entry{ID: id, Status: recording.StatusCompleted, Reason: recording.ReasonManual}, nil
}

func (f *fakeEngine) ListRecordings(context.Context) ([]recording.Entry, error) {
	return nil, f.record("record.list")
}

type fakeHolder struct {
	mu        sync.Mutex
	cfg       config.AppConfig
	next      *config.AppConfig
	reloadErr error
	reloads   int
}

func (h *fakeHolder) Get() config.AppConfig {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cfg
}

func (h *fakeHolder) Reload(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reloads++
	if h.reloadErr != nil {
		return h.reloadErr
	}
	if h.next != nil {
		h.cfg = *h.next
	}
	return nil
}

type fakeCatalog struct {
	saved    []config.Channel
	saveErr  error
	onSave   func([]config.Tuner, []config.Channel)
	lastApps []config.OnDemandApp
}

func (c *fakeCatalog) Save(_ config.AppConfig, tuners []config.Tuner, channels []config.Channel, apps []config.OnDemandApp) error {
	if c.saveErr != nil {
		return c.saveErr
	}
	c.saved = channels
	c.lastApps = apps
	if c.onSave != nil {
		c.onSave(tuners, channels)
	}
	return nil
}

type fixture struct {
	engine  *fakeEngine
	holder  *fakeHolder
	catalog *fakeCatalog
	server  *Server
}

func newFixture(t *testing.T, mutate func(*config.AppConfig)) *fixture {
	t.Helper()
	cfg := config.Defaults()
	cfg.API.RateLimit = 0
	cfg.Tuners = []config.Tuner{{Name: "A", RokuAddress: "10.0.0.1", EncoderURL: "http://10.0.1.1/stream"}}
	cfg.Channels = []config.Channel{{ID: "news", Name: "News", RokuAppID: "12"}}
	if mutate != nil {
		mutate(&cfg)
	}
	f := &fixture{engine: &fakeEngine{}, holder: &fakeHolder{cfg: cfg}, catalog: &fakeCatalog{}}
	f.server = New(Deps{Engine: f.engine, Config: f.holder, Catalog: f.catalog, Version: "1.0.0-test"})
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type statusBody struct {
	Version string `json:"version"`
	Tuners  []struct {
		Name      string `json:"name"`
		Status    string `json:"status"`
		SessionID string `json:"session_id"`
	} `json:"tuners"`
	Sessions []session.Info       `json:"sessions"`
	Pretune  session.PretuneState `json:"pretune"`
}

func TestStatus(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.pretune = session.PretuneState{Active: true, Tuner: "A"}

	rec := f.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	body := decode[statusBody](t, rec)

	assert.Equal(t, "1.0.0-test", body.Version)
	require.Len(t, body.Tuners, 1)
	assert.Equal(t, "streaming", body.Tuners[0].Status)
	assert.Equal(t, "s1", body.Tuners[0].SessionID)
	require.Len(t, body.Sessions, 1)
	assert.Equal(t, "news", body.Sessions[0].ChannelID)
	assert.True(t, body.Pretune.Active)
}

func TestStream_ErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{domain.ErrNoTunerAvailable, http.StatusServiceUnavailable, "NO_TUNER_AVAILABLE"},
		{fmt.Errorf("%w: news", domain.ErrChannelNotFound), http.StatusNotFound, "CHANNEL_NOT_FOUND"},
		{domain.ErrTunerNotFound, http.StatusNotFound, "TUNER_NOT_FOUND"},
		{domain.ErrDeviceUnreachable, http.StatusBadGateway, "DEVICE_UNREACHABLE"},
		{domain.ErrSourceUnreachable, http.StatusBadGateway, "SOURCE_UNREACHABLE"},
		{domain.ErrTranscodeFailure, http.StatusBadGateway, "TRANSCODE_FAILURE"},
		{domain.ErrInvalidRequest, http.StatusBadRequest, "INVALID_REQUEST"},
		{domain.ErrConfigurationInvalid, http.StatusUnprocessableEntity, "CONFIGURATION_INVALID"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			f := newFixture(t, nil)
			f.engine.err = tt.err

			rec := f.do(t, http.MethodGet, "/stream/news?mode=remux&tuner=A", "")
			assert.Equal(t, tt.status, rec.Code)
			body := decode[errorResponse](t, rec)
			assert.Equal(t, tt.code, body.Error)
			assert.NotEmpty(t, body.RequestID)

			if tt.status == http.StatusServiceUnavailable {
				assert.Equal(t, "805", rec.Header().Get(domain.HDHomeRunErrorHeader))
			} else {
				assert.Empty(t, rec.Header().Get(domain.HDHomeRunErrorHeader))
			}
			assert.Equal(t, []string{"tune:news:A:remux"}, f.engine.Calls())
		})
	}
}

func TestStream_EscapedChannelID(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.err = domain.ErrChannelNotFound
	f.do(t, http.MethodGet, "/stream/sports%20hd", "")
	assert.Equal(t, []string{"tune:sports hd::"}, f.engine.Calls())
}

func TestOnDemandStream_NoCommit(t *testing.T) {
	for _, path := range []string{"/stream/ondemand", "/stream/ondemand_stream"} {
		t.Run(path, func(t *testing.T) {
			f := newFixture(t, nil)
			rec := f.do(t, http.MethodGet, path, "")
			assert.Equal(t, http.StatusNotFound, rec.Code)
			assert.Equal(t, "NO_PRETUNE_SESSION", decode[errorResponse](t, rec).Error)
			assert.Equal(t, []string{"take"}, f.engine.Calls(), "ondemand is not treated as a channel id")
		})
	}
}

func TestPretuneRoutes(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/pretune/start?tuner=A", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[session.PretuneState](t, rec).Active)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/pretune/launch/2285", "").Code)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/api/pretune/keypress/Down", "").Code)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/api/pretune/keypress/Lit_%20", "").Code)

	rec = f.do(t, http.MethodPost, "/api/pretune/commit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[session.PretuneState](t, rec).Committed)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/pretune/stop", "").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/pretune", "").Code)

	want := []string{
		"pretune.start:A",
		"pretune.launch:2285",
		"pretune.key:Down",
		"pretune.key:Lit_ ",
		"pretune.commit",
		"pretune.stop",
	}
	if diff := cmp.Diff(want, f.engine.Calls()); diff != "" {
		t.Errorf("engine calls mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodGet, "/api/pretune/start", "").Code)
}

func TestPretuneRoutes_Errors(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.err = domain.ErrPretuneActive
	rec := f.do(t, http.MethodPost, "/api/pretune/start", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	f.engine.err = domain.ErrNoPretuneSession
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/pretune/commit", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/pretune/keypress/Down", "").Code)
}

func TestReleaseTuner(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/api/tuners/A/release", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"released": "A"}, decode[map[string]string](t, rec))

	f.engine.err = domain.ErrTunerNotFound
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/tuners/Z/release", "").Code)
	assert.Equal(t, []string{"release:A", "release:Z"}, f.engine.Calls())
}

func TestRecordings(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/recordings",
		`{"channel_id":"news","metadata":{"type":"movie","title":"Heat","year":1995},"padding_seconds":90}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	entry := decode[recording.Entry](t, rec)
	assert.Equal(t, "r1", entry.ID)
	assert.Equal(t, "Heat", entry.Metadata.Title)

	f.engine.mu.Lock()
	got := f.engine.recorded
	f.engine.mu.Unlock()
	assert.Equal(t, "news", got.ChannelID)
	assert.Equal(t, 90*time.Second, got.Padding)
	assert.Equal(t, recording.KindMovie, got.Metadata.Kind)

	rec = f.do(t, http.MethodDelete, "/api/recordings/r1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, recording.ReasonManual, decode[recording.Entry](t, rec).Reason)

	rec = f.do(t, http.MethodGet, "/api/recordings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestRecordings_BadRequests(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/recordings", `{"metadata":{"title":"x"},"bogus":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/recordings", `{"metadata":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/recordings", `{"metadata":{"title":"x"},"padding_seconds":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.engine.Calls(), "rejected before reaching the engine")

	f.engine.err = session.ErrRecordingDisabled
	rec = f.do(t, http.MethodPost, "/api/recordings", `{"metadata":{"title":"x"}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	f.engine.err = domain.ErrRecordingNotFound
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/api/recordings/nope", "").Code)
}

func TestConfigReload(t *testing.T) {
	f := newFixture(t, nil)
	next := f.holder.Get()
	next.Channels = append(next.Channels, config.Channel{ID: "sports", RokuAppID: "34"})
	f.holder.next = &next

	rec := f.do(t, http.MethodPost, "/api/config/reload", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, reloadResponse{Status: "reloaded", Tuners: 1, Channels: 2}, decode[reloadResponse](t, rec))

	f.holder.reloadErr = fmt.Errorf("load config: yaml: line 3: did not find expected key")
	rec = f.do(t, http.MethodPost, "/api/config/reload", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "CONFIGURATION_INVALID", decode[errorResponse](t, rec).Error)
	assert.Len(t, f.holder.Get().Channels, 2, "failed reload keeps the running snapshot")
}

func TestCatalog(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/config/catalog", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[catalog](t, rec)
	require.Len(t, got.Channels, 1)
	assert.Equal(t, "news", got.Channels[0].ID)

	f.catalog.onSave = func(tuners []config.Tuner, channels []config.Channel) {
		next := f.holder.Get()
		next.Tuners = tuners
		next.Channels = channels
		f.holder.next = &next
	}
	rec = f.do(t, http.MethodPut, "/api/config/catalog",
		`{"tuners":[{"name":"A","roku_ip":"10.0.0.1","encoder_url":"http://10.0.1.1/stream"}],
		  "channels":[{"id":"news","name":"News","roku_app_id":"12"},{"id":"movies","name":"Movies","roku_app_id":"13"}],
		  "ondemand_apps":[{"id":"yt","name":"YouTube","roku_app_id":"837"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, decode[reloadResponse](t, rec).Channels)
	assert.Len(t, f.catalog.saved, 2)
	assert.Equal(t, "837", f.catalog.lastApps[0].RokuAppID)
	assert.Equal(t, 1, f.holder.reloads)

	f.catalog.saveErr = fmt.Errorf("%w: duplicate channel id", domain.ErrConfigurationInvalid)
	rec = f.do(t, http.MethodPut, "/api/config/catalog", `{"channels":[]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, 1, f.holder.reloads, "rejected catalog is not reloaded")
}

func TestCatalog_NotConfigured(t *testing.T) {
	f := newFixture(t, nil)
	f.server = New(Deps{Engine: f.engine, Config: f.holder})
	rec := f.do(t, http.MethodPut, "/api/config/catalog", `{}`)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestLogs(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/api/logs?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.LessOrEqual(t, len(entries), 5)
}

func TestHDHomeRunRoutes(t *testing.T) {
	f := newFixture(t, func(cfg *config.AppConfig) {
		cfg.API.BaseURL = "http://bridge.lan:5000"
	})

	rec := f.do(t, http.MethodGet, "/discover.json", "")
	require.Equal(t, http.StatusOK, rec.Code)
	disc := decode[hdhr.DiscoverResponse](t, rec)
	assert.Equal(t, 3, disc.TunerCount)
	assert.Equal(t, "R0KU7UNE", disc.DeviceID)

	rec = f.do(t, http.MethodGet, "/lineup.json", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []hdhr.LineupEntry{
		{GuideNumber: "news", GuideName: "News", URL: "http://bridge.lan:5000/stream/news"},
	}, decode[[]hdhr.LineupEntry](t, rec))

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/lineup_status.json", "").Code)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/lineup.json?scan=start", "").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/device.xml", "").Code)
}

func TestHealthRoutes(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/readyz", "").Code)
}

func TestNotFoundIsJSON(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decode[errorResponse](t, rec).Error)
}

func TestControlRoutesAreRateLimited(t *testing.T) {
	f := newFixture(t, func(cfg *config.AppConfig) {
		cfg.API.RateLimit = 2
	})

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/pretune/commit", "").Code)
	}
	rec := f.do(t, http.MethodPost, "/api/pretune/commit", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/status", "").Code, "read routes are not limited")
	}
}
