// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"
	"strconv"

	"github.com/ManuGH/rokutuner/internal/log"
	"github.com/ManuGH/rokutuner/internal/session"
	"github.com/ManuGH/rokutuner/internal/tuner"
)

type statusResponse struct {
	Version  string               `json:"version"`
	Tuners   []tuner.Status       `json:"tuners"`
	Sessions []session.Info       `json:"sessions"`
	Pretune  session.PretuneState `json:"pretune"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Version:  s.version,
		Tuners:   s.engine.Status(),
		Sessions: s.engine.Sessions(),
		Pretune:  s.engine.Pretune(),
	})
}

// handleReleaseTuner force-releases a tuner, closing its session.
func (s *Server) handleReleaseTuner(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "name")
	if err := s.engine.Release(r.Context(), name); err != nil {
		writeError(w, r, err)
		return
	}
	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str(log.FieldEvent, "tuner.force_released").
		Str(log.FieldTuner, name).
		Msg("tuner released by operator")
	writeJSON(w, http.StatusOK, map[string]string{"released": name})
}

// handleLogs returns the most recent log lines, oldest first. ?limit=N
// trims to the newest N.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	entries := log.GetRecentLogs()
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 && n < len(entries) {
			entries = entries[len(entries)-n:]
		}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handlePretuneState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Pretune())
}

func (s *Server) handlePretuneStart(w http.ResponseWriter, r *http.Request) {
	state, err := s.engine.StartPretune(r.Context(), r.URL.Query().Get("tuner"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handlePretuneStop(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.StopPretune(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Pretune())
}

func (s *Server) handlePretuneCommit(w http.ResponseWriter, r *http.Request) {
	state, err := s.engine.CommitPretune()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handlePretuneLaunch(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.PretuneLaunch(r.Context(), pathParam(r, "appID")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Pretune())
}

func (s *Server) handlePretuneKeypress(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.PretuneKeypress(r.Context(), pathParam(r, "key")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
