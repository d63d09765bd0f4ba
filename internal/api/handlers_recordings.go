// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ManuGH/rokutuner/internal/domain"
	"github.com/ManuGH/rokutuner/internal/recording"
	"github.com/ManuGH/rokutuner/internal/session"
)

type startRecordingRequest struct {
	ChannelID      string             `json:"channel_id,omitempty"`
	Tuner          string             `json:"tuner,omitempty"`
	Mode           string             `json:"mode,omitempty"`
	Metadata       recording.Metadata `json:"metadata"`
	PaddingSeconds float64            `json:"padding_seconds,omitempty"`
}

// handleStartRecording records a channel, or the pretune stage when no
// channel is given.
func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	var req startRecordingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.PaddingSeconds < 0 {
		writeError(w, r, fmt.Errorf("%w: padding_seconds must not be negative", domain.ErrInvalidRequest))
		return
	}

	entry, err := s.engine.StartRecording(r.Context(), session.RecordRequest{
		ChannelID: req.ChannelID,
		TunerName: req.Tuner,
		Mode:      req.Mode,
		Metadata:  req.Metadata,
		Padding:   time.Duration(req.PaddingSeconds * float64(time.Second)),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	entry, err := s.engine.StopRecording(pathParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.ListRecordings(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []recording.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
