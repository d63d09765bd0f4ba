// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"

	"github.com/ManuGH/rokutuner/internal/log"
	"github.com/ManuGH/rokutuner/internal/session"
)

// handleChannelStream tunes a channel and relays MPEG-TS until the client
// disconnects. The tuner is released when the handler returns.
func (s *Server) handleChannelStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sess, err := s.engine.AcquireAndTune(r.Context(), session.Request{
		ChannelID: pathParam(r, "channelID"),
		TunerName: q.Get("tuner"),
		Mode:      q.Get("mode"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer func() { _ = sess.Close() }()
	s.relay(w, r, sess)
}

// handleOnDemandStream hands the committed pretune stage to the DVR.
func (s *Server) handleOnDemandStream(w http.ResponseWriter, r *http.Request) {
	sess, err := s.engine.TakeCommitted(r.Context(), r.URL.Query().Get("mode"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer func() { _ = sess.Close() }()
	s.relay(w, r, sess)
}

func (s *Server) relay(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	w.Header().Set("Content-Type", "video/mp2t")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("X-Rokutuner-Tuner", sess.Tuner().Name)
	w.Header().Set("X-Rokutuner-Session", sess.ID())
	w.WriteHeader(http.StatusOK)

	logger := log.WithContext(log.ContextWithSessionID(r.Context(), sess.ID()), s.logger)
	if err := sess.Relay(r.Context(), w); err != nil {
		logger.Warn().
			Err(err).
			Str(log.FieldEvent, "stream.relay_ended").
			Str(log.FieldTuner, sess.Tuner().Name).
			Msg("stream ended with error")
		return
	}
	logger.Info().
		Str(log.FieldEvent, "stream.client_disconnected").
		Str(log.FieldTuner, sess.Tuner().Name).
		Msg("stream client disconnected")
}
