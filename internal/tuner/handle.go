// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package tuner

import (
	"github.com/ManuGH/rokutuner/internal/domain"
	xglog "github.com/ManuGH/rokutuner/internal/log"
	"github.com/ManuGH/rokutuner/internal/metrics"
)

// Handle is exclusive ownership of one tuner. It stays bound to the tuner it
// was issued for even if a reload drops that tuner from the pool.
type Handle struct {
	pool  *Pool
	tuner *Tuner
	owner string
}

// Tuner returns the locked tuner's description.
func (h *Handle) Tuner() *Tuner {
	return h.tuner
}

// Owner returns the session id holding the tuner.
func (h *Handle) Owner() string {
	return h.owner
}

// Owned reports whether the handle still holds its tuner.
func (h *Handle) Owned() bool {
	s := h.tuner.slot
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status != domain.TunerIdle && s.owner == h.owner
}

// SetStatus moves an owned tuner between Locked, Streaming and Recording.
// It reports false if the handle no longer owns the tuner.
func (h *Handle) SetStatus(st domain.TunerStatus) bool {
	if st == domain.TunerIdle {
		return h.Release()
	}
	s := h.tuner.slot
	s.mu.Lock()
	if s.status == domain.TunerIdle || s.owner != h.owner {
		s.mu.Unlock()
		return false
	}
	changed := s.status != st
	s.status = st
	if changed {
		s.since = h.pool.now()
	}
	s.mu.Unlock()

	if changed {
		metrics.SetTunerState(h.tuner.Name, st.String())
	}
	return true
}

// Release idles the tuner if this handle still owns it and reports whether
// anything changed. Safe to call any number of times.
func (h *Handle) Release() bool {
	s := h.tuner.slot
	s.mu.Lock()
	if s.status == domain.TunerIdle || s.owner != h.owner {
		s.mu.Unlock()
		return false
	}
	s.status = domain.TunerIdle
	s.owner = ""
	s.since = h.pool.now()
	s.mu.Unlock()

	metrics.SetTunerState(h.tuner.Name, domain.TunerIdle.String())
	h.pool.logger.Info().
		Str(xglog.FieldEvent, "tuner.released").
		Str(xglog.FieldTuner, h.tuner.Name).
		Str(xglog.FieldSessionID, h.owner).
		Msg("tuner released")
	return true
}
