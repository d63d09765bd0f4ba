// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ManuGH/rokutuner/internal/config"
	"github.com/ManuGH/rokutuner/internal/domain"
	"github.com/ManuGH/rokutuner/internal/log"
)

type catalog struct {
	Tuners       []config.Tuner       `json:"tuners"`
	Channels     []config.Channel     `json:"channels"`
	OnDemandApps []config.OnDemandApp `json:"ondemand_apps"`
}

type reloadResponse struct {
	Status   string `json:"status"`
	Tuners   int    `json:"tuners"`
	Channels int    `json:"channels"`
}

func asConfigError(err error) error {
	if errors.Is(err, domain.ErrConfigurationInvalid) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrConfigurationInvalid, err)
}

// reload swaps the snapshot. A rejected file leaves the running config in place.
func (s *Server) reload(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Reload(r.Context()); err != nil {
		writeError(w, r, asConfigError(err))
		return
	}
	cfg := s.cfg.Get()
	writeJSON(w, http.StatusOK, reloadResponse{
		Status:   "reloaded",
		Tuners:   len(cfg.Tuners),
		Channels: len(cfg.Channels),
	})
}

func (s *Server) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	s.reload(w, r)
}

func (s *Server) handleGetCatalog(w http.ResponseWriter, _ *http.Request) {
	cfg := s.cfg.Get()
	writeJSON(w, http.StatusOK, catalog{
		Tuners:       cfg.Tuners,
		Channels:     cfg.Channels,
		OnDemandApps: cfg.OnDemandApps,
	})
}

// handlePutCatalog validates and saves an edited catalog, then reloads.
func (s *Server) handlePutCatalog(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "NOT_IMPLEMENTED", Message: "catalog persistence not configured"})
		return
	}
	var body catalog
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.catalog.Save(s.cfg.Get(), body.Tuners, body.Channels, body.OnDemandApps); err != nil {
		writeError(w, r, asConfigError(err))
		return
	}
	logger := log.WithComponentFromContext(r.Context(), "config")
	logger.Info().
		Str(log.FieldEvent, "config.catalog_saved").
		Int("tuners", len(body.Tuners)).
		Int("channels", len(body.Channels)).
		Msg("device catalog saved")
	s.reload(w, r)
}
