// SPDX-License-Identifier: MIT

// Package hdhr emulates the HDHomeRun discovery endpoints so DVR clients can
// add the bridge as a network tuner.
package hdhr

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ManuGH/rokutuner/internal/config"
)

const (
	modelName    = "HDHR-rokutuner"
	firmwareName = "rokutuner"
)

// ConfigSource returns the current configuration snapshot.
type ConfigSource interface {
	Get() config.AppConfig
}

// TunerCounter reports the size of the tuner pool.
type TunerCounter interface {
	TunerCount() int
}

// Server implements HDHomeRun API endpoints
type Server struct {
	cfg     ConfigSource
	tuners  TunerCounter
	version string
	logger  zerolog.Logger
}

// NewServer creates the discovery server. Identity and lineup are read from
// the current snapshot on every request so reloads apply immediately.
func NewServer(cfg ConfigSource, tuners TunerCounter, version string, logger zerolog.Logger) *Server {
	if version == "" {
		version = "dev"
	}
	return &Server{cfg: cfg, tuners: tuners, version: version, logger: logger}
}

// DiscoverResponse represents HDHomeRun discovery response
type DiscoverResponse struct {
	FriendlyName    string `json:"FriendlyName"`
	ModelNumber     string `json:"ModelNumber"`
	FirmwareName    string `json:"FirmwareName"`
	FirmwareVersion string `json:"FirmwareVersion"`
	DeviceID        string `json:"DeviceID"`
	DeviceAuth      string `json:"DeviceAuth"`
	BaseURL         string `json:"BaseURL"`
	LineupURL       string `json:"LineupURL"`
	TunerCount      int    `json:"TunerCount"`
}

// LineupStatus represents tuner status
type LineupStatus struct {
	ScanInProgress int      `json:"ScanInProgress"`
	ScanPossible   int      `json:"ScanPossible"`
	Source         string   `json:"Source"`
	SourceList     []string `json:"SourceList"`
}

// LineupEntry represents a channel in the lineup
type LineupEntry struct {
	GuideNumber string `json:"GuideNumber"`
	GuideName   string `json:"GuideName"`
	URL         string `json:"URL"`
}

func (s *Server) baseURL(cfg config.AppConfig, r *http.Request) string {
	if cfg.API.BaseURL != "" {
		return strings.TrimRight(cfg.API.BaseURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, r.Host)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// HandleDiscover handles /discover.json endpoint
func (s *Server) HandleDiscover(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Get()
	base := s.baseURL(cfg, r)

	writeJSON(w, DiscoverResponse{
		FriendlyName:    cfg.HDHR.FriendlyName,
		ModelNumber:     modelName,
		FirmwareName:    firmwareName,
		FirmwareVersion: s.version,
		DeviceID:        cfg.HDHR.DeviceID,
		DeviceAuth:      firmwareName,
		BaseURL:         base,
		LineupURL:       base + "/lineup.json",
		TunerCount:      s.tuners.TunerCount(),
	})

	s.logger.Debug().
		Str("endpoint", "/discover.json").
		Str("device_id", cfg.HDHR.DeviceID).
		Msg("HDHomeRun discovery request")
}

// HandleLineupStatus handles /lineup_status.json endpoint
func (s *Server) HandleLineupStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, LineupStatus{
		ScanInProgress: 0,
		ScanPossible:   1,
		Source:         "Cable",
		SourceList:     []string{"Cable"},
	})
}

// Lineup returns one entry per configured channel, in catalog order.
func Lineup(cfg config.AppConfig, base string) []LineupEntry {
	entries := make([]LineupEntry, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		name := ch.Name
		if name == "" {
			name = ch.ID
		}
		entries = append(entries, LineupEntry{
			GuideNumber: ch.ID,
			GuideName:   name,
			URL:         base + "/stream/" + url.PathEscape(ch.ID),
		})
	}
	return entries
}

// HandleLineup handles /lineup.json endpoint
func (s *Server) HandleLineup(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Get()
	lineup := Lineup(cfg, s.baseURL(cfg, r))
	writeJSON(w, lineup)

	s.logger.Debug().
		Str("endpoint", "/lineup.json").
		Int("channels", len(lineup)).
		Msg("HDHomeRun lineup request")
}

// HandleLineupPost handles POST /lineup.json. The lineup comes from the
// channel catalog, so a scan completes immediately.
func (s *Server) HandleLineupPost(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("scan") == "start" {
		s.logger.Info().Msg("HDHomeRun channel scan requested")
	}
	w.WriteHeader(http.StatusNoContent)
}

type deviceXML struct {
	XMLName     xml.Name `xml:"urn:schemas-upnp-org:device-1-0 root"`
	SpecMajor   int      `xml:"specVersion>major"`
	SpecMinor   int      `xml:"specVersion>minor"`
	URLBase     string   `xml:"URLBase"`
	DeviceType  string   `xml:"device>deviceType"`
	Friendly    string   `xml:"device>friendlyName"`
	Maker       string   `xml:"device>manufacturer"`
	ModelName   string   `xml:"device>modelName"`
	ModelNumber string   `xml:"device>modelNumber"`
	Serial      string   `xml:"device>serialNumber"`
	UDN         string   `xml:"device>UDN"`
}

// HandleDeviceXML handles /device.xml, the UPnP description some clients
// fetch after discovery.
func (s *Server) HandleDeviceXML(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Get()
	doc := deviceXML{
		SpecMajor:   1,
		URLBase:     s.baseURL(cfg, r),
		DeviceType:  "urn:schemas-upnp-org:device:MediaServer:1",
		Friendly:    cfg.HDHR.FriendlyName,
		Maker:       "Silicondust",
		ModelName:   modelName,
		ModelNumber: modelName,
		Serial:      cfg.HDHR.DeviceID,
		UDN:         "uuid:" + cfg.HDHR.DeviceID,
	}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(out)
}
