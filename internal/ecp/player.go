// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ecp

import (
	"strconv"
	"strings"
	"time"
)

// Player states reported by /query/media-player.
const (
	PlayerPlay    = "play"
	PlayerPause   = "pause"
	PlayerBuffer  = "buffer"
	PlayerStartup = "startup"
	PlayerStop    = "stop"
	PlayerClose   = "close"
	PlayerNone    = "none"
)

// PlayerState is the parsed media player snapshot.
type PlayerState struct {
	State    string
	Error    bool
	PluginID string
	Plugin   string
	Position time.Duration
	Duration time.Duration
	Live     bool
}

// Active reports whether content is loaded and not finished.
func (p PlayerState) Active() bool {
	switch p.State {
	case PlayerPlay, PlayerPause, PlayerBuffer, PlayerStartup:
		return true
	default:
		return false
	}
}

type mediaPlayerXML struct {
	State  string `xml:"state,attr"`
	Error  string `xml:"error,attr"`
	Plugin struct {
		ID   string `xml:"id,attr"`
		Name string `xml:"name,attr"`
	} `xml:"plugin"`
	Position string `xml:"position"`
	Duration string `xml:"duration"`
	IsLive   string `xml:"is_live"`
}

func (m mediaPlayerXML) state() PlayerState {
	return PlayerState{
		State:    strings.ToLower(strings.TrimSpace(m.State)),
		Error:    strings.EqualFold(m.Error, "true"),
		PluginID: m.Plugin.ID,
		Plugin:   m.Plugin.Name,
		Position: parseMillis(m.Position),
		Duration: parseMillis(m.Duration),
		Live:     strings.EqualFold(strings.TrimSpace(m.IsLive), "true"),
	}
}

// parseMillis parses values like "59641 ms".
func parseMillis(raw string) time.Duration {
	raw = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "ms"))
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return time.Duration(n) * time.Millisecond
}

// DeviceInfo is the subset of /query/device-info the bridge uses.
type DeviceInfo struct {
	UDN          string `xml:"udn" json:"udn"`
	SerialNumber string `xml:"serial-number" json:"serial_number"`
	ModelName    string `xml:"model-name" json:"model_name"`
	FriendlyName string `xml:"friendly-device-name" json:"friendly_name"`
	PowerMode    string `xml:"power-mode" json:"power_mode"`
}
