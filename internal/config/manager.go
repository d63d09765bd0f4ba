// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// Manager handles persistence of the device catalog.
type Manager struct {
	configPath string
}

// NewManager creates a new configuration manager.
func NewManager(configPath string) *Manager {
	return &Manager{
		configPath: configPath,
	}
}

// Save validates the catalog and writes it atomically. Service settings in
// the existing file are preserved.
func (m *Manager) Save(current AppConfig, tuners []Tuner, channels []Channel, apps []OnDemandApp) error {
	candidate := current
	candidate.Tuners = tuners
	candidate.Channels = channels
	candidate.OnDemandApps = apps
	if err := Validate(candidate); err != nil {
		return err
	}

	fileCfg := FileConfig{}
	// #nosec G304 -- path is operator-provided
	if data, err := os.ReadFile(m.configPath); err == nil {
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return fmt.Errorf("parse existing config: %w", err)
		}
	}
	fileCfg.Tuners = tuners
	fileCfg.Channels = channels
	fileCfg.EPG = nil
	fileCfg.OnDemand = apps

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0750); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}

	var buf bytes.Buffer
	if strings.EqualFold(filepath.Ext(m.configPath), ".json") {
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(fileCfg); err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
	} else {
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(fileCfg); err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("close encoder: %w", err)
		}
	}
	if err := renameio.WriteFile(m.configPath, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
