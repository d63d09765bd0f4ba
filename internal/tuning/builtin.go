// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package tuning

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ManuGH/rokutuner/internal/config"
)

// SearchPluginID names the built-in search navigator.
const SearchPluginID = config.PluginSearch

// FuboPluginID names the Fubo live guide navigator.
const FuboPluginID = config.PluginFubo

type searchData struct {
	Query        string   `json:"query"`
	OpenSearch   []string `json:"open_search"`
	AfterTyping  []string `json:"after_typing"`
	TypingDelay  float64  `json:"typing_delay"`
	ResultsDelay float64  `json:"results_delay"`
}

// SearchPlugin opens an app's search screen, types a query and picks the
// first result. plugin_data:
//
//	{"query": "ESPN", "open_search": ["Left", "Up", "Select"], "after_typing": ["Right", "Select"]}
func SearchPlugin(ctx context.Context, dev Capability, data json.RawMessage) error {
	var d searchData
	if len(data) > 0 {
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("decode search plugin data: %w", err)
		}
	}
	if d.Query == "" {
		return fmt.Errorf("search plugin requires a query")
	}
	if len(d.AfterTyping) == 0 {
		d.AfterTyping = []string{"Select"}
	}
	for _, key := range d.OpenSearch {
		if err := dev.SendKey(ctx, key); err != nil {
			return err
		}
	}
	if err := dev.Wait(ctx, secondsOr(d.TypingDelay, time.Second)); err != nil {
		return err
	}
	if err := dev.SendText(ctx, d.Query); err != nil {
		return err
	}
	if err := dev.Wait(ctx, secondsOr(d.ResultsDelay, 2*time.Second)); err != nil {
		return err
	}
	for _, key := range d.AfterTyping {
		if err := dev.SendKey(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

type fuboData struct {
	ListPosition int `json:"list_position"`
}

// FuboPlugin opens the Fubo live guide from the side menu and selects the
// channel at list_position (1-based). plugin_data:
//
//	{"list_position": 3}
func FuboPlugin(ctx context.Context, dev Capability, data json.RawMessage) error {
	var d fuboData
	if len(data) > 0 {
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("decode fubo plugin data: %w", err)
		}
	}
	if d.ListPosition < 1 {
		return fmt.Errorf("fubo plugin requires list_position >= 1, got %d", d.ListPosition)
	}

	type step struct {
		key   string
		pause time.Duration
	}
	steps := []step{
		{pause: 4 * time.Second},
		{key: "Left", pause: 500 * time.Millisecond},
		{key: "Down", pause: 500 * time.Millisecond},
		{key: "Select", pause: 1700 * time.Millisecond},
	}
	for i := 1; i < d.ListPosition; i++ {
		steps = append(steps, step{key: "Down", pause: 100 * time.Millisecond})
	}
	steps = append(steps, step{key: "Select", pause: 700 * time.Millisecond}, step{key: "Select"})

	for _, st := range steps {
		if st.key != "" {
			if err := dev.SendKey(ctx, st.key); err != nil {
				return err
			}
		}
		if st.pause > 0 {
			if err := dev.Wait(ctx, st.pause); err != nil {
				return err
			}
		}
	}
	return nil
}

func secondsOr(v float64, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v * float64(time.Second))
}

// DefaultRegistry returns a registry with the built-in plugins.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(SearchPluginID, SearchPlugin)
	_ = r.Register(FuboPluginID, FuboPlugin)
	_ = r.Register(config.PluginFuboLegacy, FuboPlugin)
	return r
}
