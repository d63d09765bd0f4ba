// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package tuning

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ManuGH/rokutuner/internal/domain"
)

// Capability is everything a plugin may do to the device. Plugins never see
// the client, the network or the config.
type Capability interface {
	SendKey(ctx context.Context, key string) error
	SendText(ctx context.Context, text string) error
	Launch(ctx context.Context, appID string, params map[string]string) error
	Wait(ctx context.Context, d time.Duration) error
}

// Plugin navigates from a launched app to the channel using data from the channel record.
type Plugin func(ctx context.Context, dev Capability, data json.RawMessage) error

// Registry maps plugin script ids to callbacks.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

// Register adds a plugin. Registering an id twice is a programming error.
func (r *Registry) Register(id string, p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[id]; exists {
		return fmt.Errorf("plugin %q already registered", id)
	}
	r.plugins[id] = p
	return nil
}

// Lookup returns the plugin for id or ErrConfigurationInvalid.
func (r *Registry) Lookup(id string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown plugin %q", domain.ErrConfigurationInvalid, id)
	}
	return p, nil
}

// IDs lists registered plugin ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.plugins))
	for id := range r.plugins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// capability adapts a Controller to the plugin surface.
type capability struct {
	dev   Controller
	sleep func(context.Context, time.Duration) error
}

func (c capability) SendKey(ctx context.Context, key string) error {
	return c.dev.Keypress(ctx, key)
}

func (c capability) SendText(ctx context.Context, text string) error {
	return c.dev.Literal(ctx, text)
}

func (c capability) Launch(ctx context.Context, appID string, params map[string]string) error {
	return c.dev.Launch(ctx, appID, toValues(params))
}

func (c capability) Wait(ctx context.Context, d time.Duration) error {
	return c.sleep(ctx, d)
}
