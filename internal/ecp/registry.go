// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ecp

import "sync"

// Registry hands out one Client per device address so the rate limiter and
// breaker state are shared by every session using that device.
type Registry struct {
	mu      sync.Mutex
	opts    Options
	clients map[string]*Client
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	return &Registry{opts: opts, clients: make(map[string]*Client)}
}

// Client returns the client for address, creating it on first use.
func (r *Registry) Client(address string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[address]; ok {
		return c
	}
	c := NewClient(address, r.opts)
	r.clients[address] = c
	return c
}
