// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package stream

import (
	"context"
	"errors"
	"sync"
	"time"
)

// WatchdogState is the progress state of a stream.
type WatchdogState int

const (
	WatchdogStarting WatchdogState = iota
	WatchdogRunning
	WatchdogStalled
	WatchdogTimedOut
)

var (
	// ErrStartTimeout means no byte arrived within the start timeout.
	ErrStartTimeout = errors.New("no output before start timeout")
	// ErrStalled means output stopped for longer than the stall timeout.
	ErrStalled = errors.New("output stalled")
)

type clock interface {
	Now() time.Time
	NewTicker(d time.Duration) ticker
}

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type realClock struct{}

func (realClock) Now() time.Time                   { return time.Now() }
func (realClock) NewTicker(d time.Duration) ticker { return &realTicker{time.NewTicker(d)} }

type realTicker struct {
	*time.Ticker
}

func (rt *realTicker) C() <-chan time.Time { return rt.Ticker.C }

// Watchdog enforces start and stall timeouts on a byte stream. Output is
// reported through Observe; Run returns once a timeout trips.
type Watchdog struct {
	mu sync.RWMutex

	startTimeout time.Duration
	stallTimeout time.Duration
	tick         time.Duration

	lastHeartbeat time.Time
	total         int64
	state         WatchdogState

	clock clock
}

// NewWatchdog creates a watchdog. A zero timeout disables that check.
func NewWatchdog(startTimeout, stallTimeout time.Duration) *Watchdog {
	return &Watchdog{
		startTimeout: startTimeout,
		stallTimeout: stallTimeout,
		tick:         tickFor(startTimeout, stallTimeout),
		clock:        realClock{},
	}
}

func tickFor(timeouts ...time.Duration) time.Duration {
	tick := time.Second
	for _, d := range timeouts {
		if d > 0 && d/4 < tick {
			tick = d / 4
		}
	}
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	return tick
}

// Run checks progress until ctx is done or a timeout trips.
func (w *Watchdog) Run(ctx context.Context) error {
	w.mu.Lock()
	w.lastHeartbeat = w.clock.Now()
	w.state = WatchdogStarting
	w.mu.Unlock()

	t := w.clock.NewTicker(w.tick)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C():
			if err := w.check(); err != nil {
				return err
			}
		}
	}
}

// Observe records n bytes of output.
func (w *Watchdog) Observe(n int) {
	if n <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.total += int64(n)
	w.lastHeartbeat = w.clock.Now()
	if w.state == WatchdogStarting {
		w.state = WatchdogRunning
	}
}

func (w *Watchdog) check() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	elapsed := w.clock.Now().Sub(w.lastHeartbeat)
	switch w.state {
	case WatchdogStarting:
		if w.startTimeout > 0 && elapsed > w.startTimeout {
			w.state = WatchdogTimedOut
			return ErrStartTimeout
		}
	case WatchdogRunning:
		if w.stallTimeout > 0 && elapsed > w.stallTimeout {
			w.state = WatchdogStalled
			return ErrStalled
		}
	}
	return nil
}

// State returns the current watchdog state.
func (w *Watchdog) State() WatchdogState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}
