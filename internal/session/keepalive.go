// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"time"

	"github.com/ManuGH/rokutuner/internal/config"
	xglog "github.com/ManuGH/rokutuner/internal/log"
	"github.com/ManuGH/rokutuner/internal/metrics"
)

const keepAliveTimeout = 5 * time.Second

// startKeepAlive presses ka.Key every interval until the session closes, so
// apps do not pause on an "are you still watching" prompt.
func (s *Session) startKeepAlive(ka config.KeepAlive) {
	interval := ka.Interval()
	if ka.Key == "" || interval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	started := s.engine.sessions.Go(func() {
		defer close(done)
		s.keepAlive(ctx, ka.Key, interval)
	})
	if !started {
		cancel()
		return
	}

	s.mu.Lock()
	s.kaStop = func() {
		cancel()
		<-done
	}
	s.mu.Unlock()
	s.logger.Debug().
		Str(xglog.FieldEvent, "session.keepalive_started").
		Str("key", ka.Key).
		Dur("interval", interval).
		Msg("keep-alive started")
}

func (s *Session) keepAlive(ctx context.Context, key string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			kctx, cancel := context.WithTimeout(ctx, keepAliveTimeout)
			err := s.device.Keypress(kctx, key)
			cancel()
			if err != nil {
				metrics.KeepAliveKeypresses.WithLabelValues("error").Inc()
				s.logger.Warn().Err(err).Str(xglog.FieldEvent, "session.keepalive_failed").Msg("keep-alive keypress failed")
				continue
			}
			metrics.KeepAliveKeypresses.WithLabelValues("ok").Inc()
		}
	}
}
