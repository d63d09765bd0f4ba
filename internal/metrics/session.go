// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsActive is the number of live sessions by kind.
	SessionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rokutuner_sessions_active",
		Help: "Live sessions by kind (channel, pretune)",
	}, []string{"kind"})

	// SessionsClosed counts closed sessions by kind and reason.
	SessionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rokutuner_sessions_closed_total",
		Help: "Closed sessions by kind and close reason",
	}, []string{"kind", "reason"})

	// KeepAliveKeypresses counts keep-alive keypresses by result.
	KeepAliveKeypresses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rokutuner_keepalive_keypresses_total",
		Help: "Keep-alive keypresses sent to devices by result",
	}, []string{"result"})
)
