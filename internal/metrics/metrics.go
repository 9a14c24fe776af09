// Package metrics exposes Prometheus instruments for the tip pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TipsSubmitted counts tips accepted as pending.
	TipsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tipcast_tips_submitted_total",
		Help: "Tips accepted and recorded as pending.",
	})

	// TipsConfirmed counts tips that reached the confirmed state.
	TipsConfirmed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tipcast_tips_confirmed_total",
		Help: "Tips confirmed by the confirmation engine.",
	})

	// TipsRejected counts submissions rejected at validation, by reason.
	TipsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tipcast_tips_rejected_total",
		Help: "Tip submissions rejected before a record was created.",
	}, []string{"reason"})

	// TipsAbandoned counts confirmations abandoned before success.
	TipsAbandoned = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tipcast_tips_abandoned_total",
		Help: "Confirmations abandoned (session ended or attempt budget exhausted).",
	}, []string{"cause"})

	// Connections tracks currently open websocket connections.
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tipcast_ws_connections",
		Help: "Open websocket connections.",
	})

	// Broadcasts counts events fanned out to session groups, by event name.
	Broadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tipcast_broadcasts_total",
		Help: "Events broadcast to session subscriber groups.",
	}, []string{"event"})
)
