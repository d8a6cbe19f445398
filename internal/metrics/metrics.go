package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ScanTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wa_guard_scan_ticks_total",
		Help: "Group scanner ticks by result.",
	}, []string{"result"})

	ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wa_guard_scan_duration_seconds",
		Help:    "Duration of one full scan tick.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	Evictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wa_guard_evictions_total",
		Help: "Blacklisted members handled, by outcome (removed, remove_failed, notice_failed).",
	}, []string{"outcome"})

	BlacklistRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wa_guard_blacklist_refresh_total",
		Help: "Blacklist cache refreshes by result.",
	}, []string{"result"})

	ActorRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wa_guard_actor_restarts_total",
		Help: "Restarts performed, by supervising actor and reason.",
	}, []string{"actor", "reason"})

	MissedBeats = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wa_guard_heartbeat_missed_beats",
		Help: "Consecutive heartbeats that failed to persist.",
	})

	ScannerHealthy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wa_guard_scanner_healthy",
		Help: "1 when the current scanner reports healthy.",
	})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// BoolGauge converts a flag for gauges.
func BoolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
