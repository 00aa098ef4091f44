// Package metrics holds the process-wide Prometheus collectors. It is pure
// wiring: every metric here is updated from call sites in scanner, sync,
// deovr, and streaming rather than computed locally. Modeled on ManuGH-xg2g's
// internal/metrics package (package-level promauto vars, xg2g_-style naming
// adapted to this module).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mediaviewer_scan_duration_seconds",
		Help:    "Duration of a full library rescan.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	})

	ScanErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediaviewer_scan_errors_total",
		Help: "Count of files that failed to probe or classify during a rescan.",
	})

	CatalogSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mediaviewer_catalog_size",
		Help: "Number of media items currently in the catalog.",
	})

	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mediaviewer_websocket_clients",
		Help: "Number of currently connected sync websocket sockets.",
	})

	DeoVRActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mediaviewer_deovr_active_streams",
		Help: "Number of DeoVR (sessionId, clientId) pairs currently being heartbeat-tracked.",
	})

	StreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediaviewer_stream_requests_total",
		Help: "Media stream requests by outcome.",
	}, []string{"outcome"})

	StreamBytesServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediaviewer_stream_bytes_served_total",
		Help: "Bytes served from the streaming engine, by transport kind.",
	}, []string{"kind"})
)
