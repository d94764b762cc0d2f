// Package metrics holds the Prometheus collectors of the meeting service.
// HTTP request metrics are collected separately by the fiberprometheus middleware.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveRooms counts rooms with a running coordinator actor.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meeting_active_rooms",
		Help: "Rooms with a running coordinator actor",
	})

	// Connections counts open meeting websockets.
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meeting_ws_connections",
		Help: "Open meeting websocket connections",
	})

	// Events counts inbound websocket events by type and outcome.
	Events = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meeting_ws_events_total",
			Help: "Inbound websocket events",
		},
		[]string{"type", "result"},
	)

	// ChunksUploaded counts chunk uploads by result.
	ChunksUploaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recording_chunks_total",
			Help: "Recording chunk uploads",
		},
		[]string{"result"},
	)

	// ChunkBytes sums stored chunk payload sizes.
	ChunkBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "recording_chunk_bytes_total",
		Help: "Bytes of stored recording chunks",
	})

	// Merges counts merge runs by result.
	Merges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recording_merges_total",
			Help: "Recording merge runs",
		},
		[]string{"result"},
	)

	// MergeDuration observes merge wall time.
	MergeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "recording_merge_duration_seconds",
		Help:    "Duration of recording merges in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})
)
