package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jamroom_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jamroom_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Room lifecycle
	RoomsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jamroom_rooms_created_total",
			Help: "Total rooms created",
		},
	)

	RoomsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jamroom_rooms_closed_total",
			Help: "Total rooms deleted",
		},
		[]string{"reason"}, // "empty", "host", "idle"
	)

	Joins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jamroom_joins_total",
			Help: "Join attempts by outcome",
		},
		[]string{"outcome"},
	)

	ActiveObservers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jamroom_active_observers",
			Help: "Open room observation streams",
		},
	)

	// Traffic
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jamroom_messages_sent_total",
			Help: "Total chat messages sent",
		},
		[]string{"kind"}, // "room" or "private"
	)

	NotesPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jamroom_notes_published_total",
			Help: "Total note events published",
		},
	)

	NotesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jamroom_notes_dropped_total",
			Help: "Note events not forwarded to a subscriber",
		},
		[]string{"reason"},
	)

	NotesPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jamroom_notes_pruned_total",
			Help: "Note events removed by compaction",
		},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jamroom_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"kind"},
	)

	// Store
	StoreConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "jamroom_store_conflicts_total",
			Help: "Room writes retried after a version conflict",
		},
	)
)
