package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors for the market-data pipeline. Registered on the
// default registry and exposed by the terminal server's /metrics endpoint.
var (
	PollCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gascap_poll_cycles_total",
		Help: "Total number of completed poll cycles",
	})

	SliceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gascap_slice_failures_total",
		Help: "Total number of failed reads by pipeline slice",
	}, []string{"slice"})

	TicksStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gascap_ticks_stored_total",
		Help: "Total number of ticks appended to the store",
	})

	TicksSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gascap_ticks_suppressed_total",
		Help: "Total number of ticks dropped by the store's no-op rules",
	}, []string{"reason"})

	SlotFlushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gascap_slot_flush_failures_total",
		Help: "Total number of failed durable slot flushes",
	})

	EventsSynced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gascap_events_synced_total",
		Help: "Total number of trade events merged into the feed",
	})

	FeedSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gascap_trade_feed_size",
		Help: "Current number of trade events retained in the feed",
	})

	CursorHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gascap_sync_cursor_block",
		Help: "Highest block the event synchronizer has scanned",
	})

	ArchiveUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gascap_archive_uploads_total",
		Help: "Total number of archive batch uploads by outcome",
	}, []string{"outcome"})

	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gascap_websocket_clients",
		Help: "Number of connected terminal websocket clients",
	})
)
