package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("porter")

var updatesReceived = promauto.NewCounter(prometheus.CounterOpts{
	Name: "porter_updates_received",
	Help: "Number of update frames received from the gateway stream",
})

var updatesSkipped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "porter_updates_skipped",
	Help: "Number of update frames skipped (not private message events)",
})

var updatesFailed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "porter_updates_failed",
	Help: "Number of update frames that failed processing",
})

var streamReconnects = promauto.NewCounter(prometheus.CounterOpts{
	Name: "porter_stream_reconnects",
	Help: "Number of times the gateway update stream was re-dialed",
})

var currentCursor = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "porter_current_cursor",
	Help: "Message ID of the most recent update processed",
})

var workItemsAdded = promauto.NewCounter(prometheus.CounterOpts{
	Name: "porter_scheduler_items_added",
	Help: "Number of work items added to the scheduler",
})

var workItemsProcessed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "porter_scheduler_items_processed",
	Help: "Number of work items the scheduler finished",
})

var workersActive = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "porter_scheduler_workers_active",
	Help: "Number of scheduler workers running",
})
