package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "guardian"

// Metrics holds all Guardian metric instruments.
type Metrics struct {
	EventsIngested    metric.Int64Counter
	EventsDropped     metric.Int64Counter
	TakeoversStarted  metric.Int64Counter
	TakeoversReleased metric.Int64Counter
	StreamClients     metric.Int64UpDownCounter
	IngestLatency     metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.EventsIngested, err = meter.Int64Counter("guardian.events.ingested",
		metric.WithDescription("Number of worker events accepted by ingress"))
	if err != nil {
		return nil, err
	}

	m.EventsDropped, err = meter.Int64Counter("guardian.events.dropped",
		metric.WithDescription("Number of malformed or unknown worker events dropped"))
	if err != nil {
		return nil, err
	}

	m.TakeoversStarted, err = meter.Int64Counter("guardian.takeovers.started",
		metric.WithDescription("Number of human takeovers initiated"))
	if err != nil {
		return nil, err
	}

	m.TakeoversReleased, err = meter.Int64Counter("guardian.takeovers.released",
		metric.WithDescription("Number of sessions returned to the AI agent"))
	if err != nil {
		return nil, err
	}

	m.StreamClients, err = meter.Int64UpDownCounter("guardian.stream.clients",
		metric.WithDescription("Connected dashboard stream clients"))
	if err != nil {
		return nil, err
	}

	m.IngestLatency, err = meter.Float64Histogram("guardian.ingest.duration_seconds",
		metric.WithDescription("Time spent persisting one worker event"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
