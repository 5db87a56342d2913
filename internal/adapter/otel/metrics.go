package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "reportdeck"

// Metrics holds all ReportDeck metric instruments.
type Metrics struct {
	ExecutionsStarted   metric.Int64Counter
	ExecutionsCompleted metric.Int64Counter
	ExecutionsFailed    metric.Int64Counter
	CacheHits           metric.Int64Counter
	CacheMisses         metric.Int64Counter
	QueryDuration       metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.ExecutionsStarted, err = meter.Int64Counter("reportdeck.executions.started",
		metric.WithDescription("Number of report executions started"))
	if err != nil {
		return nil, err
	}

	m.ExecutionsCompleted, err = meter.Int64Counter("reportdeck.executions.completed",
		metric.WithDescription("Number of report executions completed"))
	if err != nil {
		return nil, err
	}

	m.ExecutionsFailed, err = meter.Int64Counter("reportdeck.executions.failed",
		metric.WithDescription("Number of report executions failed"))
	if err != nil {
		return nil, err
	}

	m.CacheHits, err = meter.Int64Counter("reportdeck.cache.hits",
		metric.WithDescription("Number of query cache hits"))
	if err != nil {
		return nil, err
	}

	m.CacheMisses, err = meter.Int64Counter("reportdeck.cache.misses",
		metric.WithDescription("Number of query cache misses"))
	if err != nil {
		return nil, err
	}

	m.QueryDuration, err = meter.Float64Histogram("reportdeck.query.duration_seconds",
		metric.WithDescription("Directory query duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
