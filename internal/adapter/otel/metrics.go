package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "chathub"

// Delivery outcomes recorded on the deliveries counter.
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
)

// Metrics holds all chathub metric instruments.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Broadcasts        metric.Int64Counter
	Deliveries        metric.Int64Counter
	Connections       metric.Int64UpDownCounter
	RelayPublished    metric.Int64Counter
	BroadcastDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithProvider(otel.GetMeterProvider())
}

// NewMetricsWithProvider creates all metric instruments on mp.
func NewMetricsWithProvider(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Broadcasts, err = meter.Int64Counter("chathub.broadcasts",
		metric.WithDescription("Number of broadcasts fanned out"))
	if err != nil {
		return nil, err
	}

	m.Deliveries, err = meter.Int64Counter("chathub.deliveries",
		metric.WithDescription("Per-connection delivery attempts by outcome"))
	if err != nil {
		return nil, err
	}

	m.Connections, err = meter.Int64UpDownCounter("chathub.connections",
		metric.WithDescription("Live registered connections"))
	if err != nil {
		return nil, err
	}

	m.RelayPublished, err = meter.Int64Counter("chathub.relay.published",
		metric.WithDescription("Messages published to the cross-node relay"))
	if err != nil {
		return nil, err
	}

	m.BroadcastDuration, err = meter.Float64Histogram("chathub.broadcast.duration_seconds",
		metric.WithDescription("Fan-out duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordBroadcast records one completed fan-out.
func (m *Metrics) RecordBroadcast(ctx context.Context, delivered, failed int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Broadcasts.Add(ctx, 1)
	m.Deliveries.Add(ctx, int64(delivered), metric.WithAttributes(attribute.String("outcome", OutcomeDelivered)))
	m.Deliveries.Add(ctx, int64(failed), metric.WithAttributes(attribute.String("outcome", OutcomeFailed)))
	m.BroadcastDuration.Record(ctx, elapsed.Seconds())
}

// ConnectionsChanged adjusts the live connection gauge by delta.
func (m *Metrics) ConnectionsChanged(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.Connections.Add(ctx, delta)
}

// RecordRelayPublish counts one relay publish attempt.
func (m *Metrics) RecordRelayPublish(ctx context.Context, ok bool) {
	if m == nil {
		return
	}
	m.RelayPublished.Add(ctx, 1, metric.WithAttributes(attribute.Bool("ok", ok)))
}
