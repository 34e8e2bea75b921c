package dispatch

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// metrics holds the dispatcher's otel counters. All instruments come from the
// global MeterProvider, so a process without a configured exporter pays only
// no-op calls.
type metrics struct {
	accepted   metric.Int64Counter
	completed  metric.Int64Counter
	failed     metric.Int64Counter
	superseded metric.Int64Counter
	tokens     metric.Int64Counter
}

func newMetrics() *metrics {
	meter := otel.Meter("github.com/thebtf/strand/internal/dispatch")
	m := &metrics{}

	var err error
	if m.accepted, err = meter.Int64Counter("strand.messages.accepted"); err != nil {
		log.Warn().Err(err).Msg("Failed to register accepted counter")
	}
	if m.completed, err = meter.Int64Counter("strand.tasks.completed"); err != nil {
		log.Warn().Err(err).Msg("Failed to register completed counter")
	}
	if m.failed, err = meter.Int64Counter("strand.tasks.failed"); err != nil {
		log.Warn().Err(err).Msg("Failed to register failed counter")
	}
	if m.superseded, err = meter.Int64Counter("strand.streams.superseded"); err != nil {
		log.Warn().Err(err).Msg("Failed to register superseded counter")
	}
	if m.tokens, err = meter.Int64Counter("strand.tokens.emitted"); err != nil {
		log.Warn().Err(err).Msg("Failed to register tokens counter")
	}
	return m
}

func (m *metrics) add(c metric.Int64Counter, n int64) {
	if c != nil {
		c.Add(context.Background(), n)
	}
}
