package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/taskorch/taskorch/internal/types"
)

const cascadeScopeName = "github.com/taskorch/taskorch/cascade"

// CascadeMetrics counts detected, applied and failed cascade events.
type CascadeMetrics struct {
	detected metric.Int64Counter
	applied  metric.Int64Counter
	failed   metric.Int64Counter
}

// NewCascadeMetrics registers the taskorch.cascade.* instruments on the
// global meter provider. With telemetry disabled the provider is a no-op.
func NewCascadeMetrics() *CascadeMetrics {
	return newCascadeMetrics(Meter(cascadeScopeName))
}

func newCascadeMetrics(m metric.Meter) *CascadeMetrics {
	detected, _ := m.Int64Counter("taskorch.cascade.events",
		metric.WithDescription("Cascade events proposed by detection"),
	)
	applied, _ := m.Int64Counter("taskorch.cascade.applied",
		metric.WithDescription("Cascade events applied"),
	)
	failed, _ := m.Int64Counter("taskorch.cascade.failed",
		metric.WithDescription("Cascade events rejected or failed to persist"),
	)
	return &CascadeMetrics{detected: detected, applied: applied, failed: failed}
}

// RecordDetected adds n detected events for a change on kind.
func (c *CascadeMetrics) RecordDetected(ctx context.Context, kind types.EntityKind, n int) {
	if n == 0 {
		return
	}
	c.detected.Add(ctx, int64(n), metric.WithAttributes(attribute.String("taskorch.kind", string(kind))))
}

// RecordResult counts one applied or failed event.
func (c *CascadeMetrics) RecordResult(ctx context.Context, r types.CascadeResult) {
	attrs := metric.WithAttributes(
		attribute.String("taskorch.cascade.event", r.Event.Event),
		attribute.String("taskorch.kind", string(r.Event.TargetKind)),
	)
	if r.Applied {
		c.applied.Add(ctx, 1, attrs)
		return
	}
	c.failed.Add(ctx, 1, attrs)
}
