package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/taskorch/taskorch/internal/storage"
	"github.com/taskorch/taskorch/internal/types"
)

const storageScopeName = "github.com/taskorch/taskorch/storage"

// instruments is shared by every wrapped repository.
type instruments struct {
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

func newInstruments(m metric.Meter, tracer trace.Tracer) *instruments {
	ops, _ := m.Int64Counter("taskorch.storage.operations",
		metric.WithDescription("Total storage operations executed"),
	)
	dur, _ := m.Float64Histogram("taskorch.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("taskorch.storage.errors",
		metric.WithDescription("Total storage operation errors"),
	)
	return &instruments{tracer: tracer, ops: ops, dur: dur, errs: errs}
}

// WrapRepositories returns repos with every repository decorated with OTel
// spans and taskorch.storage.* metrics. When telemetry is disabled, repos is
// returned as-is.
func WrapRepositories(repos storage.Repositories) storage.Repositories {
	if !Enabled() {
		return repos
	}
	return wrapRepositories(repos, newInstruments(Meter(storageScopeName), Tracer(storageScopeName)))
}

func wrapRepositories(repos storage.Repositories, in *instruments) storage.Repositories {
	wrap := func(kind types.EntityKind, r storage.ItemRepository) storage.ItemRepository {
		if r == nil {
			return nil
		}
		return &InstrumentedItems{inner: r, kind: kind, in: in}
	}
	out := storage.Repositories{
		Projects: wrap(types.KindProject, repos.Projects),
		Features: wrap(types.KindFeature, repos.Features),
		Tasks:    wrap(types.KindTask, repos.Tasks),
	}
	if repos.Dependencies != nil {
		out.Dependencies = &InstrumentedDependencies{inner: repos.Dependencies, in: in}
	}
	return out
}

// op starts a span and records a metric for the named storage operation.
func (in *instruments) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := in.tracer.Start(ctx, "storage."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	in.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span, records duration and optional error.
func (in *instruments) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	in.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		errAttrs := append([]attribute.KeyValue{attribute.String("taskorch.error.kind", errorKind(err))}, attrs...)
		in.errs.Add(ctx, 1, metric.WithAttributes(errAttrs...))
	}
	span.End()
}

func errorKind(err error) string {
	return storage.KindOf(err).String()
}

// InstrumentedItems wraps an ItemRepository with tracing and metrics.
type InstrumentedItems struct {
	inner storage.ItemRepository
	kind  types.EntityKind
	in    *instruments
}

var _ storage.ItemRepository = (*InstrumentedItems)(nil)

func (s *InstrumentedItems) attrs(id string) []attribute.KeyValue {
	a := []attribute.KeyValue{attribute.String("taskorch.kind", string(s.kind))}
	if id != "" {
		a = append(a, attribute.String("taskorch.entity.id", id))
	}
	return a
}

func (s *InstrumentedItems) Create(ctx context.Context, item *types.Item) error {
	attrs := s.attrs(item.ID)
	ctx, span, t := s.in.op(ctx, "Create", attrs...)
	err := s.inner.Create(ctx, item)
	s.in.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedItems) GetByID(ctx context.Context, id string) (*types.Item, error) {
	attrs := s.attrs(id)
	ctx, span, t := s.in.op(ctx, "GetByID", attrs...)
	v, err := s.inner.GetByID(ctx, id)
	s.in.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedItems) Update(ctx context.Context, item *types.Item) (*types.Item, error) {
	attrs := append(s.attrs(item.ID), attribute.String("taskorch.status", item.Status))
	ctx, span, t := s.in.op(ctx, "Update", attrs...)
	v, err := s.inner.Update(ctx, item)
	s.in.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedItems) FindByParent(ctx context.Context, parentID string) ([]*types.Item, error) {
	attrs := s.attrs(parentID)
	ctx, span, t := s.in.op(ctx, "FindByParent", attrs...)
	v, err := s.inner.FindByParent(ctx, parentID)
	if err == nil {
		span.SetAttributes(attribute.Int("taskorch.result.count", len(v)))
	}
	s.in.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedItems) CountChildrenByStatus(ctx context.Context, parentID string) (map[string]int, error) {
	attrs := s.attrs(parentID)
	ctx, span, t := s.in.op(ctx, "CountChildrenByStatus", attrs...)
	v, err := s.inner.CountChildrenByStatus(ctx, parentID)
	s.in.done(ctx, span, t, err, attrs...)
	return v, err
}

// InstrumentedDependencies wraps a DependencyRepository with tracing and metrics.
type InstrumentedDependencies struct {
	inner storage.DependencyRepository
	in    *instruments
}

var _ storage.DependencyRepository = (*InstrumentedDependencies)(nil)

func (s *InstrumentedDependencies) AddDependency(ctx context.Context, dep *types.Dependency) error {
	attrs := []attribute.KeyValue{
		attribute.String("taskorch.dep.from", dep.FromTaskID),
		attribute.String("taskorch.dep.to", dep.ToTaskID),
		attribute.String("taskorch.dep.type", string(dep.Type)),
	}
	ctx, span, t := s.in.op(ctx, "AddDependency", attrs...)
	err := s.inner.AddDependency(ctx, dep)
	s.in.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedDependencies) RemoveDependency(ctx context.Context, fromID, toID string) error {
	attrs := []attribute.KeyValue{
		attribute.String("taskorch.dep.from", fromID),
		attribute.String("taskorch.dep.to", toID),
	}
	ctx, span, t := s.in.op(ctx, "RemoveDependency", attrs...)
	err := s.inner.RemoveDependency(ctx, fromID, toID)
	s.in.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedDependencies) GetBlocking(ctx context.Context, taskID string) ([]*types.Dependency, error) {
	attrs := []attribute.KeyValue{attribute.String("taskorch.entity.id", taskID)}
	ctx, span, t := s.in.op(ctx, "GetBlocking", attrs...)
	v, err := s.inner.GetBlocking(ctx, taskID)
	s.in.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedDependencies) GetBlockedBy(ctx context.Context, taskID string) ([]*types.Dependency, error) {
	attrs := []attribute.KeyValue{attribute.String("taskorch.entity.id", taskID)}
	ctx, span, t := s.in.op(ctx, "GetBlockedBy", attrs...)
	v, err := s.inner.GetBlockedBy(ctx, taskID)
	s.in.done(ctx, span, t, err, attrs...)
	return v, err
}
