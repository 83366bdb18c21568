package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/taskorch/taskorch/internal/storage"
	"github.com/taskorch/taskorch/internal/storage/memory"
	"github.com/taskorch/taskorch/internal/types"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if s, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range s.DataPoints {
					sums[m.Name] += dp.Value
				}
			}
		}
	}
	return sums
}

func TestWrapRepositoriesDisabled(t *testing.T) {
	t.Setenv("TASKORCH_OTEL_ENABLED", "")
	repos := memory.New().Repositories()

	wrapped := WrapRepositories(repos)
	assert.Same(t, repos.Tasks.(any), wrapped.Tasks.(any))
}

func TestInstrumentedRepositories(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	in := newInstruments(mp.Meter("test"), tracenoop.NewTracerProvider().Tracer("test"))
	repos := wrapRepositories(memory.New().Repositories(), in)
	ctx := context.Background()

	require.NoError(t, repos.Projects.Create(ctx, &types.Item{ID: "p-1", Title: "p", Status: "planning"}))
	_, err := repos.Projects.GetByID(ctx, "p-1")
	require.NoError(t, err)
	_, err = repos.Projects.GetByID(ctx, "p-404")
	require.ErrorIs(t, err, storage.ErrNotFound, "errors pass through unchanged")
	_, err = repos.Dependencies.GetBlocking(ctx, "t-1")
	require.NoError(t, err)

	sums := collect(t, reader)
	assert.Equal(t, int64(4), sums["taskorch.storage.operations"])
	assert.Equal(t, int64(1), sums["taskorch.storage.errors"])
}

func TestCascadeMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := newCascadeMetrics(mp.Meter("test"))
	ctx := context.Background()

	m.RecordDetected(ctx, types.KindTask, 2)
	m.RecordDetected(ctx, types.KindFeature, 0)
	ev := types.CascadeEvent{Event: types.EventAllChildrenComplete, TargetKind: types.KindFeature}
	m.RecordResult(ctx, types.CascadeResult{Event: ev, Applied: true})
	m.RecordResult(ctx, types.CascadeResult{Event: ev, Error: "boom"})
	m.RecordResult(ctx, types.CascadeResult{Event: ev, Error: "boom"})

	sums := collect(t, reader)
	assert.Equal(t, int64(2), sums["taskorch.cascade.events"])
	assert.Equal(t, int64(1), sums["taskorch.cascade.applied"])
	assert.Equal(t, int64(2), sums["taskorch.cascade.failed"])
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Equal(t, "", firstNonEmpty("", ""))
}
