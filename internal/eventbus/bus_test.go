package eventbus

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/taskorch/taskorch/internal/types"
)

// testHandler is a configurable handler for testing.
type testHandler struct {
	id       string
	handles  []EventType
	priority int
	fn       func(ctx context.Context, event *Event, result *Result) error
}

func (h *testHandler) ID() string           { return h.id }
func (h *testHandler) Handles() []EventType { return h.handles }
func (h *testHandler) Priority() int        { return h.priority }

func (h *testHandler) Handle(ctx context.Context, event *Event, result *Result) error {
	if h.fn != nil {
		return h.fn(ctx, event, result)
	}
	return nil
}

func TestDispatchNoHandlers(t *testing.T) {
	bus := New()
	result, err := bus.Dispatch(context.Background(), &Event{Type: EventStatusChanged, EntityID: "t-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Handled != 0 {
		t.Errorf("expected 0 handled, got %d", result.Handled)
	}
}

func TestDispatchNilEvent(t *testing.T) {
	bus := New()
	if _, err := bus.Dispatch(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil event")
	}
}

func TestDispatchStampsTime(t *testing.T) {
	bus := New()
	ev := &Event{Type: EventTaskUnblocked}
	if _, err := bus.Dispatch(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.At.IsZero() {
		t.Error("expected At to be stamped")
	}

	fixed := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ev = &Event{Type: EventTaskUnblocked, At: fixed}
	_, _ = bus.Dispatch(context.Background(), ev)
	if !ev.At.Equal(fixed) {
		t.Errorf("expected caller time preserved, got %v", ev.At)
	}
}

func TestDispatchMatchingHandlers(t *testing.T) {
	bus := New()
	var called []string

	bus.Register(&testHandler{
		id:       "cascade-handler",
		handles:  []EventType{EventCascadeApplied, EventCascadeFailed},
		priority: 10,
		fn: func(ctx context.Context, event *Event, result *Result) error {
			called = append(called, "cascade-handler")
			return nil
		},
	})
	bus.Register(&testHandler{
		id:       "lock-handler",
		handles:  []EventType{EventLockConflict},
		priority: 10,
		fn: func(ctx context.Context, event *Event, result *Result) error {
			called = append(called, "lock-handler")
			return nil
		},
	})

	_, err := bus.Dispatch(context.Background(), &Event{Type: EventCascadeApplied, EntityID: "f-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(called) != 1 || called[0] != "cascade-handler" {
		t.Errorf("expected [cascade-handler], got %v", called)
	}
}

func TestDispatchPriorityOrder(t *testing.T) {
	bus := New()
	var order []string

	for _, h := range []struct {
		name     string
		priority int
	}{{"low", 100}, {"high", 1}, {"medium", 50}} {
		name := h.name
		bus.Register(&testHandler{
			id:       name,
			handles:  []EventType{EventStatusChanged},
			priority: h.priority,
			fn: func(ctx context.Context, event *Event, result *Result) error {
				order = append(order, name)
				return nil
			},
		})
	}

	if _, err := bus.Dispatch(context.Background(), &Event{Type: EventStatusChanged}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"high", "medium", "low"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d handlers, got %d", len(expected), len(order))
	}
	for i, v := range expected {
		if order[i] != v {
			t.Errorf("position %d: expected %q, got %q", i, v, order[i])
		}
	}
}

func TestDispatchHandlerErrorDoesNotStopChain(t *testing.T) {
	bus := New()
	var called []string

	bus.Register(&testHandler{
		id:       "failing-handler",
		handles:  []EventType{EventCascadeFailed},
		priority: 1,
		fn: func(ctx context.Context, event *Event, result *Result) error {
			called = append(called, "failing")
			return fmt.Errorf("handler error")
		},
	})
	bus.Register(&testHandler{
		id:       "working-handler",
		handles:  []EventType{EventCascadeFailed},
		priority: 10,
		fn: func(ctx context.Context, event *Event, result *Result) error {
			called = append(called, "working")
			return nil
		},
	})

	result, err := bus.Dispatch(context.Background(), &Event{Type: EventCascadeFailed})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(called) != 2 {
		t.Errorf("expected both handlers called, got %v", called)
	}
	if result.Handled != 1 {
		t.Errorf("expected 1 handled, got %d", result.Handled)
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "failing-handler") {
		t.Errorf("unexpected warnings: %v", result.Warnings)
	}
}

func TestDispatchContextCancellation(t *testing.T) {
	bus := New()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	bus.Register(&testHandler{
		id:       "should-not-run",
		handles:  []EventType{EventStatusChanged},
		priority: 1,
		fn: func(ctx context.Context, event *Event, result *Result) error {
			t.Error("handler should not have been called")
			return nil
		},
	})

	if _, err := bus.Dispatch(ctx, &Event{Type: EventStatusChanged}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestPublishOnNilBus(t *testing.T) {
	var bus *Bus
	bus.Publish(context.Background(), &Event{Type: EventStatusChanged})
}

func TestCollector(t *testing.T) {
	bus := New()
	c := &Collector{}
	bus.Register(c)

	ctx := context.Background()
	bus.Publish(ctx, &Event{Type: EventCascadeApplied, EntityID: "f-1", Cascade: &types.CascadeResult{Applied: true}})
	bus.Publish(ctx, &Event{Type: EventTaskUnblocked, EntityID: "t-2", Unblocked: &types.UnblockedTask{TaskID: "t-2"}})
	bus.Publish(ctx, &Event{Type: EventCascadeApplied, EntityID: "p-1"})

	if got := len(c.Events()); got != 3 {
		t.Fatalf("expected 3 events, got %d", got)
	}
	applied := c.OfType(EventCascadeApplied)
	if len(applied) != 2 || applied[0].EntityID != "f-1" || applied[1].EntityID != "p-1" {
		t.Errorf("unexpected cascade events: %+v", applied)
	}
}

func TestLogHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	bus := New()
	for _, h := range DefaultHandlers(logger) {
		bus.Register(h)
	}
	bus.Publish(context.Background(), &Event{
		Type:      EventCascadeFailed,
		EntityID:  "f-1",
		OldStatus: "testing",
		NewStatus: "completed",
		Reason:    "prerequisites not met",
	})

	out := buf.String()
	for _, want := range []string{"level=WARN", "cascade.failed", "entity_id=f-1", "to=completed"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}

func TestDispatchConcurrentSafety(t *testing.T) {
	bus := New()

	var callCount [3]atomic.Int64
	for i := 0; i < 3; i++ {
		idx := i
		bus.Register(&testHandler{
			id:       fmt.Sprintf("handler-%d", idx),
			handles:  AllEventTypes(),
			priority: idx * 10,
			fn: func(ctx context.Context, event *Event, result *Result) error {
				callCount[idx].Add(1)
				return nil
			},
		})
	}

	const goroutines = 50
	done := make(chan struct{}, goroutines)
	eventTypes := AllEventTypes()

	for i := 0; i < goroutines; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			_, err := bus.Dispatch(context.Background(), &Event{
				Type:     eventTypes[i%len(eventTypes)],
				EntityID: fmt.Sprintf("t-%d", i),
			})
			if err != nil {
				t.Errorf("goroutine %d: dispatch error: %v", i, err)
			}
		}(i)
	}
	for i := 0; i < goroutines; i++ {
		<-done
	}

	for i := range callCount {
		if count := callCount[i].Load(); count != goroutines {
			t.Errorf("handler-%d: expected %d calls, got %d", i, goroutines, count)
		}
	}
}

func TestDispatchConcurrentRegisterAndDispatch(t *testing.T) {
	bus := New()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const workers = 20
	done := make(chan struct{}, workers*2)

	for i := 0; i < workers; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			bus.Register(&testHandler{
				id:       fmt.Sprintf("concurrent-%d", i),
				handles:  []EventType{EventLockConflict},
				priority: i,
			})
		}(i)
	}
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			if _, err := bus.Dispatch(ctx, &Event{Type: EventLockConflict, EntityID: fmt.Sprintf("x-%d", i)}); err != nil {
				t.Errorf("dispatch %d: %v", i, err)
			}
		}(i)
	}
	for i := 0; i < workers*2; i++ {
		<-done
	}

	if len(bus.Handlers()) != workers {
		t.Errorf("expected %d handlers, got %d", workers, len(bus.Handlers()))
	}
}

func TestIsCascadeEvent(t *testing.T) {
	for _, et := range AllEventTypes() {
		want := et == EventCascadeApplied || et == EventCascadeFailed
		if et.IsCascadeEvent() != want {
			t.Errorf("%s.IsCascadeEvent() = %v, want %v", et, !want, want)
		}
	}
}
