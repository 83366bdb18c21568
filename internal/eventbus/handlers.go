package eventbus

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

// LogHandler writes every event to a structured logger.
// Priority 100 (runs last so it sees events after other handlers).
type LogHandler struct {
	Logger *slog.Logger
}

func (h *LogHandler) ID() string           { return "log" }
func (h *LogHandler) Handles() []EventType { return AllEventTypes() }
func (h *LogHandler) Priority() int        { return 100 }

func (h *LogHandler) Handle(ctx context.Context, event *Event, _ *Result) error {
	if h.Logger == nil {
		return nil
	}
	attrs := []any{"entity_id", event.EntityID}
	if event.EntityKind != "" {
		attrs = append(attrs, "kind", event.EntityKind)
	}
	if event.OldStatus != "" || event.NewStatus != "" {
		attrs = append(attrs, "from", event.OldStatus, "to", event.NewStatus)
	}
	if event.Reason != "" {
		attrs = append(attrs, "reason", event.Reason)
	}
	level := slog.LevelInfo
	if event.Type == EventCascadeFailed || event.Type == EventLockConflict {
		level = slog.LevelWarn
	}
	h.Logger.Log(ctx, level, string(event.Type), attrs...)
	return nil
}

// Collector keeps a copy of every event it handles. The CLI uses it to
// report side effects; tests use it to assert on them.
// Priority 50.
type Collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *Collector) ID() string           { return "collector" }
func (c *Collector) Handles() []EventType { return AllEventTypes() }
func (c *Collector) Priority() int        { return 50 }

func (c *Collector) Handle(_ context.Context, event *Event, _ *Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, *event)
	return nil
}

// Events returns the collected events in dispatch order.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.events)
}

// OfType returns the collected events of type t.
func (c *Collector) OfType(t EventType) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// DefaultHandlers returns the standard handlers: structured logging.
func DefaultHandlers(logger *slog.Logger) []Handler {
	return []Handler{
		&LogHandler{Logger: logger},
	}
}
