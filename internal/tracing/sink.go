package tracing

import (
	"context"
	"sync/atomic"
	"time"

	"azure-search-mcp/internal/logging"
)

// Phase marks where in an operation an event was emitted.
type Phase string

const (
	PhaseStart Phase = "start"
	PhaseEnd   Phase = "end"
)

// Event is one trace record. End events carry the latency and, on failure,
// the error.
type Event struct {
	Name    string
	Phase   Phase
	RunID   string
	Time    time.Time
	Latency time.Duration
	Attrs   map[string]string
	Err     error
}

// Failed reports whether the event records a failure.
func (e Event) Failed() bool { return e.Err != nil }

type runIDKey struct{}

// WithRunID returns a context carrying the workflow run id that events
// emitted under it should be tagged with.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFromContext returns the run id set by WithRunID, or "".
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Sink accepts trace events. Emit must never block the caller.
type Sink interface {
	Emit(Event)
}

// Discard is a Sink that drops everything.
type Discard struct{}

func (Discard) Emit(Event) {}

// Handler consumes events on the collector goroutine.
type Handler func(Event)

// Collector buffers events and hands them to handlers on a single goroutine.
// When the buffer is full new events are dropped.
type Collector struct {
	ch       chan Event
	handlers []Handler
	dropped  atomic.Int64
	handled  atomic.Int64
}

// NewCollector creates a collector with the given buffer size.
func NewCollector(size int, handlers ...Handler) *Collector {
	if size < 1 {
		size = 1
	}
	return &Collector{ch: make(chan Event, size), handlers: handlers}
}

// Emit enqueues ev or drops it if the buffer is full.
func (c *Collector) Emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	select {
	case c.ch <- ev:
	default:
		c.dropped.Add(1)
	}
}

// Run dispatches events until ctx is cancelled, then drains what is left in
// the buffer.
func (c *Collector) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-c.ch:
			c.dispatch(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-c.ch:
					c.dispatch(ev)
				default:
					return nil
				}
			}
		}
	}
}

func (c *Collector) dispatch(ev Event) {
	for _, h := range c.handlers {
		h(ev)
	}
	c.handled.Add(1)
}

// Dropped returns how many events were discarded because the buffer was full.
func (c *Collector) Dropped() int64 { return c.dropped.Load() }

// Handled returns how many events reached the handlers.
func (c *Collector) Handled() int64 { return c.handled.Load() }

// LogHandler writes events to the logger at debug level, failures at warn.
func LogHandler(logger *logging.Logger) Handler {
	return func(ev Event) {
		args := []any{"event", ev.Name, "phase", string(ev.Phase)}
		if ev.RunID != "" {
			args = append(args, "run_id", ev.RunID)
		}
		if ev.Phase == PhaseEnd {
			args = append(args, "latency_ms", ev.Latency.Milliseconds())
		}
		for k, v := range ev.Attrs {
			args = append(args, k, v)
		}
		if ev.Failed() {
			logger.Warn("Trace event", append(args, "error", ev.Err)...)
			return
		}
		logger.Debug("Trace event", args...)
	}
}
