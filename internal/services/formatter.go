package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"azure-search-mcp/internal/logging"
	"azure-search-mcp/internal/prompts"
	"azure-search-mcp/internal/tracing"
	"azure-search-mcp/pkg/models"
)

const (
	defaultLLMTimeout = 20 * time.Second
	fallbackSnippet   = 500
)

// Result is the formatted response for one search.
type Result struct {
	Text    string
	UsedLLM bool
}

// Formatter turns a prepared context into the final response, using the LLM
// when available and a plain listing otherwise.
type Formatter struct {
	prompts   *prompts.Store
	completer Completer
	timeout   time.Duration
	sink      tracing.Sink
	tracer    trace.Tracer
	logger    *logging.Logger
}

// FormatterOption configures a Formatter.
type FormatterOption func(*Formatter)

// WithCompleter sets the LLM collaborator. A nil completer disables
// enhancement.
func WithCompleter(c Completer) FormatterOption {
	return func(f *Formatter) { f.completer = c }
}

// WithLLMTimeout bounds each completion call.
func WithLLMTimeout(d time.Duration) FormatterOption {
	return func(f *Formatter) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithSink sets the trace event sink.
func WithSink(s tracing.Sink) FormatterOption {
	return func(f *Formatter) {
		if s != nil {
			f.sink = s
		}
	}
}

// WithTracer sets the span tracer.
func WithTracer(t trace.Tracer) FormatterOption {
	return func(f *Formatter) {
		if t != nil {
			f.tracer = t
		}
	}
}

// WithFormatterLogger sets the logger.
func WithFormatterLogger(l *logging.Logger) FormatterOption {
	return func(f *Formatter) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFormatter creates a Formatter reading templates from store.
func NewFormatter(store *prompts.Store, opts ...FormatterOption) *Formatter {
	f := &Formatter{
		prompts: store,
		timeout: defaultLLMTimeout,
		sink:    tracing.Discard{},
		tracer:  noop.NewTracerProvider().Tracer(""),
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Enabled reports whether an LLM is configured.
func (f *Formatter) Enabled() bool {
	return f.completer != nil
}

// Format renders the response for format. Enhancement failures are logged
// and traced, then replaced by the fallback listing; they are never returned.
func (f *Formatter) Format(ctx context.Context, q models.Query, prepared models.PreparedContext, format models.Format) Result {
	name := "format_" + string(format)
	attrs := map[string]string{"format": string(format)}
	if f.completer != nil {
		attrs["completer"] = f.completer.Name()
	}

	ctx, span := f.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("search.format", string(format)),
		attribute.Int("search.documents", len(prepared.Documents)),
	))
	defer span.End()

	runID := tracing.RunIDFromContext(ctx)
	f.sink.Emit(tracing.Event{Name: name, Phase: tracing.PhaseStart, RunID: runID, Attrs: attrs})
	start := time.Now()

	text, err := f.enhance(ctx, q, prepared, format)
	latency := time.Since(start)
	f.sink.Emit(tracing.Event{Name: name, Phase: tracing.PhaseEnd, RunID: runID, Latency: latency, Attrs: attrs, Err: err})

	if err != nil {
		span.SetAttributes(attribute.Bool("search.fallback", true))
		span.AddEvent("enhancement unavailable", trace.WithAttributes(attribute.String("reason", err.Error())))
		f.logger.Warn("LLM enhancement failed, using fallback", "format", format, "latency_ms", latency.Milliseconds(), "error", err)
		return Result{Text: Fallback(q.Text, prepared)}
	}
	return Result{Text: text, UsedLLM: true}
}

func (f *Formatter) enhance(ctx context.Context, q models.Query, prepared models.PreparedContext, format models.Format) (string, error) {
	if f.completer == nil {
		return "", fmt.Errorf("%w: no LLM configured", ErrEnhancementUnavailable)
	}

	tmpl, err := f.prompts.TemplateFor(format)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEnhancementUnavailable, err)
	}
	prompt, err := tmpl.Render(map[string]string{
		prompts.VarQuery:      q.Text,
		prompts.VarDocuments:  prepared.Text,
		prompts.VarNumResults: strconv.Itoa(len(prepared.Documents)),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEnhancementUnavailable, err)
	}

	cctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	text, err := f.completer.Complete(cctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEnhancementUnavailable, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty completion", ErrEnhancementUnavailable)
	}
	return text, nil
}

// Fallback renders a deterministic listing of the prepared documents. Every
// document id in prepared appears in the output.
func Fallback(query string, prepared models.PreparedContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d documents for %q.", len(prepared.Documents), query)
	if len(prepared.Documents) == 0 {
		b.WriteString("\n\n" + NoDocumentsText)
		return b.String()
	}

	for i, d := range prepared.Documents {
		content := strings.TrimSpace(d.Content)
		if short := truncateWords(content, fallbackSnippet); short != content {
			content = short + ellipsis
		}
		fmt.Fprintf(&b, "\n\n[%d] %s\nid: %s | score: %.2f\n%s",
			i+1, d.Title(fmt.Sprintf("Document %d", i+1)), d.ID, d.Score, content)
	}
	return b.String()
}
