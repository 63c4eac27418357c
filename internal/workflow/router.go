package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"azure-search-mcp/internal/logging"
	"azure-search-mcp/internal/services"
	"azure-search-mcp/internal/tracing"
	"azure-search-mcp/pkg/models"
)

const defaultBudget = 12000

// Router runs a query through the search graph:
//
//	validate_input -> search_documents -> prepare_context -> {summarize_results | analyze_results | format_structured} -> END
//
// with validation and search failures routed to handle_error.
type Router struct {
	searcher  services.Searcher
	formatter *services.Formatter
	budget    int
	maxTopK   int
	logger    *logging.Logger
	tracer    trace.Tracer
	metrics   *tracing.Metrics
	graph     *Compiled
}

// Option configures a Router.
type Option func(*Router)

// WithBudget sets the context budget in runes.
func WithBudget(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.budget = n
		}
	}
}

// WithMaxTopK caps the result count a query may ask for.
func WithMaxTopK(n int) Option {
	return func(r *Router) { r.maxTopK = n }
}

// WithLogger sets the router logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRouterTracer sets the tracer for run and step spans.
func WithRouterTracer(t trace.Tracer) Option {
	return func(r *Router) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithRouterMetrics records run counts and step latencies.
func WithRouterMetrics(m *tracing.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// NewRouter builds and compiles the search graph.
func NewRouter(searcher services.Searcher, formatter *services.Formatter, opts ...Option) (*Router, error) {
	r := &Router{
		searcher:  searcher,
		formatter: formatter,
		budget:    defaultBudget,
		logger:    logging.Nop(),
		tracer:    noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(r)
	}

	cont := string(models.OutcomeContinue)
	fail := string(models.OutcomeError)

	g := NewGraph().
		AddNode(models.StepValidateInput, r.validateInput).
		AddNode(models.StepSearchDocuments, r.searchDocuments).
		AddNode(models.StepPrepareContext, r.prepareContext).
		AddNode(models.StepSummarizeResults, r.formatNode(models.FormatSummary)).
		AddNode(models.StepAnalyzeResults, r.formatNode(models.FormatAnalysis)).
		AddNode(models.StepFormatStructured, r.formatNode(models.FormatStructured)).
		AddNode(models.StepHandleError, r.handleError).
		SetEntry(models.StepValidateInput).
		AddConditionalEdges(models.StepValidateInput, map[string]models.Step{
			cont: models.StepSearchDocuments,
			fail: models.StepHandleError,
		}).
		AddConditionalEdges(models.StepSearchDocuments, map[string]models.Step{
			cont: models.StepPrepareContext,
			fail: models.StepHandleError,
		}).
		AddConditionalEdges(models.StepPrepareContext, map[string]models.Step{
			string(models.FormatSummary):    models.StepSummarizeResults,
			string(models.FormatAnalysis):   models.StepAnalyzeResults,
			string(models.FormatStructured): models.StepFormatStructured,
		}).
		AddEdge(models.StepSummarizeResults, models.StepEnd).
		AddEdge(models.StepAnalyzeResults, models.StepEnd).
		AddEdge(models.StepFormatStructured, models.StepEnd).
		AddEdge(models.StepHandleError, models.StepEnd)

	compiled, err := g.Compile(WithTracer(r.tracer), WithMetrics(r.metrics))
	if err != nil {
		return nil, err
	}
	r.graph = compiled
	return r, nil
}

// Run executes one search. The returned state has exactly one of Err and
// Output set.
func (r *Router) Run(ctx context.Context, q models.Query) *models.WorkflowState {
	runID := uuid.NewString()
	st := &models.WorkflowState{Query: q}

	ctx, span := r.tracer.Start(ctx, "workflow.run", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("search.format", string(q.Format)),
		attribute.Int("search.top_k", q.TopK),
	))
	defer span.End()
	ctx = tracing.WithRunID(ctx, runID)

	start := time.Now()
	r.graph.Execute(ctx, st)

	outcome := "ok"
	if st.Failed() {
		outcome = services.ErrorCode(st.Err)
	}
	span.SetAttributes(attribute.String("workflow.result", outcome))
	if r.metrics != nil {
		r.metrics.RecordRun(ctx, string(st.Query.Format), outcome)
	}
	r.logger.Info("Workflow finished",
		"run_id", runID,
		"path", pathString(st.Path),
		"result", outcome,
		"documents", len(st.Documents),
		"used_llm", st.UsedLLM,
		"duration_ms", time.Since(start).Milliseconds())
	return st
}

// Describe returns the compiled graph.
func (r *Router) Describe() Description {
	return r.graph.Describe()
}

func (r *Router) validateInput(_ context.Context, st *models.WorkflowState) string {
	q := st.Query
	q.Text = strings.TrimSpace(q.Text)

	switch {
	case q.Text == "":
		st.Err = services.NewQueryError("Query cannot be empty")
	case q.TopK <= 0:
		st.Err = services.NewQueryError("top_k must be greater than 0")
	case r.maxTopK > 0 && q.TopK > r.maxTopK:
		st.Err = services.NewQueryError(fmt.Sprintf("top_k must not exceed %d", r.maxTopK))
	}
	if st.Err != nil {
		return string(models.OutcomeError)
	}

	if q.Format == "" {
		q.Format = models.FormatStructured
	} else {
		f, err := models.ParseFormat(string(q.Format))
		if err != nil {
			st.Err = services.NewQueryError("format_type must be one of structured, summary, analysis")
			return string(models.OutcomeError)
		}
		q.Format = f
	}

	st.Query = q
	return string(models.OutcomeContinue)
}

func (r *Router) searchDocuments(ctx context.Context, st *models.WorkflowState) string {
	docs, err := r.searcher.Search(ctx, st.Query)
	if err != nil {
		st.Err = err
		return string(models.OutcomeError)
	}
	st.Documents = docs
	return string(models.OutcomeContinue)
}

func (r *Router) prepareContext(_ context.Context, st *models.WorkflowState) string {
	st.Prepared = services.Prepare(st.Documents, r.budget)
	return string(st.Query.Format)
}

func (r *Router) formatNode(f models.Format) NodeFunc {
	return func(ctx context.Context, st *models.WorkflowState) string {
		res := r.formatter.Format(ctx, st.Query, st.Prepared, f)
		st.Output = res.Text
		st.UsedLLM = res.UsedLLM
		return string(models.OutcomeContinue)
	}
}

func (r *Router) handleError(_ context.Context, st *models.WorkflowState) string {
	if st.Err == nil {
		st.Err = fmt.Errorf("workflow reached %s without an error", models.StepHandleError)
	}
	st.Output = ""
	code := services.ErrorCode(st.Err)
	if code == services.CodeInvalidQuery {
		r.logger.Warn("Search rejected", "code", code, "error", st.Err)
	} else {
		r.logger.Error("Search workflow failed", "code", code, "error", st.Err)
	}
	return string(models.OutcomeContinue)
}

func pathString(path []models.Step) string {
	parts := make([]string, len(path))
	for i, s := range path {
		parts[i] = string(s)
	}
	return strings.Join(parts, " -> ")
}
