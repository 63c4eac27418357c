package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"azure-search-mcp/internal/prompts"
	"azure-search-mcp/internal/services"
	"azure-search-mcp/internal/tracing"
	"azure-search-mcp/pkg/models"
)

type MockSearcher struct {
	mock.Mock
}

func (m *MockSearcher) Search(ctx context.Context, q models.Query) ([]models.Document, error) {
	args := m.Called(ctx, q)
	docs, _ := args.Get(0).([]models.Document)
	return docs, args.Error(1)
}

func (m *MockSearcher) Lookup(ctx context.Context, id string) (*models.Document, error) {
	args := m.Called(ctx, id)
	doc, _ := args.Get(0).(*models.Document)
	return doc, args.Error(1)
}

type MockCompleter struct {
	mock.Mock
}

func (m *MockCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func (m *MockCompleter) Name() string { return "mock" }

func compensationDocs() []models.Document {
	return []models.Document{
		{ID: "proxy-2024", Content: "CEO base salary was $1.2M with a $3M bonus.", Score: 9.1, Metadata: map[string]any{"title": "Proxy Statement"}},
		{ID: "10k-2024", Content: "Compensation committee approved equity grants.", Score: 7.4},
		{ID: "minutes-q3", Content: "Board discussed executive pay benchmarks.", Score: 5.0},
	}
}

func newRouter(t *testing.T, searcher services.Searcher, completer services.Completer, opts ...Option) *Router {
	t.Helper()
	catalog, err := prompts.Default()
	require.NoError(t, err)

	var fopts []services.FormatterOption
	if completer != nil {
		fopts = append(fopts, services.WithCompleter(completer))
	}
	formatter := services.NewFormatter(prompts.NewStoreFromCatalog(catalog), fopts...)

	r, err := NewRouter(searcher, formatter, append([]Option{WithMaxTopK(50)}, opts...)...)
	require.NoError(t, err)
	return r
}

func TestRouter_SummaryPath(t *testing.T) {
	searcher := new(MockSearcher)
	searcher.On("Search", mock.Anything, mock.MatchedBy(func(q models.Query) bool {
		return q.Text == "CEO compensation" && q.TopK == 3
	})).Return(compensationDocs(), nil).Once()

	completer := new(MockCompleter)
	completer.On("Complete", mock.Anything, mock.Anything).Return("The CEO earned $1.2M (id: proxy-2024).", nil).Once()

	r := newRouter(t, searcher, completer)
	st := r.Run(context.Background(), models.Query{Text: "CEO compensation", TopK: 3, Format: models.FormatSummary})

	require.NoError(t, st.Err)
	assert.Equal(t, []models.Step{
		models.StepValidateInput,
		models.StepSearchDocuments,
		models.StepPrepareContext,
		models.StepSummarizeResults,
		models.StepEnd,
	}, st.Path)
	assert.NotEmpty(t, st.Output)
	assert.LessOrEqual(t, len(st.Documents), 3)
	assert.True(t, st.UsedLLM)
	searcher.AssertExpectations(t)
	completer.AssertExpectations(t)
}

func TestRouter_EmptyQuery(t *testing.T) {
	searcher := new(MockSearcher)
	completer := new(MockCompleter)
	r := newRouter(t, searcher, completer)

	st := r.Run(context.Background(), models.Query{Text: "   ", TopK: 5, Format: models.FormatSummary})

	require.Error(t, st.Err)
	assert.ErrorIs(t, st.Err, services.ErrInvalidQuery)
	assert.Equal(t, "Query cannot be empty", services.PublicMessage(st.Err))
	assert.Empty(t, st.Output)
	assert.Equal(t, []models.Step{models.StepValidateInput, models.StepHandleError, models.StepEnd}, st.Path)
	searcher.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
	completer.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestRouter_InvalidInputs(t *testing.T) {
	tests := []struct {
		name string
		q    models.Query
		want string
	}{
		{"zero top_k", models.Query{Text: "q", TopK: 0}, "top_k must be greater than 0"},
		{"top_k over cap", models.Query{Text: "q", TopK: 51}, "top_k must not exceed 50"},
		{"unknown format", models.Query{Text: "q", TopK: 1, Format: "poem"}, "format_type must be one of structured, summary, analysis"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(t, new(MockSearcher), nil)
			st := r.Run(context.Background(), tt.q)
			assert.ErrorIs(t, st.Err, services.ErrInvalidQuery)
			assert.Equal(t, tt.want, services.PublicMessage(st.Err))
		})
	}
}

func TestRouter_SearchFailure(t *testing.T) {
	searcher := new(MockSearcher)
	searcher.On("Search", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: status code 503", services.ErrSearchUnavailable))
	completer := new(MockCompleter)

	r := newRouter(t, searcher, completer)
	st := r.Run(context.Background(), models.Query{Text: "revenue", TopK: 5, Format: models.FormatAnalysis})

	assert.ErrorIs(t, st.Err, services.ErrSearchUnavailable)
	assert.Empty(t, st.Output)
	assert.Equal(t, []models.Step{
		models.StepValidateInput,
		models.StepSearchDocuments,
		models.StepHandleError,
		models.StepEnd,
	}, st.Path)
	completer.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestRouter_CancelledContext(t *testing.T) {
	started := make(chan struct{})
	searcher := new(MockSearcher)
	searcher.On("Search", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			close(started)
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, fmt.Errorf("%w: %w", services.ErrSearchUnavailable, context.Canceled)).Once()
	completer := new(MockCompleter)

	r := newRouter(t, searcher, completer)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	st := r.Run(ctx, models.Query{Text: "pay", TopK: 3, Format: models.FormatSummary})

	assert.ErrorIs(t, st.Err, context.Canceled)
	assert.Equal(t, services.CodeSearchUnavailable, services.ErrorCode(st.Err))
	assert.Empty(t, st.Output)
	assert.Equal(t, []models.Step{
		models.StepValidateInput,
		models.StepSearchDocuments,
		models.StepHandleError,
		models.StepEnd,
	}, st.Path)
	searcher.AssertExpectations(t)
	completer.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

type eventSink struct {
	mu     sync.Mutex
	events []tracing.Event
}

func (s *eventSink) Emit(ev tracing.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func TestRouter_EventsShareRunID(t *testing.T) {
	catalog, err := prompts.Default()
	require.NoError(t, err)
	sink := &eventSink{}
	formatter := services.NewFormatter(prompts.NewStoreFromCatalog(catalog), services.WithSink(sink))

	searcher := new(MockSearcher)
	searcher.On("Search", mock.Anything, mock.Anything).Return(compensationDocs(), nil)
	r, err := NewRouter(searcher, formatter)
	require.NoError(t, err)

	r.Run(context.Background(), models.Query{Text: "pay", TopK: 3, Format: models.FormatAnalysis})
	first := sink.events
	sink.events = nil
	r.Run(context.Background(), models.Query{Text: "pay", TopK: 3, Format: models.FormatAnalysis})

	require.Len(t, first, 2)
	require.Len(t, sink.events, 2)
	assert.NotEmpty(t, first[0].RunID)
	assert.Equal(t, first[0].RunID, first[1].RunID)
	assert.Equal(t, sink.events[0].RunID, sink.events[1].RunID)
	assert.NotEqual(t, first[0].RunID, sink.events[0].RunID)
}

func TestRouter_EachFormatReachesOneTerminal(t *testing.T) {
	terminals := map[models.Step]bool{
		models.StepSummarizeResults: true,
		models.StepAnalyzeResults:   true,
		models.StepFormatStructured: true,
	}
	expected := map[models.Format]models.Step{
		models.FormatSummary:    models.StepSummarizeResults,
		models.FormatAnalysis:   models.StepAnalyzeResults,
		models.FormatStructured: models.StepFormatStructured,
		"":                      models.StepFormatStructured,
	}

	for format, want := range expected {
		t.Run(string(format), func(t *testing.T) {
			searcher := new(MockSearcher)
			searcher.On("Search", mock.Anything, mock.Anything).Return(compensationDocs(), nil)
			r := newRouter(t, searcher, nil)

			st := r.Run(context.Background(), models.Query{Text: "pay", TopK: 3, Format: format})
			require.NoError(t, st.Err)

			var hit []models.Step
			for _, s := range st.Path {
				if terminals[s] {
					hit = append(hit, s)
				}
			}
			assert.Equal(t, []models.Step{want}, hit)
		})
	}
}

func TestRouter_LLMFailureFallsBack(t *testing.T) {
	searcher := new(MockSearcher)
	searcher.On("Search", mock.Anything, mock.Anything).Return(compensationDocs(), nil)
	completer := new(MockCompleter)
	completer.On("Complete", mock.Anything, mock.Anything).Return("", errors.New("503 from model"))

	r := newRouter(t, searcher, completer)
	st := r.Run(context.Background(), models.Query{Text: "pay", TopK: 3, Format: models.FormatStructured})

	require.NoError(t, st.Err)
	assert.False(t, st.UsedLLM)
	for _, d := range st.Prepared.Documents {
		assert.Contains(t, st.Output, d.ID)
	}
	assert.NotContains(t, st.Output, "503 from model")
}

func TestRouter_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	searcher := new(MockSearcher)
	searcher.On("Search", mock.Anything, mock.Anything).Return(compensationDocs(), nil)
	r := newRouter(t, searcher, nil, WithRouterTracer(tp.Tracer("test")))

	r.Run(context.Background(), models.Query{Text: "pay", TopK: 3, Format: models.FormatSummary})

	var names []string
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	assert.ElementsMatch(t, []string{
		"workflow.validate_input",
		"workflow.search_documents",
		"workflow.prepare_context",
		"workflow.summarize_results",
		"workflow.run",
	}, names)
}

func TestRouter_ConcurrentRuns(t *testing.T) {
	searcher := new(MockSearcher)
	searcher.On("Search", mock.Anything, mock.Anything).Return(compensationDocs(), nil)
	r := newRouter(t, searcher, nil)

	var wg sync.WaitGroup
	results := make([]*models.WorkflowState, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			format := models.Formats[i%len(models.Formats)]
			results[i] = r.Run(context.Background(), models.Query{Text: "pay", TopK: 3, Format: format})
		}(i)
	}
	wg.Wait()

	for _, st := range results {
		require.NoError(t, st.Err)
		assert.Len(t, st.Path, 5)
		assert.NotEmpty(t, st.Output)
	}
}

func TestRouter_Describe(t *testing.T) {
	r := newRouter(t, new(MockSearcher), nil)
	d := r.Describe()

	assert.Equal(t, string(models.StepValidateInput), d.Entry)
	assert.Len(t, d.Nodes, 7)
	assert.Contains(t, d.Edges, Edge{From: "prepare_context", To: "summarize_results", Label: "summary"})
	assert.Contains(t, d.Edges, Edge{From: "search_documents", To: "handle_error", Label: "error"})
	assert.Contains(t, d.Edges, Edge{From: "handle_error", To: "END"})
}
