package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"azure-search-mcp/internal/prompts"
	"azure-search-mcp/internal/tracing"
	"azure-search-mcp/pkg/models"
)

type MockCompleter struct {
	mock.Mock
}

func (m *MockCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func (m *MockCompleter) Name() string {
	return "mock:test"
}

type eventLog struct {
	mu     sync.Mutex
	events []tracing.Event
}

func (l *eventLog) Emit(ev tracing.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func newTestStore(t *testing.T) *prompts.Store {
	t.Helper()
	c, err := prompts.Default()
	require.NoError(t, err)
	return prompts.NewStoreFromCatalog(c)
}

func preparedFixture() (models.Query, models.PreparedContext) {
	q := models.Query{Text: "CEO compensation", TopK: 3, Format: models.FormatSummary}
	docs := []models.Document{
		doc("proxy-2024", "Proxy Statement 2024", "The CEO received a base salary of $1.2M."),
		doc("10k-2024", "", "Executive bonuses were tied to revenue growth."),
	}
	return q, Prepare(docs, 4000)
}

func TestFormatter_UsesLLM(t *testing.T) {
	q, prepared := preparedFixture()
	completer := new(MockCompleter)
	completer.On("Complete", mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, "CEO compensation") &&
			strings.Contains(p, "(id: proxy-2024)") &&
			!strings.Contains(p, "{{")
	})).Return("  The CEO earned $1.2M (id: proxy-2024).  ", nil)

	events := &eventLog{}
	f := NewFormatter(newTestStore(t), WithCompleter(completer), WithSink(events))
	assert.True(t, f.Enabled())

	res := f.Format(context.Background(), q, prepared, models.FormatSummary)
	assert.True(t, res.UsedLLM)
	assert.Equal(t, "The CEO earned $1.2M (id: proxy-2024).", res.Text)
	completer.AssertExpectations(t)

	require.Len(t, events.events, 2)
	assert.Equal(t, tracing.PhaseStart, events.events[0].Phase)
	assert.Equal(t, tracing.PhaseEnd, events.events[1].Phase)
	assert.False(t, events.events[1].Failed())
	assert.Equal(t, "mock:test", events.events[1].Attrs["completer"])
}

func TestFormatter_FallbackOnFailure(t *testing.T) {
	q, prepared := preparedFixture()

	tests := []struct {
		name  string
		setup func(*MockCompleter)
	}{
		{"error", func(m *MockCompleter) {
			m.On("Complete", mock.Anything, mock.Anything).Return("", errors.New("quota exceeded"))
		}},
		{"empty completion", func(m *MockCompleter) {
			m.On("Complete", mock.Anything, mock.Anything).Return("   ", nil)
		}},
		{"timeout", func(m *MockCompleter) {
			m.On("Complete", mock.Anything, mock.Anything).Return("", context.DeadlineExceeded).
				WaitUntil(time.After(50 * time.Millisecond))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completer := new(MockCompleter)
			tt.setup(completer)
			events := &eventLog{}
			f := NewFormatter(newTestStore(t), WithCompleter(completer), WithSink(events), WithLLMTimeout(10*time.Millisecond))

			res := f.Format(context.Background(), q, prepared, models.FormatAnalysis)
			assert.False(t, res.UsedLLM)
			for _, d := range prepared.Documents {
				assert.Contains(t, res.Text, d.ID)
			}
			assert.NotContains(t, res.Text, "quota exceeded")

			require.Len(t, events.events, 2)
			assert.ErrorIs(t, events.events[1].Err, ErrEnhancementUnavailable)
		})
	}
}

func TestFormatter_NoCompleter(t *testing.T) {
	q, prepared := preparedFixture()
	events := &eventLog{}
	f := NewFormatter(newTestStore(t), WithSink(events))

	assert.False(t, f.Enabled())
	res := f.Format(context.Background(), q, prepared, models.FormatStructured)
	assert.False(t, res.UsedLLM)
	assert.Equal(t, Fallback(q.Text, prepared), res.Text)
	assert.Len(t, events.events, 2)
}

func TestFallback(t *testing.T) {
	q, prepared := preparedFixture()
	got := Fallback(q.Text, prepared)

	want := `Found 2 documents for "CEO compensation".` +
		"\n\n[1] Proxy Statement 2024\nid: proxy-2024 | score: 1.00\nThe CEO received a base salary of $1.2M." +
		"\n\n[2] Document 2\nid: 10k-2024 | score: 1.00\nExecutive bonuses were tied to revenue growth."
	assert.Equal(t, want, got)

	empty := Fallback("nothing", Prepare(nil, 100))
	assert.Equal(t, "Found 0 documents for \"nothing\".\n\n"+NoDocumentsText, empty)
}

func TestFormatter_EventsCarryRunID(t *testing.T) {
	q, prepared := preparedFixture()
	completer := new(MockCompleter)
	completer.On("Complete", mock.Anything, mock.Anything).Return("Summary (id: proxy-2024).", nil).Once()
	events := &eventLog{}
	f := NewFormatter(newTestStore(t), WithCompleter(completer), WithSink(events))

	ctx := tracing.WithRunID(context.Background(), "run-7")
	f.Format(ctx, q, prepared, models.FormatSummary)

	require.Len(t, events.events, 2)
	for _, ev := range events.events {
		assert.Equal(t, "run-7", ev.RunID)
	}
}
