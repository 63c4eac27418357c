package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"azure-search-mcp/internal/prompts"
	"azure-search-mcp/internal/services"
	"azure-search-mcp/internal/workflow"
	"azure-search-mcp/pkg/models"
)

type fakeSearcher struct {
	err error
}

func (f fakeSearcher) Search(_ context.Context, q models.Query) ([]models.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []models.Document{{ID: "d1", Content: "alpha beta", Score: 1}}, nil
}

func (f fakeSearcher) Lookup(context.Context, string) (*models.Document, error) {
	return nil, nil
}

func newTestAPI(t *testing.T, searcher services.Searcher) *echo.Echo {
	t.Helper()
	catalog, err := prompts.Default()
	require.NoError(t, err)
	store := prompts.NewStoreFromCatalog(catalog)
	router, err := workflow.NewRouter(searcher, services.NewFormatter(store))
	require.NoError(t, err)

	h := NewHandler(router, store, "azure-search-mcp", "1.2.3")
	e := echo.New()
	e.GET("/health", h.HandleHealth)
	RegisterHandlers(e.Group("/api/v1"), h)
	return e
}

func TestHandleHealth(t *testing.T) {
	e := newTestAPI(t, fakeSearcher{})
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "1.2.3", body.Version)
	assert.Equal(t, "embedded", body.PromptCatalog)
}

func TestGetWorkflow(t *testing.T) {
	e := newTestAPI(t, fakeSearcher{})
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/workflow", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var d workflow.Description
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, "validate_input", d.Entry)
	assert.Contains(t, d.Nodes, "handle_error")
}

func TestPostSearch(t *testing.T) {
	e := newTestAPI(t, fakeSearcher{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader(`{"query":"alpha","format_type":"summary"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, models.FormatSummary, body.Format)
	assert.Equal(t, []string{"d1"}, body.Documents)
	assert.Contains(t, body.Path, models.StepSummarizeResults)
	assert.False(t, body.UsedLLM)
}

func TestPostSearch_Errors(t *testing.T) {
	tests := []struct {
		name     string
		searcher fakeSearcher
		body     string
		status   int
		code     string
	}{
		{"empty query", fakeSearcher{}, `{"query":""}`, http.StatusBadRequest, services.CodeInvalidQuery},
		{"search down", fakeSearcher{err: services.ErrSearchUnavailable}, `{"query":"q"}`, http.StatusBadGateway, services.CodeSearchUnavailable},
		{"malformed body", fakeSearcher{}, `{"query":`, http.StatusBadRequest, services.CodeInvalidQuery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestAPI(t, tt.searcher)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get(echo.HeaderContentType))
			var problem ProblemDetails
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
			assert.Equal(t, tt.code, problem.Code)
		})
	}
}
