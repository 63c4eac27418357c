package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"azure-search-mcp/internal/services"
	"azure-search-mcp/pkg/models"
)

// GetWorkflow returns the compiled search graph
// (GET /api/v1/workflow)
func (h *Handler) GetWorkflow(c echo.Context) error {
	return c.JSON(http.StatusOK, h.router.Describe())
}

// SearchRequest is the body of POST /api/v1/search.
type SearchRequest struct {
	Query      string `json:"query"`
	TopK       int    `json:"top_k"`
	FormatType string `json:"format_type"`
	Filter     string `json:"filter"`
}

// SearchResponse is a successful search.
type SearchResponse struct {
	Output    string        `json:"output"`
	Format    models.Format `json:"format"`
	UsedLLM   bool          `json:"used_llm"`
	Documents []string      `json:"documents"`
	Path      []models.Step `json:"path"`
}

// PostSearch runs one search through the workflow
// (POST /api/v1/search)
func (h *Handler) PostSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, "Invalid request body", services.CodeInvalidQuery, "The request body must be a JSON object.")
	}
	if req.TopK == 0 {
		req.TopK = models.DefaultTopK
	}
	format := models.Format(req.FormatType)
	if format == "" {
		format = h.prompts.Catalog().DefaultFormat()
	}

	st := h.router.Run(c.Request().Context(), models.Query{
		Text:   req.Query,
		TopK:   req.TopK,
		Format: format,
		Filter: req.Filter,
	})
	if st.Failed() {
		code := services.ErrorCode(st.Err)
		status := http.StatusInternalServerError
		switch code {
		case services.CodeInvalidQuery:
			status = http.StatusBadRequest
		case services.CodeSearchUnavailable:
			status = http.StatusBadGateway
		}
		return writeError(c, status, http.StatusText(status), code, services.PublicMessage(st.Err))
	}

	ids := make([]string, 0, len(st.Prepared.Documents))
	for _, d := range st.Prepared.Documents {
		ids = append(ids, d.ID)
	}
	return c.JSON(http.StatusOK, SearchResponse{
		Output:    st.Output,
		Format:    st.Query.Format,
		UsedLLM:   st.UsedLLM,
		Documents: ids,
		Path:      st.Path,
	})
}
