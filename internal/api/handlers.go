// Package api contains the HTTP handlers served next to the MCP transport.
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"azure-search-mcp/internal/prompts"
	"azure-search-mcp/internal/workflow"
)

// Handler contains HTTP handlers for the search service REST API
type Handler struct {
	router  *workflow.Router
	prompts *prompts.Store
	service string
	version string
}

// NewHandler creates a new Handler with required dependencies
func NewHandler(router *workflow.Router, store *prompts.Store, service, version string) *Handler {
	return &Handler{router: router, prompts: store, service: service, version: version}
}

// RegisterHandlers mounts the versioned API on g.
func RegisterHandlers(g *echo.Group, h *Handler) {
	g.GET("/workflow", h.GetWorkflow)
	g.POST("/search", h.PostSearch)
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	Service       string    `json:"service"`
	Version       string    `json:"version"`
	PromptCatalog string    `json:"prompt_catalog"`
}

// HandleHealth returns basic health status (always returns 200 OK)
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:        "ok",
		Timestamp:     time.Now().UTC(),
		Service:       h.service,
		Version:       h.version,
		PromptCatalog: h.prompts.Catalog().Source(),
	})
}

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Code     string `json:"code,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// writeError writes an RFC 7807 Problem Details JSON error response
func writeError(c echo.Context, status int, title, code, detail string) error {
	problem := ProblemDetails{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Code:     code,
		Instance: c.Request().URL.Path,
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	return c.JSON(status, problem)
}
