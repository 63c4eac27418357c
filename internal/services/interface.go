package services

import (
	"context"

	"azure-search-mcp/pkg/models"
)

// Searcher is the search gateway used by the workflow.
type Searcher interface {
	// Search runs one query and returns hits ranked by relevance, best first.
	Search(ctx context.Context, q models.Query) ([]models.Document, error)
	// Lookup fetches a single document by key. A missing document yields (nil, nil).
	Lookup(ctx context.Context, id string) (*models.Document, error)
}

// Completer is an interface for communicating with an LLM.
type Completer interface {
	// Complete returns the text completion for prompt.
	Complete(ctx context.Context, prompt string) (string, error)
	// Name identifies the provider and model, e.g. "gemini:gemini-1.5-flash".
	Name() string
}
