// Package models defines the domain models for the search service
package models

import (
	"fmt"
	"strings"
)

// Format represents the output shape requested for a search
type Format string

const (
	FormatStructured Format = "structured"
	FormatSummary    Format = "summary"
	FormatAnalysis   Format = "analysis"
)

// Formats lists every supported output format in a stable order.
var Formats = []Format{FormatStructured, FormatSummary, FormatAnalysis}

// ParseFormat converts a raw format tag into a Format.
func ParseFormat(raw string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(raw)))
	switch f {
	case FormatStructured, FormatSummary, FormatAnalysis:
		return f, nil
	}
	return "", fmt.Errorf("unknown format %q", raw)
}

// DefaultTopK is used when a caller does not provide a result count.
const DefaultTopK = 5

// Query is a single search request. It is treated as immutable once built.
type Query struct {
	Text   string `json:"query"`
	TopK   int    `json:"top_k"`
	Format Format `json:"format"`
	// Filter is an optional OData $filter expression passed to the index.
	Filter string `json:"filter,omitempty"`
}

// Document is a normalized search hit.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Title returns the document title from metadata, or fallback when absent.
func (d Document) Title(fallback string) string {
	if d.Metadata != nil {
		if t, ok := d.Metadata["title"].(string); ok && strings.TrimSpace(t) != "" {
			return t
		}
	}
	return fallback
}
