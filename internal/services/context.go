package services

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"azure-search-mcp/pkg/models"
)

const (
	// NoDocumentsText is the prepared context when a search returns nothing.
	NoDocumentsText = "No documents found for the given query."

	sectionSeparator = "\n\n---\n\n"
	ellipsis         = "…"

	// minSnippet is the smallest truncated body worth including.
	minSnippet = 40
)

// Prepare builds the bounded context handed to the formatter. Documents are
// walked in ranking order; empty and duplicate documents are skipped. The
// result never exceeds budget runes.
func Prepare(docs []models.Document, budget int) models.PreparedContext {
	if budget <= 0 {
		return models.PreparedContext{Truncated: len(docs) > 0}
	}

	var (
		b        strings.Builder
		used     int
		included []models.Document
		seen     = make(map[string]bool, len(docs))
		out      models.PreparedContext
	)

	for _, d := range docs {
		if strings.TrimSpace(d.Content) == "" || seen[d.ID] {
			continue
		}
		seen[d.ID] = true

		sep := ""
		if len(included) > 0 {
			sep = sectionSeparator
		}
		header := sectionHeader(d, len(included)+1)
		section := sep + header + d.Content
		n := utf8.RuneCountInString(section)
		if used+n <= budget {
			b.WriteString(section)
			used += n
			included = append(included, d)
			continue
		}

		out.Truncated = true
		room := budget - used - utf8.RuneCountInString(sep+header) - utf8.RuneCountInString(ellipsis)
		switch {
		case room >= minSnippet:
			b.WriteString(sep + header + truncateWords(d.Content, room) + ellipsis)
			included = append(included, d)
		case len(included) == 0:
			b.WriteString(truncateRunes(header+d.Content, budget))
			included = append(included, d)
		}
		break
	}

	if len(included) == 0 {
		if utf8.RuneCountInString(NoDocumentsText) <= budget {
			out.Text = NoDocumentsText
		}
		return out
	}

	out.Text = b.String()
	out.Documents = included
	return out
}

func sectionHeader(d models.Document, rank int) string {
	return fmt.Sprintf("## %s (id: %s)\n\n", d.Title(fmt.Sprintf("Document %d", rank)), d.ID)
}

// truncateWords cuts s to at most n runes, preferring the last whitespace in
// the second half of the window.
func truncateWords(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	r = r[:n]
	for i := len(r) - 1; i > n/2; i-- {
		if unicode.IsSpace(r[i]) {
			return strings.TrimRightFunc(string(r[:i]), unicode.IsSpace)
		}
	}
	return string(r)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
