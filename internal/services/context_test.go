package services

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"azure-search-mcp/pkg/models"
)

func doc(id, title, content string) models.Document {
	d := models.Document{ID: id, Content: content, Score: 1}
	if title != "" {
		d.Metadata = map[string]any{"title": title}
	}
	return d
}

func TestPrepare_Sections(t *testing.T) {
	got := Prepare([]models.Document{
		doc("a", "Annual Report", "Revenue grew."),
		doc("b", "", "Costs fell."),
	}, 1000)

	want := "## Annual Report (id: a)\n\nRevenue grew." +
		"\n\n---\n\n" +
		"## Document 2 (id: b)\n\nCosts fell."
	assert.Equal(t, want, got.Text)
	assert.False(t, got.Truncated)
	require.Len(t, got.Documents, 2)
	assert.Equal(t, "a", got.Documents[0].ID)
}

func TestPrepare_SkipsEmptyAndDuplicates(t *testing.T) {
	got := Prepare([]models.Document{
		doc("a", "", "first"),
		doc("blank", "", "   "),
		doc("a", "", "duplicate"),
		doc("c", "", "third"),
	}, 1000)

	ids := make([]string, 0, len(got.Documents))
	for _, d := range got.Documents {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"a", "c"}, ids)
	assert.NotContains(t, got.Text, "duplicate")
	assert.NotContains(t, got.Text, "blank")
}

func TestPrepare_NumbersIncludedDocuments(t *testing.T) {
	got := Prepare([]models.Document{
		doc("blank", "", " "),
		doc("a", "", "first"),
		doc("a", "", "duplicate"),
		doc("c", "", "third"),
	}, 1000)

	want := "## Document 1 (id: a)\n\nfirst" +
		"\n\n---\n\n" +
		"## Document 2 (id: c)\n\nthird"
	assert.Equal(t, want, got.Text)

	fallback := Fallback("q", got)
	assert.Contains(t, fallback, "[1] Document 1\nid: a |")
	assert.Contains(t, fallback, "[2] Document 2\nid: c |")
}

func TestPrepare_NoDocuments(t *testing.T) {
	got := Prepare(nil, 1000)
	assert.Equal(t, NoDocumentsText, got.Text)
	assert.Empty(t, got.Documents)

	got = Prepare([]models.Document{doc("x", "", "")}, 1000)
	assert.Equal(t, NoDocumentsText, got.Text)
}

func TestPrepare_TruncatesLastDocumentAtWordBoundary(t *testing.T) {
	long := strings.Repeat("lorem ipsum dolor ", 50)
	budget := 200
	got := Prepare([]models.Document{
		doc("a", "A", "short body"),
		doc("b", "B", long),
		doc("c", "C", "never reached"),
	}, budget)

	assert.True(t, got.Truncated)
	assert.LessOrEqual(t, utf8.RuneCountInString(got.Text), budget)
	require.Len(t, got.Documents, 2)
	assert.NotContains(t, got.Text, "never reached")
	assert.True(t, strings.HasSuffix(got.Text, ellipsis))

	body := strings.TrimSuffix(got.Text, ellipsis)
	last := body[strings.LastIndex(body, " ")+1:]
	assert.Contains(t, []string{"lorem", "ipsum", "dolor"}, last, "cut should land between words")
}

func TestPrepare_FirstDocumentLargerThanBudget(t *testing.T) {
	got := Prepare([]models.Document{doc("big", "", strings.Repeat("x", 500))}, 30)
	assert.Equal(t, 30, utf8.RuneCountInString(got.Text))
	require.Len(t, got.Documents, 1)
	assert.True(t, got.Truncated)
}

func TestPrepare_NeverExceedsBudget(t *testing.T) {
	corpus := []models.Document{
		doc("1", "Über-Bericht", strings.Repeat("Größe und Übermaß ", 40)),
		doc("2", "", strings.Repeat("日本語のテキスト ", 30)),
		doc("3", "Short", "tiny"),
		doc("4", "", strings.Repeat("word ", 200)),
	}

	for budget := 0; budget <= 2000; budget += 7 {
		t.Run(fmt.Sprintf("budget=%d", budget), func(t *testing.T) {
			got := Prepare(corpus, budget)
			assert.LessOrEqual(t, utf8.RuneCountInString(got.Text), budget)
			assert.True(t, utf8.ValidString(got.Text))
			if !got.Truncated {
				for _, d := range got.Documents {
					assert.Contains(t, got.Text, "(id: "+d.ID+")")
				}
			}
		})
	}
}
