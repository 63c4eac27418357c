package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDocuments_Samples(t *testing.T) {
	first, err := loadDocuments("")
	require.NoError(t, err)
	require.Len(t, first, len(sampleDocs))

	second, err := loadDocuments("")
	require.NoError(t, err)
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID, "ids must be stable across runs")
		assert.NotEmpty(t, first[i].Metadata["title"])
	}
}

func TestLoadDocuments_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"id": "given", "title": "Given", "content": "first"},
		{"content": "no title", "metadata": {"year": 2022}}
	]`), 0o644))

	docs, err := loadDocuments(path)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "given", docs[0].ID)
	assert.Equal(t, "Given", docs[0].Metadata["title"])
	assert.NotEmpty(t, docs[1].ID)
	assert.NotContains(t, docs[1].Metadata, "title")
	assert.EqualValues(t, 2022, docs[1].Metadata["year"])
}

func TestLoadDocuments_Rejects(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`[{"id": "x", "content": "  "}]`), 0o644))
	_, err := loadDocuments(empty)
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"id":`), 0o644))
	_, err = loadDocuments(bad)
	assert.Error(t, err)

	_, err = loadDocuments(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
