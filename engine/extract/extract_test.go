package extract

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkDocumentShortTextReturnsSingleChunk(t *testing.T) {
	text := "only a few words here"
	chunks := ChunkDocument(text, 1500, 200, 5)
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0])
}

func repeatWords(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = "word"
	}
	return strings.Join(words, " ")
}

func TestChunkDocumentSlidesWithOverlap(t *testing.T) {
	text := repeatWords(4000)
	chunks := ChunkDocument(text, 1500, 200, 5)
	assert.LessOrEqual(t, len(chunks), 5)
	assert.GreaterOrEqual(t, len(chunks), 2)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(strings.Fields(c)), 1500)
	}
}

func TestChunkDocumentStopsAtMaxChunks(t *testing.T) {
	text := repeatWords(100000)
	chunks := ChunkDocument(text, 1500, 200, 5)
	assert.Len(t, chunks, 5)
}

func TestExtractJSONTextBearingKey(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/doc.json"
	require.NoError(t, os.WriteFile(path, []byte(`{"title":"x","content":"the body"}`), 0o644))
	got, err := ExtractText(path)
	require.NoError(t, err)
	assert.Equal(t, "the body", got)
}
