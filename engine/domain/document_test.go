package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileID(t *testing.T) {
	content := []byte("hello world")
	sum := sha256.Sum256(content)
	want := "file_" + hex.EncodeToString(sum[:])
	assert.Equal(t, want, FileID(content))
}

func TestContentDigestStable(t *testing.T) {
	a := ContentDigest("same text")
	b := ContentDigest("same text")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, ContentDigest("different text"))
}

func TestProcessedDocumentStem(t *testing.T) {
	id := FileID([]byte("hello world"))
	stem := ProcessedDocumentStem(id)
	assert.Len(t, stem, 16)
	assert.NotContains(t, stem, "file_")
}
