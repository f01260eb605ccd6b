// Package extract implements text extraction and chunking (§4.3):
// format-aware dispatch on file extension, and the sliding-window
// chunker shared by the Extractor.
package extract

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"github.com/microcosm-cc/bluemonday"
)

// textBearingKeys are checked, in order, against a structured-JSON object
// before falling back to a stable serialisation of the whole object.
var textBearingKeys = []string{"text", "content", "body", "description", "abstract"}

// ExtractText dispatches on path's extension per §4.3. PDF/office/CSV
// converter absence is non-fatal: it returns an empty body, not an error.
func ExtractText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return extractJSON(data)
	case ".csv":
		return extractCSV(data)
	case ".pdf":
		return extractPDF(path)
	case ".html", ".htm":
		return extractHTML(data)
	case ".txt", ".md", "":
		return extractPlain(data), nil
	default:
		return "", nil
	}
}

func extractPlain(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "�")
}

func extractJSON(data []byte) (string, error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err == nil {
		for _, key := range textBearingKeys {
			if v, ok := obj[key]; ok {
				if s, ok := v.(string); ok {
					return s, nil
				}
			}
		}
		stable, err := json.Marshal(obj)
		if err != nil {
			return "", err
		}
		return string(stable), nil
	}

	var arr []any
	if err := json.Unmarshal(data, &arr); err == nil {
		var sb strings.Builder
		for _, v := range arr {
			if s, ok := v.(string); ok {
				sb.WriteString(s)
				sb.WriteString(" ")
			}
		}
		return strings.TrimSpace(sb.String()), nil
	}

	return "", nil
}

func extractCSV(data []byte) (string, error) {
	r := csv.NewReader(strings.NewReader(string(data)))
	r.FieldsPerRecord = -1
	var sb strings.Builder
	for {
		record, err := r.Read()
		if err != nil {
			break
		}
		sb.WriteString(strings.Join(record, " "))
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// extractPDF is non-fatal: if the pdf library cannot open or parse the
// file, that's treated as "converter absent", returning an empty body.
func extractPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", nil
	}
	defer f.Close()
	var sb strings.Builder
	totalPage := r.NumPage()
	for i := 1; i <= totalPage; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// htmlSanitizePolicy strips scripts, styles, and markup before text
// extraction so a hostile document can't smuggle executable content
// into a chunk an LLM later reads verbatim.
var htmlSanitizePolicy = bluemonday.StrictPolicy()

func extractHTML(data []byte) (string, error) {
	sanitized := htmlSanitizePolicy.SanitizeBytes(data)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(sanitized)))
	if err != nil {
		return "", nil
	}
	return strings.TrimSpace(doc.Text()), nil
}

const (
	// DefaultChunkSize and DefaultOverlap mirror the original extractor's
	// word-count window (original_source/Agent/utils/chunking.py).
	DefaultChunkSize = 1500
	DefaultOverlap   = 200
	DefaultMaxChunks = 5
)

// ChunkDocument whitespace-tokenises text and slides a window of
// chunkSize words with overlap words repeated between consecutive
// windows, stopping at end-of-input or maxChunks emitted (§4.3).
func ChunkDocument(text string, chunkSize, overlap, maxChunks int) []string {
	words := strings.Fields(text)
	if len(words) <= chunkSize {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(words) && len(chunks) < maxChunks {
		end := start + chunkSize
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end >= len(words) {
			break
		}
		start = end - overlap
		if start < 0 {
			start = 0
		}
	}
	return chunks
}
