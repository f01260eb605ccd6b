package extractor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hrkg/platform/engine/coord"
	"github.com/hrkg/platform/engine/domain"
	"github.com/hrkg/platform/engine/llm"
	"github.com/hrkg/platform/engine/osa"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestCoord(t *testing.T) *coord.Adapter {
	t.Helper()
	dir := t.TempDir()
	opts := &natsserver.Options{Port: -1, JetStream: true, StoreDir: dir}
	srv, err := natsserver.NewServer(opts)
	require.NoError(t, err)
	srv.Start()
	require.True(t, srv.ReadyForConnections(5*time.Second))
	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	ca, err := coord.New(nc)
	require.NoError(t, err)
	return ca
}

func startFakeOSA(t *testing.T) *osa.Adapter {
	t.Helper()
	store := map[string][]byte{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v0/add", func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(buf)
		cid := osa.Digest(buf)
		store[cid] = buf
		_ = json.NewEncoder(w).Encode(map[string]string{"Hash": cid})
	})
	mux.HandleFunc("/api/v0/pin/add", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{}"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return osa.New(srv.URL)
}

type fakeLLM struct{}

func (fakeLLM) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return "```json\n" + `{"document_type":"project","project":{"name":"Downtown Tunnel","description":"a tunnel project","status":"active"},"locations":[{"name":"Norfolk","lat":36.85,"lng":-76.28}],"entities":{"people":[{"name":"Jane Doe"}]},"dates":[{"date":"2024-01-01"}]}` + "\n```", nil
}

var _ llm.Client = fakeLLM{}

func TestExtractorProcessEndToEnd(t *testing.T) {
	ca := startTestCoord(t)
	store := startFakeOSA(t)
	root := t.TempDir()

	e := New(ca, store, nil, nil, fakeLLM{}, filepath.Join(root, "prompts"), root, nil)

	text := "This project budget was approved for the Downtown Tunnel construction in Norfolk, dated 2024-01-01."
	pd, err := e.Process(context.Background(), "file_abc123", text)
	require.NoError(t, err)

	assert.Equal(t, domain.ClassProject, pd.DocumentType)
	require.NotNil(t, pd.Project)
	assert.Equal(t, "Downtown Tunnel", pd.Project.Name)
	assert.Equal(t, text, pd.TextContent)
	assert.NotEmpty(t, pd.MetadataCID)

	// The persisted file is still keyed by the caller-supplied external
	// reference (§6's local storage layout), but the document's own ID is
	// the content digest (§3 invariant 4), not that external reference.
	stem := domain.ProcessedDocumentStem("file_abc123")
	data, err := os.ReadFile(filepath.Join(root, "processed", stem+".json"))
	require.NoError(t, err)
	var onDisk domain.ProcessedDocument
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, domain.ContentDigest(text), onDisk.DocumentID)
}

func TestExtractorProcessRejectsAlreadySeenDigest(t *testing.T) {
	ca := startTestCoord(t)
	store := startFakeOSA(t)
	root := t.TempDir()
	e := New(ca, store, nil, nil, fakeLLM{}, filepath.Join(root, "prompts"), root, nil)

	text := "Repeated document text for digest dedup."
	_, err := e.Process(context.Background(), "file_one", text)
	require.NoError(t, err)

	_, err = e.Process(context.Background(), "file_two", text)
	require.ErrorIs(t, err, domain.ErrAlreadyProcessed)
}

func TestDetectDocumentClassPicksHighestScoringClass(t *testing.T) {
	assert.Equal(t, domain.ClassPatent, DetectDocumentClass("This patent claims a novel assignee process, filed in 2020."))
	assert.Equal(t, domain.ClassResearch, DetectDocumentClass("The abstract describes our methodology and peer-reviewed citations."))
	assert.Equal(t, domain.ClassOther, DetectDocumentClass("Nothing relevant here."))
}

func TestSmartUnionDeduplicatesAcrossChunks(t *testing.T) {
	a := domain.ProcessedDocument{
		DocumentType: domain.ClassProject,
		Locations:    []domain.Location{{Name: "Norfolk"}},
		Entities:     domain.EntityBlock{People: []domain.EntityRef{{Name: "Jane Doe"}}},
		Dates:        []domain.DateRef{{Date: "2024-01-01"}},
	}
	b := domain.ProcessedDocument{
		DocumentType: domain.ClassProject,
		Locations:    []domain.Location{{Name: "Norfolk"}, {Name: "Hampton"}},
		Entities:     domain.EntityBlock{People: []domain.EntityRef{{Name: "Jane Doe"}, {Name: "John Smith"}}},
		Dates:        []domain.DateRef{{Date: "2024-01-01"}, {Date: "2024-02-01"}},
	}
	merged := smartUnion([]domain.ProcessedDocument{a, b})

	assert.Len(t, merged.Locations, 2)
	assert.Len(t, merged.Entities.People, 2)
	assert.Len(t, merged.Dates, 2)
}
