package graphwriter

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
	"github.com/hrkg/platform/engine/graph"
	"github.com/hrkg/platform/engine/osa"
	"github.com/hrkg/platform/pkg/natsutil"
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
	names := map[string]string{}
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
	mux.HandleFunc("/api/v0/name/publish", func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		names[key] = r.URL.Query().Get("arg")
		_ = json.NewEncoder(w).Encode(map[string]string{"Name": key})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return osa.New(srv.URL)
}

func TestWriterHandleBuildsGraphAndPublishesSnapshot(t *testing.T) {
	ca := startTestCoord(t)
	store := startFakeOSA(t)
	g := graph.New()
	g.UpsertNode(domain.GraphNode{ID: "loc-norfolk", Type: domain.NodeLocality, Label: "Norfolk"})
	edgeMap := graph.NewCanonicalEdgeMap(filepath.Join(t.TempDir(), "edges.yaml"))

	root := t.TempDir()
	sourcePath := filepath.Join(root, "source.txt")
	require.NoError(t, os.WriteFile(sourcePath, []byte("source file contents"), 0o644))
	snapshotPath := filepath.Join(root, "graph_data.json")

	w := New(ca, g, store, edgeMap, "writer-1", snapshotPath, nil)

	pd := domain.ProcessedDocument{
		DocumentID:   "file_abc",
		DocumentType: domain.ClassProject,
		Project:      &domain.ProjectBlock{Name: "Downtown Tunnel", Description: "a tunnel", Status: "active"},
		Locations:    []domain.Location{{Name: "Norfolk"}},
		Entities: domain.EntityBlock{
			People: []domain.EntityRef{{Name: "Jane Doe", Role: "advised by"}},
		},
		TextContent: "This is about the Downtown Tunnel project in Norfolk.",
		MetadataCID: "metadata-cid-1",
	}
	event, err := json.Marshal(map[string]any{"path": sourcePath, "data": pd})
	require.NoError(t, err)

	require.NoError(t, ca.StreamAppend(context.Background(), graphUpdateStream, 1000, event))

	n, err := w.RunBatch(context.Background(), 10, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	docID := stableDocumentNodeID(sourcePath)
	docNode, ok := g.GetNode(docID)
	require.True(t, ok)
	assert.NotEmpty(t, docNode.CID)

	projectID, ok := g.FindByLabel(domain.NodeProject, "Downtown Tunnel")
	require.True(t, ok)
	assert.True(t, g.HasEdge(docID, projectID, domain.EdgeContainsDocument))

	personID, ok := g.FindByLabel(domain.NodePerson, "Jane Doe")
	require.True(t, ok)
	assert.True(t, g.HasEdge(personID, projectID, domain.EdgeAdvisedBy))

	_, err = os.Stat(snapshotPath)
	require.NoError(t, err)
}

func TestHandleBroadcastsSnapshotUpdated(t *testing.T) {
	ca := startTestCoord(t)
	store := startFakeOSA(t)
	g := graph.New()
	edgeMap := graph.NewCanonicalEdgeMap(filepath.Join(t.TempDir(), "edges.yaml"))
	root := t.TempDir()
	snapshotPath := filepath.Join(root, "graph_data.json")
	sourcePath := filepath.Join(root, "source.txt")
	require.NoError(t, os.WriteFile(sourcePath, []byte("contents"), 0o644))

	w := New(ca, g, store, edgeMap, "writer-1", snapshotPath, nil)

	received := make(chan SnapshotUpdated, 1)
	sub, err := natsutil.Subscribe(ca.Conn(), SnapshotUpdatedSubject, func(_ context.Context, msg SnapshotUpdated) {
		received <- msg
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	pd := domain.ProcessedDocument{DocumentID: "file_xyz", DocumentType: domain.ClassProject, TextContent: "text"}
	event, err := json.Marshal(map[string]any{"path": sourcePath, "data": pd})
	require.NoError(t, err)
	require.NoError(t, ca.StreamAppend(context.Background(), graphUpdateStream, 1000, event))

	n, err := w.RunBatch(context.Background(), 10, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	select {
	case msg := <-received:
		assert.Equal(t, snapshotPath, msg.Path)
		assert.NotEmpty(t, msg.CID)
	case <-time.After(2 * time.Second):
		t.Fatal("expected snapshot-updated broadcast")
	}
}

func TestStableDocumentNodeIDIsDeterministic(t *testing.T) {
	a := stableDocumentNodeID("/data/raw/report.pdf")
	b := stableDocumentNodeID("/other/path/report.pdf")
	assert.Equal(t, a, b)
	assert.Len(t, a, len("doc_")+8)
}
