package objectpool

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
	"github.com/hrkg/platform/engine/osa"
	"github.com/hrkg/platform/engine/registry"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

func startTestPool(t *testing.T) (*Pool, *registry.StorageNodeRegistry, *coord.Adapter) {
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

	storage := registry.NewStorageNodeRegistry(ca)

	objStore := map[string][]byte{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v0/add", func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(buf)
		cid := osa.Digest(buf)
		objStore[cid] = buf
		_ = json.NewEncoder(w).Encode(map[string]string{"Hash": cid})
	})
	mux.HandleFunc("/api/v0/cat", func(w http.ResponseWriter, r *http.Request) {
		data := objStore[r.URL.Query().Get("arg")]
		_, _ = w.Write(data)
	})
	mux.HandleFunc("/api/v0/pin/add", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{}"))
	})
	objSrv := httptest.NewServer(mux)
	t.Cleanup(objSrv.Close)
	store := osa.New(objSrv.URL)

	ctx := context.Background()
	nodeLocal := filepath.Join(dir, "node-local")
	require.NoError(t, storage.RegisterOrUpdate(ctx, domain.StorageNode{
		ID: "node-local", MountPath: nodeLocal, CapacityBytes: 1 << 30,
	}))

	pool := New(ca, storage, store, "node-local", nil)
	return pool, storage, ca
}

func TestStoreDeduplicatesAndPromotes(t *testing.T) {
	pool, _, _ := startTestPool(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "doc.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello knowledge graph"), 0o644))

	info, err := pool.Store(ctx, src, map[string]string{"class": "project"}, false)
	require.NoError(t, err)
	require.Equal(t, domain.PromotionStored, info.Document.Promotion)
	require.NotEmpty(t, info.Document.CID)

	// Storing the same content again should deduplicate, not re-promote.
	info2, err := pool.Store(ctx, src, nil, false)
	require.NoError(t, err)
	require.Equal(t, info.Document.ID, info2.Document.ID)
	require.Equal(t, info.Document.CID, info2.Document.CID)
}

func TestFetchRoundTrip(t *testing.T) {
	pool, _, _ := startTestPool(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "doc2.txt")
	content := []byte("fetch me back")
	require.NoError(t, os.WriteFile(src, content, 0o644))

	info, err := pool.Store(ctx, src, nil, false)
	require.NoError(t, err)

	path, err := pool.Fetch(ctx, info.Document.ID)
	require.NoError(t, err)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, content, got)
}
