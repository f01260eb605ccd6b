package osa

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newFakeStore(t *testing.T) *httptest.Server {
	t.Helper()
	pins := map[string]bool{}
	names := map[string]string{}
	store := map[string][]byte{}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v0/add", func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(buf)
		cid := Digest(buf)
		store[cid] = buf
		_ = json.NewEncoder(w).Encode(map[string]string{"Hash": cid})
	})
	mux.HandleFunc("/api/v0/cat", func(w http.ResponseWriter, r *http.Request) {
		cid := r.URL.Query().Get("arg")
		data, ok := store[cid]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(data)
	})
	mux.HandleFunc("/api/v0/pin/add", func(w http.ResponseWriter, r *http.Request) {
		pins[r.URL.Query().Get("arg")] = true
		_, _ = w.Write([]byte("{}"))
	})
	mux.HandleFunc("/api/v0/pin/rm", func(w http.ResponseWriter, r *http.Request) {
		delete(pins, r.URL.Query().Get("arg"))
		_, _ = w.Write([]byte("{}"))
	})
	mux.HandleFunc("/api/v0/name/publish", func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		names[key] = r.URL.Query().Get("arg")
		_ = json.NewEncoder(w).Encode(map[string]string{"Name": key})
	})
	mux.HandleFunc("/api/v0/name/resolve", func(w http.ResponseWriter, r *http.Request) {
		cid, ok := names[r.URL.Query().Get("arg")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"Path": cid})
	})
	return httptest.NewServer(mux)
}

func TestPutGetPinUnpin(t *testing.T) {
	srv := newFakeStore(t)
	defer srv.Close()
	a := New(srv.URL)
	ctx := context.Background()

	cid, err := a.Put(ctx, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, Digest([]byte("hello")), cid)

	data, err := a.Get(ctx, cid)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))

	require.NoError(t, a.Pin(ctx, cid, nil))
	require.NoError(t, a.Unpin(ctx, cid))
}

func TestPublishResolveName(t *testing.T) {
	srv := newFakeStore(t)
	defer srv.Close()
	a := New(srv.URL)
	ctx := context.Background()

	cid, err := a.Put(ctx, []byte("world"))
	require.NoError(t, err)

	name, err := a.PublishName(ctx, "mykey", cid)
	require.NoError(t, err)
	require.Equal(t, "mykey", name)

	resolved, err := a.ResolveName(ctx, "mykey")
	require.NoError(t, err)
	require.Equal(t, cid, resolved)
}
