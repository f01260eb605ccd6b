// Package osa implements the Object Store Adapter: a thin HTTP client over
// a content-addressed store's add/cat/pin/unpin/name-publish API, wrapped
// with the engine's standard circuit breaker; calls are not retried. The
// store itself is an external collaborator (out of scope per the
// specification); this package only speaks its HTTP surface.
package osa

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hrkg/platform/pkg/fn"
	"github.com/hrkg/platform/pkg/resilience"
)

// Adapter wraps an HTTP content-addressed store.
type Adapter struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// New creates an Adapter pointed at an HTTP content-addressed store.
func New(baseURL string) *Adapter {
	return &Adapter{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
	}
}

// Digest computes the caller-supplied content digest used for
// deduplication (§2's "Deduplicates on a caller-computed content digest").
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Put stores bytes and returns their CID.
func (a *Adapter) Put(ctx context.Context, data []byte) (string, error) {
	result := resilience.CallResult(a.breaker, ctx, func(ctx context.Context) fn.Result[string] {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/v0/add", bytes.NewReader(data))
		if err != nil {
			return fn.Err[string](err)
		}
		resp, err := a.httpClient.Do(req)
		if err != nil {
			return fn.Err[string](fmt.Errorf("osa: put: %w", err))
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fn.Errf[string]("osa: put: status %d", resp.StatusCode)
		}
		var out struct {
			Hash string `json:"Hash"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fn.Err[string](fmt.Errorf("osa: put: decode response: %w", err))
		}
		return fn.Ok(out.Hash)
	})
	return result.Unwrap()
}

// Get retrieves the bytes for a CID.
func (a *Adapter) Get(ctx context.Context, cid string) ([]byte, error) {
	result := resilience.CallResult(a.breaker, ctx, func(ctx context.Context) fn.Result[[]byte] {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/v0/cat?arg="+cid, nil)
		if err != nil {
			return fn.Err[[]byte](err)
		}
		resp, err := a.httpClient.Do(req)
		if err != nil {
			return fn.Err[[]byte](fmt.Errorf("osa: get %s: %w", cid, err))
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fn.Errf[[]byte]("osa: get %s: status %d", cid, resp.StatusCode)
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fn.Err[[]byte](err)
		}
		return fn.Ok(data)
	})
	return result.Unwrap()
}

// Pin pins a CID with associated metadata so it is not garbage collected.
func (a *Adapter) Pin(ctx context.Context, cid string, metadata map[string]string) error {
	return a.breaker.Call(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/v0/pin/add?arg="+cid, nil)
		if err != nil {
			return err
		}
		resp, err := a.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("osa: pin %s: %w", cid, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("osa: pin %s: status %d", cid, resp.StatusCode)
		}
		return nil
	})
}

// Unpin removes a pin, permitting later garbage collection.
func (a *Adapter) Unpin(ctx context.Context, cid string) error {
	return a.breaker.Call(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/v0/pin/rm?arg="+cid, nil)
		if err != nil {
			return err
		}
		resp, err := a.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("osa: unpin %s: %w", cid, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("osa: unpin %s: status %d", cid, resp.StatusCode)
		}
		return nil
	})
}

// PublishName points a mutable name record at cid, returning the fully
// qualified name.
func (a *Adapter) PublishName(ctx context.Context, key, cid string) (string, error) {
	result := resilience.CallResult(a.breaker, ctx, func(ctx context.Context) fn.Result[string] {
		url := fmt.Sprintf("%s/api/v0/name/publish?arg=%s&key=%s", a.baseURL, cid, key)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
		if err != nil {
			return fn.Err[string](err)
		}
		resp, err := a.httpClient.Do(req)
		if err != nil {
			return fn.Err[string](fmt.Errorf("osa: publish name %s: %w", key, err))
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fn.Errf[string]("osa: publish name %s: status %d", key, resp.StatusCode)
		}
		var out struct {
			Name string `json:"Name"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fn.Err[string](err)
		}
		return fn.Ok(out.Name)
	})
	return result.Unwrap()
}

// ResolveName resolves a mutable name record to its current CID.
func (a *Adapter) ResolveName(ctx context.Context, key string) (string, error) {
	result := resilience.CallResult(a.breaker, ctx, func(ctx context.Context) fn.Result[string] {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/v0/name/resolve?arg="+key, nil)
		if err != nil {
			return fn.Err[string](err)
		}
		resp, err := a.httpClient.Do(req)
		if err != nil {
			return fn.Err[string](fmt.Errorf("osa: resolve name %s: %w", key, err))
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fn.Errf[string]("osa: resolve name %s: status %d", key, resp.StatusCode)
		}
		var out struct {
			Path string `json:"Path"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fn.Err[string](err)
		}
		return fn.Ok(out.Path)
	})
	return result.Unwrap()
}
