package repo

import (
	"context"
	"encoding/json"
	"fmt"
)

// KVStore is the minimal coordination-store surface a KVRepo needs: a hash
// get/set/delete/keys primitive. engine/coord.Adapter satisfies this.
type KVStore interface {
	HashGet(ctx context.Context, hash, field string) ([]byte, error)
	HashSet(ctx context.Context, hash, field string, value []byte) error
	HashDelete(ctx context.Context, hash, field string) error
	HashKeys(ctx context.Context, hash string) ([]string, error)
}

// KVRepo is a generic coordination-store-backed repository, replacing the
// Neo4j-backed implementation: entities are JSON-encoded values in a single
// hash bucket keyed by their ID.
type KVRepo[T any, ID comparable] struct {
	store  KVStore
	bucket string
	idOf   func(T) ID
	keyOf  func(ID) string
	notFound error
}

// NewKVRepo creates a coordination-store-backed repository. notFound is
// returned from Get when the entity cannot be read. Update (and Create)
// stores the entity whether or not it already exists, and Delete returns
// the store's own error.
func NewKVRepo[T any, ID comparable](store KVStore, bucket string, idOf func(T) ID, keyOf func(ID) string, notFound error) *KVRepo[T, ID] {
	return &KVRepo[T, ID]{store: store, bucket: bucket, idOf: idOf, keyOf: keyOf, notFound: notFound}
}

var _ Repository[any, string] = (*KVRepo[any, string])(nil)

func (r *KVRepo[T, ID]) Get(ctx context.Context, id ID) (T, error) {
	var zero T
	data, err := r.store.HashGet(ctx, r.bucket, r.keyOf(id))
	if err != nil {
		return zero, r.notFound
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, fmt.Errorf("repo: unmarshal %s: %w", r.bucket, err)
	}
	return v, nil
}

func (r *KVRepo[T, ID]) List(ctx context.Context, opts ListOpts) ([]T, error) {
	keys, err := r.store.HashKeys(ctx, r.bucket)
	if err != nil {
		return nil, fmt.Errorf("repo: list keys %s: %w", r.bucket, err)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	var items []T
	for i, k := range keys {
		if i < opts.Offset {
			continue
		}
		if len(items) >= limit {
			break
		}
		data, err := r.store.HashGet(ctx, r.bucket, k)
		if err != nil {
			continue
		}
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			continue
		}
		items = append(items, v)
	}
	return items, nil
}

func (r *KVRepo[T, ID]) Create(ctx context.Context, entity T) (T, error) {
	return r.Update(ctx, entity)
}

func (r *KVRepo[T, ID]) Update(ctx context.Context, entity T) (T, error) {
	var zero T
	data, err := json.Marshal(entity)
	if err != nil {
		return zero, fmt.Errorf("repo: marshal %s: %w", r.bucket, err)
	}
	id := r.idOf(entity)
	if err := r.store.HashSet(ctx, r.bucket, r.keyOf(id), data); err != nil {
		return zero, fmt.Errorf("repo: put %s: %w", r.bucket, err)
	}
	return entity, nil
}

func (r *KVRepo[T, ID]) Delete(ctx context.Context, id ID) error {
	return r.store.HashDelete(ctx, r.bucket, r.keyOf(id))
}
