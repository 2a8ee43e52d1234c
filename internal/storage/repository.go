package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrCorrupt marks a stored value that no longer decodes.
var ErrCorrupt = errors.New("corrupt stored value")

// Keys of the three client-scoped entries.
const (
	KeyUser        = "drivuber-user"
	KeyBookedRides = "drivuber-booked-rides"
	KeyPostedRides = "drivuber-posted-rides"
)

// Repository loads and saves one JSON-encoded value under a fixed key.
type Repository[T any] struct {
	kv  KV
	key string
}

func NewRepository[T any](kv KV, key string) *Repository[T] {
	return &Repository[T]{kv: kv, key: key}
}

func (r *Repository[T]) Key() string { return r.key }

// Load reports ok=false when nothing has been saved yet.
func (r *Repository[T]) Load(ctx context.Context) (T, bool, error) {
	var v T
	raw, ok, err := r.kv.Get(ctx, r.key)
	if err != nil || !ok {
		return v, false, err
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return v, false, fmt.Errorf("decode %s: %w: %v", r.key, ErrCorrupt, err)
	}
	return v, true, nil
}

func (r *Repository[T]) Save(ctx context.Context, v T) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", r.key, err)
	}
	return r.kv.Set(ctx, r.key, string(b))
}

func (r *Repository[T]) Clear(ctx context.Context) error {
	return r.kv.Remove(ctx, r.key)
}
