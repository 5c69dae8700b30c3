// Package db defines the key-value storage contract consumed by caches.
package db

import (
	"context"
	"errors"
)

// ErrKeyNotFound signals a missing key.
var ErrKeyNotFound = errors.New("key not found")

// KV is the minimal key-value contract.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}
