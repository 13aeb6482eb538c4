// Package kvstore is the string-keyed document store every repository sits on.
// It has no transactions: a write replaces the whole value and the last writer wins.
package kvstore

import (
	"context"
	"errors"
)

// ErrValueTooLarge is returned when a value exceeds MaxValueBytes.
var ErrValueTooLarge = errors.New("value exceeds the store's per-key size limit")

// MaxValueBytes caps a single value. Blobs such as photos belong in object storage.
const MaxValueBytes = 1 << 20

// Store is a synchronous key/value store holding string values.
type Store interface {
	// Get returns the value and true, or "" and false when the key is absent.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	// Keys lists every key starting with prefix, in no particular order.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
