package services

import (
	"context"

	"boligmarked/market/internal/kvstore"
)

// loadList reads the JSON array under key. A missing or malformed key is an empty list.
func loadList[T any](ctx context.Context, store kvstore.Store, key string) ([]T, error) {
	var items []T
	if _, err := kvstore.ReadJSON(ctx, store, key, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// saveList writes the whole collection back under key.
func saveList[T any](ctx context.Context, store kvstore.Store, key string, items []T) error {
	if items == nil {
		items = []T{}
	}
	return kvstore.WriteJSON(ctx, store, key, items)
}

// upsert replaces the element matching id in place or appends v.
func upsert[T any](items []T, v T, id func(T) string) ([]T, bool) {
	want := id(v)
	for i := range items {
		if id(items[i]) == want {
			items[i] = v
			return items, false
		}
	}
	return append(items, v), true
}
