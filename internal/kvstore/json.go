package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
)

// ReadJSON decodes the value under key into dst. It reports found=false when the
// key is absent or holds malformed JSON; decode failures are logged, not returned,
// so a corrupt key reads as "no data". Only store I/O errors are returned.
func ReadJSON(ctx context.Context, s Store, key string, dst interface{}) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	if !ok || raw == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		log.Printf("Warning: ignoring malformed JSON under key %s: %v", key, err)
		return false, nil
	}
	return true, nil
}

// WriteJSON encodes v and stores it under key.
func WriteJSON(ctx context.Context, s Store, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode value for key %s: %w", key, err)
	}
	if len(data) > MaxValueBytes {
		return fmt.Errorf("key %s (%d bytes): %w", key, len(data), ErrValueTooLarge)
	}
	if err := s.Set(ctx, key, string(data)); err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}
