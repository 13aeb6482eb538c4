package db

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
)

// duplicateKeyError builds the error the driver returns when two upserts race on the same _id.
func duplicateKeyError(key string) error {
	return mongo.WriteException{WriteErrors: []mongo.WriteError{{
		Code:    11000,
		Message: fmt.Sprintf("E11000 duplicate key error collection: test.kv index: _id_ dup key: { _id: %q }", key),
	}}}
}

func init() {
	RetryBackoff = time.Millisecond
}

func TestWithRetries_SuccessfulFirstAttempt(t *testing.T) {
	var calls int
	err := WithRetries(func() error { calls++; return nil }, 3, IsMongoDuplicateKeyError)
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected operation to be called 1 time, got %d", calls)
	}
}

func TestWithRetries_FailureNonDuplicateKey(t *testing.T) {
	var calls int
	expectedErr := errors.New("connection reset")
	err := WithRetries(func() error { calls++; return expectedErr }, 3, IsMongoDuplicateKeyError)
	if !errors.Is(err, expectedErr) {
		t.Errorf("Expected error %v, got %v", expectedErr, err)
	}
	if calls != 1 {
		t.Errorf("Expected operation to be called 1 time, got %d", calls)
	}
}

func TestWithRetries_ExhaustRetries(t *testing.T) {
	var calls int
	maxRetries := 3
	err := WithRetries(func() error { calls++; return duplicateKeyError("cases") }, maxRetries, IsMongoDuplicateKeyError)
	if err == nil {
		t.Fatal("Expected a duplicate key error, got nil")
	}
	if !IsMongoDuplicateKeyError(err) {
		t.Errorf("Expected a Mongo duplicate key error, got %T: %v", err, err)
	}
	if calls != maxRetries+1 {
		t.Errorf("Expected operation to be called %d times, got %d", maxRetries+1, calls)
	}
}

func TestWithRetries_UpsertRaceResolves(t *testing.T) {
	// The first upsert loses the race; the second sees the existing document and updates it.
	var calls int
	err := Try(func() error {
		calls++
		if calls == 1 {
			return duplicateKeyError("users")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected the retry to succeed, got: %v", err)
	}
	if calls != 2 {
		t.Errorf("Expected 2 attempts, got %d", calls)
	}
}

func TestIsMongoDuplicateKeyError_Bulk(t *testing.T) {
	bulk := mongo.BulkWriteException{WriteErrors: []mongo.BulkWriteError{{WriteError: mongo.WriteError{Code: 11000}}}}
	if !IsMongoDuplicateKeyError(fmt.Errorf("wrapped: %w", bulk)) {
		t.Error("Expected wrapped bulk write duplicate to be detected")
	}
	if IsMongoDuplicateKeyError(errors.New("E11000 lookalike")) {
		t.Error("Plain errors must not be treated as duplicate key errors")
	}
}
