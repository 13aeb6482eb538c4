package db

import (
	"errors"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
)

// Operation is a function that performs an action and returns an error if it fails.
type Operation func() error

// Retryable decides whether an error is worth another attempt.
type Retryable func(err error) bool

const DefaultMaxRetries = 3

// RetryBackoff is the delay unit between attempts; attempt n waits n*RetryBackoff.
var RetryBackoff = 50 * time.Millisecond

// Try runs op, retrying duplicate key errors up to DefaultMaxRetries times.
// Upserts racing on the same new _id are the expected source of those.
func Try(op Operation) error {
	return WithRetries(op, DefaultMaxRetries, IsMongoDuplicateKeyError)
}

// WithRetries runs op once plus up to maxRetries more times while retryable(err) holds.
// Any other error is returned immediately.
func WithRetries(op Operation, maxRetries int, retryable Retryable) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if attempt < maxRetries {
			log.Printf("Retryable error on attempt %d/%d: %v", attempt+1, maxRetries+1, err)
			time.Sleep(time.Duration(attempt+1) * RetryBackoff)
		}
	}
	return err
}

// IsMongoDuplicateKeyError checks if an error from MongoDB is a duplicate key error (code 11000).
func IsMongoDuplicateKeyError(err error) bool {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		for _, e := range bwe.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	return false
}
