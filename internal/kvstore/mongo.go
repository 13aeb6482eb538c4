package kvstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"boligmarked/market/internal/db"
)

const kvCollection = "kv"

// kvEntry is one document of the kv collection.
type kvEntry struct {
	Key       string    `bson:"_id"`
	Value     string    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoStore implements Store on a single MongoDB collection keyed by _id.
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore uses the "kv" collection of database.
func NewMongoStore(database *mongo.Database) *MongoStore {
	return &MongoStore{coll: database.Collection(kvCollection)}
}

func (s *MongoStore) Get(ctx context.Context, key string) (string, bool, error) {
	var entry kvEntry
	err := s.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("error finding key %s: %w", key, err)
	}
	return entry.Value, true, nil
}

// Set upserts the key. Two concurrent upserts of a new key can race on the _id
// index, so duplicate key errors are retried.
func (s *MongoStore) Set(ctx context.Context, key, value string) error {
	operation := func() error {
		_, err := s.coll.UpdateOne(ctx,
			bson.M{"_id": key},
			bson.M{"$set": bson.M{"value": value, "updated_at": time.Now().UTC()}},
			options.Update().SetUpsert(true),
		)
		return err
	}
	if err := db.Try(operation); err != nil {
		return fmt.Errorf("failed to upsert key %s: %w", key, err)
	}
	return nil
}

func (s *MongoStore) Remove(ctx context.Context, key string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

func (s *MongoStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	filter := bson.M{"_id": primitive.Regex{Pattern: "^" + regexp.QuoteMeta(prefix)}}
	opts := options.Find().SetProjection(bson.M{"_id": 1})
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query keys with prefix %s: %w", prefix, err)
	}
	defer cursor.Close(ctx)

	var results []struct {
		Key string `bson:"_id"`
	}
	if err = cursor.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode keys with prefix %s: %w", prefix, err)
	}
	keys := make([]string, len(results))
	for i, r := range results {
		keys[i] = r.Key
	}
	return keys, nil
}
