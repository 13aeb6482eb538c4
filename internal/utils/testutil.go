package utils

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	testRedisAddr string
	testMongoURI  string
)

func init() {
	loadTestEnv()
}

// loadTestEnv loads the .env file and picks up the optional test backends
func loadTestEnv() {
	// Get current file path
	_, filename, _, _ := runtime.Caller(0)
	// Try to load .env from project root (2 levels up from this file)
	projectRoot := filepath.Join(filepath.Dir(filename), "..", "..")
	if err := godotenv.Load(filepath.Join(projectRoot, ".env")); err != nil {
		// Try current directory as fallback
		godotenv.Load()
	}

	testRedisAddr = os.Getenv("REDIS_ADDR_TEST")
	testMongoURI = os.Getenv("MONGO_URI_TEST")
}

// SetupTestRedis connects to the redis instance named by REDIS_ADDR_TEST and flushes it.
// The test is skipped when the variable is not set.
func SetupTestRedis(t *testing.T) *redis.Client {
	if testRedisAddr == "" {
		t.Skip("REDIS_ADDR_TEST not set, skipping redis-backed test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	require.NoError(t, rdb.FlushDB(context.Background()).Err(), "Failed to flush Redis")
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

// SetupTestMongo creates a test MongoDB database and drops it when the test ends.
// The test is skipped when MONGO_URI_TEST is not set.
func SetupTestMongo(t *testing.T, dbName string) *mongo.Database {
	if testMongoURI == "" {
		t.Skip("MONGO_URI_TEST not set, skipping mongo-backed test")
	}
	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(testMongoURI))
	require.NoError(t, err, "Failed to connect to MongoDB")
	db := client.Database(dbName)
	t.Cleanup(func() {
		if err := db.Drop(context.Background()); err != nil {
			t.Logf("Failed to drop database %s: %v", dbName, err)
		}
		_ = client.Disconnect(context.Background())
	})
	return db
}
