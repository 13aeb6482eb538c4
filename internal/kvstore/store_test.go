package kvstore

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boligmarked/market/internal/utils"
)

// exerciseStore runs the Store contract against any implementation.
func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "seller_case_1", `{"id":"1"}`))
	require.NoError(t, s.Set(ctx, "seller_case_2", `{"id":"2"}`))
	require.NoError(t, s.Set(ctx, "cases", `[]`))

	v, ok, err := s.Get(ctx, "seller_case_1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"id":"1"}`, v)

	keys, err := s.Keys(ctx, "seller_case_")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"seller_case_1", "seller_case_2"}, keys)

	require.NoError(t, s.Set(ctx, "seller_case_1", `{"id":"1","address":"x"}`))
	v, _, _ = s.Get(ctx, "seller_case_1")
	assert.Equal(t, `{"id":"1","address":"x"}`, v, "last write wins")

	require.NoError(t, s.Remove(ctx, "seller_case_1"))
	_, ok, err = s.Get(ctx, "seller_case_1")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, s.Remove(ctx, "seller_case_1"), "removing an absent key is not an error")
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestPrefixedStore(t *testing.T) {
	inner := NewMemoryStore()
	s := Prefixed(inner, "tenant1:")
	exerciseStore(t, s)

	keys, err := inner.Keys(context.Background(), "")
	require.NoError(t, err)
	for _, k := range keys {
		assert.True(t, strings.HasPrefix(k, "tenant1:"), "key %s should be namespaced", k)
	}
	assert.Same(t, inner, Prefixed(inner, ""))
}

func TestRedisStore(t *testing.T) {
	rdb := utils.SetupTestRedis(t)
	exerciseStore(t, NewRedisStore(rdb))
}

func TestMongoStore(t *testing.T) {
	db := utils.SetupTestMongo(t, "testdb_kvstore")
	exerciseStore(t, NewMongoStore(db))
}

func TestReadJSON_MalformedReadsAsEmpty(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Set(ctx, "cases", `[{"id":`))

	var out []map[string]interface{}
	found, err := ReadJSON(ctx, s, "cases", &out)
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, out)
}

func TestReadWriteJSON_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	type rec struct {
		ID string `json:"id"`
	}
	require.NoError(t, WriteJSON(ctx, s, "rec", rec{ID: "a"}))

	var got rec
	found, err := ReadJSON(ctx, s, "rec", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "a", got.ID)
}

func TestWriteJSON_RejectsLargeValues(t *testing.T) {
	s := NewMemoryStore()
	err := WriteJSON(context.Background(), s, "blob", strings.Repeat("x", MaxValueBytes))
	assert.True(t, errors.Is(err, ErrValueTooLarge))
	_, ok, _ := s.Get(context.Background(), "blob")
	assert.False(t, ok)
}

type failingStore struct{ Store }

func (failingStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("connection refused")
}

func TestReadJSON_StoreErrorIsReturned(t *testing.T) {
	var out []string
	_, err := ReadJSON(context.Background(), failingStore{}, "users", &out)
	assert.Error(t, err)
}
