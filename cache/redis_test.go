package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/annotator/biothings"
	"github.com/zero-day-ai/annotator/record"
)

// setupTestCache creates a miniredis instance and returns a connected Cache.
func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	c, err := NewRedisCache(RedisOptions{
		URL:            fmt.Sprintf("redis://%s", mr.Addr()),
		ConnectTimeout: 5 * time.Second,
		TTL:            time.Hour,
		Prefix:         "test",
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = c.Close()
	})

	return c, mr
}

// countingQuerier answers each id with one record and remembers what it was asked.
type countingQuerier struct {
	mu    sync.Mutex
	calls [][]string
	skip  map[string]bool
	err   error
}

func (q *countingQuerier) QueryMany(ctx context.Context, ids, scopes, fields []string) ([]record.Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.calls = append(q.calls, append([]string(nil), ids...))
	if q.err != nil {
		return nil, q.err
	}

	var out []record.Record
	for _, id := range ids {
		if q.skip[id] {
			continue
		}
		out = append(out, record.Record{"query": id, "_id": "id-" + id})
	}
	return out, nil
}

func TestNewRedisCache(t *testing.T) {
	t.Run("successful connection", func(t *testing.T) {
		mr := miniredis.RunT(t)
		c, err := NewRedisCache(RedisOptions{URL: fmt.Sprintf("redis://%s", mr.Addr())})
		require.NoError(t, err)
		defer c.Close()

		assert.Equal(t, 24*time.Hour, c.ttl)
		assert.Equal(t, "annotator", c.prefix)
		assert.NoError(t, c.Ping(context.Background()))
	})

	t.Run("connection failure", func(t *testing.T) {
		_, err := NewRedisCache(RedisOptions{
			URL:            "redis://localhost:99999",
			ConnectTimeout: 100 * time.Millisecond,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to connect to Redis")
	})

	t.Run("invalid URL", func(t *testing.T) {
		_, err := NewRedisCache(RedisOptions{URL: "invalid://url"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse Redis URL")
	})
}

func TestCachedQuerier_HitsAndMisses(t *testing.T) {
	c, mr := setupTestCache(t)
	upstream := &countingQuerier{}
	q := c.Wrap("gene", upstream)
	ctx := context.Background()
	scopes := []string{"entrezgene"}

	first, err := q.QueryMany(ctx, []string{"1017", "1018"}, scopes, nil)
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.Len(t, upstream.calls, 1)

	// Entries are written with the configured TTL.
	key := c.key("gene", fingerprint(scopes, nil), "1017")
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Hour, mr.TTL(key))

	second, err := q.QueryMany(ctx, []string{"1017", "1018", "1019"}, scopes, nil)
	require.NoError(t, err)
	require.Len(t, second, 3)

	// Only the new id went upstream.
	require.Len(t, upstream.calls, 2)
	assert.Equal(t, []string{"1019"}, upstream.calls[1])

	// Cached records keep their query term so they can be regrouped.
	grouped, err := record.GroupByQuery(second)
	require.NoError(t, err)
	assert.Equal(t, "id-1018", grouped["1018"][0]["_id"])
}

func TestCachedQuerier_CachesEmptyAnswers(t *testing.T) {
	c, _ := setupTestCache(t)
	upstream := &countingQuerier{skip: map[string]bool{"missing": true}}
	q := c.Wrap("chem", upstream)
	ctx := context.Background()

	out, err := q.QueryMany(ctx, []string{"missing"}, []string{"chebi.id"}, nil)
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = q.QueryMany(ctx, []string{"missing"}, []string{"chebi.id"}, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Len(t, upstream.calls, 1)
}

func TestCachedQuerier_FieldsAreKeyed(t *testing.T) {
	c, _ := setupTestCache(t)
	upstream := &countingQuerier{}
	q := c.Wrap("gene", upstream)
	ctx := context.Background()

	_, err := q.QueryMany(ctx, []string{"1017"}, []string{"entrezgene"}, []string{"symbol"})
	require.NoError(t, err)
	_, err = q.QueryMany(ctx, []string{"1017"}, []string{"entrezgene"}, []string{"name"})
	require.NoError(t, err)

	assert.Len(t, upstream.calls, 2)
}

func TestCachedQuerier_DeduplicatesIDs(t *testing.T) {
	c, _ := setupTestCache(t)
	upstream := &countingQuerier{}
	q := c.Wrap("gene", upstream)

	out, err := q.QueryMany(context.Background(), []string{"1017", "1017"}, []string{"entrezgene"}, nil)
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Equal(t, []string{"1017"}, upstream.calls[0])
}

func TestCachedQuerier_UpstreamError(t *testing.T) {
	c, _ := setupTestCache(t)
	boom := errors.New("upstream down")
	q := c.Wrap("gene", &countingQuerier{err: boom})

	_, err := q.QueryMany(context.Background(), []string{"1017"}, []string{"entrezgene"}, nil)
	assert.ErrorIs(t, err, boom)
}

func TestCachedQuerier_RedisUnavailable(t *testing.T) {
	c, mr := setupTestCache(t)
	upstream := &countingQuerier{}
	q := c.Wrap("gene", upstream)

	mr.Close()

	out, err := q.QueryMany(context.Background(), []string{"1017"}, []string{"entrezgene"}, nil)
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Len(t, upstream.calls, 1)
}

func TestCachedQuerier_CorruptEntry(t *testing.T) {
	c, mr := setupTestCache(t)
	upstream := &countingQuerier{}
	q := c.Wrap("gene", upstream)

	scopes := []string{"entrezgene"}
	require.NoError(t, mr.Set(c.key("gene", fingerprint(scopes, nil), "1017"), "not json"))

	out, err := q.QueryMany(context.Background(), []string{"1017"}, scopes, nil)
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Len(t, upstream.calls, 1)
}

func TestCachedQuerier_Empty(t *testing.T) {
	c, _ := setupTestCache(t)
	var q biothings.Querier = c.Wrap("gene", &countingQuerier{})

	out, err := q.QueryMany(context.Background(), nil, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestFingerprint(t *testing.T) {
	a := fingerprint([]string{"x"}, []string{"y"})
	assert.Len(t, a, 16)
	assert.Equal(t, a, fingerprint([]string{"x"}, []string{"y"}))
	assert.NotEqual(t, a, fingerprint([]string{"x", "y"}, nil))
}
