package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memClient struct {
	data   map[string]string
	ttls   map[string]time.Duration
	getErr error
	setErr error
}

func newMemClient() *memClient {
	return &memClient{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memClient) Get(_ context.Context, key string) *redis.StringCmd {
	if m.getErr != nil {
		return redis.NewStringResult("", m.getErr)
	}
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memClient) Set(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	if m.setErr != nil {
		return redis.NewStatusResult("", m.setErr)
	}
	m.data[key] = value.(string)
	m.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func (m *memClient) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := m.data[k]; ok {
			delete(m.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

type item struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestSetGetDelete(t *testing.T) {
	client := newMemClient()
	c := NewCacheService(client, "test:")
	ctx := context.Background()

	var got item
	assert.ErrorIs(t, c.Get(ctx, "a", &got), ErrMiss)

	require.NoError(t, c.Set(ctx, "a", item{Name: "x", Count: 2}, time.Minute))
	assert.Contains(t, client.data, "test:a")
	assert.Equal(t, time.Minute, client.ttls["test:a"])

	require.NoError(t, c.Get(ctx, "a", &got))
	assert.Equal(t, item{Name: "x", Count: 2}, got)

	require.NoError(t, c.Delete(ctx, "a"))
	assert.ErrorIs(t, c.Get(ctx, "a", &got), ErrMiss)
}

func TestGetOrSet(t *testing.T) {
	c := NewCacheService(newMemClient(), "")
	ctx := context.Background()
	calls := 0
	load := func() (interface{}, error) {
		calls++
		return item{Name: "loaded", Count: calls}, nil
	}

	var first, second item
	require.NoError(t, c.GetOrSet(ctx, "k", &first, time.Minute, load))
	require.NoError(t, c.GetOrSet(ctx, "k", &second, time.Minute, load))

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
	assert.Equal(t, "loaded", second.Name)
}

func TestGetOrSetLoadError(t *testing.T) {
	c := NewCacheService(newMemClient(), "")
	boom := errors.New("boom")

	var dest item
	err := c.GetOrSet(context.Background(), "k", &dest, time.Minute, func() (interface{}, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestGetOrSetSurvivesBrokenRedis(t *testing.T) {
	client := newMemClient()
	client.getErr = errors.New("connection refused")
	client.setErr = errors.New("connection refused")
	c := NewCacheService(client, "")

	var dest item
	err := c.GetOrSet(context.Background(), "k", &dest, time.Minute, func() (interface{}, error) {
		return item{Name: "fresh"}, nil
	})
	require.Error(t, err)
	assert.Equal(t, "fresh", dest.Name)
}
