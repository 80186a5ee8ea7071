package accessgate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache(time.Minute)
	c.now = func() time.Time { return now }

	ok, err := c.Claim(ctx, "s1", "r1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = c.Claim(ctx, "s1", "r1")
	assert.False(t, ok)

	has, _ := c.Has(ctx, "s1", "r1")
	assert.True(t, has)
	has, _ = c.Has(ctx, "s2", "r1")
	assert.False(t, has)

	now = now.Add(2 * time.Minute)
	has, _ = c.Has(ctx, "s1", "r1")
	assert.False(t, has)
}

func TestMemoryCacheRelease(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(0)
	_, _ = c.Claim(ctx, "s1", "r1")
	require.NoError(t, c.Release(ctx, "s1", "r1"))
	ok, _ := c.Claim(ctx, "s1", "r1")
	assert.True(t, ok)
}

type fakeRedis struct {
	mu   sync.Mutex
	data map[string]interface{}
	ttls map[string]time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]interface{}{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = value
	f.ttls[key] = expiration
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult("1", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRedisCacheClaimOnce(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedis()
	c := NewRedisCache(client, time.Hour)

	has, err := c.Has(ctx, "s1", "r1")
	require.NoError(t, err)
	assert.False(t, has)

	ok, err := c.Claim(ctx, "s1", "r1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Hour, client.ttls["audit:grant:s1:r1"])

	ok, err = c.Claim(ctx, "s1", "r1")
	require.NoError(t, err)
	assert.False(t, ok)

	has, err = c.Has(ctx, "s1", "r1")
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, c.Release(ctx, "s1", "r1"))
	has, _ = c.Has(ctx, "s1", "r1")
	assert.False(t, has)
}

func TestGateSharesRedisGrantsAcrossReplicas(t *testing.T) {
	client := newFakeRedis()
	a := newFixture(t, NewRedisCache(client, time.Hour))
	a.fund(t, "erin", 30)

	_, err := a.gate.Check(context.Background(), session("erin", "s1"), "done")
	require.NoError(t, err)

	// A second gate over the same ledger and cache sees the grant.
	b := New(a.ledger, a.store, a.gate.roles, NewRedisCache(client, time.Hour), 10, nil)
	d, err := b.Check(context.Background(), session("erin", "s1"), "done")
	require.NoError(t, err)
	assert.True(t, d.Cached)
}
