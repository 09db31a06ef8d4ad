package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_SetGet(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)

	_, gen, ok := c.Get(ctx, "dashboard:2025-26")
	require.False(t, ok)
	c.Set(ctx, gen, "dashboard:2025-26", []byte(`{"ok":true}`))

	got, _, ok := c.Get(ctx, "dashboard:2025-26")
	require.True(t, ok)
	assert.Equal(t, `{"ok":true}`, string(got))

	_, _, ok = c.Get(ctx, "dashboard:2024-25")
	assert.False(t, ok)
}

func TestMemory_InvalidateDropsEverything(t *testing.T) {
	// GIVEN: Two cached reports
	ctx := context.Background()
	c := NewMemory(time.Minute)
	_, gen, _ := c.Get(ctx, "a")
	c.Set(ctx, gen, "a", []byte("1"))
	c.Set(ctx, gen, "b", []byte("2"))

	// WHEN: A write invalidates the cache
	c.Invalidate(ctx)

	// THEN: Neither report is served, and new entries work again
	_, next, ok := c.Get(ctx, "a")
	assert.False(t, ok)
	assert.NotEqual(t, gen, next)
	_, _, ok = c.Get(ctx, "b")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size())

	c.Set(ctx, next, "a", []byte("3"))
	got, _, ok := c.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, "3", string(got))
}

func TestMemory_ReportBuiltBeforeInvalidateIsNotServed(t *testing.T) {
	// GIVEN: A dashboard miss, so the report is being built from current data
	ctx := context.Background()
	c := NewMemory(time.Minute)
	_, gen, ok := c.Get(ctx, "dashboard")
	require.False(t, ok)

	// WHEN: A write commits and invalidates before the build finishes
	c.Invalidate(ctx)
	c.Set(ctx, gen, "dashboard", []byte("stale"))

	// THEN: The stale report is never served
	_, _, ok = c.Get(ctx, "dashboard")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size())
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	c := NewMemory(time.Minute)
	c.now = func() time.Time { return now }

	c.Set(ctx, 0, "k", []byte("v"))
	now = now.Add(2 * time.Minute)

	_, _, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size())
}

func TestNop(t *testing.T) {
	ctx := context.Background()
	var c ReportCache = Nop{}
	c.Set(ctx, 0, "k", []byte("v"))
	_, gen, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, NoGeneration, gen)
}

func TestRedis_KeysAreGenerationStamped(t *testing.T) {
	r := NewRedisWithClient(redis.NewClient(&redis.Options{Addr: "localhost:0"}), "test", time.Minute, nil)
	defer r.Close()

	assert.Equal(t, "test:generation", r.generationKey())
	assert.Equal(t, "test:0:dashboard", r.key(0, "dashboard"))
	assert.Equal(t, "test:7:dashboard", r.key(7, "dashboard"))
}

func TestRedis_UnreachableServerIsAMiss(t *testing.T) {
	// GIVEN: A client pointing at nothing
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	r := NewRedisWithClient(client, "test", time.Minute, nil)
	defer r.Close()
	ctx := context.Background()

	// WHEN / THEN: Every call degrades instead of failing
	r.Set(ctx, 0, "k", []byte("v"))
	r.Invalidate(ctx)
	_, gen, ok := r.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, NoGeneration, gen)
}

func TestNewRedis_InvalidURL(t *testing.T) {
	_, err := NewRedis(context.Background(), "not a url", time.Minute, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse redis url")
}
