package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheHitAndMiss(t *testing.T) {
	c := New(NewMemoryBackend(), time.Minute)
	ctx := context.Background()

	_, ok := c.Get(ctx, "プロンプトA")
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "プロンプトA", "完成した投稿文"))

	text, ok := c.Get(ctx, "プロンプトA")
	require.True(t, ok)
	assert.Equal(t, "完成した投稿文", text)

	_, ok = c.Get(ctx, "プロンプトB")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
}

func TestCacheKeyIsPromptSensitive(t *testing.T) {
	assert.Equal(t, Key("同じ"), Key("同じ"))
	assert.NotEqual(t, Key("同じ"), Key("違う"))
}

func TestMemoryBackendExpiry(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "k", "v", 10*time.Millisecond))
	_, ok := b.Get(ctx, "k")
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = b.Get(ctx, "k")
	assert.False(t, ok, "expired entry is dropped on read")
}

func TestMemoryBackendHitCounter(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "k", "v", time.Minute))
	b.Get(ctx, "k")
	entry, ok := b.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, int64(2), entry.Hits)
}

func TestMemoryBackendDeleteAndClear(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, b.Set(ctx, "b", "2", time.Minute))

	b.Delete(ctx, "a")
	_, ok := b.Get(ctx, "a")
	assert.False(t, ok)

	b.Clear(ctx)
	_, ok = b.Get(ctx, "b")
	assert.False(t, ok)
}

func TestDefaultTTL(t *testing.T) {
	c := New(NewMemoryBackend(), 0)
	assert.Equal(t, time.Hour, c.ttl)
}
