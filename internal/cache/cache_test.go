package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "prospect:")
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedis_SetGet(t *testing.T) {
	c, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "hunter:count:durand.fr", "3", time.Hour))

	v, ok, err := c.Get(ctx, "hunter:count:durand.fr")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "3", v)

	got, err := mr.Get("prospect:hunter:count:durand.fr")
	require.NoError(t, err)
	assert.Equal(t, "3", got)
	assert.Equal(t, time.Hour, mr.TTL("prospect:hunter:count:durand.fr"))
}

func TestRedis_Miss(t *testing.T) {
	c, _ := newTestRedis(t)

	v, ok, err := c.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, v)
}

func TestRedis_Expiry(t *testing.T) {
	c, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	mr.FastForward(2 * time.Minute)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_Delete(t *testing.T) {
	c, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", 0))
	require.NoError(t, c.Delete(ctx, "k"))
	assert.False(t, mr.Exists("prospect:k"))
}

func TestRedis_ServerDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	c := NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}), "")
	defer c.Close()
	mr.Close()

	_, _, err = c.Get(context.Background(), "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache: get k")
}

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	c, err := OpenRedis(context.Background(), "redis://"+mr.Addr(), "")
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Set(context.Background(), "a", "b", 0))
	assert.True(t, mr.Exists("a"))

	_, err = OpenRedis(context.Background(), "://bad", "")
	assert.Error(t, err)
}

func TestOpen_MemoryWhenUnset(t *testing.T) {
	c, err := Open(context.Background(), "", "x:")
	require.NoError(t, err)
	_, isMem := c.(*Memory)
	assert.True(t, isMem)
}

func TestMemory(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "short", "1", time.Minute))
	require.NoError(t, m.Set(ctx, "forever", "2", 0))

	v, ok, _ := m.Get(ctx, "short")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	now = now.Add(time.Minute)
	_, ok, _ = m.Get(ctx, "short")
	assert.False(t, ok, "entry expires at its deadline")

	v, ok, _ = m.Get(ctx, "forever")
	assert.True(t, ok)
	assert.Equal(t, "2", v)

	require.NoError(t, m.Delete(ctx, "forever"))
	_, ok, _ = m.Get(ctx, "forever")
	assert.False(t, ok)
	assert.NoError(t, m.Close())
}
