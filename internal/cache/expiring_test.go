package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	current time.Time
}

func (fc *fakeClock) Now() time.Time {
	return fc.current
}

func (fc *fakeClock) Advance(d time.Duration) {
	fc.current = fc.current.Add(d)
}

func newTestCache(ttl time.Duration) (*ExpiringCache[string, int], *fakeClock) {
	clock := &fakeClock{current: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	c := New[string, int]("test", ttl).WithClock(clock.Now)
	return c, clock
}

func TestExpiringCacheGet(t *testing.T) {
	c, clock := newTestCache(time.Minute)

	c.Set("a", 1)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	clock.Advance(time.Minute + time.Second)

	_, ok = c.Get("a")
	assert.False(t, ok, "expired entry must be unreachable before sweep")
}

func TestExpiringCacheConsumeIsSingleUse(t *testing.T) {
	c, _ := newTestCache(time.Minute)

	c.Set("permit", 42)

	v, ok := c.Consume("permit")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	_, ok = c.Consume("permit")
	assert.False(t, ok, "second consume must miss")
}

func TestExpiringCacheConsumeExpired(t *testing.T) {
	c, clock := newTestCache(5 * time.Second)

	c.Set("permit", 1)
	clock.Advance(6 * time.Second)

	_, ok := c.Consume("permit")
	assert.False(t, ok, "expired permit must not match")
}

func TestExpiringCacheSetTTLOverride(t *testing.T) {
	c, clock := newTestCache(time.Minute)

	c.SetTTL("short", 1, 2*time.Second)
	c.Set("long", 2)

	clock.Advance(3 * time.Second)

	_, shortOK := c.Get("short")
	_, longOK := c.Get("long")
	assert.False(t, shortOK)
	assert.True(t, longOK)
}

func TestExpiringCacheSweep(t *testing.T) {
	c, clock := newTestCache(time.Hour)

	c.Set("old", 1)
	clock.Advance(2 * time.Hour)
	c.Set("fresh", 2)

	removed := c.Sweep()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, c.Len())

	_, ok := c.Get("fresh")
	assert.True(t, ok)
}

func TestExpiringCacheKeys(t *testing.T) {
	c, clock := newTestCache(time.Minute)

	c.Set("a", 1)
	c.Set("b", 2)
	clock.Advance(30 * time.Second)
	c.Set("c", 3)
	clock.Advance(45 * time.Second)

	keys := c.Keys()
	assert.ElementsMatch(t, []string{"c"}, keys)
}
