package cache_test

import (
	"context"
	"testing"
	"time"

	"judgeline/internal/common/cache"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisCacheGetMissingIsEmpty(t *testing.T) {
	c, _ := newTestCache(t)
	value, err := c.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "" {
		t.Fatalf("expected empty value, got %q", value)
	}
}

func TestRedisCacheZSet(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	key := "board"

	if err := c.ZAdd(ctx, key, cache.ZMember{Score: 10, Member: "a"}, cache.ZMember{Score: 30, Member: "b"}, cache.ZMember{Score: 20, Member: "c"}); err != nil {
		t.Fatalf("zadd: %v", err)
	}
	members, err := c.ZRevRangeWithScores(ctx, key, 0, -1)
	if err != nil {
		t.Fatalf("zrevrange: %v", err)
	}
	want := []string{"b", "c", "a"}
	if len(members) != len(want) {
		t.Fatalf("expected %d members, got %d", len(want), len(members))
	}
	for i, m := range members {
		if m.Member != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], m.Member)
		}
	}

	rank, err := c.ZRevRank(ctx, key, "a")
	if err != nil || rank != 2 {
		t.Fatalf("expected rank 2, got %d (err=%v)", rank, err)
	}
	rank, err = c.ZRevRank(ctx, key, "missing")
	if err != nil || rank != -1 {
		t.Fatalf("expected rank -1 for missing member, got %d (err=%v)", rank, err)
	}

	if _, ok, err := c.ZScore(ctx, key, "missing"); err != nil || ok {
		t.Fatalf("expected missing score, got ok=%v err=%v", ok, err)
	}
	score, ok, err := c.ZScore(ctx, key, "c")
	if err != nil || !ok || score != 20 {
		t.Fatalf("expected score 20, got %v ok=%v err=%v", score, ok, err)
	}

	// Overwrite keeps a single member.
	if err := c.ZAdd(ctx, key, cache.ZMember{Score: 5, Member: "b"}); err != nil {
		t.Fatalf("zadd overwrite: %v", err)
	}
	card, err := c.ZCard(ctx, key)
	if err != nil || card != 3 {
		t.Fatalf("expected 3 members, got %d (err=%v)", card, err)
	}
}

func TestRedisCacheLockToken(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	ok, err := c.TryLock(ctx, "lock", "owner-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first lock to succeed, got ok=%v err=%v", ok, err)
	}
	ok, err = c.TryLock(ctx, "lock", "owner-2", time.Minute)
	if err != nil || ok {
		t.Fatalf("expected second lock to fail, got ok=%v err=%v", ok, err)
	}

	extended, err := c.ExtendLock(ctx, "lock", "owner-2", time.Hour)
	if err != nil || extended {
		t.Fatalf("foreign extend must not refresh, got extended=%v err=%v", extended, err)
	}
	mr.FastForward(50 * time.Second)
	extended, err = c.ExtendLock(ctx, "lock", "owner-1", time.Minute)
	if err != nil || !extended {
		t.Fatalf("owner extend must refresh, got extended=%v err=%v", extended, err)
	}
	if ttl := mr.TTL("lock"); ttl != time.Minute {
		t.Fatalf("expected ttl reset to 1m, got %v", ttl)
	}

	released, err := c.Unlock(ctx, "lock", "owner-2")
	if err != nil || released {
		t.Fatalf("foreign unlock must not release, got released=%v err=%v", released, err)
	}
	released, err = c.Unlock(ctx, "lock", "owner-1")
	if err != nil || !released {
		t.Fatalf("owner unlock must release, got released=%v err=%v", released, err)
	}
	if mr.Exists("lock") {
		t.Fatalf("lock key should be gone")
	}
	extended, err = c.ExtendLock(ctx, "lock", "owner-1", time.Minute)
	if err != nil || extended {
		t.Fatalf("extending a released lock must fail, got extended=%v err=%v", extended, err)
	}
}

func TestJitterTTLStaysWithinTenPercent(t *testing.T) {
	t.Parallel()
	ttl := 10 * time.Second
	for i := 0; i < 50; i++ {
		got := cache.JitterTTL(ttl)
		if got > ttl || got < 9*time.Second {
			t.Fatalf("jittered ttl out of range: %v", got)
		}
	}
	if cache.JitterTTL(0) != 0 {
		t.Fatalf("zero ttl must stay zero")
	}
}
