package cache

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/l88labs/paramanandha/errors"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisFromClient(client, time.Hour)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestRedisSetGet(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestRedis(t)

	if err := c.Set(ctx, "s1", "What is BM25?", []byte("answer")); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := c.Get(ctx, "s1", "  WHAT IS bm25?")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "answer" {
		t.Errorf("payload = %q", got)
	}
}

func TestRedisMiss(t *testing.T) {
	c, _ := newTestRedis(t)
	if _, err := c.Get(context.Background(), "s1", "never asked"); !stderrors.Is(err, errors.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRedisExpiry(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestRedis(t)

	if err := c.Set(ctx, "s1", "q", []byte("a")); err != nil {
		t.Fatalf("set: %v", err)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := c.Get(ctx, "s1", "q"); !stderrors.Is(err, errors.ErrNotFound) {
		t.Errorf("expired entry served: %v", err)
	}
}

func TestRedisInvalidate(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestRedis(t)

	c.Set(ctx, "s1", "q1", []byte("a1"))
	c.Set(ctx, "s1", "q2", []byte("a2"))
	c.Set(ctx, "s2", "q1", []byte("other"))

	if err := c.Invalidate(ctx, "s1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	if _, err := c.Get(ctx, "s1", "q1"); !stderrors.Is(err, errors.ErrNotFound) {
		t.Errorf("s1/q1 survived invalidation: %v", err)
	}
	if _, err := c.Get(ctx, "s2", "q1"); err != nil {
		t.Errorf("s2 entry lost: %v", err)
	}
}
