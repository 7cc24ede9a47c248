package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cebarrett/todo/internal/store"
	"github.com/cebarrett/todo/internal/todo"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	rs, err := NewRedisStore("redis://"+s.Addr(), time.Hour)
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = rs.Close() })
	return rs, s
}

func TestReserveCompleteAndReplay(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()

	_, reserved, err := rs.Reserve(ctx, "user-1", "key-1")
	if err != nil || !reserved {
		t.Fatalf("first Reserve() = %v, %v", reserved, err)
	}

	item := todo.Item{ID: "abc", Text: "Buy milk", Order: 42}
	if err := rs.Complete(ctx, "user-1", "key-1", item); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	prior, reserved, err := rs.Reserve(ctx, "user-1", "key-1")
	if err != nil {
		t.Fatalf("replay Reserve() error = %v", err)
	}
	if reserved {
		t.Fatal("replay must not reserve again")
	}
	if prior.ID != "abc" || prior.Text != "Buy milk" || prior.Order != 42 {
		t.Fatalf("unexpected prior item: %+v", prior)
	}
}

func TestReserveWhilePending(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()

	if _, reserved, err := rs.Reserve(ctx, "user-1", "key-1"); err != nil || !reserved {
		t.Fatalf("first Reserve() = %v, %v", reserved, err)
	}
	_, _, err := rs.Reserve(ctx, "user-1", "key-1")
	if !errors.Is(err, ErrInFlight) || !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrInFlight, got %v", err)
	}
}

func TestReleaseAllowsRetry(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()

	if _, _, err := rs.Reserve(ctx, "user-1", "key-1"); err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if err := rs.Release(ctx, "user-1", "key-1"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, reserved, err := rs.Reserve(ctx, "user-1", "key-1"); err != nil || !reserved {
		t.Fatalf("Reserve() after release = %v, %v", reserved, err)
	}
}

func TestKeysAreScopedByOwner(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()

	if _, _, err := rs.Reserve(ctx, "user-1", "key-1"); err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if err := rs.Complete(ctx, "user-1", "key-1", todo.Item{ID: "mine"}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if _, reserved, err := rs.Reserve(ctx, "user-2", "key-1"); err != nil || !reserved {
		t.Fatalf("other owner Reserve() = %v, %v", reserved, err)
	}
	if _, reserved, err := rs.Reserve(ctx, "user", "1:key-1"); err != nil || !reserved {
		t.Fatalf("crafted key Reserve() = %v, %v", reserved, err)
	}
}

func TestRecordsExpire(t *testing.T) {
	rs, s := setupTestRedis(t)
	ctx := context.Background()

	if _, _, err := rs.Reserve(ctx, "user-1", "key-1"); err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if err := rs.Complete(ctx, "user-1", "key-1", todo.Item{ID: "abc"}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	s.FastForward(2 * time.Hour)

	if _, reserved, err := rs.Reserve(ctx, "user-1", "key-1"); err != nil || !reserved {
		t.Fatalf("Reserve() after expiry = %v, %v", reserved, err)
	}
}

func TestRedisDownIsUnavailable(t *testing.T) {
	rs, s := setupTestRedis(t)
	s.Close()
	_, _, err := rs.Reserve(context.Background(), "user-1", "key-1")
	if !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
