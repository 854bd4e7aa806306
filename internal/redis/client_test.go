package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := NewRedisClient(context.Background(), Options{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })

	if err := Check(rdb)(context.Background()); err != nil {
		t.Fatalf("check: %v", err)
	}

	mr.Close()
	if err := Check(rdb)(context.Background()); err == nil {
		t.Fatal("expected check to fail once redis is gone")
	}
}

func TestNewRedisClientUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := NewRedisClient(ctx, Options{Addr: addr}); err == nil {
		t.Fatal("expected an error for an unreachable server")
	}
}
