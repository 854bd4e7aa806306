package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestClaimOnce(t *testing.T) {
	ctx := context.Background()
	_, client := newTestClient(t)
	d := NewDeduper(client, time.Hour)

	first, err := d.Claim(ctx, "saga", "evt-1")
	if err != nil || !first {
		t.Fatalf("first claim = %v, %v", first, err)
	}
	second, err := d.Claim(ctx, "saga", "evt-1")
	if err != nil || second {
		t.Fatalf("second claim = %v, %v", second, err)
	}
	other, err := d.Claim(ctx, "reminder", "evt-1")
	if err != nil || !other {
		t.Fatalf("other scope claim = %v, %v", other, err)
	}
}

func TestClaimExpires(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestClient(t)
	d := NewDeduper(client, time.Minute)

	if ok, _ := d.Claim(ctx, "saga", "evt-1"); !ok {
		t.Fatal("claim failed")
	}
	mr.FastForward(2 * time.Minute)
	if ok, err := d.Claim(ctx, "saga", "evt-1"); err != nil || !ok {
		t.Fatalf("claim after ttl = %v, %v", ok, err)
	}
}

func TestReleaseOnlyOwnClaims(t *testing.T) {
	ctx := context.Background()
	_, client := newTestClient(t)
	a := NewDeduper(client, time.Hour)
	b := NewDeduper(client, time.Hour)

	if ok, _ := a.Claim(ctx, "saga", "evt-1"); !ok {
		t.Fatal("claim failed")
	}
	if err := b.Release(ctx, "saga", "evt-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := b.Claim(ctx, "saga", "evt-1"); ok {
		t.Fatal("foreign release freed the claim")
	}

	if err := a.Release(ctx, "saga", "evt-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := b.Claim(ctx, "saga", "evt-1"); !ok {
		t.Fatal("claim should be free after owner release")
	}
}
