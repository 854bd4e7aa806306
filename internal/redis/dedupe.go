package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Deduper hands out one-time claims on a key. Sagas and the reminder worker
// use it so a redelivered event or a second worker replica does not repeat
// a side effect.
type Deduper struct {
	client *redis.Client
	ttl    time.Duration
	owner  string
}

func NewDeduper(client *redis.Client, ttl time.Duration) *Deduper {
	return &Deduper{
		client: client,
		ttl:    ttl,
		owner:  uuid.NewString(),
	}
}

func claimKey(scope, key string) string {
	return fmt.Sprintf("dedupe:%s:%s", scope, key)
}

// Claim returns true the first time scope/key is seen within the TTL.
func (d *Deduper) Claim(ctx context.Context, scope, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, claimKey(scope, key), d.owner, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s/%s: %w", scope, key, err)
	}
	return ok, nil
}

var releaseScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

// Release gives a claim back so another attempt may run. Only claims taken
// by this Deduper are released.
func (d *Deduper) Release(ctx context.Context, scope, key string) error {
	_, err := releaseScript.Run(ctx, d.client, []string{claimKey(scope, key)}, d.owner).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release %s/%s: %w", scope, key, err)
	}
	return nil
}
