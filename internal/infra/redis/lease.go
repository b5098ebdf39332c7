package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// extendScript refreshes the lease TTL only while we still hold it.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the lease only while we still hold it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lease is a single-holder lease on a Redis key. The scheduler takes it each
// tick so only one process instance dials at a time; the TTL covers the gap
// between ticks and a crashed holder's lease simply expires.
type Lease struct {
	client *Client
	key    string
	token  string
	ttl    time.Duration
}

// NewLease creates a lease on the given key with the given TTL.
func NewLease(client *Client, key string, ttl time.Duration) *Lease {
	return &Lease{
		client: client,
		key:    key,
		token:  uuid.NewString(),
		ttl:    ttl,
	}
}

// TryAcquire takes or refreshes the lease. Returns false when another holder
// owns it.
func (l *Lease) TryAcquire(ctx context.Context) (bool, error) {
	inner := l.client.Inner()

	ok, err := inner.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: acquire lease %s: %w", l.key, err)
	}
	if ok {
		return true, nil
	}

	res, err := extendScript.Run(ctx, inner, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis: extend lease %s: %w", l.key, err)
	}
	return res == 1, nil
}

// Release gives up the lease if we still hold it.
func (l *Lease) Release(ctx context.Context) error {
	if _, err := releaseScript.Run(ctx, l.client.Inner(), []string{l.key}, l.token).Result(); err != nil {
		return fmt.Errorf("redis: release lease %s: %w", l.key, err)
	}
	return nil
}
