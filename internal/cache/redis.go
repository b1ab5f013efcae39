// Package cache keeps checkout idempotency keys and recent order statuses in Redis.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/pos-checkout/internal/domain/order"
)

const (
	keyIdemOrderCreate = "idem:order:create:%s"
	keyOrderStatus     = "order_status:%s"

	// pendingMarker holds an idempotency key while its checkout runs.
	pendingMarker = "pending"
	// pendingTTL bounds how long a crashed checkout keeps its key reserved.
	pendingTTL = time.Minute

	// statusTimeLayout is fixed width so timestamps compare as strings.
	statusTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// setStatusScript writes ARGV[1] unless the stored entry has a newer
// updated_at than ARGV[2]. Returns 1 when written.
var setStatusScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
	local at = string.match(cur, '"updated_at":"([^"]+)"')
	if at and at > ARGV[2] then
		return 0
	end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

var (
	_ order.Idempotency = (*Redis)(nil)
	_ order.StatusCache = (*Redis)(nil)
	_ order.Publisher   = (*Redis)(nil)
)

// Options configures key lifetimes.
type Options struct {
	IdempotencyTTL time.Duration
	StatusTTL      time.Duration
}

func (o *Options) setDefaults() {
	if o.IdempotencyTTL <= 0 {
		o.IdempotencyTTL = 24 * time.Hour
	}
	if o.StatusTTL <= 0 {
		o.StatusTTL = 5 * time.Minute
	}
}

// Redis implements order.Idempotency, order.StatusCache and, to keep the
// status cache fresh, order.Publisher.
type Redis struct {
	client *redis.Client
	opts   Options
	now    func() time.Time
}

// New creates a Redis cache on top of client.
func New(client *redis.Client, opts Options) *Redis {
	opts.setDefaults()
	return &Redis{client: client, opts: opts, now: time.Now}
}

// Ping reports whether Redis is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Begin reserves key for a new checkout.
func (r *Redis) Begin(ctx context.Context, key string) (string, bool, error) {
	k := fmt.Sprintf(keyIdemOrderCreate, key)
	for range 2 {
		ok, err := r.client.SetNX(ctx, k, pendingMarker, pendingTTL).Result()
		if err != nil {
			return "", false, errors.Wrap(err, "reserve idempotency key")
		}
		if ok {
			return "", true, nil
		}

		val, err := r.client.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			// Expired between SETNX and GET; try to reserve again.
			continue
		}
		if err != nil {
			return "", false, errors.Wrap(err, "read idempotency key")
		}
		if val == pendingMarker {
			return "", false, nil
		}
		return val, false, nil
	}
	return "", false, nil
}

// Complete binds key to orderID for the idempotency window.
func (r *Redis) Complete(ctx context.Context, key, orderID string) {
	k := fmt.Sprintf(keyIdemOrderCreate, key)
	if err := r.client.Set(ctx, k, orderID, r.opts.IdempotencyTTL).Err(); err != nil {
		zctx.From(ctx).Warn("Failed to store idempotency key",
			zap.String("key", key), zap.String("order_id", orderID), zap.Error(err))
	}
}

// Abort frees key so the client can retry.
func (r *Redis) Abort(ctx context.Context, key string) {
	k := fmt.Sprintf(keyIdemOrderCreate, key)
	if err := r.client.Del(ctx, k).Err(); err != nil {
		zctx.From(ctx).Warn("Failed to release idempotency key", zap.String("key", key), zap.Error(err))
	}
}

// Publish records the order's status after each committed mutation. When
// the write fails the entry is dropped so readers fall back to the database.
func (r *Redis) Publish(ctx context.Context, e order.Event) {
	if _, err := r.SetStatus(ctx, e.Order.ID, e.Order.Status, e.OccurredAt); err != nil {
		lg := zctx.From(ctx).With(zap.String("order_id", e.Order.ID))
		lg.Warn("Failed to cache order status", zap.Error(err))
		if err := r.client.Del(ctx, fmt.Sprintf(keyOrderStatus, e.Order.ID)).Err(); err != nil {
			lg.Warn("Failed to drop cached order status", zap.Error(err))
		}
	}
}

// SetStatus caches status for id unless the cache already holds a status
// recorded after at. written reports whether the entry was replaced.
func (r *Redis) SetStatus(ctx context.Context, id string, status order.Status, at time.Time) (written bool, err error) {
	if at.IsZero() {
		at = r.now()
	}
	stamp := at.UTC().Format(statusTimeLayout)

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.ObjStart()
	e.FieldStart("status")
	e.Str(string(status))
	e.FieldStart("updated_at")
	e.Str(stamp)
	e.ObjEnd()

	n, err := setStatusScript.Run(ctx, r.client,
		[]string{fmt.Sprintf(keyOrderStatus, id)},
		e.Bytes(), stamp, r.opts.StatusTTL.Milliseconds(),
	).Int()
	if err != nil {
		return false, errors.Wrap(err, "set status")
	}
	return n == 1, nil
}

// CachedStatus returns the cached status for id. Misses, decode failures and
// Redis errors all report ok=false so callers fall back to the database.
func (r *Redis) CachedStatus(ctx context.Context, id string) (order.Status, bool) {
	raw, err := r.client.Get(ctx, fmt.Sprintf(keyOrderStatus, id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			zctx.From(ctx).Warn("Failed to read cached status", zap.String("order_id", id), zap.Error(err))
		}
		return "", false
	}

	var status order.Status
	d := jx.DecodeBytes(raw)
	err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "status" {
			return d.Skip()
		}
		s, err := d.Str()
		status = order.Status(s)
		return err
	})
	if err != nil || !status.Valid() {
		return "", false
	}
	return status, true
}
