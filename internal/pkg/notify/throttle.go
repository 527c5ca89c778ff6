package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/cache"
	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/env"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	throttleKeyPrefix = "notify:throttle:"
	throttleGlobalKey = "global"

	// Bucket TTL outlives the window so a reader can still inspect the
	// previous minute.
	throttleBucketTTL = 2 * time.Minute
)

// Throttle enforces per-minute send limits with Redis counters, one bucket
// per channel and minute plus a global bucket. Counters are shared across
// all processes, so the limit holds fleet-wide.
type Throttle struct {
	client      *redis.Client
	globalLimit int
	limits      map[string]int
}

// NewThrottle creates a throttle with explicit limits. A limit of zero or
// below means the channel is unlimited.
func NewThrottle(client *redis.Client, globalLimit int, limits map[string]int) *Throttle {
	return &Throttle{client: client, globalLimit: globalLimit, limits: limits}
}

// NewThrottleFromEnv builds the production throttle from NOTIFY_THROTTLE_*
// configuration.
func NewThrottleFromEnv() *Throttle {
	return NewThrottle(
		cache.GetClient(),
		envLimit("NOTIFY_THROTTLE_GLOBAL_PER_MIN", 200),
		map[string]int{
			"email": envLimit("NOTIFY_THROTTLE_EMAIL_PER_MIN", 120),
			"sms":   envLimit("NOTIFY_THROTTLE_SMS_PER_MIN", 30),
		},
	)
}

func envLimit(key string, fallback int) int {
	raw := env.GetEnv(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Warnf("[Throttle] invalid %s=%q, using %d", key, raw, fallback)
		return fallback
	}
	return n
}

// Allow consumes one send slot for the channel in the current minute window.
// It returns false when either the global or the channel limit is already
// reached; a rejected call leaves the counters as it found them. Redis
// trouble fails open: a broken throttle must not stop the pipeline.
func (t *Throttle) Allow(ctx context.Context, channel string) (bool, error) {
	bucket := time.Now().UTC().Format("200601021504")

	ok, err := t.consume(ctx, throttleGlobalKey, bucket, t.globalLimit)
	if err != nil {
		log.Warnf("[Throttle] redis unavailable, failing open: %v", err)
		return true, nil
	}
	if !ok {
		return false, nil
	}

	ok, err = t.consume(ctx, channel, bucket, t.limits[channel])
	if err != nil {
		log.Warnf("[Throttle] redis unavailable, failing open: %v", err)
		return true, nil
	}
	if !ok {
		// Give the global slot back, nothing went out.
		t.release(ctx, throttleGlobalKey, bucket)
		return false, nil
	}
	return true, nil
}

// consume increments the bucket counter and checks it against the limit.
// When the increment lands above the limit the slot is handed back, so the
// counter only ever counts messages that actually went to dispatch.
func (t *Throttle) consume(ctx context.Context, name, bucket string, limit int) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	key := throttleKeyPrefix + name + ":" + bucket

	n, err := t.client.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		if err := t.client.Expire(ctx, key, throttleBucketTTL).Err(); err != nil {
			log.Warnf("[Throttle] failed to set TTL on %s: %v", key, err)
		}
	}
	if n > int64(limit) {
		t.release(ctx, name, bucket)
		return false, nil
	}
	return true, nil
}

func (t *Throttle) release(ctx context.Context, name, bucket string) {
	key := throttleKeyPrefix + name + ":" + bucket
	if err := t.client.Decr(ctx, key).Err(); err != nil {
		log.Warnf("[Throttle] failed to release slot on %s: %v", key, err)
	}
}

// NextAttempt returns when a deferred message should retry: shortly after
// the current minute window rolls over.
func (t *Throttle) NextAttempt(now time.Time) time.Time {
	return now.Truncate(time.Minute).Add(time.Minute + 5*time.Second)
}

// WindowKey returns the Redis key holding the current counter for a channel,
// used by the admin inspection surface.
func WindowKey(channel string, now time.Time) string {
	return fmt.Sprintf("%s%s:%s", throttleKeyPrefix, channel, now.UTC().Format("200601021504"))
}
