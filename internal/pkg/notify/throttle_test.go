package notify

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DraftDeskHQ/DraftDesk/app/models"
	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/env"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const isolatedThrottleTestRedisDB = 13

// resolveTestRedis probes the usual Redis endpoints and skips the test when
// none answers, so the suite stays green on machines without Redis.
func resolveTestRedis(t *testing.T) (string, string, string) {
	t.Helper()

	hosts := []string{
		env.GetEnv("CACHE_HOST", ""),
		"cache",
		"draftdesk-cache",
		"localhost",
		"127.0.0.1",
	}
	ports := []string{
		env.GetEnv("CACHE_PORT", "6379"),
		"6379",
	}
	passwords := []string{
		env.GetEnv("CACHE_PASSWORD", ""),
		"",
	}

	seen := make(map[string]struct{})
	var lastErr error
	for _, host := range hosts {
		if host == "" {
			continue
		}
		for _, port := range ports {
			for _, password := range passwords {
				addr := fmt.Sprintf("%s:%s", host, port)
				probe := addr + "|" + password
				if _, ok := seen[probe]; ok {
					continue
				}
				seen[probe] = struct{}{}

				client := redis.NewClient(&redis.Options{
					Addr:     addr,
					Password: password,
					DB:       0,
				})
				ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
				_, err := client.Ping(ctx).Result()
				cancel()
				_ = client.Close()
				if err == nil {
					return host, port, password
				}
				lastErr = err
			}
		}
	}

	t.Skipf("Skipping Redis-dependent test: no reachable Redis endpoint (%v)", lastErr)
	return "", "", ""
}

func newIsolatedRedisClient(t *testing.T, db int) *redis.Client {
	t.Helper()

	host, port, password := resolveTestRedis(t)
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	_, err := client.Ping(ctx).Result()
	cancel()
	if err != nil {
		_ = client.Close()
		t.Skipf("Skipping Redis-dependent test: isolated DB ping failed (%v)", err)
	}

	if err := client.FlushDB(context.Background()).Err(); err != nil {
		_ = client.Close()
		t.Fatalf("failed to flush isolated redis db %d: %v", db, err)
	}

	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})

	return client
}

// guardWindowRollover sleeps past an imminent minute boundary so a test's
// INCRs all land in the same bucket.
func guardWindowRollover(t *testing.T) {
	t.Helper()

	rollover := time.Now().Truncate(time.Minute).Add(time.Minute)
	if remaining := time.Until(rollover); remaining < 2*time.Second {
		time.Sleep(remaining + 50*time.Millisecond)
	}
}

func TestThrottleAllowsUntilChannelLimit(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedThrottleTestRedisDB)
	guardWindowRollover(t)
	throttle := NewThrottle(client, 0, map[string]int{models.ChannelEmail: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := throttle.Allow(ctx, models.ChannelEmail)
		require.NoError(t, err)
		assert.True(t, ok, "send %d should pass", i+1)
	}

	ok, err := throttle.Allow(ctx, models.ChannelEmail)
	require.NoError(t, err)
	assert.False(t, ok, "limit 3 must reject the 4th send in the window")

	// The rejected attempt handed its slot back: the counter holds the
	// number of sends that actually went to dispatch.
	key := WindowKey(models.ChannelEmail, time.Now())
	count, err := client.Get(ctx, key).Int()
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	ttl, err := client.TTL(ctx, key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, throttleBucketTTL)
}

func TestThrottleGlobalLimitSpansChannels(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedThrottleTestRedisDB)
	guardWindowRollover(t)
	throttle := NewThrottle(client, 2, map[string]int{
		models.ChannelEmail: 10,
		models.ChannelSMS:   10,
	})
	ctx := context.Background()

	ok, err := throttle.Allow(ctx, models.ChannelEmail)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = throttle.Allow(ctx, models.ChannelSMS)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = throttle.Allow(ctx, models.ChannelEmail)
	require.NoError(t, err)
	assert.False(t, ok, "global limit 2 caps the third send")

	now := time.Now()
	globalCount, err := client.Get(ctx, WindowKey(throttleGlobalKey, now)).Int()
	require.NoError(t, err)
	assert.Equal(t, 2, globalCount)

	// The rejected call never reached the email bucket.
	emailCount, err := client.Get(ctx, WindowKey(models.ChannelEmail, now)).Int()
	require.NoError(t, err)
	assert.Equal(t, 1, emailCount)
}

func TestThrottleZeroLimitIsUnlimited(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedThrottleTestRedisDB)
	guardWindowRollover(t)
	throttle := NewThrottle(client, 0, map[string]int{})
	ctx := context.Background()

	for i := 0; i < 40; i++ {
		ok, err := throttle.Allow(ctx, models.ChannelEmail)
		require.NoError(t, err)
		require.True(t, ok)
	}

	// Unlimited channels never touch Redis.
	exists, err := client.Exists(ctx, WindowKey(models.ChannelEmail, time.Now())).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func TestThrottleFailsOpenWhenRedisUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	throttle := NewThrottle(client, 5, map[string]int{models.ChannelEmail: 5})

	ok, err := throttle.Allow(context.Background(), models.ChannelEmail)
	require.NoError(t, err)
	assert.True(t, ok, "a broken throttle must not stop the pipeline")
}

func TestThrottleNextAttemptLandsAfterRollover(t *testing.T) {
	throttle := NewThrottle(nil, 0, nil)
	now := time.Date(2024, 3, 1, 12, 30, 47, 0, time.UTC)

	next := throttle.NextAttempt(now)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 31, 5, 0, time.UTC), next)
}

func TestWindowKeyFormat(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 30, 47, 0, time.UTC)
	assert.Equal(t, "notify:throttle:email:202403011230", WindowKey("email", now))
}
