// Package analytics aggregates per-entry run outcomes into Redis
// counters bucketed by time window, for dashboards that want rates
// without scraping the metrics endpoint.
package analytics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/apoplexi24/kuber-cron/internal/controller"
	"github.com/apoplexi24/kuber-cron/internal/domain"
)

var _ controller.AnalyticsSink = (*RedisSink)(nil)

// Config controls bucketing and retention of outcome counters.
type Config struct {
	Window    time.Duration
	Retention time.Duration
}

// DefaultConfig buckets by minute and keeps counters for a day.
func DefaultConfig() Config {
	return Config{
		Window:    time.Minute,
		Retention: 24 * time.Hour,
	}
}

// RedisSink writes one INCR per outcome, keyed by entry, status and
// time bucket.
type RedisSink struct {
	client *redis.Client
	config Config
}

func NewRedisSink(client *redis.Client, config Config) *RedisSink {
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if config.Retention <= 0 {
		config.Retention = 24 * time.Hour
	}
	return &RedisSink{client: client, config: config}
}

// Record increments the counter for one run outcome. Counter and expiry
// travel in one pipeline round trip. Best-effort: a Redis error is
// logged and swallowed, never surfaced to execution.
func (s *RedisSink) Record(ctx context.Context, key domain.EntryKey, status domain.RunStatus, at time.Time) {
	bucket := buildKey(key, status, at, s.config.Window)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, bucket)
	pipe.Expire(ctx, bucket, s.config.Retention)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("analytics: redis pipeline: %v", err)
	}
}

// Ping checks connectivity; analytics is optional, so a failing ping is
// logged by the caller rather than fatal.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func buildKey(key domain.EntryKey, status domain.RunStatus, t time.Time, window time.Duration) string {
	return fmt.Sprintf("cron:e:%s:%s:%s", key, status, truncateToBucket(t, window))
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Minute:
		return t.Format("200601021504")
	case 5 * time.Minute:
		minute := (t.Minute() / 5) * 5
		return t.Format("2006010215") + fmt.Sprintf("%02d", minute)
	case time.Hour:
		return t.Format("2006010215")
	default:
		return t.Format("200601021504")
	}
}
