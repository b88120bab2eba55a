// Package gate implements the Usage/Rate Gate (spec §4.11): a burst
// rate limiter backed by Redis with an in-process fallback, plus daily
// quota counters. Grounded on original_source/api/app/rate_limit.py for
// the exact dev/prod fallback semantics (prod refuses hard when Redis
// is unreachable; dev degrades to an in-process sliding window) and on
// the teacher's internal/skills/redis_cache.go for Redis client usage
// patterns.
package gate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/thecontextcache/contextcache/internal/apierr"
)

// Bucket names the rate-limit category a check applies to.
type Bucket string

const (
	BucketRecall Bucket = "recall"
	BucketWrite  Bucket = "write"
	BucketIngest Bucket = "ingest"
)

// Limits configures one bucket's per-IP and per-account thresholds over
// Window.
type Limits struct {
	PerIP      int
	PerAccount int
	Window     time.Duration
}

// Config is the gate's full configuration.
type Config struct {
	Env     string // "dev"|"prod"
	Buckets map[Bucket]Limits

	DailyMemoryLimit  int64
	DailyRecallLimit  int64
	DailyProjectLimit int64
}

// Gate enforces burst rate limits and daily quotas ahead of the recall
// and write paths.
type Gate struct {
	cfg   Config
	redis redis.UniversalClient
	log   zerolog.Logger

	mu          sync.Mutex
	localWindows map[string][]time.Time
}

// New builds a Gate. redisClient may be nil, in which case dev mode
// always uses the in-process fallback and prod mode always refuses.
func New(cfg Config, redisClient redis.UniversalClient, log zerolog.Logger) *Gate {
	return &Gate{
		cfg:          cfg,
		redis:        redisClient,
		log:          log,
		localWindows: make(map[string][]time.Time),
	}
}

func (g *Gate) isProd() bool { return g.cfg.Env == "prod" }

// Allow checks the burst rate limit for bucket against both the
// request's IP and account (project) identity, incrementing whichever
// Redis counters apply. It returns an *apierr.Error with KindRateLimited
// and a RetryAfter hint when the limit is exceeded.
func (g *Gate) Allow(ctx context.Context, bucket Bucket, ip, accountID string) error {
	limits, ok := g.cfg.Buckets[bucket]
	if !ok {
		return nil
	}

	if ip != "" && limits.PerIP > 0 {
		if err := g.allowOne(ctx, fmt.Sprintf("rl:%s:ip:%s", bucket, ip), limits.PerIP, limits.Window); err != nil {
			return err
		}
	}
	if accountID != "" && limits.PerAccount > 0 {
		if err := g.allowOne(ctx, fmt.Sprintf("rl:%s:acct:%s", bucket, accountID), limits.PerAccount, limits.Window); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gate) allowOne(ctx context.Context, key string, limit int, window time.Duration) error {
	allowed, err := g.allowRedis(ctx, key, limit, window)
	if err == nil {
		if !allowed {
			return apierr.New(apierr.KindRateLimited, "rate_limited", "rate limit exceeded").
				WithRetryAfter(int(window.Seconds()))
		}
		return nil
	}

	// Redis unreachable or not configured.
	if g.isProd() {
		return apierr.Unavailable("redis rate limiter", err)
	}

	g.log.Warn().Err(err).Str("key", key).Msg("gate_redis_unavailable_fallback_local")
	if !g.allowLocal(key, limit, window) {
		return apierr.New(apierr.KindRateLimited, "rate_limited", "rate limit exceeded").
			WithRetryAfter(int(window.Seconds()))
	}
	return nil
}

// allowRedis implements the original_source _allow_redis INCR+EXPIRE
// pattern: increment the counter, set its TTL only on the first
// increment within the window, and compare against limit.
func (g *Gate) allowRedis(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if g.redis == nil {
		return false, fmt.Errorf("gate: redis client not configured")
	}

	count, err := g.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("gate: redis incr: %w", err)
	}
	if count == 1 {
		if err := g.redis.Expire(ctx, key, window).Err(); err != nil {
			return false, fmt.Errorf("gate: redis expire: %w", err)
		}
	}
	return count <= int64(limit), nil
}

// allowLocal is an in-process sliding-window fallback used only in dev
// mode when Redis is unreachable.
func (g *Gate) allowLocal(key string, limit int, window time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-window)

	hits := g.localWindows[key]
	kept := hits[:0]
	for _, t := range hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= limit {
		g.localWindows[key] = kept
		return false
	}

	kept = append(kept, now)
	g.localWindows[key] = kept
	return true
}

// HedgeP95Key is the Redis key holding the cached p95 hedge delay for
// an org, mirroring original_source's "hedge:p95:org:{org_id}" pattern.
func HedgeP95Key(projectID string) string {
	return "hedge:p95:org:" + projectID
}

// CachedHedgeP95 reads the cached p95 hedge-delay estimate in
// milliseconds for a project, returning (0, false) on any miss or
// Redis failure — callers fall back to a static default.
func (g *Gate) CachedHedgeP95(ctx context.Context, projectID string) (int64, bool) {
	if g.redis == nil {
		return 0, false
	}
	val, err := g.redis.Get(ctx, HedgeP95Key(projectID)).Int64()
	if err != nil {
		return 0, false
	}
	return val, true
}

// SetCachedHedgeP95 stores the p95 hedge-delay estimate with the
// standard 900s TTL from original_source's HEDGE_P95_CACHE_TTL_SECONDS.
func (g *Gate) SetCachedHedgeP95(ctx context.Context, projectID string, ms int64) {
	if g.redis == nil {
		return
	}
	if err := g.redis.Set(ctx, HedgeP95Key(projectID), ms, 900*time.Second).Err(); err != nil {
		g.log.Warn().Err(err).Str("project_id", projectID).Msg("gate_hedge_p95_cache_write_failed")
	}
}
