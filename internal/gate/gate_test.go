package gate

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestAllowLocalEnforcesLimit(t *testing.T) {
	g := New(Config{Env: "dev"}, nil, zerolog.Nop())

	for i := 0; i < 3; i++ {
		if !g.allowLocal("k", 3, time.Minute) {
			t.Fatalf("expected request %d to be allowed", i)
		}
	}
	if g.allowLocal("k", 3, time.Minute) {
		t.Fatalf("expected 4th request to be denied")
	}
}

func TestAllowDevFallsBackWithoutRedis(t *testing.T) {
	g := New(Config{
		Env: "dev",
		Buckets: map[Bucket]Limits{
			BucketRecall: {PerIP: 2, Window: time.Minute},
		},
	}, nil, zerolog.Nop())

	ctx := context.Background()
	if err := g.Allow(ctx, BucketRecall, "1.2.3.4", ""); err != nil {
		t.Fatalf("expected first request allowed, got %v", err)
	}
	if err := g.Allow(ctx, BucketRecall, "1.2.3.4", ""); err != nil {
		t.Fatalf("expected second request allowed, got %v", err)
	}
	if err := g.Allow(ctx, BucketRecall, "1.2.3.4", ""); err == nil {
		t.Fatalf("expected third request to be rate limited")
	}
}

func TestAllowProdRefusesWithoutRedis(t *testing.T) {
	g := New(Config{
		Env: "prod",
		Buckets: map[Bucket]Limits{
			BucketRecall: {PerIP: 2, Window: time.Minute},
		},
	}, nil, zerolog.Nop())

	if err := g.Allow(context.Background(), BucketRecall, "1.2.3.4", ""); err == nil {
		t.Fatalf("expected prod mode to refuse hard when redis is unavailable")
	}
}

type fakeQuotaStore struct {
	counts map[string]int64
}

func (f *fakeQuotaStore) IncrementUsage(_ context.Context, projectID, day, kind string, delta int64) (int64, error) {
	key := projectID + "|" + day + "|" + kind
	f.counts[key] += delta
	return f.counts[key], nil
}

func TestCheckDailyQuotaExceeded(t *testing.T) {
	g := New(Config{Env: "dev"}, nil, zerolog.Nop())
	store := &fakeQuotaStore{counts: map[string]int64{}}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := g.CheckDailyQuota(ctx, store, "proj1", "memory", 2); err != nil {
			t.Fatalf("expected request %d within quota, got %v", i, err)
		}
	}
	if err := g.CheckDailyQuota(ctx, store, "proj1", "memory", 2); err == nil {
		t.Fatalf("expected quota exceeded on 3rd request")
	}
}

func TestCheckDailyQuotaDisabledWhenLimitZero(t *testing.T) {
	g := New(Config{Env: "dev"}, nil, zerolog.Nop())
	store := &fakeQuotaStore{counts: map[string]int64{}}
	for i := 0; i < 10; i++ {
		if err := g.CheckDailyQuota(context.Background(), store, "proj1", "memory", 0); err != nil {
			t.Fatalf("expected quota disabled, got error: %v", err)
		}
	}
}
