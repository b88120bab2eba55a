package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/thecontextcache/contextcache/internal/apierr"
)

// QuotaStore persists daily usage counters. The Postgres-backed
// implementation lives in internal/store; this interface lets the gate
// depend only on the shape it needs.
type QuotaStore interface {
	IncrementUsage(ctx context.Context, projectID, day, kind string, delta int64) (int64, error)
}

// CheckDailyQuota increments the counter for (projectID, kind) on the
// current UTC day and returns a KindQuotaExceeded error if the
// increment pushes the count past limit. limit <= 0 disables the check.
func (g *Gate) CheckDailyQuota(ctx context.Context, store QuotaStore, projectID string, kind string, limit int64) error {
	if limit <= 0 {
		return nil
	}

	day := time.Now().UTC().Format("2006-01-02")
	count, err := store.IncrementUsage(ctx, projectID, day, kind, 1)
	if err != nil {
		return apierr.Unavailable("usage counter store", err)
	}

	if count > limit {
		return apierr.New(apierr.KindQuotaExceeded, "quota_exceeded",
			fmt.Sprintf("daily %s quota exceeded for project", kind)).
			WithRetryAfter(int(secondsUntilUTCMidnight()))
	}
	return nil
}

func secondsUntilUTCMidnight() int64 {
	now := time.Now().UTC()
	next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	return int64(next.Sub(now).Seconds())
}
