// Package countstore persists cumulative admission counters (admitted,
// rejected, challenged, and so on), bucketed by hour, day, and all-time.
// These are operator-facing numbers surfaced on the status endpoint; they are
// separate from prometheus metrics, which reset with the process.
package countstore

import (
	"context"
	"time"
)

const (
	PeriodTotal = "total"
	PeriodDay   = "day"
	PeriodHour  = "hour"
)

type CountStore interface {
	GetCount(ctx context.Context, name, val, period string) (int, error)
	Increment(ctx context.Context, name, val string) error
	GetCountDistinct(ctx context.Context, name, bucket, period string) (int, error)
	IncrementDistinct(ctx context.Context, name, bucket, val string) error
}

// periodBucket builds the storage key for one counter in one period. Day and
// hour buckets embed the UTC date or date-hour, so they roll over on their
// own; anything else is the all-time bucket.
func periodBucket(name, val, period string) string {
	switch period {
	case PeriodDay:
		return name + "/" + val + "/" + time.Now().UTC().Format(time.DateOnly)
	case PeriodHour:
		return name + "/" + val + "/" + time.Now().UTC().Format("2006-01-02T15")
	default:
		return name + "/" + val
	}
}
