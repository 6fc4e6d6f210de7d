package maintenance

import (
	"context"
	"time"
)

// sweepStore is the slice of the auth store the sweep needs. Each call
// deletes rows whose expiry is at or before now and reports the count.
type sweepStore interface {
	DeleteExpiredMagicLinks(ctx context.Context, now time.Time) (int64, error)
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
	DeleteExpiredOAuth(ctx context.Context, now time.Time) (int64, error)
	Close() error
}
