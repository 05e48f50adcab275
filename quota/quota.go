// Package quota implements the per-user daily quota ledger (C5): atomic
// request/token counters keyed by (user, UTC date), expiring at the next
// midnight.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ragctl/ragctl/apperrors"
)

// Ledger tracks daily request and token counters per user.
type Ledger struct {
	client *redis.Client
	prefix string
}

func NewLedger(client *redis.Client, prefix string) *Ledger {
	if prefix == "" {
		prefix = "quota:"
	}
	return &Ledger{client: client, prefix: prefix}
}

func todayUTC() string {
	return time.Now().UTC().Format("2006-01-02")
}

func untilNextMidnightUTC() time.Duration {
	now := time.Now().UTC()
	next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	return next.Sub(now)
}

func (l *Ledger) requestKey(userID string) string {
	return fmt.Sprintf("%sreq:%s:%s", l.prefix, todayUTC(), userID)
}

func (l *Ledger) tokenKey(userID string) string {
	return fmt.Sprintf("%stok:%s:%s", l.prefix, todayUTC(), userID)
}

// CheckAndIncrRequest atomically increments the request counter and returns
// the post-increment value, ensuring the key expires at UTC midnight on
// first write. Returns apperrors.KindQuotaReached if the cap is exceeded —
// the increment is not rolled back, matching the source's "count the
// rejected attempt too" semantics.
func (l *Ledger) CheckAndIncrRequest(ctx context.Context, userID string, dailyCap int) error {
	key := l.requestKey(userID)
	n, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to increment request counter: %w", err)
	}
	if n == 1 {
		l.client.Expire(ctx, key, untilNextMidnightUTC())
	}
	if int(n) > dailyCap {
		return apperrors.New(apperrors.KindQuotaReached, "QUOTA_EXCEEDED_REQUESTS", nil)
	}
	return nil
}

// CheckTokens reads the token counter without mutating it and fails if it
// has already reached the cap, per the token-quota preflight (§4.4 step 1):
// reject before generation so no tokens are spent past the cap.
func (l *Ledger) CheckTokens(ctx context.Context, userID string, dailyCap int) error {
	key := l.tokenKey(userID)
	val, err := l.client.Get(ctx, key).Int()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to read token counter: %w", err)
	}
	if val >= dailyCap {
		return apperrors.New(apperrors.KindQuotaReached, "QUOTA_EXCEEDED_TOKENS", nil)
	}
	return nil
}

// IncrTokens adds n tokens to today's counter after a completed generation.
func (l *Ledger) IncrTokens(ctx context.Context, userID string, n int) error {
	key := l.tokenKey(userID)
	newVal, err := l.client.IncrBy(ctx, key, int64(n)).Result()
	if err != nil {
		return fmt.Errorf("failed to increment token counter: %w", err)
	}
	if newVal == int64(n) {
		l.client.Expire(ctx, key, untilNextMidnightUTC())
	}
	return nil
}
