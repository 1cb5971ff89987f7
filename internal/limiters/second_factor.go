package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/redis/go-redis/v9"
)

const (
	defaultSecondFactorMaxFailures = 5
	defaultSecondFactorCooldown    = 5 * time.Minute
)

// ErrSecondFactorLocked is returned once an account exhausts its failures.
var ErrSecondFactorLocked = errors.New("second factor locked")

// SecondFactorConfig holds thresholds for authenticator and backup code failures.
type SecondFactorConfig struct {
	MaxFailures int
	Cooldown    time.Duration
}

// SecondFactorLimiter counts failed authenticator and backup code attempts
// per account. Emailed codes carry their own attempt counter in the slot.
type SecondFactorLimiter struct {
	redis       redis.UniversalClient
	maxFailures int64
	cooldown    time.Duration
}

// NewSecondFactorLimiter fills zero fields with 5 failures per 5 minutes.
func NewSecondFactorLimiter(redisClient redis.UniversalClient, cfg SecondFactorConfig) *SecondFactorLimiter {
	max := cfg.MaxFailures
	if max <= 0 {
		max = defaultSecondFactorMaxFailures
	}
	cd := cfg.Cooldown
	if cd <= 0 {
		cd = defaultSecondFactorCooldown
	}
	return &SecondFactorLimiter{redis: redisClient, maxFailures: int64(max), cooldown: cd}
}

func (l *SecondFactorLimiter) key(accountID string) string {
	return "id2f:" + accountID
}

// Check returns ErrSecondFactorLocked when the account is over budget.
func (l *SecondFactorLimiter) Check(ctx context.Context, accountID string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	count, err := l.redis.Get(ctx, l.key(accountID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", rate.ErrRedisUnavailable, err)
	}
	if count >= l.maxFailures {
		return ErrSecondFactorLocked
	}
	return nil
}

// RecordFailure counts one failure and reports ErrSecondFactorLocked when the
// budget is now exhausted.
func (l *SecondFactorLimiter) RecordFailure(ctx context.Context, accountID string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	count, err := rate.IncrementWindow(ctx, l.redis, l.key(accountID), l.cooldown)
	if err != nil {
		return err
	}
	if count >= l.maxFailures {
		return ErrSecondFactorLocked
	}
	return nil
}

// Reset clears the failure counter after a successful second factor.
func (l *SecondFactorLimiter) Reset(ctx context.Context, accountID string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", rate.ErrRedisUnavailable, err)
	}
	return nil
}
