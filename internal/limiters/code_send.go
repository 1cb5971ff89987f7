package limiters

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/redis/go-redis/v9"
)

const (
	defaultCodeSendMax    = 5
	defaultCodeSendWindow = 15 * time.Minute
)

// ErrCodeSendRateLimited is returned when an email has requested too many codes.
var ErrCodeSendRateLimited = errors.New("code send rate limited")

// CodeSendConfig bounds how often a code may be mailed to one address.
type CodeSendConfig struct {
	MaxSends         int
	Window           time.Duration
	EnableIPThrottle bool
}

// CodeSendLimiter throttles resend, forgot-password, and emailed 2FA codes.
type CodeSendLimiter struct {
	redis  redis.UniversalClient
	config CodeSendConfig
}

// NewCodeSendLimiter fills zero fields with 5 sends per 15 minutes.
func NewCodeSendLimiter(redisClient redis.UniversalClient, cfg CodeSendConfig) *CodeSendLimiter {
	if cfg.MaxSends <= 0 {
		cfg.MaxSends = defaultCodeSendMax
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultCodeSendWindow
	}
	return &CodeSendLimiter{redis: redisClient, config: cfg}
}

// Allow counts one send for purpose to email (and ip when enabled).
func (l *CodeSendLimiter) Allow(ctx context.Context, purpose, email, ip string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	if err := l.enforce(ctx, codeSendEmailKey(purpose, email)); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.enforce(ctx, codeSendIPKey(purpose, ip)); err != nil {
			return err
		}
	}
	return nil
}

func (l *CodeSendLimiter) enforce(ctx context.Context, key string) error {
	count, err := rate.IncrementWindow(ctx, l.redis, key, l.config.Window)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxSends) {
		return ErrCodeSendRateLimited
	}
	return nil
}

func codeSendEmailKey(purpose, email string) string {
	return "idcs:" + purpose + ":" + email
}

func codeSendIPKey(purpose, ip string) string {
	return "idcsi:" + purpose + ":" + ip
}
