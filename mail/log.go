package mail

import (
	"context"

	"github.com/MrEthical07/goIdentity/account"
	"go.uber.org/zap"
)

// LogSender records deliveries in the log instead of sending them. It is meant
// for local development; codes are only written when ShowCodes is set.
type LogSender struct {
	Log       *zap.Logger
	ShowCodes bool
}

func (s LogSender) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func (s LogSender) SendOTP(_ context.Context, to, _, code string, purpose account.CodePurpose) error {
	fields := []zap.Field{zap.String("to", to), zap.Stringer("purpose", purpose)}
	if s.ShowCodes {
		fields = append(fields, zap.String("code", code))
	}
	s.logger().Info("mail: one-time code", fields...)
	return nil
}

func (s LogSender) SendTwoFactorChanged(_ context.Context, to, _ string, enabled bool, method account.TwoFactorMethod) error {
	s.logger().Info("mail: two-factor changed",
		zap.String("to", to),
		zap.Bool("enabled", enabled),
		zap.String("method", string(method)),
	)
	return nil
}

func (s LogSender) SendWelcome(_ context.Context, to, _ string) error {
	s.logger().Info("mail: welcome", zap.String("to", to))
	return nil
}
