package mail

import (
	"context"

	"github.com/MrEthical07/goIdentity/account"
)

// Kind selects the template and Sender method for a Message.
type Kind uint8

const (
	// KindOTP carries a one-time code for one of the account code slots.
	KindOTP Kind = iota + 1
	// KindTwoFactorChanged notifies the owner that 2FA was enabled or disabled.
	KindTwoFactorChanged
	// KindWelcome is sent once the registration email is confirmed.
	KindWelcome
)

func (k Kind) String() string {
	switch k {
	case KindOTP:
		return "otp"
	case KindTwoFactorChanged:
		return "two_factor_changed"
	case KindWelcome:
		return "welcome"
	default:
		return "unknown"
	}
}

// Message is one queued notification. Code is only set for KindOTP and is
// never logged.
type Message struct {
	Kind    Kind
	To      string
	Name    string
	Code    string
	Purpose account.CodePurpose
	Enabled bool
	Method  account.TwoFactorMethod
}

// Sender performs blocking delivery. Implementations must be safe for
// concurrent use.
type Sender interface {
	SendOTP(ctx context.Context, to, name, code string, purpose account.CodePurpose) error
	SendTwoFactorChanged(ctx context.Context, to, name string, enabled bool, method account.TwoFactorMethod) error
	SendWelcome(ctx context.Context, to, name string) error
}

// Deliver routes msg to the matching Sender method.
func Deliver(ctx context.Context, s Sender, msg Message) error {
	switch msg.Kind {
	case KindOTP:
		return s.SendOTP(ctx, msg.To, msg.Name, msg.Code, msg.Purpose)
	case KindTwoFactorChanged:
		return s.SendTwoFactorChanged(ctx, msg.To, msg.Name, msg.Enabled, msg.Method)
	case KindWelcome:
		return s.SendWelcome(ctx, msg.To, msg.Name)
	default:
		return ErrUnknownKind
	}
}
