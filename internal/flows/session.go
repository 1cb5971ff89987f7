package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/goIdentity/account"
	"github.com/MrEthical07/goIdentity/jwt"
	"go.uber.org/zap"
)

// User is the sanitized account projection returned with a session.
type User struct {
	ID        string
	Email     string
	Username  string
	FirstName string
	LastName  string
	Name      string
	AvatarURL string
	Roles     []string
}

// Session is an issued credential.
type Session struct {
	Token     string
	TokenID   string
	ExpiresAt time.Time
	User      User
}

// LoginResult is returned by password, second-factor, and federated login.
type LoginResult struct {
	Status  Status
	Message string
	// Email is set for StatusEmailNotVerified so the client can offer a resend.
	Email string
	// BridgeToken, Method, and BridgeExpiresAt are set for StatusRequiresTwoFactor.
	BridgeToken     string
	Method          account.TwoFactorMethod
	BridgeExpiresAt time.Time
	Session         *Session
}

func projectUser(acct *account.Account) User {
	return User{
		ID:        acct.ID,
		Email:     acct.Email,
		Username:  acct.Username,
		FirstName: acct.FirstName,
		LastName:  acct.LastName,
		Name:      acct.DisplayName(),
		AvatarURL: acct.AvatarURL,
		Roles:     append([]string(nil), acct.Roles...),
	}
}

func (d Deps) mintSession(ctx context.Context, acct *account.Account) (*Session, error) {
	token, claims, err := d.Issuer.Issue(jwt.Principal{
		Subject:    acct.ID,
		Email:      acct.Email,
		GivenName:  acct.FirstName,
		FamilyName: acct.LastName,
		Name:       acct.DisplayName(),
		Roles:      acct.Roles,
	}, d.now())
	if err != nil {
		return nil, d.fault("issue credential", err)
	}

	d.log().Debug("credential issued", zap.String("account_id", acct.ID), zap.String("jti", claims.ID))
	d.observe(ctx, Event{Kind: EventCredentialIssued, AccountID: acct.ID, Email: acct.Email, Success: true})

	s := &Session{
		Token:   token,
		TokenID: claims.ID,
		User:    projectUser(acct),
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

func (d Deps) loggedIn(ctx context.Context, acct *account.Account) (*LoginResult, error) {
	sess, err := d.mintSession(ctx, acct)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Status: StatusSuccess, Message: msgLoggedIn, Session: sess}, nil
}
