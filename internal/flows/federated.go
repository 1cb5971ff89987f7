package flows

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/goIdentity/account"
	"github.com/MrEthical07/goIdentity/federation"
	"go.uber.org/zap"
)

// RunFederatedLogin verifies a provider id token, finds or creates the local
// account, and issues a session.
func RunFederatedLogin(ctx context.Context, idToken string, deps Deps) (*LoginResult, error) {
	if !deps.ready() {
		return nil, deps.notReady()
	}
	if deps.Federation == nil {
		return nil, deps.misconfigured("federation verifier not configured")
	}

	ident, err := deps.Federation.Verify(ctx, idToken)
	if err != nil {
		if errors.Is(err, federation.ErrInvalidToken) || errors.Is(err, federation.ErrEmailNotVerified) {
			deps.log().Info("federated assertion rejected", zap.Error(err))
			deps.observe(ctx, Event{Kind: EventFederatedFailure, Status: StatusInvalidCredentials, Err: err})
			return &LoginResult{Status: StatusInvalidCredentials, Message: msgInvalidCredentials}, nil
		}
		return nil, deps.fault("federated verify", err)
	}
	if !ident.EmailVerified || ident.Subject == "" {
		deps.observe(ctx, Event{Kind: EventFederatedFailure, Status: StatusInvalidCredentials, Metadata: map[string]string{"provider": ident.Provider}})
		return &LoginResult{Status: StatusInvalidCredentials, Message: msgInvalidCredentials}, nil
	}
	email := account.NormalizeEmail(ident.Email)

	acct, created, err := resolveFederatedAccount(ctx, ident, email, deps)
	if err != nil {
		return nil, err
	}

	if !created {
		if !acct.Active {
			deps.observe(ctx, Event{Kind: EventFederatedFailure, AccountID: acct.ID, Email: acct.Email, Status: StatusUserBanned, Metadata: map[string]string{"provider": ident.Provider}})
			return &LoginResult{Status: StatusUserBanned, Message: msgUserBanned}, nil
		}

		if acct.ExternalSubjectID != "" && (acct.ExternalSubjectID != ident.Subject || acct.ExternalProvider != ident.Provider) {
			deps.log().Warn("federated subject does not match linked subject",
				zap.String("account_id", acct.ID),
				zap.String("provider", ident.Provider),
				zap.String("linked_provider", acct.ExternalProvider),
			)
			deps.observe(ctx, Event{Kind: EventFederatedSubjectMismatch, AccountID: acct.ID, Email: acct.Email, Metadata: map[string]string{"provider": ident.Provider}})
			if deps.Policy.RejectFederatedSubjectMismatch {
				return &LoginResult{Status: StatusInvalidCredentials, Message: msgInvalidCredentials}, nil
			}
		}

		acct, err = linkFederatedAccount(ctx, acct, ident, deps)
		if err != nil {
			return nil, err
		}
	}

	if deps.Policy.FederatedRequireSecondFactor && acct.TwoFactor.Enabled {
		return beginSecondFactor(ctx, acct, deps)
	}

	res, err := deps.loggedIn(ctx, acct)
	if err != nil {
		return nil, err
	}
	deps.observe(ctx, Event{Kind: EventFederatedLogin, AccountID: acct.ID, Email: acct.Email, Success: true, Metadata: map[string]string{"provider": ident.Provider, "created": boolString(created)}})
	return res, nil
}

// resolveFederatedAccount looks up by subject, then by email, and creates the
// account when neither matches. A concurrent create is resolved by looking up
// once more.
func resolveFederatedAccount(ctx context.Context, ident *federation.Identity, email string, deps Deps) (*account.Account, bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		acct, err := deps.Accounts.FindByExternalSubject(ctx, ident.Provider, ident.Subject)
		if err == nil {
			return acct, false, nil
		}
		if !lookupMissing(err) {
			return nil, false, deps.fault("federated subject lookup", err)
		}

		acct, err = deps.Accounts.FindByEmail(ctx, email)
		if err == nil {
			return acct, false, nil
		}
		if !lookupMissing(err) {
			return nil, false, deps.fault("federated email lookup", err)
		}

		acct = &account.Account{
			Email:             email,
			Username:          federatedUsername(ident, email),
			FirstName:         ident.GivenName,
			LastName:          ident.FamilyName,
			AvatarURL:         ident.Picture,
			Active:            true,
			EmailConfirmed:    true,
			Roles:             append([]string(nil), deps.Policy.DefaultRoles...),
			ExternalProvider:  ident.Provider,
			ExternalSubjectID: ident.Subject,
		}
		err = deps.Accounts.Create(ctx, acct)
		if err == nil {
			deps.observe(ctx, Event{Kind: EventFederatedAccountCreated, AccountID: acct.ID, Email: acct.Email, Success: true, Metadata: map[string]string{"provider": ident.Provider}})
			return acct, true, nil
		}
		if !errors.Is(err, account.ErrDuplicate) {
			return nil, false, deps.fault("federated create", err)
		}
	}
	return nil, false, deps.fault("federated create", account.ErrConflict)
}

// linkFederatedAccount records the provider subject on an unlinked account,
// confirms its email, and refreshes a non-custom avatar. The stored subject is
// never overwritten.
func linkFederatedAccount(ctx context.Context, acct *account.Account, ident *federation.Identity, deps Deps) (*account.Account, error) {
	var linked bool
	updated, err := deps.Accounts.Update(ctx, acct.ID, func(a *account.Account) error {
		linked = false
		changed := false
		if a.ExternalSubjectID == "" {
			a.ExternalProvider = ident.Provider
			a.ExternalSubjectID = ident.Subject
			linked, changed = true, true
		}
		if !a.EmailConfirmed {
			a.EmailConfirmed = true
			a.EmailVerification.Clear()
			changed = true
		}
		if !a.HasCustomAvatar && ident.Picture != "" && a.AvatarURL != ident.Picture {
			a.AvatarURL = ident.Picture
			changed = true
		}
		if !changed {
			return account.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return nil, deps.fault("federated link", err)
	}
	if linked {
		deps.observe(ctx, Event{Kind: EventFederatedAccountLinked, AccountID: updated.ID, Email: updated.Email, Success: true, Metadata: map[string]string{"provider": ident.Provider}})
	}
	return updated, nil
}

func federatedUsername(ident *federation.Identity, email string) string {
	if name := strings.TrimSpace(ident.Name); name != "" {
		return name
	}
	if name := strings.TrimSpace(strings.TrimSpace(ident.GivenName) + " " + strings.TrimSpace(ident.FamilyName)); name != "" {
		return name
	}
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return email
}
