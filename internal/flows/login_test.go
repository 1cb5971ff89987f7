package flows

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/goIdentity/account"
	"golang.org/x/crypto/bcrypt"
)

func TestLoginTerminalStates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acct := h.registerVerified(t, "ada@example.com")

	missing, err := RunLogin(ctx, "nobody@example.com", testPassword, h.deps)
	if err != nil {
		t.Fatalf("login missing: %v", err)
	}
	wrong, err := RunLogin(ctx, "ada@example.com", "wrong-password-123", h.deps)
	if err != nil {
		t.Fatalf("login wrong: %v", err)
	}
	if missing.Status != StatusInvalidCredentials || *missing != *wrong {
		t.Fatalf("expected identical InvalidCredentials, got %+v and %+v", missing, wrong)
	}

	ok, err := RunLogin(ctx, " ADA@example.com ", testPassword, h.deps)
	if err != nil || ok.Status != StatusSuccess || ok.Session == nil {
		t.Fatalf("login = %+v, %v", ok, err)
	}
	claims, err := h.issuer.Parse(ok.Session.Token)
	if err != nil {
		t.Fatalf("parse issued credential: %v", err)
	}
	if claims.Subject != acct.ID || claims.Email != "ada@example.com" || len(claims.Roles) != 1 || claims.ID == "" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if ok.Session.User.Name != "Ada Lovelace" {
		t.Fatalf("unexpected user projection %+v", ok.Session.User)
	}

	if _, err := h.store.Update(ctx, acct.ID, func(a *account.Account) error {
		a.Active = false
		return nil
	}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	off, err := RunLogin(ctx, "ada@example.com", testPassword, h.deps)
	if err != nil || off.Status != StatusAccountDeactivated {
		t.Fatalf("expected AccountDeactivated, got %+v, %v", off, err)
	}
}

func TestCredentialNameFallsBackToUsername(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acct := h.registerVerified(t, "ada@example.com")
	if _, err := h.store.Update(ctx, acct.ID, func(a *account.Account) error {
		a.FirstName, a.LastName = "", ""
		return nil
	}); err != nil {
		t.Fatalf("clear names: %v", err)
	}

	res, err := RunLogin(ctx, "ada@example.com", testPassword, h.deps)
	if err != nil || res.Status != StatusSuccess || res.Session == nil {
		t.Fatalf("login = %+v, %v", res, err)
	}
	claims, err := h.issuer.Parse(res.Session.Token)
	if err != nil {
		t.Fatalf("parse issued credential: %v", err)
	}
	if claims.Name != "learner" || res.Session.User.Name != claims.Name {
		t.Fatalf("expected name claim to match display name, got claim %q and user %q", claims.Name, res.Session.User.Name)
	}
}

func TestLoginUnverifiedDoesNotSendCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := RunRegister(ctx, RegisterRequest{Email: "new@example.com", Username: "n", Password: testPassword}, h.deps); err != nil {
		t.Fatalf("register: %v", err)
	}
	before := len(h.mail.msgs)

	res, err := RunLogin(ctx, "new@example.com", testPassword, h.deps)
	if err != nil || res.Status != StatusEmailNotVerified || res.Email != "new@example.com" {
		t.Fatalf("expected EmailNotVerified with email, got %+v, %v", res, err)
	}
	if len(h.mail.msgs) != before {
		t.Fatal("login must not auto-send a verification code")
	}
}

func TestLoginRateLimited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.registerVerified(t, "ada@example.com")

	for i := 0; i < 5; i++ {
		if _, err := RunLogin(ctx, "ada@example.com", "wrong-password-123", h.deps); err != nil {
			t.Fatalf("login: %v", err)
		}
	}
	res, err := RunLogin(ctx, "ada@example.com", testPassword, h.deps)
	if err != nil || res.Status != StatusRateLimited {
		t.Fatalf("expected RateLimited, got %+v, %v", res, err)
	}
	if !h.saw(EventLoginRateLimited) {
		t.Fatal("expected rate-limit event")
	}
}

func TestLoginUpgradesBcryptHash(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acct := h.registerVerified(t, "legacy@example.com")

	legacy, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	if _, err := h.store.Update(ctx, acct.ID, func(a *account.Account) error {
		a.PasswordHash = string(legacy)
		return nil
	}); err != nil {
		t.Fatalf("store legacy hash: %v", err)
	}

	res, err := RunLogin(ctx, "legacy@example.com", testPassword, h.deps)
	if err != nil || res.Status != StatusSuccess {
		t.Fatalf("login = %+v, %v", res, err)
	}
	got, _ := h.store.FindByID(ctx, acct.ID)
	if !strings.HasPrefix(got.PasswordHash, "$argon2id$") {
		t.Fatalf("expected argon2id rehash, got %q", got.PasswordHash[:8])
	}
}

func enableAuthenticator(t *testing.T, h *harness, acct *account.Account) string {
	t.Helper()
	ctx := context.Background()
	begin, err := RunBeginAuthenticatorEnrollment(ctx, acct.ID, h.deps)
	if err != nil || begin.Status != StatusSuccess {
		t.Fatalf("begin = %+v, %v", begin, err)
	}
	code, err := h.deps.TOTP.GenerateCode(begin.Secret, h.clock.Now())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	conf, err := RunConfirmAuthenticatorEnrollment(ctx, acct.ID, code, h.deps)
	if err != nil || conf.Status != StatusSuccess {
		t.Fatalf("confirm = %+v, %v", conf, err)
	}
	// The confirming code's step is spent; move to the next one.
	h.clock.Advance(30 * time.Second)
	return begin.Secret
}

func TestLoginWithAuthenticatorAndBridgeReuse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acct := h.registerVerified(t, "totp@example.com")
	secret := enableAuthenticator(t, h, acct)
	mailsBefore := len(h.mail.msgs)

	res, err := RunLogin(ctx, "totp@example.com", testPassword, h.deps)
	if err != nil || res.Status != StatusRequiresTwoFactor {
		t.Fatalf("expected RequiresTwoFactor, got %+v, %v", res, err)
	}
	if res.BridgeToken == "" || res.Method != account.MethodAuthenticator || res.Session != nil {
		t.Fatalf("unexpected two-factor result %+v", res)
	}
	if len(h.mail.msgs) != mailsBefore {
		t.Fatal("authenticator login must not send a code")
	}

	code, _ := h.deps.TOTP.GenerateCode(secret, h.clock.Now())
	ok, err := RunVerifyTwoFactor(ctx, res.BridgeToken, code, false, h.deps)
	if err != nil || ok.Status != StatusSuccess || ok.Session == nil {
		t.Fatalf("verify = %+v, %v", ok, err)
	}

	reuse, err := RunVerifyTwoFactor(ctx, res.BridgeToken, code, false, h.deps)
	if err != nil || reuse.Status != StatusInvalidCredentials {
		t.Fatalf("expected bridge reuse to fail, got %+v, %v", reuse, err)
	}
}

func TestAuthenticatorCodeCannotBeReplayed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acct := h.registerVerified(t, "replay@example.com")
	secret := enableAuthenticator(t, h, acct)
	code, _ := h.deps.TOTP.GenerateCode(secret, h.clock.Now())

	first, _ := RunLogin(ctx, "replay@example.com", testPassword, h.deps)
	ok, err := RunVerifyTwoFactor(ctx, first.BridgeToken, code, false, h.deps)
	if err != nil || ok.Status != StatusSuccess {
		t.Fatalf("first verify = %+v, %v", ok, err)
	}

	second, _ := RunLogin(ctx, "replay@example.com", testPassword, h.deps)
	replay, err := RunVerifyTwoFactor(ctx, second.BridgeToken, code, false, h.deps)
	if err != nil || replay.Status != StatusInvalidCredentials {
		t.Fatalf("expected replayed code to fail, got %+v, %v", replay, err)
	}

	// A code from an earlier step inside the skew window is refused as well.
	older, _ := h.deps.TOTP.GenerateCode(secret, h.clock.Now().Add(-30*time.Second))
	if r, _ := RunVerifyTwoFactor(ctx, second.BridgeToken, older, false, h.deps); r.Status != StatusInvalidCredentials {
		t.Fatalf("expected older step to fail, got %+v", r)
	}

	h.clock.Advance(30 * time.Second)
	next, _ := h.deps.TOTP.GenerateCode(secret, h.clock.Now())
	fresh, err := RunVerifyTwoFactor(ctx, second.BridgeToken, next, false, h.deps)
	if err != nil || fresh.Status != StatusSuccess {
		t.Fatalf("next-step code = %+v, %v", fresh, err)
	}
	got, _ := h.store.FindByID(ctx, acct.ID)
	if want := h.clock.Now().Unix() / 30; got.TwoFactor.TOTPLastStep != want {
		t.Fatalf("TOTPLastStep = %d, want %d", got.TwoFactor.TOTPLastStep, want)
	}
}

func TestVerifyTwoFactorBridgeExpires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acct := h.registerVerified(t, "slow@example.com")
	secret := enableAuthenticator(t, h, acct)

	res, _ := RunLogin(ctx, "slow@example.com", testPassword, h.deps)
	h.clock.Advance(6 * time.Minute)
	code, _ := h.deps.TOTP.GenerateCode(secret, h.clock.Now())

	out, err := RunVerifyTwoFactor(ctx, res.BridgeToken, code, false, h.deps)
	if err != nil || out.Status != StatusInvalidCredentials || out.Message != msgSessionExpired {
		t.Fatalf("expected expired session, got %+v, %v", out, err)
	}
	got, _ := h.store.FindByID(ctx, acct.ID)
	if got.TwoFactorToken.Active() {
		t.Fatal("expired bridge must be cleared")
	}
}

func TestLoginWithEmailSecondFactorLocksAfterFiveFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acct := h.registerVerified(t, "mail2fa@example.com")
	if r, err := RunEnableEmailMethod(ctx, acct.ID, h.deps); err != nil || r.Status != StatusSuccess {
		t.Fatalf("enable email = %+v, %v", r, err)
	}

	res, err := RunLogin(ctx, "mail2fa@example.com", testPassword, h.deps)
	if err != nil || res.Status != StatusRequiresTwoFactor || res.Method != account.MethodEmail {
		t.Fatalf("login = %+v, %v", res, err)
	}
	code := h.mail.lastCode(t, account.PurposeTwoFactorEmail)
	bad := wrongCode(code)

	for i := 0; i < 4; i++ {
		r, err := RunVerifyTwoFactor(ctx, res.BridgeToken, bad, false, h.deps)
		if err != nil || r.Status != StatusInvalidCredentials {
			t.Fatalf("attempt %d = %+v, %v", i, r, err)
		}
	}
	locked, err := RunVerifyTwoFactor(ctx, res.BridgeToken, bad, false, h.deps)
	if err != nil || locked.Status != StatusAccountLocked {
		t.Fatalf("expected AccountLocked, got %+v, %v", locked, err)
	}

	after, err := RunVerifyTwoFactor(ctx, res.BridgeToken, code, false, h.deps)
	if err != nil || after.Status != StatusInvalidCredentials {
		t.Fatalf("locked bridge must be gone, got %+v, %v", after, err)
	}

	again, _ := RunLogin(ctx, "mail2fa@example.com", testPassword, h.deps)
	fresh := h.mail.lastCode(t, account.PurposeTwoFactorEmail)
	ok, err := RunVerifyTwoFactor(ctx, again.BridgeToken, fresh, false, h.deps)
	if err != nil || ok.Status != StatusSuccess {
		t.Fatalf("fresh login verify = %+v, %v", ok, err)
	}
	got, _ := h.store.FindByID(ctx, acct.ID)
	if got.TwoFactorEmail.Active() || got.TwoFactorToken.Active() {
		t.Fatal("expected both 2FA slots cleared after success")
	}
}

func TestVerifyTwoFactorWithBackupCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acct := h.registerVerified(t, "backup@example.com")
	enableAuthenticator(t, h, acct)

	gen, err := RunGenerateBackupCodes(ctx, acct.ID, testPassword, h.deps)
	if err != nil || gen.Status != StatusSuccess || len(gen.Codes) != 10 {
		t.Fatalf("generate = %+v, %v", gen, err)
	}
	code := strings.ToLower(gen.Codes[0])

	res, _ := RunLogin(ctx, "backup@example.com", testPassword, h.deps)
	ok, err := RunVerifyTwoFactor(ctx, res.BridgeToken, code, true, h.deps)
	if err != nil || ok.Status != StatusSuccess {
		t.Fatalf("backup verify = %+v, %v", ok, err)
	}
	got, _ := h.store.FindByID(ctx, acct.ID)
	if got.TwoFactor.BackupCodesRemaining != 9 || len(got.TwoFactor.BackupCodeHashes) != 9 {
		t.Fatalf("expected 9 remaining, got %d", got.TwoFactor.BackupCodesRemaining)
	}
	if !h.saw(EventBackupCodeUsed) {
		t.Fatal("expected backup code event")
	}

	res, _ = RunLogin(ctx, "backup@example.com", testPassword, h.deps)
	reused, err := RunVerifyTwoFactor(ctx, res.BridgeToken, code, true, h.deps)
	if err != nil || reused.Status != StatusInvalidCredentials {
		t.Fatalf("expected consumed code to fail, got %+v, %v", reused, err)
	}
}

func TestVerifyTwoFactorAuthenticatorFailuresLock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acct := h.registerVerified(t, "brute@example.com")
	enableAuthenticator(t, h, acct)

	res, _ := RunLogin(ctx, "brute@example.com", testPassword, h.deps)
	var last *LoginResult
	for i := 0; i < 5; i++ {
		r, err := RunVerifyTwoFactor(ctx, res.BridgeToken, "12345x", false, h.deps)
		if err != nil {
			t.Fatalf("verify: %v", err)
		}
		last = r
	}
	if last.Status != StatusAccountLocked {
		t.Fatalf("expected AccountLocked on fifth failure, got %+v", last)
	}
	got, _ := h.store.FindByID(ctx, acct.ID)
	if got.TwoFactorToken.Active() {
		t.Fatal("expected bridge cleared on lock")
	}
}
