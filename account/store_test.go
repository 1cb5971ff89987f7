package account

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store := NewStore(db)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	return store
}

func newTestAccount(email string) *Account {
	return &Account{
		Email:        email,
		Username:     "learner",
		FirstName:    "Ada",
		LastName:     "Lovelace",
		Active:       true,
		PasswordHash: "hash",
		Roles:        []string{"student"},
	}
}

func TestStoreCreateAndFind(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	acct := newTestAccount("  Ada@Example.COM ")
	acct.EmailVerification = CodeSlot{CodeHash: "abc", ExpiresAt: time.Now().Add(time.Minute), Attempts: 2}
	if err := store.Create(ctx, acct); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if acct.ID == "" {
		t.Fatal("expected generated id")
	}
	if acct.Version != 1 {
		t.Fatalf("expected version 1, got %d", acct.Version)
	}

	got, err := store.FindByEmail(ctx, "ADA@example.com")
	if err != nil {
		t.Fatalf("FindByEmail failed: %v", err)
	}
	if got.ID != acct.ID || got.Email != "ada@example.com" {
		t.Fatalf("unexpected account %+v", got)
	}
	if got.EmailVerification.CodeHash != "abc" || got.EmailVerification.Attempts != 2 {
		t.Fatalf("code slot not persisted: %+v", got.EmailVerification)
	}
	if len(got.Roles) != 1 || got.Roles[0] != "student" {
		t.Fatalf("roles not persisted: %v", got.Roles)
	}
	if got.PasswordReset.Active() || got.TwoFactorToken.Active() {
		t.Fatal("expected empty slots to stay absent")
	}

	if _, err := store.FindByEmail(ctx, "missing@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreCreateDuplicateEmail(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, newTestAccount("dup@example.com")); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	err := store.Create(ctx, newTestAccount("DUP@example.com"))
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestStoreFindByExternalSubjectAndToken(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	acct := newTestAccount("fed@example.com")
	acct.PasswordHash = ""
	acct.ExternalProvider = "google"
	acct.ExternalSubjectID = "sub-1"
	acct.TwoFactorToken = TokenSlot{TokenHash: "tok-hash", ExpiresAt: time.Now().Add(time.Minute)}
	if err := store.Create(ctx, acct); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.FindByExternalSubject(ctx, "google", "sub-1")
	if err != nil || got.ID != acct.ID {
		t.Fatalf("FindByExternalSubject = %v, %v", got, err)
	}
	if _, err := store.FindByExternalSubject(ctx, "google", "sub-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	got, err = store.FindByTokenHash(ctx, TokenTwoFactor, "tok-hash")
	if err != nil || got.ID != acct.ID {
		t.Fatalf("FindByTokenHash = %v, %v", got, err)
	}
	if _, err := store.FindByTokenHash(ctx, TokenPasswordReset, "tok-hash"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected reset slot lookup to miss, got %v", err)
	}
}

func TestStoreUpdateBumpsVersionAndHonorsNoChange(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	acct := newTestAccount("upd@example.com")
	if err := store.Create(ctx, acct); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	updated, err := store.Update(ctx, acct.ID, func(a *Account) error {
		a.EmailConfirmed = true
		a.SetBackupCodes([]string{"h1", "h2"})
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Version != 2 || !updated.EmailConfirmed || updated.TwoFactor.BackupCodesRemaining != 2 {
		t.Fatalf("unexpected updated account %+v", updated)
	}

	same, err := store.Update(ctx, acct.ID, func(*Account) error { return ErrNoChange })
	if err != nil {
		t.Fatalf("Update(no change) failed: %v", err)
	}
	if same.Version != 2 {
		t.Fatalf("expected version unchanged, got %d", same.Version)
	}

	abort := errors.New("abort")
	if _, err := store.Update(ctx, acct.ID, func(a *Account) error {
		a.Active = false
		return abort
	}); !errors.Is(err, abort) {
		t.Fatalf("expected abort error, got %v", err)
	}
	reloaded, _ := store.FindByID(ctx, acct.ID)
	if !reloaded.Active {
		t.Fatal("aborted mutation must not be written")
	}

	stepped, err := store.Update(ctx, acct.ID, func(a *Account) error {
		a.TwoFactor.TOTPSecret = "JBSWY3DPEHPK3PXP"
		a.TwoFactor.TOTPLastStep = 56666667
		return nil
	})
	if err != nil {
		t.Fatalf("Update(totp step) failed: %v", err)
	}
	if reread, _ := store.FindByID(ctx, acct.ID); reread.TwoFactor.TOTPLastStep != 56666667 || stepped.TwoFactor.TOTPLastStep != 56666667 {
		t.Fatalf("expected TOTPLastStep persisted, got %d", reread.TwoFactor.TOTPLastStep)
	}

	if _, err := store.Update(ctx, acct.ID, func(a *Account) error {
		a.TwoFactor.TOTPSecret = ""
		a.TwoFactor.Enabled = true
		a.TwoFactor.Method = MethodAuthenticator
		return nil
	}); err == nil {
		t.Fatal("expected invariant violation for authenticator without secret")
	}
}

func TestStoreUpdateSingleWinnerUnderContention(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	acct := newTestAccount("race@example.com")
	acct.SetBackupCodes([]string{"only-code"})
	if err := store.Create(ctx, acct); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumed := false
			_, err := store.Update(ctx, acct.ID, func(a *Account) error {
				consumed = false
				if len(a.TwoFactor.BackupCodeHashes) == 0 {
					return ErrNoChange
				}
				a.SetBackupCodes(nil)
				consumed = true
				return nil
			})
			if err == nil && consumed {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one consumer, got %d", wins.Load())
	}
}

func TestStoreUpdateConcurrentWritersAllLand(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	acct := newTestAccount("busy@example.com")
	acct.Roles = nil
	if err := store.Create(ctx, acct); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	const writers = 8
	errs := make(chan error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			role := fmt.Sprintf("role-%d", i)
			_, err := store.Update(ctx, acct.ID, func(a *Account) error {
				a.Roles = append(a.Roles, role)
				return nil
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("expected every writer to land, got %v", err)
		}
	}
	got, err := store.FindByID(ctx, acct.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if len(got.Roles) != writers {
		t.Fatalf("expected %d roles, got %v", writers, got.Roles)
	}
	if got.Version != acct.Version+writers {
		t.Fatalf("expected version %d, got %d", acct.Version+writers, got.Version)
	}
}

func TestUpdateBackoffHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := backoff(ctx, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := backoff(context.Background(), 1); err != nil {
		t.Fatalf("expected backoff to elapse, got %v", err)
	}
}

func TestStorePurgeExpired(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	acct := newTestAccount("purge@example.com")
	acct.EmailVerification = CodeSlot{CodeHash: "old", ExpiresAt: now.Add(-time.Minute), Attempts: 3}
	acct.PasswordReset = CodeSlot{CodeHash: "fresh", ExpiresAt: now.Add(time.Minute)}
	acct.TwoFactorToken = TokenSlot{TokenHash: "stale", ExpiresAt: now.Add(-time.Second)}
	if err := store.Create(ctx, acct); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	n, err := store.PurgeExpired(ctx, now)
	if err != nil {
		t.Fatalf("PurgeExpired failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 purged slots, got %d", n)
	}

	got, _ := store.FindByID(ctx, acct.ID)
	if got.EmailVerification.Active() || got.EmailVerification.Attempts != 0 {
		t.Fatalf("expected expired code cleared, got %+v", got.EmailVerification)
	}
	if got.TwoFactorToken.Active() {
		t.Fatal("expected expired token cleared")
	}
	if !got.PasswordReset.Active() {
		t.Fatal("unexpired code must survive purge")
	}
}
