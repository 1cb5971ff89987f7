package flows

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goIdentity/account"
	"github.com/MrEthical07/goIdentity/federation"
	"github.com/MrEthical07/goIdentity/internal/backup"
	"github.com/MrEthical07/goIdentity/internal/bridge"
	"github.com/MrEthical07/goIdentity/internal/codehash"
	"github.com/MrEthical07/goIdentity/internal/limiters"
	"github.com/MrEthical07/goIdentity/internal/otp"
	"github.com/MrEthical07/goIdentity/internal/rate"
	"github.com/MrEthical07/goIdentity/internal/totp"
	"github.com/MrEthical07/goIdentity/jwt"
	"github.com/MrEthical07/goIdentity/mail"
	"github.com/MrEthical07/goIdentity/password"
	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testPassword = "correct-horse-battery"

type outbox struct {
	mu   sync.Mutex
	msgs []mail.Message
}

func (o *outbox) Enqueue(msg mail.Message) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, msg)
	return true
}

func (o *outbox) lastCode(t *testing.T, purpose account.CodePurpose) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.msgs) - 1; i >= 0; i-- {
		if o.msgs[i].Kind == mail.KindOTP && o.msgs[i].Purpose == purpose {
			return o.msgs[i].Code
		}
	}
	t.Fatalf("no %s code was mailed", purpose)
	return ""
}

func (o *outbox) count(kind mail.Kind) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, m := range o.msgs {
		if m.Kind == kind {
			n++
		}
	}
	return n
}

type fakeVerifier struct {
	identities map[string]*federation.Identity
}

func (f fakeVerifier) Verify(_ context.Context, raw string) (*federation.Identity, error) {
	ident, ok := f.identities[raw]
	if !ok {
		return nil, federation.ErrInvalidToken
	}
	cp := *ident
	return &cp, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	deps   Deps
	store  *account.Store
	mail   *outbox
	clock  *clock
	redis  *miniredis.Miniredis
	events []Event
	evMu   sync.Mutex
	issuer *jwt.Manager
}

func (h *harness) saw(kind EventKind) bool {
	h.evMu.Lock()
	defer h.evMu.Unlock()
	for _, ev := range h.events {
		if ev.Kind == kind {
			return true
		}
	}
	return false
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store := account.NewStore(db)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	hasher, err := codehash.New([]byte("test-pepper-0123456789"))
	if err != nil {
		t.Fatalf("codehash: %v", err)
	}
	passwords, err := password.NewHasher(password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("password hasher: %v", err)
	}
	issuer, err := jwt.NewManager(jwt.Config{
		TTL:           24 * time.Hour,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
		Issuer:        "academy",
	})
	if err != nil {
		t.Fatalf("jwt manager: %v", err)
	}

	clk := &clock{now: time.Now().UTC()}
	box := &outbox{}
	h := &harness{store: store, mail: box, clock: clk, redis: mr, issuer: issuer}
	h.deps = Deps{
		Accounts:  store,
		Passwords: passwords,
		Codes:     otp.New(hasher, 0, 0),
		TOTP:      totp.New(totp.Config{Issuer: "Academy"}),
		Backup:    backup.New(hasher, 0, 0),
		Bridge:    bridge.New(hasher),
		Issuer:    issuer,
		Mail:      box,
		Federation: fakeVerifier{identities: map[string]*federation.Identity{
			"token-ada": {Provider: "google", Subject: "g-1", Email: "ada@example.com", EmailVerified: true, GivenName: "Ada", FamilyName: "Lovelace", Picture: "https://cdn.example.com/ada.png"},
			"token-new": {Provider: "google", Subject: "g-2", Email: "Grace@Example.com", EmailVerified: true, GivenName: "Grace", FamilyName: "Hopper", Picture: "https://cdn.example.com/grace.png"},
			"token-alt": {Provider: "google", Subject: "g-9", Email: "ada@example.com", EmailVerified: true},
		}},
		LoginLimiter:        rate.New(rdb, rate.Config{MaxLoginAttempts: 5, LoginCooldownDuration: 15 * time.Minute}),
		CodeSendLimiter:     limiters.NewCodeSendLimiter(rdb, limiters.CodeSendConfig{MaxSends: 5, Window: 15 * time.Minute}),
		SecondFactorLimiter: limiters.NewSecondFactorLimiter(rdb, limiters.SecondFactorConfig{MaxFailures: 5, Cooldown: 5 * time.Minute}),
		Now:                 clk.Now,
		Observe: func(_ context.Context, ev Event) {
			h.evMu.Lock()
			h.events = append(h.events, ev)
			h.evMu.Unlock()
		},
		Policy: Policy{
			MinPasswordLength:       10,
			DefaultRoles:            []string{"student"},
			FederationConfirmPhrase: "DISABLE",
			PasswordUpgradeOnLogin:  true,
		},
		Errors: Errors{
			EngineNotReady: errors.New("not ready"),
			Unavailable:    errors.New("unavailable"),
			Internal:       errors.New("internal"),
			InvalidInput:   errors.New("invalid input"),
			NotFound:       errors.New("not found"),
		},
	}
	return h
}

// registerVerified creates a confirmed account with testPassword.
func (h *harness) registerVerified(t *testing.T, email string) *account.Account {
	t.Helper()
	ctx := context.Background()
	res, err := RunRegister(ctx, RegisterRequest{Email: email, Username: "learner", Password: testPassword, FirstName: "Ada", LastName: "Lovelace"}, h.deps)
	if err != nil || res.Status != StatusSuccess {
		t.Fatalf("register = %+v, %v", res, err)
	}
	code := h.mail.lastCode(t, account.PurposeEmailVerification)
	vr, err := RunVerifyEmailOTP(ctx, email, code, h.deps)
	if err != nil || vr.Status != StatusSuccess {
		t.Fatalf("verify email = %+v, %v", vr, err)
	}
	acct, err := h.store.FindByID(ctx, res.AccountID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	return acct
}

func wrongCode(right string) string {
	if right == "000000" {
		return "111111"
	}
	return "000000"
}
