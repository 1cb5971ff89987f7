package goIdentity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goIdentity/account"
	"github.com/MrEthical07/goIdentity/federation"
	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testPassword = "correct-horse-battery"
	testSecret   = "0123456789abcdef0123456789abcdef"
)

func testConfig() Config {
	cfg := defaultConfig()
	cfg.Credential.SigningMethod = "hs256"
	cfg.Credential.PrivateKey = []byte(testSecret)
	cfg.Security.CodePepper = "test-pepper-0123456789"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func newTestStore(t *testing.T) *account.Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db failed: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store := account.NewStore(db)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	return store
}

type sentMail struct {
	kind    string
	to      string
	code    string
	purpose account.CodePurpose
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *recordingMailer) add(s sentMail) error {
	m.mu.Lock()
	m.sent = append(m.sent, s)
	m.mu.Unlock()
	return nil
}

func (m *recordingMailer) SendOTP(_ context.Context, to, _, code string, purpose account.CodePurpose) error {
	return m.add(sentMail{kind: "otp", to: to, code: code, purpose: purpose})
}

func (m *recordingMailer) SendTwoFactorChanged(_ context.Context, to, _ string, _ bool, _ account.TwoFactorMethod) error {
	return m.add(sentMail{kind: "two_factor_changed", to: to})
}

func (m *recordingMailer) SendWelcome(_ context.Context, to, _ string) error {
	return m.add(sentMail{kind: "welcome", to: to})
}

func (m *recordingMailer) count(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sent {
		if s.kind == kind {
			n++
		}
	}
	return n
}

// waitCode polls for the latest code mailed to `to` for purpose. Delivery is
// asynchronous.
func (m *recordingMailer) waitCode(t *testing.T, to string, purpose account.CodePurpose, nth int) string {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		seen := 0
		for _, s := range m.sent {
			if s.kind == "otp" && s.to == to && s.purpose == purpose {
				seen++
				if seen == nth {
					m.mu.Unlock()
					return s.code
				}
			}
		}
		m.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %s code #%d delivered to %s", purpose, nth, to)
	return ""
}

type stubVerifier map[string]*federation.Identity

func (v stubVerifier) Verify(_ context.Context, raw string) (*federation.Identity, error) {
	if ident, ok := v[raw]; ok {
		out := *ident
		return &out, nil
	}
	return nil, federation.ErrInvalidToken
}

type testEngine struct {
	*Engine
	store  *account.Store
	mailer *recordingMailer
	redis  *miniredis.Miniredis
}

func newTestEngine(t *testing.T, mutate func(*Config), extra ...func(*Builder)) *testEngine {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	mr, rdb := newTestRedis(t)
	store := newTestStore(t)
	mailer := &recordingMailer{}

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithAccounts(store).
		WithMailer(mailer)
	for _, fn := range extra {
		fn(b)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEngine{Engine: engine, store: store, mailer: mailer, redis: mr}
}

// registerVerified runs Register and VerifyEmailOTP and returns the account id.
func (te *testEngine) registerVerified(t *testing.T, email string) string {
	t.Helper()
	ctx := context.Background()

	reg, err := te.Register(ctx, RegisterRequest{Email: email, Username: "learner", Password: testPassword, FirstName: "Ada", LastName: "Lovelace"})
	if err != nil || reg.Status != StatusSuccess {
		t.Fatalf("Register = %+v, %v", reg, err)
	}
	code := te.mailer.waitCode(t, email, account.PurposeEmailVerification, 1)
	res, err := te.VerifyEmailOTP(ctx, email, code)
	if err != nil || res.Status != StatusSuccess {
		t.Fatalf("VerifyEmailOTP = %+v, %v", res, err)
	}
	return reg.AccountID
}
