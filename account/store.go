package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	maxUpdateRetries = 10
	updateBackoff    = 2 * time.Millisecond
)

// accountRow is the relational shape of an Account. Nullable columns map to
// absent slots.
type accountRow struct {
	ID              string `gorm:"column:id;primaryKey;size:36"`
	Email           string `gorm:"column:email;size:320;not null;uniqueIndex:idx_accounts_email"`
	Username        string `gorm:"column:username;size:150"`
	FirstName       string `gorm:"column:first_name;size:150"`
	LastName        string `gorm:"column:last_name;size:150"`
	AvatarURL       string `gorm:"column:avatar_url;size:2048"`
	HasCustomAvatar bool   `gorm:"column:has_custom_avatar;not null"`
	Active          bool   `gorm:"column:active;not null"`
	EmailConfirmed  bool   `gorm:"column:email_confirmed;not null"`
	PasswordHash    string `gorm:"column:password_hash;size:255"`
	Roles           string `gorm:"column:roles;type:text"`

	EmailVerificationHash      *string    `gorm:"column:email_verification_hash;size:128"`
	EmailVerificationExpiresAt *time.Time `gorm:"column:email_verification_expires_at"`
	EmailVerificationAttempts  int        `gorm:"column:email_verification_attempts;not null"`

	PasswordResetHash      *string    `gorm:"column:password_reset_hash;size:128"`
	PasswordResetExpiresAt *time.Time `gorm:"column:password_reset_expires_at"`
	PasswordResetAttempts  int        `gorm:"column:password_reset_attempts;not null"`

	TwoFactorEmailHash      *string    `gorm:"column:two_factor_email_hash;size:128"`
	TwoFactorEmailExpiresAt *time.Time `gorm:"column:two_factor_email_expires_at"`
	TwoFactorEmailAttempts  int        `gorm:"column:two_factor_email_attempts;not null"`

	PasswordResetTokenHash      *string    `gorm:"column:password_reset_token_hash;size:128;index"`
	PasswordResetTokenExpiresAt *time.Time `gorm:"column:password_reset_token_expires_at"`
	TwoFactorTokenHash          *string    `gorm:"column:two_factor_token_hash;size:128;index"`
	TwoFactorTokenExpiresAt     *time.Time `gorm:"column:two_factor_token_expires_at"`

	TwoFactorEnabled     bool   `gorm:"column:two_factor_enabled;not null"`
	TwoFactorMethod      string `gorm:"column:two_factor_method;size:32"`
	TOTPSecret           string `gorm:"column:totp_secret;size:128"`
	TOTPLastStep         int64  `gorm:"column:totp_last_step;not null;default:0"`
	BackupCodeHashes     string `gorm:"column:backup_code_hashes;type:text"`
	BackupCodesRemaining int    `gorm:"column:backup_codes_remaining;not null"`

	ExternalProvider  *string `gorm:"column:external_provider;size:64;uniqueIndex:idx_accounts_external"`
	ExternalSubjectID *string `gorm:"column:external_subject_id;size:255;uniqueIndex:idx_accounts_external"`

	Version   int64     `gorm:"column:version;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (accountRow) TableName() string { return "accounts" }

// OpenConfig selects a gorm dialect for Open.
type OpenConfig struct {
	Driver string // "postgres" or "sqlite"
	DSN    string
	Debug  bool
}

// Open connects to the configured database.
func Open(cfg OpenConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "postgres", "postgresql":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	level := logger.Warn
	if cfg.Debug {
		level = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return db, nil
}

// Store is the gorm-backed Repository.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore wraps an open gorm handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Migrate creates or updates the accounts table.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&accountRow{}); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*Account, error) {
	return s.findOne(ctx, "id = ?", id)
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*Account, error) {
	return s.findOne(ctx, "email = ?", NormalizeEmail(email))
}

func (s *Store) FindByExternalSubject(ctx context.Context, provider, subject string) (*Account, error) {
	if provider == "" || subject == "" {
		return nil, ErrNotFound
	}
	return s.findOne(ctx, "external_provider = ? AND external_subject_id = ?", provider, subject)
}

func (s *Store) FindByTokenHash(ctx context.Context, kind TokenKind, hash string) (*Account, error) {
	if hash == "" {
		return nil, ErrNotFound
	}
	switch kind {
	case TokenTwoFactor:
		return s.findOne(ctx, "two_factor_token_hash = ?", hash)
	case TokenPasswordReset:
		return s.findOne(ctx, "password_reset_token_hash = ?", hash)
	default:
		return nil, ErrNotFound
	}
}

// Create inserts a new account at version 1.
func (s *Store) Create(ctx context.Context, acct *Account) error {
	if acct == nil {
		return errors.New("nil account")
	}
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	acct.Email = NormalizeEmail(acct.Email)
	if err := acct.Validate(); err != nil {
		return err
	}

	now := s.now().UTC()
	acct.Version = 1
	acct.CreatedAt = now
	acct.UpdatedAt = now

	row, err := toRow(acct)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Update runs mutate against the latest record and writes the result guarded
// by the version column, retrying on concurrent modification.
func (s *Store) Update(ctx context.Context, id string, mutate MutateFunc) (*Account, error) {
	for i := 0; i < maxUpdateRetries; i++ {
		if i > 0 {
			if err := backoff(ctx, i); err != nil {
				return nil, err
			}
		}
		current, err := s.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}

		next := current.Clone()
		if err := mutate(next); err != nil {
			if errors.Is(err, ErrNoChange) {
				return current, nil
			}
			return nil, err
		}
		next.ID = current.ID
		next.Email = NormalizeEmail(next.Email)
		if err := next.Validate(); err != nil {
			return nil, err
		}
		next.Version = current.Version + 1
		next.CreatedAt = current.CreatedAt
		next.UpdatedAt = s.now().UTC()

		row, err := toRow(next)
		if err != nil {
			return nil, err
		}
		res := s.db.WithContext(ctx).
			Model(&accountRow{}).
			Where("id = ? AND version = ?", id, current.Version).
			Updates(row.columns())
		if res.Error != nil {
			if isDuplicate(res.Error) {
				return nil, ErrDuplicate
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, res.Error)
		}
		if res.RowsAffected == 1 {
			return next, nil
		}
	}
	return nil, ErrConflict
}

// backoff sleeps a jittered, linearly growing interval before retry attempt.
func backoff(ctx context.Context, attempt int) error {
	d := time.Duration(attempt)*updateBackoff + time.Duration(rand.Int64N(int64(updateBackoff)))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// PurgeExpired clears every code and token slot whose expiry is before now.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	type slotColumns struct {
		hash, expires, attempts string
	}
	slots := []slotColumns{
		{"email_verification_hash", "email_verification_expires_at", "email_verification_attempts"},
		{"password_reset_hash", "password_reset_expires_at", "password_reset_attempts"},
		{"two_factor_email_hash", "two_factor_email_expires_at", "two_factor_email_attempts"},
		{"password_reset_token_hash", "password_reset_token_expires_at", ""},
		{"two_factor_token_hash", "two_factor_token_expires_at", ""},
	}

	var total int64
	for _, slot := range slots {
		values := map[string]any{
			slot.hash:    nil,
			slot.expires: nil,
			"version":    gorm.Expr("version + 1"),
		}
		if slot.attempts != "" {
			values[slot.attempts] = 0
		}
		res := s.db.WithContext(ctx).
			Model(&accountRow{}).
			Where(slot.expires+" IS NOT NULL AND "+slot.expires+" < ?", now.UTC()).
			Updates(values)
		if res.Error != nil {
			return total, fmt.Errorf("%w: %v", ErrUnavailable, res.Error)
		}
		total += res.RowsAffected
	}
	return total, nil
}

func (s *Store) findOne(ctx context.Context, query string, args ...any) (*Account, error) {
	var row accountRow
	err := s.db.WithContext(ctx).Where(query, args...).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return row.toAccount()
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

func toRow(a *Account) (*accountRow, error) {
	roles, err := encodeList(a.Roles)
	if err != nil {
		return nil, err
	}
	backup, err := encodeList(a.TwoFactor.BackupCodeHashes)
	if err != nil {
		return nil, err
	}

	row := &accountRow{
		ID:              a.ID,
		Email:           a.Email,
		Username:        a.Username,
		FirstName:       a.FirstName,
		LastName:        a.LastName,
		AvatarURL:       a.AvatarURL,
		HasCustomAvatar: a.HasCustomAvatar,
		Active:          a.Active,
		EmailConfirmed:  a.EmailConfirmed,
		PasswordHash:    a.PasswordHash,
		Roles:           roles,

		TwoFactorEnabled:     a.TwoFactor.Enabled,
		TwoFactorMethod:      string(a.TwoFactor.Method),
		TOTPSecret:           a.TwoFactor.TOTPSecret,
		TOTPLastStep:         a.TwoFactor.TOTPLastStep,
		BackupCodeHashes:     backup,
		BackupCodesRemaining: a.TwoFactor.BackupCodesRemaining,

		ExternalProvider:  nullString(a.ExternalProvider),
		ExternalSubjectID: nullString(a.ExternalSubjectID),

		Version:   a.Version,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
	row.EmailVerificationHash, row.EmailVerificationExpiresAt, row.EmailVerificationAttempts = codeColumns(a.EmailVerification)
	row.PasswordResetHash, row.PasswordResetExpiresAt, row.PasswordResetAttempts = codeColumns(a.PasswordReset)
	row.TwoFactorEmailHash, row.TwoFactorEmailExpiresAt, row.TwoFactorEmailAttempts = codeColumns(a.TwoFactorEmail)
	row.PasswordResetTokenHash, row.PasswordResetTokenExpiresAt = tokenColumns(a.PasswordResetToken)
	row.TwoFactorTokenHash, row.TwoFactorTokenExpiresAt = tokenColumns(a.TwoFactorToken)
	return row, nil
}

func (r *accountRow) columns() map[string]any {
	return map[string]any{
		"email":             r.Email,
		"username":          r.Username,
		"first_name":        r.FirstName,
		"last_name":         r.LastName,
		"avatar_url":        r.AvatarURL,
		"has_custom_avatar": r.HasCustomAvatar,
		"active":            r.Active,
		"email_confirmed":   r.EmailConfirmed,
		"password_hash":     r.PasswordHash,
		"roles":             r.Roles,

		"email_verification_hash":       r.EmailVerificationHash,
		"email_verification_expires_at": r.EmailVerificationExpiresAt,
		"email_verification_attempts":   r.EmailVerificationAttempts,
		"password_reset_hash":           r.PasswordResetHash,
		"password_reset_expires_at":     r.PasswordResetExpiresAt,
		"password_reset_attempts":       r.PasswordResetAttempts,
		"two_factor_email_hash":         r.TwoFactorEmailHash,
		"two_factor_email_expires_at":   r.TwoFactorEmailExpiresAt,
		"two_factor_email_attempts":     r.TwoFactorEmailAttempts,

		"password_reset_token_hash":       r.PasswordResetTokenHash,
		"password_reset_token_expires_at": r.PasswordResetTokenExpiresAt,
		"two_factor_token_hash":           r.TwoFactorTokenHash,
		"two_factor_token_expires_at":     r.TwoFactorTokenExpiresAt,

		"two_factor_enabled":     r.TwoFactorEnabled,
		"two_factor_method":      r.TwoFactorMethod,
		"totp_secret":            r.TOTPSecret,
		"totp_last_step":         r.TOTPLastStep,
		"backup_code_hashes":     r.BackupCodeHashes,
		"backup_codes_remaining": r.BackupCodesRemaining,

		"external_provider":   r.ExternalProvider,
		"external_subject_id": r.ExternalSubjectID,

		"version":    r.Version,
		"updated_at": r.UpdatedAt,
	}
}

func (r *accountRow) toAccount() (*Account, error) {
	roles, err := decodeList(r.Roles)
	if err != nil {
		return nil, fmt.Errorf("decode roles for account %s: %w", r.ID, err)
	}
	backup, err := decodeList(r.BackupCodeHashes)
	if err != nil {
		return nil, fmt.Errorf("decode backup codes for account %s: %w", r.ID, err)
	}

	return &Account{
		ID:              r.ID,
		Email:           r.Email,
		Username:        r.Username,
		FirstName:       r.FirstName,
		LastName:        r.LastName,
		AvatarURL:       r.AvatarURL,
		HasCustomAvatar: r.HasCustomAvatar,
		Active:          r.Active,
		EmailConfirmed:  r.EmailConfirmed,
		PasswordHash:    r.PasswordHash,
		Roles:           roles,

		EmailVerification: codeSlot(r.EmailVerificationHash, r.EmailVerificationExpiresAt, r.EmailVerificationAttempts),
		PasswordReset:     codeSlot(r.PasswordResetHash, r.PasswordResetExpiresAt, r.PasswordResetAttempts),
		TwoFactorEmail:    codeSlot(r.TwoFactorEmailHash, r.TwoFactorEmailExpiresAt, r.TwoFactorEmailAttempts),

		PasswordResetToken: tokenSlot(r.PasswordResetTokenHash, r.PasswordResetTokenExpiresAt),
		TwoFactorToken:     tokenSlot(r.TwoFactorTokenHash, r.TwoFactorTokenExpiresAt),

		TwoFactor: TwoFactorSettings{
			Enabled:              r.TwoFactorEnabled,
			Method:               TwoFactorMethod(r.TwoFactorMethod),
			TOTPSecret:           r.TOTPSecret,
			TOTPLastStep:         r.TOTPLastStep,
			BackupCodeHashes:     backup,
			BackupCodesRemaining: r.BackupCodesRemaining,
		},

		ExternalProvider:  derefString(r.ExternalProvider),
		ExternalSubjectID: derefString(r.ExternalSubjectID),

		Version:   r.Version,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

func codeColumns(s CodeSlot) (*string, *time.Time, int) {
	if !s.Active() {
		return nil, nil, 0
	}
	return nullString(s.CodeHash), nullTime(s.ExpiresAt), s.Attempts
}

func tokenColumns(s TokenSlot) (*string, *time.Time) {
	if !s.Active() {
		return nil, nil
	}
	return nullString(s.TokenHash), nullTime(s.ExpiresAt)
}

func codeSlot(hash *string, expires *time.Time, attempts int) CodeSlot {
	if hash == nil || *hash == "" {
		return CodeSlot{}
	}
	slot := CodeSlot{CodeHash: *hash, Attempts: attempts}
	if expires != nil {
		slot.ExpiresAt = expires.UTC()
	}
	return slot
}

func tokenSlot(hash *string, expires *time.Time) TokenSlot {
	if hash == nil || *hash == "" {
		return TokenSlot{}
	}
	slot := TokenSlot{TokenHash: *hash}
	if expires != nil {
		slot.ExpiresAt = expires.UTC()
	}
	return slot
}

func encodeList(items []string) (string, error) {
	if len(items) == 0 {
		return "", nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeList(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
