package account

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no account matches a lookup.
	ErrNotFound = errors.New("account not found")
	// ErrDuplicate is returned when an email or external subject is already taken.
	ErrDuplicate = errors.New("account already exists")
	// ErrConflict is returned when an update lost every optimistic retry.
	ErrConflict = errors.New("account update conflict")
	// ErrUnavailable wraps storage backend failures.
	ErrUnavailable = errors.New("account store unavailable")
	// ErrNoChange may be returned by an Update mutate function to skip the
	// write and return the current record.
	ErrNoChange = errors.New("account unchanged")
)

// MutateFunc edits an account in place. Returning a non-nil error aborts the
// update without writing; ErrNoChange aborts without error.
type MutateFunc func(*Account) error

// Repository persists accounts. Update is an atomic read-modify-write: mutate
// observes the latest stored record and its changes are written only if no
// concurrent update intervened, otherwise mutate runs again on the fresh record.
type Repository interface {
	FindByID(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByExternalSubject(ctx context.Context, provider, subject string) (*Account, error)
	FindByTokenHash(ctx context.Context, kind TokenKind, hash string) (*Account, error)
	Create(ctx context.Context, acct *Account) error
	Update(ctx context.Context, id string, mutate MutateFunc) (*Account, error)
}

// Purger clears expired code and token slots in bulk.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
