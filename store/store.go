// Package store persists forms and provider credentials.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tbxark/formpilot/types"
)

var (
	ErrNotFound        = errors.New("form not found")
	ErrAlreadyExists   = errors.New("form already exists")
	ErrVersionConflict = errors.New("form version conflict")
	ErrNoCredential    = errors.New("credential not found")
	ErrBusy            = errors.New("form is being edited by another session")

	// ErrForbidden reports an existing form owned by another user.
	ErrForbidden = errors.New("form belongs to another user")
)

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 50
)

// Page selects a window of a listing; Number starts at 1.
type Page struct {
	Number int
	Limit  int
}

// NormalizePage clamps a requested page to the supported range.
func NormalizePage(number, limit int) Page {
	if number < 1 {
		number = 1
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return Page{Number: number, Limit: limit}
}

func (p Page) Offset() int {
	return (p.Number - 1) * p.Limit
}

type ListResult struct {
	Forms []types.Form `json:"forms"`
	Total int          `json:"total"`
	Page  int          `json:"page"`
	Limit int          `json:"limit"`
}

// FormStore is safe for concurrent use.
type FormStore interface {
	Get(ctx context.Context, id string) (types.Form, error)
	// Put replaces a stored form when form.Version matches the stored
	// version and returns it with the version incremented. OwnerID and
	// CreatedAt are never changed by Put.
	Put(ctx context.Context, form types.Form) (types.Form, error)
	Create(ctx context.Context, id, ownerID string) (types.Form, error)
	List(ctx context.Context, ownerID string, page Page) (ListResult, error)
	Delete(ctx context.Context, id, ownerID string) error
	UpdateSync(ctx context.Context, id string, state types.SyncState) (types.Form, error)
}

// Credential is an OAuth token pair for the external forms provider.
type Credential struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       time.Time
}

type CredentialStore interface {
	SaveCredential(ctx context.Context, cred Credential) error
	GetCredential(ctx context.Context, userID string) (Credential, error)
}

type options struct {
	now func() time.Time
}

type Option func(*options)

// WithClock overrides the time source for createdAt.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func newOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
