// Package provider exports forms to an external forms service.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"google.golang.org/api/googleapi"

	"github.com/tbxark/formpilot/types"
)

var (
	// ErrTransient marks failures worth retrying: network errors, 429, 5xx.
	ErrTransient = errors.New("transient provider failure")
	// ErrPermanent marks failures that will not go away: auth, not found,
	// bad requests.
	ErrPermanent = errors.New("permanent provider failure")
)

type RemoteForm struct {
	Title       string
	Description string
}

type RemoteRef struct {
	ID  string `json:"remoteId"`
	URL string `json:"remoteUrl"`
}

// Provider pushes a form to the external service on behalf of userID.
// CreateRemoteForm is the only non-idempotent call; every later step is
// retried against the id it returns.
type Provider interface {
	CreateRemoteForm(ctx context.Context, userID string, form RemoteForm) (string, error)
	UpdateRemoteInfo(ctx context.Context, userID, remoteID string, form RemoteForm) error
	ReplaceRemoteFields(ctx context.Context, userID, remoteID string, fields []types.Field) (RemoteRef, error)
}

// Error carries the operation and the HTTP status (0 when there was none).
type Error struct {
	Op     string
	Status int
	Err    error
	kind   error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.kind, e.Err}
}

func Transient(op string, status int, err error) *Error {
	return &Error{Op: op, Status: status, Err: err, kind: ErrTransient}
}

func Permanent(op string, status int, err error) *Error {
	return &Error{Op: op, Status: status, Err: err, kind: ErrPermanent}
}

// Classify wraps err as transient or permanent. Errors already classified
// are returned unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, ErrPermanent) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return Permanent(op, 0, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(op, 0, err)
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		if retriableStatus(gErr.Code) {
			return Transient(op, gErr.Code, err)
		}
		return Permanent(op, gErr.Code, err)
	}
	if isNetworkError(err) {
		return Transient(op, 0, err)
	}
	return Permanent(op, 0, err)
}

func retriableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ETIMEDOUT) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection reset", "socket hang up", "broken pipe"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
