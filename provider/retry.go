package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/tbxark/formpilot/types"
)

// RetryPolicy is exponential backoff with ±25% jitter. MaxRetries counts
// retries after the first attempt.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  250 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2,
	}
}

// Execute runs fn until it succeeds, fails permanently, or retries run out.
// Errors from fn are classified with Classify.
func (p RetryPolicy) Execute(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	delay := p.BaseDelay
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(float64(delay) * (0.75 + rand.Float64()*0.5))
			slog.Debug("Retrying provider call", "op", op, "attempt", attempt, "wait", wait, "error", lastErr)
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return Permanent(op, 0, ctx.Err())
			}
			delay = time.Duration(float64(delay) * p.Multiplier)
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}
		err := Classify(op, fn(ctx))
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrTransient) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("max retries (%d) exceeded: %w", p.MaxRetries, lastErr)
}

type AttemptHook func(op string, err error)

type RetryingOption func(*Retrying)

// WithRateLimit bounds outgoing calls across all users.
func WithRateLimit(limit rate.Limit, burst int) RetryingOption {
	return func(r *Retrying) {
		r.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithAttemptHook observes every attempt; err is nil on success.
func WithAttemptHook(hook AttemptHook) RetryingOption {
	return func(r *Retrying) {
		r.hook = hook
	}
}

// Retrying decorates a Provider with retries and an optional rate limit.
type Retrying struct {
	next    Provider
	policy  RetryPolicy
	limiter *rate.Limiter
	hook    AttemptHook
}

func NewRetrying(next Provider, policy RetryPolicy, opts ...RetryingOption) *Retrying {
	r := &Retrying{next: next, policy: policy}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Retrying) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return r.policy.Execute(ctx, op, func(ctx context.Context) error {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return Permanent(op, 0, err)
			}
		}
		err := fn(ctx)
		if r.hook != nil {
			r.hook(op, err)
		}
		return err
	})
}

func (r *Retrying) CreateRemoteForm(ctx context.Context, userID string, form RemoteForm) (string, error) {
	var id string
	err := r.call(ctx, "create remote form", func(ctx context.Context) error {
		var err error
		id, err = r.next.CreateRemoteForm(ctx, userID, form)
		return err
	})
	return id, err
}

func (r *Retrying) UpdateRemoteInfo(ctx context.Context, userID, remoteID string, form RemoteForm) error {
	return r.call(ctx, "update remote info", func(ctx context.Context) error {
		return r.next.UpdateRemoteInfo(ctx, userID, remoteID, form)
	})
}

func (r *Retrying) ReplaceRemoteFields(ctx context.Context, userID, remoteID string, fields []types.Field) (RemoteRef, error) {
	var ref RemoteRef
	err := r.call(ctx, "replace remote fields", func(ctx context.Context) error {
		var err error
		ref, err = r.next.ReplaceRemoteFields(ctx, userID, remoteID, fields)
		return err
	})
	return ref, err
}

var _ Provider = (*Retrying)(nil)
