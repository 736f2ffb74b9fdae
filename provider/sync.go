package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tbxark/formpilot/store"
	"github.com/tbxark/formpilot/types"
)

var ErrAlreadySynced = errors.New("form already synced")

type SyncerOption func(*Syncer)

func WithSyncClock(now func() time.Time) SyncerOption {
	return func(s *Syncer) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSyncLocks makes Sync fail with store.ErrBusy while an editing session
// holds the form.
func WithSyncLocks(l *store.Locks) SyncerOption {
	return func(s *Syncer) {
		s.locks = l
	}
}

// Syncer exports stored forms through a Provider and records the result.
type Syncer struct {
	forms    store.FormStore
	provider Provider
	locks    *store.Locks
	now      func() time.Time
}

func NewSyncer(forms store.FormStore, p Provider, opts ...SyncerOption) *Syncer {
	s := &Syncer{forms: forms, provider: p, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Sync exports formID for userID. The remote id is recorded as soon as the
// remote form exists, so a later step failing never leads to a second
// remote form: the next Sync reuses the recorded id.
func (s *Syncer) Sync(ctx context.Context, userID, formID string) (types.Form, error) {
	if s.locks != nil {
		release, ok := s.locks.TryLock(formID)
		if !ok {
			return types.Form{}, store.ErrBusy
		}
		defer release()
	}
	form, err := s.forms.Get(ctx, formID)
	if err != nil {
		return types.Form{}, err
	}
	if form.OwnerID != userID {
		return types.Form{}, store.ErrForbidden
	}
	if form.Sync.Synced && form.Sync.RemoteID != "" {
		return types.Form{}, ErrAlreadySynced
	}

	remoteID := form.Sync.RemoteID
	if remoteID == "" {
		remoteID, err = s.provider.CreateRemoteForm(ctx, userID, RemoteForm{Title: form.Title, Description: form.Description})
		if err != nil {
			return types.Form{}, fmt.Errorf("sync form %s: %w", formID, err)
		}
		if _, err := s.forms.UpdateSync(ctx, formID, types.SyncState{RemoteID: remoteID}); err != nil {
			return types.Form{}, fmt.Errorf("sync form %s: record remote id: %w", formID, err)
		}
	}

	info := RemoteForm{Title: form.Title, Description: form.Description}
	if err := s.provider.UpdateRemoteInfo(ctx, userID, remoteID, info); err != nil {
		return types.Form{}, fmt.Errorf("sync form %s: %w", formID, err)
	}
	ref, err := s.provider.ReplaceRemoteFields(ctx, userID, remoteID, form.Fields)
	if err != nil {
		return types.Form{}, fmt.Errorf("sync form %s: %w", formID, err)
	}
	if ref.ID == "" {
		ref.ID = remoteID
	}
	at := s.now()
	synced, err := s.forms.UpdateSync(ctx, formID, types.SyncState{
		Synced:    true,
		RemoteID:  ref.ID,
		RemoteURL: ref.URL,
		SyncedAt:  &at,
	})
	if err != nil {
		return types.Form{}, fmt.Errorf("sync form %s: record sync: %w", formID, err)
	}
	slog.Info("Synced form", "form_id", formID, "remote_id", ref.ID, "fields", len(form.Fields))
	return synced, nil
}
