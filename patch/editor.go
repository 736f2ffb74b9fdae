package patch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tbxark/formpilot/store"
	"github.com/tbxark/formpilot/types"
)

type EditorOption func(*Editor)

// WithLocks makes Edit fail with store.ErrBusy while another writer, such
// as an editing session, holds the form.
func WithLocks(l *store.Locks) EditorOption {
	return func(e *Editor) {
		e.locks = l
	}
}

func WithEditorClock(now func() time.Time) EditorOption {
	return func(e *Editor) {
		if now != nil {
			e.now = now
		}
	}
}

// Editor applies direct edits to stored forms.
type Editor struct {
	forms store.FormStore
	locks *store.Locks
	now   func() time.Time
}

func NewEditor(forms store.FormStore, opts ...EditorOption) *Editor {
	e := &Editor{forms: forms, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Edit patches formID on behalf of userID. When ifMatch is set it must equal
// the stored version; the store re-checks the version on write.
func (e *Editor) Edit(ctx context.Context, userID, formID string, ops []Operation, ifMatch *int64) (types.Form, error) {
	if e.locks != nil {
		release, ok := e.locks.TryLock(formID)
		if !ok {
			return types.Form{}, store.ErrBusy
		}
		defer release()
	}
	form, err := e.forms.Get(ctx, formID)
	if err != nil {
		return types.Form{}, err
	}
	if form.OwnerID != userID {
		return types.Form{}, store.ErrForbidden
	}
	if ifMatch != nil && *ifMatch != form.Version {
		return types.Form{}, store.ErrVersionConflict
	}
	next, err := Form(form, ops)
	if err != nil {
		return types.Form{}, err
	}
	next.UpdatedAt = e.now()
	saved, err := e.forms.Put(ctx, next)
	if err != nil {
		return types.Form{}, fmt.Errorf("save patched form %s: %w", formID, err)
	}
	slog.Debug("Patched form", "form_id", formID, "ops", len(ops), "version", saved.Version)
	return saved, nil
}
