package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tbxark/formpilot/types"
)

// Memory keeps everything in process; used by tests and the CLI.
type Memory struct {
	mu    sync.RWMutex
	forms map[string]types.Form
	creds map[string]Credential
	opts  options
}

func NewMemory(opts ...Option) *Memory {
	return &Memory{
		forms: map[string]types.Form{},
		creds: map[string]Credential{},
		opts:  newOptions(opts),
	}
}

func (m *Memory) Get(ctx context.Context, id string) (types.Form, error) {
	m.mu.RLock()
	form, ok := m.forms[id]
	m.mu.RUnlock()
	if !ok {
		return types.Form{}, fmt.Errorf("get form %s: %w", id, ErrNotFound)
	}
	return form.Clone(), nil
}

func (m *Memory) Put(ctx context.Context, form types.Form) (types.Form, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.forms[form.ID]
	if !ok {
		return types.Form{}, fmt.Errorf("put form %s: %w", form.ID, ErrNotFound)
	}
	if stored.Version != form.Version {
		return types.Form{}, fmt.Errorf("put form %s at version %d (stored %d): %w", form.ID, form.Version, stored.Version, ErrVersionConflict)
	}
	next := form.Clone()
	next.OwnerID = stored.OwnerID
	next.CreatedAt = stored.CreatedAt
	next.Version = stored.Version + 1
	m.forms[form.ID] = next
	return next.Clone(), nil
}

func (m *Memory) Create(ctx context.Context, id, ownerID string) (types.Form, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.forms[id]; ok {
		return types.Form{}, fmt.Errorf("create form %s: %w", id, ErrAlreadyExists)
	}
	form := types.NewForm(id, ownerID, m.opts.now())
	form.Version = 1
	m.forms[id] = form
	return form.Clone(), nil
}

func (m *Memory) List(ctx context.Context, ownerID string, page Page) (ListResult, error) {
	page = NormalizePage(page.Number, page.Limit)
	m.mu.RLock()
	var owned []types.Form
	for _, f := range m.forms {
		if f.OwnerID == ownerID {
			owned = append(owned, f)
		}
	}
	m.mu.RUnlock()
	sort.Slice(owned, func(i, j int) bool {
		if owned[i].UpdatedAt.Equal(owned[j].UpdatedAt) {
			return owned[i].ID < owned[j].ID
		}
		return owned[i].UpdatedAt.After(owned[j].UpdatedAt)
	})

	res := ListResult{Forms: []types.Form{}, Total: len(owned), Page: page.Number, Limit: page.Limit}
	start := page.Offset()
	if start >= len(owned) {
		return res, nil
	}
	end := min(start+page.Limit, len(owned))
	for _, f := range owned[start:end] {
		res.Forms = append(res.Forms, f.Clone())
	}
	return res, nil
}

func (m *Memory) Delete(ctx context.Context, id, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	form, ok := m.forms[id]
	if !ok || form.OwnerID != ownerID {
		return fmt.Errorf("delete form %s: %w", id, ErrNotFound)
	}
	delete(m.forms, id)
	return nil
}

func (m *Memory) UpdateSync(ctx context.Context, id string, state types.SyncState) (types.Form, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	form, ok := m.forms[id]
	if !ok {
		return types.Form{}, fmt.Errorf("update sync of form %s: %w", id, ErrNotFound)
	}
	form = form.Clone()
	form.Sync = state
	if form.Sync.SyncedAt != nil {
		at := *form.Sync.SyncedAt
		form.Sync.SyncedAt = &at
	}
	form.Version++
	m.forms[id] = form
	return form.Clone(), nil
}

func (m *Memory) SaveCredential(ctx context.Context, cred Credential) error {
	m.mu.Lock()
	m.creds[cred.UserID] = cred
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetCredential(ctx context.Context, userID string) (Credential, error) {
	m.mu.RLock()
	cred, ok := m.creds[userID]
	m.mu.RUnlock()
	if !ok {
		return Credential{}, fmt.Errorf("credential for %s: %w", userID, ErrNoCredential)
	}
	return cred, nil
}

var (
	_ FormStore       = (*Memory)(nil)
	_ CredentialStore = (*Memory)(nil)
)
