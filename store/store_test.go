package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbxark/formpilot/types"
)

type backend interface {
	FormStore
	CredentialStore
}

func fixedClock() func() time.Time {
	t := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Minute)
		return t
	}
}

func backends(t *testing.T) map[string]backend {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "forms.db"), WithClock(fixedClock()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return map[string]backend{
		"memory": NewMemory(WithClock(fixedClock())),
		"sqlite": db,
	}
}

func TestNormalizePage(t *testing.T) {
	assert.Equal(t, Page{Number: 1, Limit: 10}, NormalizePage(0, 0))
	assert.Equal(t, Page{Number: 3, Limit: 50}, NormalizePage(3, 500))
	assert.Equal(t, Page{Number: 1, Limit: 1}, NormalizePage(-2, 1))
	assert.Equal(t, 20, Page{Number: 3, Limit: 10}.Offset())
}

func TestCreateGetPut(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created, err := s.Create(ctx, "f1", "u1")
			require.NoError(t, err)
			assert.Equal(t, types.DefaultFormTitle, created.Title)
			assert.Equal(t, int64(1), created.Version)
			assert.Empty(t, created.Fields)

			_, err = s.Create(ctx, "f1", "u2")
			require.ErrorIs(t, err, ErrAlreadyExists)

			form := created.Clone()
			form.Title = "Signup"
			form.OwnerID = "someone-else"
			form.Fields = []types.Field{
				{ID: "name", Label: "Name", Kind: types.KindSingleLineText, Position: 0},
				{ID: "plan", Label: "Plan", Kind: types.KindSingleChoice, Options: []string{"free", "pro"}, Required: true, Position: 1},
			}
			form.UpdatedAt = created.UpdatedAt.Add(time.Hour)
			saved, err := s.Put(ctx, form)
			require.NoError(t, err)
			assert.Equal(t, int64(2), saved.Version)
			assert.Equal(t, "u1", saved.OwnerID)

			got, err := s.Get(ctx, "f1")
			require.NoError(t, err)
			assert.Equal(t, "Signup", got.Title)
			assert.Equal(t, form.Fields, got.Fields)
			assert.True(t, got.UpdatedAt.Equal(form.UpdatedAt))
			assert.True(t, got.CreatedAt.Equal(created.CreatedAt))

			_, err = s.Put(ctx, form)
			require.ErrorIs(t, err, ErrVersionConflict)

			missing := form
			missing.ID = "nope"
			_, err = s.Put(ctx, missing)
			require.ErrorIs(t, err, ErrNotFound)

			_, err = s.Get(ctx, "nope")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestListAndDelete(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 12; i++ {
				_, err := s.Create(ctx, fmt.Sprintf("f%02d", i), "u1")
				require.NoError(t, err)
			}
			_, err := s.Create(ctx, "other", "u2")
			require.NoError(t, err)

			first, err := s.List(ctx, "u1", Page{Number: 1, Limit: 5})
			require.NoError(t, err)
			assert.Equal(t, 12, first.Total)
			require.Len(t, first.Forms, 5)
			assert.Equal(t, "f11", first.Forms[0].ID, "newest first")

			last, err := s.List(ctx, "u1", Page{Number: 3, Limit: 5})
			require.NoError(t, err)
			require.Len(t, last.Forms, 2)
			assert.Equal(t, "f00", last.Forms[1].ID)

			beyond, err := s.List(ctx, "u1", Page{Number: 9, Limit: 5})
			require.NoError(t, err)
			assert.Empty(t, beyond.Forms)
			assert.NotNil(t, beyond.Forms)

			require.ErrorIs(t, s.Delete(ctx, "other", "u1"), ErrNotFound)
			require.NoError(t, s.Delete(ctx, "other", "u2"))
			_, err = s.Get(ctx, "other")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestUpdateSync(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.Create(ctx, "f1", "u1")
			require.NoError(t, err)

			at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
			form, err := s.UpdateSync(ctx, "f1", types.SyncState{Synced: true, RemoteID: "r1", RemoteURL: "https://docs.google.com/forms/d/r1/viewform", SyncedAt: &at})
			require.NoError(t, err)
			assert.True(t, form.Sync.Synced)
			assert.Equal(t, "r1", form.Sync.RemoteID)
			require.NotNil(t, form.Sync.SyncedAt)
			assert.True(t, form.Sync.SyncedAt.Equal(at))
			assert.Equal(t, int64(2), form.Version)

			_, err = s.UpdateSync(ctx, "missing", types.SyncState{})
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestCredentials(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.GetCredential(ctx, "u1")
			require.ErrorIs(t, err, ErrNoCredential)

			expiry := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
			require.NoError(t, s.SaveCredential(ctx, Credential{UserID: "u1", AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", Expiry: expiry}))
			require.NoError(t, s.SaveCredential(ctx, Credential{UserID: "u1", AccessToken: "b", RefreshToken: "r", TokenType: "Bearer", Expiry: expiry}))

			cred, err := s.GetCredential(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, "b", cred.AccessToken)
			assert.True(t, cred.Expiry.Equal(expiry))
		})
	}
}

func TestSQLiteMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forms.db")
	db, err := OpenSQLite(path)
	require.NoError(t, err)
	v, err := db.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
	require.NoError(t, db.Close())

	db, err = OpenSQLite(path)
	require.NoError(t, err)
	defer db.Close()
	v, err = db.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
}

func TestLocks(t *testing.T) {
	l := NewLocks()
	release, ok := l.TryLock("a")
	require.True(t, ok)
	_, ok = l.TryLock("a")
	assert.False(t, ok)
	other, ok := l.TryLock("b")
	require.True(t, ok)
	release()
	again, ok := l.TryLock("a")
	require.True(t, ok)
	again()
	other()
}
