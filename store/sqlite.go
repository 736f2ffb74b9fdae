package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	_ "modernc.org/sqlite"

	"github.com/tbxark/formpilot/types"
)

//go:embed schema.sql
var schemaSQL string

// SQLite is a FormStore and CredentialStore backed by a single database file.
type SQLite struct {
	db   *sql.DB
	opts options
}

func OpenSQLite(path string, opts ...Option) (*SQLite, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path cannot be empty")
	}
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &SQLite{db: db, opts: newOptions(opts)}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

type migration struct {
	Version int
	Name    string
	Apply   func(db *sql.DB) error
}

var migrations = []migration{
	{1, "initial_schema", func(db *sql.DB) error { return nil }},
	{2, "forms_owner_index", func(db *sql.DB) error {
		_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_forms_owner_updated ON forms(owner_id, updated_at DESC)`)
		return err
	}},
}

func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply base schema: %w", err)
	}
	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := m.Apply(db); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := db.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.Version, m.Name); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
	}
	return nil
}

func (s *SQLite) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v)
	return v, err
}

const formColumns = "id, owner_id, title, description, fields, sync_state, created_at, updated_at, version"

type rowScanner interface {
	Scan(dest ...any) error
}

// timeLayout is fixed width so that timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s)
}

func scanForm(row rowScanner) (types.Form, error) {
	var (
		form                 types.Form
		fields, syncState    string
		createdAt, updatedAt string
	)
	if err := row.Scan(&form.ID, &form.OwnerID, &form.Title, &form.Description, &fields, &syncState, &createdAt, &updatedAt, &form.Version); err != nil {
		return types.Form{}, err
	}
	if err := sonic.UnmarshalString(fields, &form.Fields); err != nil {
		return types.Form{}, fmt.Errorf("decode fields of form %s: %w", form.ID, err)
	}
	if form.Fields == nil {
		form.Fields = []types.Field{}
	}
	if err := sonic.UnmarshalString(syncState, &form.Sync); err != nil {
		return types.Form{}, fmt.Errorf("decode sync state of form %s: %w", form.ID, err)
	}
	var err error
	if form.CreatedAt, err = parseTime(createdAt); err != nil {
		return types.Form{}, fmt.Errorf("decode created_at of form %s: %w", form.ID, err)
	}
	if form.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return types.Form{}, fmt.Errorf("decode updated_at of form %s: %w", form.ID, err)
	}
	return form, nil
}

func (s *SQLite) Get(ctx context.Context, id string) (types.Form, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+formColumns+" FROM forms WHERE id = ?", id)
	form, err := scanForm(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Form{}, fmt.Errorf("get form %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return types.Form{}, fmt.Errorf("get form %s: %w", id, err)
	}
	return form, nil
}

func (s *SQLite) Put(ctx context.Context, form types.Form) (types.Form, error) {
	fields := form.Fields
	if fields == nil {
		fields = []types.Field{}
	}
	fieldsJSON, err := sonic.MarshalString(fields)
	if err != nil {
		return types.Form{}, fmt.Errorf("encode fields of form %s: %w", form.ID, err)
	}
	syncJSON, err := sonic.MarshalString(form.Sync)
	if err != nil {
		return types.Form{}, fmt.Errorf("encode sync state of form %s: %w", form.ID, err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE forms SET title = ?, description = ?, fields = ?, sync_state = ?, updated_at = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		form.Title, form.Description, fieldsJSON, syncJSON, formatTime(form.UpdatedAt), form.ID, form.Version,
	)
	if err != nil {
		return types.Form{}, fmt.Errorf("put form %s: %w", form.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return types.Form{}, fmt.Errorf("put form %s: %w", form.ID, err)
	} else if n == 0 {
		if _, gErr := s.Get(ctx, form.ID); gErr != nil {
			return types.Form{}, fmt.Errorf("put form %s: %w", form.ID, ErrNotFound)
		}
		return types.Form{}, fmt.Errorf("put form %s at version %d: %w", form.ID, form.Version, ErrVersionConflict)
	}
	return s.Get(ctx, form.ID)
}

func (s *SQLite) Create(ctx context.Context, id, ownerID string) (types.Form, error) {
	form := types.NewForm(id, ownerID, s.opts.now())
	form.Version = 1
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO forms (`+formColumns+`) VALUES (?, ?, ?, '', '[]', '{}', ?, ?, 1)
		 ON CONFLICT(id) DO NOTHING`,
		form.ID, form.OwnerID, form.Title, formatTime(form.CreatedAt), formatTime(form.UpdatedAt),
	)
	if err != nil {
		return types.Form{}, fmt.Errorf("create form %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return types.Form{}, fmt.Errorf("create form %s: %w", id, err)
	} else if n == 0 {
		return types.Form{}, fmt.Errorf("create form %s: %w", id, ErrAlreadyExists)
	}
	return s.Get(ctx, id)
}

func (s *SQLite) List(ctx context.Context, ownerID string, page Page) (ListResult, error) {
	page = NormalizePage(page.Number, page.Limit)
	res := ListResult{Forms: []types.Form{}, Page: page.Number, Limit: page.Limit}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM forms WHERE owner_id = ?", ownerID).Scan(&res.Total); err != nil {
		return ListResult{}, fmt.Errorf("count forms of %s: %w", ownerID, err)
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+formColumns+" FROM forms WHERE owner_id = ? ORDER BY updated_at DESC, id ASC LIMIT ? OFFSET ?",
		ownerID, page.Limit, page.Offset(),
	)
	if err != nil {
		return ListResult{}, fmt.Errorf("list forms of %s: %w", ownerID, err)
	}
	defer rows.Close()
	for rows.Next() {
		form, err := scanForm(rows)
		if err != nil {
			return ListResult{}, fmt.Errorf("list forms of %s: %w", ownerID, err)
		}
		res.Forms = append(res.Forms, form)
	}
	if err := rows.Err(); err != nil {
		return ListResult{}, fmt.Errorf("list forms of %s: %w", ownerID, err)
	}
	return res, nil
}

func (s *SQLite) Delete(ctx context.Context, id, ownerID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM forms WHERE id = ? AND owner_id = ?", id, ownerID)
	if err != nil {
		return fmt.Errorf("delete form %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete form %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete form %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLite) UpdateSync(ctx context.Context, id string, state types.SyncState) (types.Form, error) {
	syncJSON, err := sonic.MarshalString(state)
	if err != nil {
		return types.Form{}, fmt.Errorf("encode sync state of form %s: %w", id, err)
	}
	res, err := s.db.ExecContext(ctx, "UPDATE forms SET sync_state = ?, version = version + 1 WHERE id = ?", syncJSON, id)
	if err != nil {
		return types.Form{}, fmt.Errorf("update sync of form %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return types.Form{}, fmt.Errorf("update sync of form %s: %w", id, err)
	} else if n == 0 {
		return types.Form{}, fmt.Errorf("update sync of form %s: %w", id, ErrNotFound)
	}
	return s.Get(ctx, id)
}

func (s *SQLite) SaveCredential(ctx context.Context, cred Credential) error {
	expiry := ""
	if !cred.Expiry.IsZero() {
		expiry = formatTime(cred.Expiry)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (user_id, access_token, refresh_token, token_type, expiry) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET access_token = excluded.access_token, refresh_token = excluded.refresh_token,
		 token_type = excluded.token_type, expiry = excluded.expiry`,
		cred.UserID, cred.AccessToken, cred.RefreshToken, cred.TokenType, expiry,
	)
	if err != nil {
		return fmt.Errorf("save credential for %s: %w", cred.UserID, err)
	}
	return nil
}

func (s *SQLite) GetCredential(ctx context.Context, userID string) (Credential, error) {
	var (
		cred   Credential
		expiry string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, access_token, refresh_token, token_type, expiry FROM credentials WHERE user_id = ?", userID,
	).Scan(&cred.UserID, &cred.AccessToken, &cred.RefreshToken, &cred.TokenType, &expiry)
	if errors.Is(err, sql.ErrNoRows) {
		return Credential{}, fmt.Errorf("credential for %s: %w", userID, ErrNoCredential)
	}
	if err != nil {
		return Credential{}, fmt.Errorf("credential for %s: %w", userID, err)
	}
	if cred.Expiry, err = parseTime(expiry); err != nil {
		return Credential{}, fmt.Errorf("decode credential expiry for %s: %w", userID, err)
	}
	return cred, nil
}

var (
	_ FormStore       = (*SQLite)(nil)
	_ CredentialStore = (*SQLite)(nil)
)
