// Package sqlite provides a SQLite-backed implementation of the workspace,
// session, provider, alert, and usage stores so gateway state survives
// restarts.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Prompt-Gate/Promptgate/internal/domain/mux"
	"github.com/Prompt-Gate/Promptgate/internal/domain/pipeline"
	"github.com/Prompt-Gate/Promptgate/internal/domain/workspace"
)

const schema = `
CREATE TABLE IF NOT EXISTS workspaces (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL UNIQUE,
	custom_instructions TEXT NOT NULL DEFAULT '',
	rules               TEXT NOT NULL DEFAULT '[]',
	archived            INTEGER NOT NULL DEFAULT 0,
	created_at          TEXT NOT NULL,
	updated_at          TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS sessions (
	id                  TEXT PRIMARY KEY,
	active_workspace_id TEXT NOT NULL,
	last_update         TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS providers (
	name       TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	base_url   TEXT NOT NULL,
	auth_key   TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS alerts (
	id           TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL,
	severity     TEXT NOT NULL,
	code         TEXT NOT NULL,
	message      TEXT NOT NULL,
	timestamp    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_workspace ON alerts(workspace_id, timestamp);
CREATE TABLE IF NOT EXISTS usage_records (
	workspace_id  TEXT NOT NULL,
	provider_name TEXT NOT NULL,
	model         TEXT NOT NULL,
	input_tokens  INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	timestamp     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_workspace ON usage_records(workspace_id, timestamp);
`

// Store is a SQLite-backed state store. One Store serves all persisted
// concerns; the caller passes it wherever a store port is needed.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and bootstraps the
// schema. WAL mode keeps readers unblocked during writes.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(raw string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, raw)
	return t
}

// scanWorkspace decodes one workspace row.
func scanWorkspace(row interface{ Scan(...any) error }) (*workspace.Workspace, error) {
	var (
		w                    workspace.Workspace
		rulesJSON            string
		archived             int
		createdAt, updatedAt string
	)
	err := row.Scan(&w.ID, &w.Name, &w.CustomInstructions, &rulesJSON, &archived, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(rulesJSON), &w.Rules); err != nil {
		return nil, fmt.Errorf("decode rules for workspace %s: %w", w.ID, err)
	}
	w.Archived = archived != 0
	w.CreatedAt = decodeTime(createdAt)
	w.UpdatedAt = decodeTime(updatedAt)
	return &w, nil
}

// List implements workspace.Store.
func (s *Store) List(ctx context.Context) ([]workspace.Workspace, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, custom_instructions, rules, archived, created_at, updated_at FROM workspaces ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []workspace.Workspace
	for rows.Next() {
		w, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *w)
	}
	return result, rows.Err()
}

// Get implements workspace.Store.
func (s *Store) Get(ctx context.Context, id string) (*workspace.Workspace, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, custom_instructions, rules, archived, created_at, updated_at FROM workspaces WHERE id = ?`, id)
	w, err := scanWorkspace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, workspace.ErrWorkspaceNotFound
	}
	return w, err
}

// GetByName implements workspace.Store.
func (s *Store) GetByName(ctx context.Context, name string) (*workspace.Workspace, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, custom_instructions, rules, archived, created_at, updated_at FROM workspaces WHERE name = ?`, name)
	w, err := scanWorkspace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, workspace.ErrWorkspaceNotFound
	}
	return w, err
}

// Add implements workspace.Store.
func (s *Store) Add(ctx context.Context, w *workspace.Workspace) error {
	rulesJSON, err := json.Marshal(rulesOrEmpty(w.Rules))
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM workspaces WHERE name = ?`, w.Name).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return workspace.ErrDuplicateWorkspaceName
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workspaces (id, name, custom_instructions, rules, archived, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.Name, w.CustomInstructions, string(rulesJSON), boolInt(w.Archived), encodeTime(w.CreatedAt), encodeTime(w.UpdatedAt))
	return err
}

// Update implements workspace.Store.
func (s *Store) Update(ctx context.Context, w *workspace.Workspace) error {
	rulesJSON, err := json.Marshal(rulesOrEmpty(w.Rules))
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE workspaces SET name = ?, custom_instructions = ?, rules = ?, archived = ?, updated_at = ? WHERE id = ?`,
		w.Name, w.CustomInstructions, string(rulesJSON), boolInt(w.Archived), encodeTime(w.UpdatedAt), w.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return workspace.ErrWorkspaceNotFound
	}
	return nil
}

// Delete implements workspace.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workspaces WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return workspace.ErrWorkspaceNotFound
	}
	return nil
}

// GetSession implements workspace.SessionStore via the sessionStore view.
type sessionStore struct{ s *Store }

// Sessions returns the session-store view of this database.
func (s *Store) Sessions() workspace.SessionStore {
	return &sessionStore{s: s}
}

func (v *sessionStore) Get(ctx context.Context, id string) (*workspace.Session, error) {
	var (
		sess       workspace.Session
		lastUpdate string
	)
	err := v.s.db.QueryRowContext(ctx,
		`SELECT id, active_workspace_id, last_update FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.ActiveWorkspaceID, &lastUpdate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, workspace.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.LastUpdate = decodeTime(lastUpdate)
	return &sess, nil
}

func (v *sessionStore) List(ctx context.Context) ([]workspace.Session, error) {
	rows, err := v.s.db.QueryContext(ctx, `SELECT id, active_workspace_id, last_update FROM sessions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []workspace.Session
	for rows.Next() {
		var (
			sess       workspace.Session
			lastUpdate string
		)
		if err := rows.Scan(&sess.ID, &sess.ActiveWorkspaceID, &lastUpdate); err != nil {
			return nil, err
		}
		sess.LastUpdate = decodeTime(lastUpdate)
		result = append(result, sess)
	}
	return result, rows.Err()
}

func (v *sessionStore) Upsert(ctx context.Context, sess *workspace.Session) error {
	_, err := v.s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, active_workspace_id, last_update) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET active_workspace_id = excluded.active_workspace_id, last_update = excluded.last_update`,
		sess.ID, sess.ActiveWorkspaceID, encodeTime(sess.LastUpdate))
	return err
}

func (v *sessionStore) Delete(ctx context.Context, id string) error {
	_, err := v.s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// providerStore is the provider-store view of this database.
type providerStore struct{ s *Store }

// Providers returns the provider-store view of this database.
func (s *Store) Providers() mux.ProviderStore {
	return &providerStore{s: s}
}

func (v *providerStore) List(ctx context.Context) ([]mux.Provider, error) {
	rows, err := v.s.db.QueryContext(ctx, `SELECT name, type, base_url, auth_key, created_at FROM providers ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []mux.Provider
	for rows.Next() {
		var (
			p         mux.Provider
			ptype     string
			createdAt string
		)
		if err := rows.Scan(&p.Name, &ptype, &p.BaseURL, &p.AuthKey, &createdAt); err != nil {
			return nil, err
		}
		p.Type = mux.ProviderType(ptype)
		p.CreatedAt = decodeTime(createdAt)
		result = append(result, p)
	}
	return result, rows.Err()
}

func (v *providerStore) Get(ctx context.Context, name string) (*mux.Provider, error) {
	var (
		p         mux.Provider
		ptype     string
		createdAt string
	)
	err := v.s.db.QueryRowContext(ctx,
		`SELECT name, type, base_url, auth_key, created_at FROM providers WHERE name = ?`, name).
		Scan(&p.Name, &ptype, &p.BaseURL, &p.AuthKey, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, mux.ErrProviderNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Type = mux.ProviderType(ptype)
	p.CreatedAt = decodeTime(createdAt)
	return &p, nil
}

func (v *providerStore) Add(ctx context.Context, p *mux.Provider) error {
	var count int
	if err := v.s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM providers WHERE name = ?`, p.Name).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return mux.ErrDuplicateProviderName
	}
	_, err := v.s.db.ExecContext(ctx,
		`INSERT INTO providers (name, type, base_url, auth_key, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.Name, string(p.Type), p.BaseURL, p.AuthKey, encodeTime(p.CreatedAt))
	return err
}

func (v *providerStore) Delete(ctx context.Context, name string) error {
	res, err := v.s.db.ExecContext(ctx, `DELETE FROM providers WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return mux.ErrProviderNotFound
	}
	return nil
}

// alertStore is the alert-store view of this database.
type alertStore struct{ s *Store }

// Alerts returns the alert-store view of this database.
func (s *Store) Alerts() pipeline.AlertStore {
	return &alertStore{s: s}
}

func (v *alertStore) Append(ctx context.Context, alerts ...pipeline.Alert) error {
	for _, a := range alerts {
		_, err := v.s.db.ExecContext(ctx,
			`INSERT INTO alerts (id, workspace_id, severity, code, message, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
			a.ID, a.WorkspaceID, string(a.Severity), a.Code, a.Message, encodeTime(a.Timestamp))
		if err != nil {
			return err
		}
	}
	return nil
}

func (v *alertStore) ListByWorkspace(ctx context.Context, workspaceID string, limit int) ([]pipeline.Alert, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := v.s.db.QueryContext(ctx,
		`SELECT id, workspace_id, severity, code, message, timestamp FROM alerts WHERE workspace_id = ? ORDER BY timestamp DESC LIMIT ?`,
		workspaceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []pipeline.Alert
	for rows.Next() {
		var (
			a         pipeline.Alert
			severity  string
			timestamp string
		)
		if err := rows.Scan(&a.ID, &a.WorkspaceID, &severity, &a.Code, &a.Message, &timestamp); err != nil {
			return nil, err
		}
		a.Severity = pipeline.Severity(severity)
		a.Timestamp = decodeTime(timestamp)
		result = append(result, a)
	}
	return result, rows.Err()
}

// usageStore is the usage-store view of this database.
type usageStore struct{ s *Store }

// Usage returns the usage-store view of this database.
func (s *Store) Usage() workspace.UsageStore {
	return &usageStore{s: s}
}

func (v *usageStore) Record(ctx context.Context, rec workspace.UsageRecord) error {
	_, err := v.s.db.ExecContext(ctx,
		`INSERT INTO usage_records (workspace_id, provider_name, model, input_tokens, output_tokens, timestamp) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.WorkspaceID, rec.ProviderName, rec.Model, rec.InputTokens, rec.OutputTokens, encodeTime(rec.Timestamp))
	return err
}

func (v *usageStore) ListByWorkspace(ctx context.Context, workspaceID string, limit int) ([]workspace.UsageRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := v.s.db.QueryContext(ctx,
		`SELECT workspace_id, provider_name, model, input_tokens, output_tokens, timestamp FROM usage_records WHERE workspace_id = ? ORDER BY timestamp DESC LIMIT ?`,
		workspaceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []workspace.UsageRecord
	for rows.Next() {
		var (
			rec       workspace.UsageRecord
			timestamp string
		)
		if err := rows.Scan(&rec.WorkspaceID, &rec.ProviderName, &rec.Model, &rec.InputTokens, &rec.OutputTokens, &timestamp); err != nil {
			return nil, err
		}
		rec.Timestamp = decodeTime(timestamp)
		result = append(result, rec)
	}
	return result, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func rulesOrEmpty(rules []mux.Rule) []mux.Rule {
	if rules == nil {
		return []mux.Rule{}
	}
	return rules
}

// Compile-time interface verification.
var _ workspace.Store = (*Store)(nil)
