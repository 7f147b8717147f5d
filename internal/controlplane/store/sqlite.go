package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/haasonsaas/nexus/internal/controlplane"
	"github.com/haasonsaas/nexus/pkg/orchestration"
)

// SQLiteStore implements controlplane.Store against a single-node SQLite
// database, for development and single-replica deployments that don't need
// PostgresStore's cross-replica claim semantics. Since SQLite has no
// row-level FOR UPDATE SKIP LOCKED, it claims requests with a single
// UPDATE ... RETURNING statement guarded by a WHERE status = 'pending'
// predicate, relying on SQLite's whole-database write serialization to
// make the claim atomic.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens path (":memory:" for an ephemeral store) and creates
// the schema if it does not already exist.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows only one writer at a time; a single connection avoids
	// SQLITE_BUSY from the pool racing itself.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sandboxes (
			id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			state TEXT NOT NULL,
			description TEXT,
			snapshot_origin TEXT,
			metadata TEXT,
			tags TEXT,
			idle_timeout_seconds INTEGER NOT NULL DEFAULT 900,
			busy_timeout_seconds INTEGER NOT NULL DEFAULT 0,
			idle_from DATETIME,
			busy_from DATETIME,
			context_cutoff_at DATETIME,
			last_context_length INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE TABLE IF NOT EXISTS requests (
			id TEXT PRIMARY KEY,
			sandbox_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			creator TEXT,
			payload BLOB,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			completed_at DATETIME,
			error TEXT,
			locked_by TEXT,
			locked_until DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_requests_status_created ON requests(status, created_at);
		CREATE INDEX IF NOT EXISTS idx_sandboxes_owner ON sandboxes(owner);
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			sandbox_id TEXT NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			input TEXT,
			output TEXT,
			steps TEXT,
			context_length INTEGER NOT NULL DEFAULT 0,
			background INTEGER NOT NULL DEFAULT 0,
			timeout_seconds INTEGER NOT NULL DEFAULT 0,
			timeout_at DATETIME,
			error TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_sandbox_created ON tasks(sandbox_id, created_at, id);
	`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateSandbox(ctx context.Context, sb *orchestration.Sandbox) error {
	metadata, err := json.Marshal(sb.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	tags, err := json.Marshal(sb.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sandboxes (
			id, owner, state, description, snapshot_origin, metadata, tags,
			idle_timeout_seconds, busy_timeout_seconds, idle_from, busy_from,
			context_cutoff_at, last_context_length, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`,
		sb.ID, sb.Owner, string(sb.State), sb.Description, sb.SnapshotOrigin, metadata, tags,
		sb.IdleTimeoutSeconds, sb.BusyTimeoutSeconds, sb.IdleFrom, sb.BusyFrom,
		sb.ContextCutoffAt, sb.LastContextLength, sb.CreatedAt, sb.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create sandbox: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSandbox(ctx context.Context, id string) (*orchestration.Sandbox, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner, state, description, snapshot_origin, metadata, tags,
			   idle_timeout_seconds, busy_timeout_seconds, idle_from, busy_from,
			   context_cutoff_at, last_context_length, created_at, updated_at
		FROM sandboxes WHERE id = ?
	`, id)
	sb, err := scanSandbox(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, controlplane.ErrSandboxNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sandbox: %w", err)
	}
	return sb, nil
}

func (s *SQLiteStore) UpdateSandbox(ctx context.Context, sb *orchestration.Sandbox) error {
	metadata, err := json.Marshal(sb.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	tags, err := json.Marshal(sb.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sandboxes SET
			state = ?, description = ?, metadata = ?, tags = ?,
			idle_timeout_seconds = ?, busy_timeout_seconds = ?,
			idle_from = ?, busy_from = ?, context_cutoff_at = ?,
			last_context_length = ?, updated_at = ?
		WHERE id = ?
	`,
		string(sb.State), sb.Description, metadata, tags,
		sb.IdleTimeoutSeconds, sb.BusyTimeoutSeconds,
		sb.IdleFrom, sb.BusyFrom, sb.ContextCutoffAt,
		sb.LastContextLength, sb.UpdatedAt, sb.ID,
	)
	if err != nil {
		return fmt.Errorf("update sandbox: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update sandbox rows affected: %w", err)
	}
	if n == 0 {
		return controlplane.ErrSandboxNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteSandbox(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sandboxes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete sandbox: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListSandboxes(ctx context.Context, opts controlplane.ListSandboxesOptions) ([]*orchestration.Sandbox, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := `
		SELECT id, owner, state, description, snapshot_origin, metadata, tags,
			   idle_timeout_seconds, busy_timeout_seconds, idle_from, busy_from,
			   context_cutoff_at, last_context_length, created_at, updated_at
		FROM sandboxes WHERE 1=1
	`
	var args []any
	if opts.Owner != "" {
		query += " AND owner = ?"
		args = append(args, opts.Owner)
	}
	if opts.State != nil {
		query += " AND state = ?"
		args = append(args, string(*opts.State))
	}
	query += " ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?"
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sandboxes: %w", err)
	}
	defer rows.Close()

	var out []*orchestration.Sandbox
	for rows.Next() {
		sb, err := scanSandboxRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sandbox: %w", err)
		}
		out = append(out, sb)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) OverdueSandboxes(ctx context.Context, now time.Time, limit int) ([]*orchestration.Sandbox, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, state, description, snapshot_origin, metadata, tags,
			   idle_timeout_seconds, busy_timeout_seconds, idle_from, busy_from,
			   context_cutoff_at, last_context_length, created_at, updated_at
		FROM sandboxes
		WHERE (
			(state = 'idle' AND idle_from IS NOT NULL
			 AND datetime(idle_from, '+' || idle_timeout_seconds || ' seconds') < datetime(?))
			OR
			(state = 'busy' AND busy_from IS NOT NULL AND busy_timeout_seconds > 0
			 AND datetime(busy_from, '+' || busy_timeout_seconds || ' seconds') < datetime(?))
		)
		ORDER BY COALESCE(idle_from, busy_from) ASC
		LIMIT ?
	`, now, now, limit)
	if err != nil {
		return nil, fmt.Errorf("overdue sandboxes: %w", err)
	}
	defer rows.Close()

	var out []*orchestration.Sandbox
	for rows.Next() {
		sb, err := scanSandboxRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sandbox: %w", err)
		}
		out = append(out, sb)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) NonSleptSandboxes(ctx context.Context) ([]*orchestration.Sandbox, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, state, description, snapshot_origin, metadata, tags,
			   idle_timeout_seconds, busy_timeout_seconds, idle_from, busy_from,
			   context_cutoff_at, last_context_length, created_at, updated_at
		FROM sandboxes WHERE state != 'slept'
	`)
	if err != nil {
		return nil, fmt.Errorf("non-slept sandboxes: %w", err)
	}
	defer rows.Close()

	var out []*orchestration.Sandbox
	for rows.Next() {
		sb, err := scanSandboxRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sandbox: %w", err)
		}
		out = append(out, sb)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateRequest(ctx context.Context, req *orchestration.Request) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO requests (
			id, sandbox_id, kind, creator, payload, status,
			created_at, updated_at, completed_at, error
		) VALUES (?,?,?,?,?,?,?,?,?,?)
	`,
		req.ID, req.SandboxID, string(req.Kind), req.Creator, req.Payload, string(req.Status),
		req.CreatedAt, req.UpdatedAt, req.CompletedAt, req.Error,
	)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRequest(ctx context.Context, id string) (*orchestration.Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, sandbox_id, kind, creator, payload, status,
			   created_at, updated_at, completed_at, error, locked_by, locked_until
		FROM requests WHERE id = ?
	`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, controlplane.ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	return req, nil
}

// ClaimPendingRequests claims up to limit pending requests. Lacking
// SELECT FOR UPDATE SKIP LOCKED, it selects candidate ids then claims each
// with a conditional UPDATE ... WHERE status = 'pending', which is still
// atomic per-row under SQLite's serialized writer and simply no-ops if a
// concurrent claim already won that row.
func (s *SQLiteStore) ClaimPendingRequests(ctx context.Context, workerID string, limit int, leaseDuration time.Duration) ([]*orchestration.Request, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM requests WHERE status = ? ORDER BY created_at ASC LIMIT ?
	`, string(orchestration.RequestPending), limit)
	if err != nil {
		return nil, fmt.Errorf("select pending request ids: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan request id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate request ids: %w", err)
	}

	now := time.Now()
	lockUntil := now.Add(leaseDuration)

	var claimed []*orchestration.Request
	for _, id := range ids {
		res, err := s.db.ExecContext(ctx, `
			UPDATE requests SET status = ?, locked_by = ?, locked_until = ?, updated_at = ?
			WHERE id = ? AND status = ?
		`, string(orchestration.RequestProcessing), workerID, lockUntil, now, id, string(orchestration.RequestPending))
		if err != nil {
			return nil, fmt.Errorf("claim request %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("claim request rows affected: %w", err)
		}
		if n == 0 {
			continue // lost the race to another claimer
		}
		req, err := s.GetRequest(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("reload claimed request %s: %w", id, err)
		}
		claimed = append(claimed, req)
	}
	return claimed, nil
}

func (s *SQLiteStore) CompleteRequest(ctx context.Context, id string, status orchestration.RequestStatus, errMsg string) error {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE requests SET status = ?, error = ?, completed_at = ?, updated_at = ?,
			locked_by = NULL, locked_until = NULL
		WHERE id = ?
	`, string(status), errMsg, now, now, id)
	if err != nil {
		return fmt.Errorf("complete request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete request rows affected: %w", err)
	}
	if n == 0 {
		return controlplane.ErrRequestNotFound
	}
	return nil
}

func (s *SQLiteStore) ReleaseRequest(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE requests SET status = ?, locked_by = NULL, locked_until = NULL, updated_at = ?
		WHERE id = ?
	`, string(orchestration.RequestPending), time.Now(), id)
	if err != nil {
		return fmt.Errorf("release request: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListRequests(ctx context.Context, opts controlplane.ListRequestsOptions) ([]*orchestration.Request, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := `
		SELECT id, sandbox_id, kind, creator, payload, status,
			   created_at, updated_at, completed_at, error, locked_by, locked_until
		FROM requests WHERE 1=1
	`
	var args []any
	if opts.SandboxID != "" {
		query += " AND sandbox_id = ?"
		args = append(args, opts.SandboxID)
	}
	if opts.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*opts.Status))
	}
	query += " ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?"
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var out []*orchestration.Request
	for rows.Next() {
		req, err := scanRequestRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

var _ controlplane.Store = (*SQLiteStore)(nil)
