// Package store implements controlplane.Store against Postgres and SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/haasonsaas/nexus/internal/controlplane"
	"github.com/haasonsaas/nexus/pkg/orchestration"
)

// PostgresStore implements controlplane.Store on top of database/sql with
// the lib/pq driver, claiming queue rows with SELECT ... FOR UPDATE SKIP
// LOCKED so multiple controller replicas can poll the same table safely.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-opened *sql.DB. Callers own the
// connection's lifecycle and should Close the store when done.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) CreateSandbox(ctx context.Context, sb *orchestration.Sandbox) error {
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
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
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

func (s *PostgresStore) GetSandbox(ctx context.Context, id string) (*orchestration.Sandbox, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner, state, description, snapshot_origin, metadata, tags,
			   idle_timeout_seconds, busy_timeout_seconds, idle_from, busy_from,
			   context_cutoff_at, last_context_length, created_at, updated_at
		FROM sandboxes WHERE id = $1
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

func (s *PostgresStore) UpdateSandbox(ctx context.Context, sb *orchestration.Sandbox) error {
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
			state = $1, description = $2, metadata = $3, tags = $4,
			idle_timeout_seconds = $5, busy_timeout_seconds = $6,
			idle_from = $7, busy_from = $8, context_cutoff_at = $9,
			last_context_length = $10, updated_at = $11
		WHERE id = $12
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

func (s *PostgresStore) DeleteSandbox(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sandboxes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete sandbox: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSandboxes(ctx context.Context, opts controlplane.ListSandboxesOptions) ([]*orchestration.Sandbox, error) {
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
	n := 0
	if opts.Owner != "" {
		n++
		query += fmt.Sprintf(" AND owner = $%d", n)
		args = append(args, opts.Owner)
	}
	if opts.State != nil {
		n++
		query += fmt.Sprintf(" AND state = $%d", n)
		args = append(args, string(*opts.State))
	}
	query += " ORDER BY created_at ASC, id ASC"
	n++
	query += fmt.Sprintf(" LIMIT $%d", n)
	args = append(args, limit)
	n++
	query += fmt.Sprintf(" OFFSET $%d", n)
	args = append(args, opts.Offset)

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

// OverdueSandboxes returns non-slept sandboxes whose idle/busy timer has
// exceeded its configured timeout, ordered most-overdue-first.
func (s *PostgresStore) OverdueSandboxes(ctx context.Context, now time.Time, limit int) ([]*orchestration.Sandbox, error) {
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
			 AND idle_from + (idle_timeout_seconds * INTERVAL '1 second') < $1)
			OR
			(state = 'busy' AND busy_from IS NOT NULL AND busy_timeout_seconds > 0
			 AND busy_from + (busy_timeout_seconds * INTERVAL '1 second') < $1)
		)
		ORDER BY LEAST(
			COALESCE(idle_from, 'epoch'::timestamptz),
			COALESCE(busy_from, 'epoch'::timestamptz)
		) ASC
		LIMIT $2
	`, now, limit)
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

// NonSleptSandboxes returns every sandbox not currently slept.
func (s *PostgresStore) NonSleptSandboxes(ctx context.Context) ([]*orchestration.Sandbox, error) {
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

func (s *PostgresStore) CreateRequest(ctx context.Context, req *orchestration.Request) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO requests (
			id, sandbox_id, kind, creator, payload, status,
			created_at, updated_at, completed_at, error
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		req.ID, req.SandboxID, string(req.Kind), req.Creator, req.Payload, string(req.Status),
		req.CreatedAt, req.UpdatedAt, req.CompletedAt, req.Error,
	)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRequest(ctx context.Context, id string) (*orchestration.Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, sandbox_id, kind, creator, payload, status,
			   created_at, updated_at, completed_at, error, locked_by, locked_until
		FROM requests WHERE id = $1
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

// ClaimPendingRequests claims up to limit pending requests in a single
// transaction using SELECT ... FOR UPDATE SKIP LOCKED, the Postgres-native
// equivalent of the two-step MySQL claim pattern: one atomic statement
// instead of select-ids-then-update.
func (s *PostgresStore) ClaimPendingRequests(ctx context.Context, workerID string, limit int, leaseDuration time.Duration) ([]*orchestration.Request, error) {
	if limit <= 0 {
		limit = 5
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	lockUntil := now.Add(leaseDuration)

	rows, err := tx.QueryContext(ctx, `
		SELECT id, sandbox_id, kind, creator, payload, status,
			   created_at, updated_at, completed_at, error, locked_by, locked_until
		FROM requests
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, string(orchestration.RequestPending), limit)
	if err != nil {
		return nil, fmt.Errorf("select pending requests: %w", err)
	}

	var claimed []*orchestration.Request
	for rows.Next() {
		req, err := scanRequestRows(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan request: %w", err)
		}
		claimed = append(claimed, req)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate pending requests: %w", err)
	}
	rows.Close()

	for _, req := range claimed {
		_, err := tx.ExecContext(ctx, `
			UPDATE requests SET status = $1, locked_by = $2, locked_until = $3, updated_at = $4
			WHERE id = $5
		`, string(orchestration.RequestProcessing), workerID, lockUntil, now, req.ID)
		if err != nil {
			return nil, fmt.Errorf("claim request %s: %w", req.ID, err)
		}
		req.Status = orchestration.RequestProcessing
		req.LockedBy = workerID
		req.LockedUntil = &lockUntil
		req.UpdatedAt = now
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return claimed, nil
}

func (s *PostgresStore) CompleteRequest(ctx context.Context, id string, status orchestration.RequestStatus, errMsg string) error {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE requests SET status = $1, error = $2, completed_at = $3, updated_at = $3,
			locked_by = NULL, locked_until = NULL
		WHERE id = $4
	`, string(status), errMsg, now, id)
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

func (s *PostgresStore) ReleaseRequest(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE requests SET status = $1, locked_by = NULL, locked_until = NULL, updated_at = $2
		WHERE id = $3
	`, string(orchestration.RequestPending), time.Now(), id)
	if err != nil {
		return fmt.Errorf("release request: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRequests(ctx context.Context, opts controlplane.ListRequestsOptions) ([]*orchestration.Request, error) {
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
	n := 0
	if opts.SandboxID != "" {
		n++
		query += fmt.Sprintf(" AND sandbox_id = $%d", n)
		args = append(args, opts.SandboxID)
	}
	if opts.Status != nil {
		n++
		query += fmt.Sprintf(" AND status = $%d", n)
		args = append(args, string(*opts.Status))
	}
	query += " ORDER BY created_at ASC, id ASC"
	n++
	query += fmt.Sprintf(" LIMIT $%d", n)
	args = append(args, limit)
	n++
	query += fmt.Sprintf(" OFFSET $%d", n)
	args = append(args, opts.Offset)

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

// scanner is the subset of *sql.Row / *sql.Rows used by the scan helpers
// below, letting them serve both single-row and multi-row callers.
type scanner interface {
	Scan(dest ...any) error
}

func scanSandbox(row scanner) (*orchestration.Sandbox, error) {
	return scanSandboxRows(row)
}

func scanSandboxRows(row scanner) (*orchestration.Sandbox, error) {
	var sb orchestration.Sandbox
	var state string
	var metadata, tags []byte
	if err := row.Scan(
		&sb.ID, &sb.Owner, &state, &sb.Description, &sb.SnapshotOrigin, &metadata, &tags,
		&sb.IdleTimeoutSeconds, &sb.BusyTimeoutSeconds, &sb.IdleFrom, &sb.BusyFrom,
		&sb.ContextCutoffAt, &sb.LastContextLength, &sb.CreatedAt, &sb.UpdatedAt,
	); err != nil {
		return nil, err
	}
	sb.State = orchestration.SandboxState(state)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &sb.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &sb.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	return &sb, nil
}

func scanRequest(row scanner) (*orchestration.Request, error) {
	return scanRequestRows(row)
}

func scanRequestRows(row scanner) (*orchestration.Request, error) {
	var req orchestration.Request
	var kind, status string
	if err := row.Scan(
		&req.ID, &req.SandboxID, &kind, &req.Creator, &req.Payload, &status,
		&req.CreatedAt, &req.UpdatedAt, &req.CompletedAt, &req.Error,
		&req.LockedBy, &req.LockedUntil,
	); err != nil {
		return nil, err
	}
	req.Kind = orchestration.RequestKind(kind)
	req.Status = orchestration.RequestStatus(status)
	return &req, nil
}

var _ controlplane.Store = (*PostgresStore)(nil)
