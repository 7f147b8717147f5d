package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/haasonsaas/nexus/internal/controlplane"
	"github.com/haasonsaas/nexus/pkg/orchestration"
)

// CreateTask persists a new task row, implementing sandboxrt.TaskStore.
func (s *PostgresStore) CreateTask(ctx context.Context, task *orchestration.Task) error {
	input, err := json.Marshal(task.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	output, err := json.Marshal(task.Output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	steps, err := json.Marshal(task.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (
			id, sandbox_id, type, status, input, output, steps, context_length,
			background, timeout_seconds, timeout_at, error, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`,
		task.ID, task.SandboxID, string(task.Type), string(task.Status), input, output, steps,
		task.ContextLength, task.Background, task.TimeoutSeconds, task.TimeoutAt, task.Error,
		task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, sandboxID, id string) (*orchestration.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, sandbox_id, type, status, input, output, steps, context_length,
			   background, timeout_seconds, timeout_at, error, created_at, updated_at
		FROM tasks WHERE sandbox_id = $1 AND id = $2
	`, sandboxID, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, controlplane.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

func (s *PostgresStore) UpdateTask(ctx context.Context, task *orchestration.Task) error {
	output, err := json.Marshal(task.Output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	steps, err := json.Marshal(task.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status=$1, output=$2, steps=$3, context_length=$4,
			timeout_seconds=$5, timeout_at=$6, error=$7, updated_at=$8
		WHERE sandbox_id=$9 AND id=$10
	`,
		string(task.Status), output, steps, task.ContextLength,
		task.TimeoutSeconds, task.TimeoutAt, task.Error, task.UpdatedAt,
		task.SandboxID, task.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return controlplane.ErrTaskNotFound
	}
	return nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, sandboxID string, limit, offset int) ([]*orchestration.Task, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sandbox_id, type, status, input, output, steps, context_length,
			   background, timeout_seconds, timeout_at, error, created_at, updated_at
		FROM tasks WHERE sandbox_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3
	`, sandboxID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*orchestration.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountTasks(ctx context.Context, sandboxID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE sandbox_id = $1`, sandboxID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) LatestContextLength(ctx context.Context, sandboxID string) (int, error) {
	var n sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT context_length FROM tasks WHERE sandbox_id = $1
		ORDER BY updated_at DESC, id DESC LIMIT 1
	`, sandboxID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("latest context length: %w", err)
	}
	if n.Valid && n.Int64 > 0 {
		return int(n.Int64), nil
	}
	return 0, nil
}

func scanTask(row scanner) (*orchestration.Task, error) {
	var task orchestration.Task
	var typ, status string
	var input, output, steps []byte
	if err := row.Scan(
		&task.ID, &task.SandboxID, &typ, &status, &input, &output, &steps, &task.ContextLength,
		&task.Background, &task.TimeoutSeconds, &task.TimeoutAt, &task.Error,
		&task.CreatedAt, &task.UpdatedAt,
	); err != nil {
		return nil, err
	}
	task.Type = orchestration.TaskType(typ)
	task.Status = orchestration.TaskStatus(status)
	if len(input) > 0 {
		if err := json.Unmarshal(input, &task.Input); err != nil {
			return nil, fmt.Errorf("unmarshal input: %w", err)
		}
	}
	if len(output) > 0 {
		if err := json.Unmarshal(output, &task.Output); err != nil {
			return nil, fmt.Errorf("unmarshal output: %w", err)
		}
	}
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &task.Steps); err != nil {
			return nil, fmt.Errorf("unmarshal steps: %w", err)
		}
	}
	return &task, nil
}
