package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tenantflow/engine/types"
)

// PostgresStore is a pgx-backed implementation of the Store interface.
// Records are stored as JSONB documents with the columns needed for
// filtering pulled out alongside.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to Postgres and verifies the connection.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// InitSchema creates the tables if they do not exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS workflows (
			id          TEXT PRIMARY KEY,
			tenant_id   TEXT NOT NULL,
			status      TEXT NOT NULL,
			category    TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL,
			data        JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS workflows_tenant_idx ON workflows (tenant_id, created_at);

		CREATE TABLE IF NOT EXISTS workflow_versions (
			workflow_id TEXT NOT NULL,
			version     INT NOT NULL,
			data        JSONB NOT NULL,
			PRIMARY KEY (workflow_id, version)
		);

		CREATE TABLE IF NOT EXISTS executions (
			id          BIGINT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			data        JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS executions_workflow_idx ON executions (workflow_id, id DESC);

		CREATE TABLE IF NOT EXISTS scheduled_jobs (
			workflow_id TEXT PRIMARY KEY,
			data        JSONB NOT NULL
		);
	`)
	return err
}

func scanJSON[T any](row pgx.Row, errNotFound error) (T, error) {
	var zero T
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return zero, errNotFound
		}
		return zero, err
	}
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return zero, fmt.Errorf("failed to unmarshal row: %v", err)
	}
	return result, nil
}

// SaveWorkflow upserts a workflow.
func (s *PostgresStore) SaveWorkflow(ctx context.Context, wf types.Workflow) error {
	data, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow %s: %v", wf.ID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflows (id, tenant_id, status, category, created_at, data)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET tenant_id = $2, status = $3, category = $4, data = $6`,
		wf.ID, wf.TenantID, wf.Status, wf.Category, wf.CreatedAt, data)
	return err
}

// GetWorkflow retrieves a workflow by ID.
func (s *PostgresStore) GetWorkflow(ctx context.Context, id string) (types.Workflow, error) {
	row := s.pool.QueryRow(ctx, `SELECT data FROM workflows WHERE id = $1`, id)
	return scanJSON[types.Workflow](row, fmt.Errorf("%w: id=%s", ErrWorkflowNotFound, id))
}

// DeleteWorkflow removes a workflow, its versions and its job.
func (s *PostgresStore) DeleteWorkflow(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id=%s", ErrWorkflowNotFound, id)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM workflow_versions WHERE workflow_id = $1`, id); err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `DELETE FROM scheduled_jobs WHERE workflow_id = $1`, id)
	return err
}

// ListWorkflows lists a tenant's workflows with status/category filters
// and skip/limit paging, oldest first. An empty tenantID lists across all
// tenants.
func (s *PostgresStore) ListWorkflows(ctx context.Context, tenantID string, f ListFilter) ([]types.Workflow, error) {
	query := `SELECT data FROM workflows WHERE ($1 = '' OR tenant_id = $1)`
	args := []any{tenantID}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Category != "" {
		args = append(args, f.Category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	query += " ORDER BY created_at"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Skip > 0 {
		args = append(args, f.Skip)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Workflow
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var wf types.Workflow
		if err := json.Unmarshal(data, &wf); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workflow: %v", err)
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

// SaveVersion appends a version snapshot. Versions are immutable; a
// conflicting insert is rejected.
func (s *PostgresStore) SaveVersion(ctx context.Context, v types.WorkflowVersion) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal version: %v", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflow_versions (workflow_id, version, data)
		VALUES ($1, $2, $3)`,
		v.WorkflowID, v.Version, data)
	return err
}

// GetVersion retrieves one version snapshot.
func (s *PostgresStore) GetVersion(ctx context.Context, workflowID string, version int) (types.WorkflowVersion, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT data FROM workflow_versions WHERE workflow_id = $1 AND version = $2`,
		workflowID, version)
	return scanJSON[types.WorkflowVersion](row, fmt.Errorf("%w: workflow=%s version=%d", ErrVersionNotFound, workflowID, version))
}

// ListVersions lists version snapshots, oldest first.
func (s *PostgresStore) ListVersions(ctx context.Context, workflowID string) ([]types.WorkflowVersion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM workflow_versions WHERE workflow_id = $1 ORDER BY version`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.WorkflowVersion
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var v types.WorkflowVersion
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to unmarshal version: %v", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// SaveExecution upserts an execution.
func (s *PostgresStore) SaveExecution(ctx context.Context, exec types.WorkflowExecution) error {
	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution %d: %v", exec.ID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO executions (id, workflow_id, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET data = $3`,
		int64(exec.ID), exec.WorkflowID, data)
	return err
}

// GetExecution retrieves an execution by ID.
func (s *PostgresStore) GetExecution(ctx context.Context, id uint64) (types.WorkflowExecution, error) {
	row := s.pool.QueryRow(ctx, `SELECT data FROM executions WHERE id = $1`, int64(id))
	return scanJSON[types.WorkflowExecution](row, fmt.Errorf("%w: id=%d", ErrExecutionNotFound, id))
}

// ListExecutions lists a workflow's executions, most recent first.
func (s *PostgresStore) ListExecutions(ctx context.Context, workflowID string, limit int) ([]types.WorkflowExecution, error) {
	query := `SELECT data FROM executions WHERE workflow_id = $1 ORDER BY id DESC`
	args := []any{workflowID}
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT $2"
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.WorkflowExecution
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var exec types.WorkflowExecution
		if err := json.Unmarshal(data, &exec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution: %v", err)
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

// SaveJob upserts a scheduled job.
func (s *PostgresStore) SaveJob(ctx context.Context, job types.ScheduledJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %v", job.WorkflowID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO scheduled_jobs (workflow_id, data)
		VALUES ($1, $2)
		ON CONFLICT (workflow_id) DO UPDATE SET data = $2`,
		job.WorkflowID, data)
	return err
}

// GetJob retrieves a scheduled job by workflow ID.
func (s *PostgresStore) GetJob(ctx context.Context, workflowID string) (types.ScheduledJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT data FROM scheduled_jobs WHERE workflow_id = $1`, workflowID)
	return scanJSON[types.ScheduledJob](row, fmt.Errorf("%w: workflow=%s", ErrJobNotFound, workflowID))
}

// DeleteJob removes a scheduled job.
func (s *PostgresStore) DeleteJob(ctx context.Context, workflowID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM scheduled_jobs WHERE workflow_id = $1`, workflowID)
	return err
}

// ListJobs lists all scheduled jobs.
func (s *PostgresStore) ListJobs(ctx context.Context) ([]types.ScheduledJob, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM scheduled_jobs ORDER BY workflow_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.ScheduledJob
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var job types.ScheduledJob
		if err := json.Unmarshal(data, &job); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job: %v", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
