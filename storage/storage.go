package storage

import (
	"context"
	"errors"

	"github.com/tenantflow/engine/types"
)

// Not-found sentinels shared by all implementations.
var (
	ErrWorkflowNotFound  = errors.New("workflow not found")
	ErrVersionNotFound   = errors.New("workflow version not found")
	ErrExecutionNotFound = errors.New("execution not found")
	ErrJobNotFound       = errors.New("scheduled job not found")
)

// ListFilter narrows ListWorkflows results.
type ListFilter struct {
	Status   string
	Category string
	Skip     int
	Limit    int
}

// Store defines the persistence collaborator for workflow definitions,
// version history, executions and scheduled jobs. The engine and scheduler
// never talk to a database directly; they go through this interface.
type Store interface {
	// SaveWorkflow saves a workflow definition.
	SaveWorkflow(ctx context.Context, wf types.Workflow) error

	// GetWorkflow retrieves a workflow by ID.
	GetWorkflow(ctx context.Context, id string) (types.Workflow, error)

	// DeleteWorkflow removes a workflow and its version history.
	DeleteWorkflow(ctx context.Context, id string) error

	// ListWorkflows lists a tenant's workflows, optionally filtered. An
	// empty tenantID lists across all tenants.
	ListWorkflows(ctx context.Context, tenantID string, f ListFilter) ([]types.Workflow, error)

	// SaveVersion appends an immutable version snapshot.
	SaveVersion(ctx context.Context, v types.WorkflowVersion) error

	// GetVersion retrieves one version snapshot.
	GetVersion(ctx context.Context, workflowID string, version int) (types.WorkflowVersion, error)

	// ListVersions lists all version snapshots of a workflow, oldest first.
	ListVersions(ctx context.Context, workflowID string) ([]types.WorkflowVersion, error)

	// SaveExecution saves a workflow execution.
	SaveExecution(ctx context.Context, exec types.WorkflowExecution) error

	// GetExecution retrieves an execution by ID.
	GetExecution(ctx context.Context, id uint64) (types.WorkflowExecution, error)

	// ListExecutions lists a workflow's executions, most recent first.
	ListExecutions(ctx context.Context, workflowID string, limit int) ([]types.WorkflowExecution, error)

	// SaveJob saves a scheduled job, keyed by workflow ID.
	SaveJob(ctx context.Context, job types.ScheduledJob) error

	// GetJob retrieves a scheduled job by workflow ID.
	GetJob(ctx context.Context, workflowID string) (types.ScheduledJob, error)

	// DeleteJob removes a scheduled job.
	DeleteJob(ctx context.Context, workflowID string) error

	// ListJobs lists all scheduled jobs.
	ListJobs(ctx context.Context) ([]types.ScheduledJob, error)
}

// withContext is a standalone generic helper function.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
		return fn()
	}
}

// withContextError handles context cancellation for operations that only
// return an error.
func withContextError(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}
