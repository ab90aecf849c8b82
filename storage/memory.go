package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tenantflow/engine/types"
)

// MemoryStore is an in-memory implementation of the Store interface.
type MemoryStore struct {
	workflows  map[string]types.Workflow
	versions   map[string][]types.WorkflowVersion
	executions map[uint64]types.WorkflowExecution
	jobs       map[string]types.ScheduledJob
	mu         sync.RWMutex
}

// NewMemoryStore creates a new MemoryStore instance.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows:  make(map[string]types.Workflow),
		versions:   make(map[string][]types.WorkflowVersion),
		executions: make(map[uint64]types.WorkflowExecution),
		jobs:       make(map[string]types.ScheduledJob),
	}
}

// getItem is a standalone generic helper function.
func getItem[K comparable, T any](ctx context.Context, mu *sync.RWMutex, m map[K]T, id K, errNotFound error) (T, error) {
	return withContext(ctx, func() (T, error) {
		mu.RLock()
		defer mu.RUnlock()
		item, ok := m[id]
		if !ok {
			var zero T
			return zero, fmt.Errorf("%w: id=%v", errNotFound, id)
		}
		return item, nil
	})
}

// SaveWorkflow saves a workflow to memory.
func (s *MemoryStore) SaveWorkflow(ctx context.Context, wf types.Workflow) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.workflows[wf.ID] = wf
		return nil
	})
}

// GetWorkflow retrieves a workflow from memory.
func (s *MemoryStore) GetWorkflow(ctx context.Context, id string) (types.Workflow, error) {
	return getItem(ctx, &s.mu, s.workflows, id, ErrWorkflowNotFound)
}

// DeleteWorkflow removes a workflow and its version history.
func (s *MemoryStore) DeleteWorkflow(ctx context.Context, id string) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.workflows[id]; !ok {
			return fmt.Errorf("%w: id=%v", ErrWorkflowNotFound, id)
		}
		delete(s.workflows, id)
		delete(s.versions, id)
		delete(s.jobs, id)
		return nil
	})
}

// ListWorkflows lists a tenant's workflows filtered by status/category with
// skip/limit paging. An empty tenantID lists across all tenants. Results
// are ordered by creation time, oldest first.
func (s *MemoryStore) ListWorkflows(ctx context.Context, tenantID string, f ListFilter) ([]types.Workflow, error) {
	return withContext(ctx, func() ([]types.Workflow, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()

		var out []types.Workflow
		for _, wf := range s.workflows {
			if tenantID != "" && wf.TenantID != tenantID {
				continue
			}
			if f.Status != "" && wf.Status != f.Status {
				continue
			}
			if f.Category != "" && wf.Category != f.Category {
				continue
			}
			out = append(out, wf)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

		if f.Skip > 0 {
			if f.Skip >= len(out) {
				return nil, nil
			}
			out = out[f.Skip:]
		}
		if f.Limit > 0 && f.Limit < len(out) {
			out = out[:f.Limit]
		}
		return out, nil
	})
}

// SaveVersion appends a version snapshot. History is append-only.
func (s *MemoryStore) SaveVersion(ctx context.Context, v types.WorkflowVersion) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.versions[v.WorkflowID] = append(s.versions[v.WorkflowID], v)
		return nil
	})
}

// GetVersion retrieves one version snapshot.
func (s *MemoryStore) GetVersion(ctx context.Context, workflowID string, version int) (types.WorkflowVersion, error) {
	return withContext(ctx, func() (types.WorkflowVersion, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		for _, v := range s.versions[workflowID] {
			if v.Version == version {
				return v, nil
			}
		}
		return types.WorkflowVersion{}, fmt.Errorf("%w: workflow=%s version=%d", ErrVersionNotFound, workflowID, version)
	})
}

// ListVersions lists version snapshots, oldest first.
func (s *MemoryStore) ListVersions(ctx context.Context, workflowID string) ([]types.WorkflowVersion, error) {
	return withContext(ctx, func() ([]types.WorkflowVersion, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		out := append([]types.WorkflowVersion(nil), s.versions[workflowID]...)
		sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
		return out, nil
	})
}

// SaveExecution saves a workflow execution to memory.
func (s *MemoryStore) SaveExecution(ctx context.Context, exec types.WorkflowExecution) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.executions[exec.ID] = exec
		return nil
	})
}

// GetExecution retrieves an execution from memory.
func (s *MemoryStore) GetExecution(ctx context.Context, id uint64) (types.WorkflowExecution, error) {
	return getItem(ctx, &s.mu, s.executions, id, ErrExecutionNotFound)
}

// ListExecutions lists a workflow's executions, most recent first.
func (s *MemoryStore) ListExecutions(ctx context.Context, workflowID string, limit int) ([]types.WorkflowExecution, error) {
	return withContext(ctx, func() ([]types.WorkflowExecution, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		var out []types.WorkflowExecution
		for _, exec := range s.executions {
			if exec.WorkflowID == workflowID {
				out = append(out, exec)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
		if limit > 0 && limit < len(out) {
			out = out[:limit]
		}
		return out, nil
	})
}

// SaveJob saves a scheduled job to memory.
func (s *MemoryStore) SaveJob(ctx context.Context, job types.ScheduledJob) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.jobs[job.WorkflowID] = job
		return nil
	})
}

// GetJob retrieves a scheduled job from memory.
func (s *MemoryStore) GetJob(ctx context.Context, workflowID string) (types.ScheduledJob, error) {
	return getItem(ctx, &s.mu, s.jobs, workflowID, ErrJobNotFound)
}

// DeleteJob removes a scheduled job from memory.
func (s *MemoryStore) DeleteJob(ctx context.Context, workflowID string) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.jobs, workflowID)
		return nil
	})
}

// ListJobs lists all scheduled jobs.
func (s *MemoryStore) ListJobs(ctx context.Context) ([]types.ScheduledJob, error) {
	return withContext(ctx, func() ([]types.ScheduledJob, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		out := make([]types.ScheduledJob, 0, len(s.jobs))
		for _, job := range s.jobs {
			out = append(out, job)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].WorkflowID < out[j].WorkflowID })
		return out, nil
	})
}

// ClearCompleted removes executions in a terminal state, keeping the run
// history small in long-lived processes.
func (s *MemoryStore) ClearCompleted(ctx context.Context) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		for id, exec := range s.executions {
			switch exec.Status {
			case types.ExecCompleted, types.ExecFailed, types.ExecCancelled:
				delete(s.executions, id)
			}
		}
		return nil
	})
}
