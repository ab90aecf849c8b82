package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tenantflow/engine/storage"
	"github.com/tenantflow/engine/types"
)

// JobManager is the scheduler surface the service uses to keep scheduled
// jobs in sync with workflow activation.
type JobManager interface {
	AddJob(ctx context.Context, job types.ScheduledJob) error
	RemoveJob(ctx context.Context, workflowID string) error
}

// EventSubscriber is the trigger-registry surface the service uses to
// bind event-triggered workflows.
type EventSubscriber interface {
	Subscribe(workflowID, tenantID, eventType string)
	Unsubscribe(workflowID string, eventTypes ...string)
}

// Service owns the workflow definition lifecycle: create, versioned
// updates, activation (gated on validation), trigger bindings, rollback
// and manual runs.
type Service struct {
	store  storage.Store
	engine *Engine
	jobs   JobManager
	subs   EventSubscriber
	logger *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithJobManager wires the scheduler for schedule-triggered workflows.
func WithJobManager(jobs JobManager) ServiceOption {
	return func(s *Service) { s.jobs = jobs }
}

// WithEventSubscriber wires the trigger registry for event-triggered
// workflows.
func WithEventSubscriber(subs EventSubscriber) ServiceOption {
	return func(s *Service) { s.subs = subs }
}

// WithServiceLogger sets the service logger.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a workflow definition service.
func NewService(store storage.Store, engine *Engine, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		engine: engine,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a new draft workflow at version 1 and snapshots it.
func (s *Service) Create(ctx context.Context, wf types.Workflow) (*types.Workflow, error) {
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	now := time.Now()
	wf.Status = types.StatusDraft
	wf.Version = 1
	wf.Stats = types.Stats{}
	wf.CreatedAt = now
	wf.UpdatedAt = now

	if err := s.store.SaveWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	if err := s.snapshot(ctx, wf, "created"); err != nil {
		return nil, err
	}
	return &wf, nil
}

// Get retrieves a workflow by ID.
func (s *Service) Get(ctx context.Context, id string) (*types.Workflow, error) {
	wf, err := s.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	return &wf, nil
}

// List lists a tenant's workflows.
func (s *Service) List(ctx context.Context, tenantID string, f storage.ListFilter) ([]types.Workflow, error) {
	return s.store.ListWorkflows(ctx, tenantID, f)
}

// Update replaces a workflow's definition, bumping the version and
// snapshotting the new state. History is append-only: earlier snapshots
// are never touched. Identity, status, stats and creation time carry over.
func (s *Service) Update(ctx context.Context, wf types.Workflow) (*types.Workflow, error) {
	current, err := s.store.GetWorkflow(ctx, wf.ID)
	if err != nil {
		return nil, err
	}

	wf.TenantID = current.TenantID
	wf.Status = current.Status
	wf.Stats = current.Stats
	wf.CreatedAt = current.CreatedAt
	wf.Version = current.Version + 1
	wf.UpdatedAt = time.Now()

	if err := s.store.SaveWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	if err := s.snapshot(ctx, wf, "updated"); err != nil {
		return nil, err
	}
	if wf.Status == types.StatusActive {
		s.unbind(ctx, wf)
		s.bind(ctx, wf)
	}
	return &wf, nil
}

// Activate validates a workflow and, when clean, transitions it to active
// and binds its trigger. Validation errors block activation.
func (s *Service) Activate(ctx context.Context, id string) (*types.Workflow, []ValidationError, error) {
	wf, err := s.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if errs := Validate(wf); len(errs) > 0 {
		return nil, errs, nil
	}

	wf.Status = types.StatusActive
	wf.UpdatedAt = time.Now()
	if err := s.store.SaveWorkflow(ctx, wf); err != nil {
		return nil, nil, err
	}
	s.bind(ctx, wf)
	return &wf, nil, nil
}

// Pause transitions a workflow to paused and removes its trigger bindings.
func (s *Service) Pause(ctx context.Context, id string) (*types.Workflow, error) {
	return s.deactivate(ctx, id, types.StatusPaused)
}

// Archive transitions a workflow to archived and removes its bindings.
func (s *Service) Archive(ctx context.Context, id string) (*types.Workflow, error) {
	return s.deactivate(ctx, id, types.StatusArchived)
}

func (s *Service) deactivate(ctx context.Context, id, status string) (*types.Workflow, error) {
	wf, err := s.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	wf.Status = status
	wf.UpdatedAt = time.Now()
	if err := s.store.SaveWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	s.unbind(ctx, wf)
	return &wf, nil
}

// Delete removes a workflow, its bindings and its version history.
func (s *Service) Delete(ctx context.Context, id string) error {
	wf, err := s.store.GetWorkflow(ctx, id)
	if err != nil {
		return err
	}
	s.unbind(ctx, wf)
	return s.store.DeleteWorkflow(ctx, id)
}

// ListVersions lists a workflow's version history, oldest first.
func (s *Service) ListVersions(ctx context.Context, id string) ([]types.WorkflowVersion, error) {
	return s.store.ListVersions(ctx, id)
}

// GetVersion retrieves one version snapshot.
func (s *Service) GetVersion(ctx context.Context, id string, version int) (*types.WorkflowVersion, error) {
	v, err := s.store.GetVersion(ctx, id, version)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Rollback restores an earlier snapshot's definition as a new version.
// An active workflow must still validate after the rollback.
func (s *Service) Rollback(ctx context.Context, id string, version int) (*types.Workflow, []ValidationError, error) {
	current, err := s.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	v, err := s.store.GetVersion(ctx, id, version)
	if err != nil {
		return nil, nil, err
	}

	wf := v.Snapshot
	wf.ID = current.ID
	wf.TenantID = current.TenantID
	wf.Status = current.Status
	wf.Stats = current.Stats
	wf.CreatedAt = current.CreatedAt
	wf.Version = current.Version + 1
	wf.UpdatedAt = time.Now()

	if wf.Status == types.StatusActive {
		if errs := Validate(wf); len(errs) > 0 {
			return nil, errs, nil
		}
	}

	if err := s.store.SaveWorkflow(ctx, wf); err != nil {
		return nil, nil, err
	}
	if err := s.snapshot(ctx, wf, fmt.Sprintf("rolled back to version %d", version)); err != nil {
		return nil, nil, err
	}
	if wf.Status == types.StatusActive {
		s.unbind(ctx, wf)
		s.bind(ctx, wf)
	}
	return &wf, nil, nil
}

// TriggerManual runs an active workflow with a manual trigger payload.
func (s *Service) TriggerManual(ctx context.Context, id string, params map[string]interface{}) (*types.WorkflowExecution, error) {
	wf, err := s.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if wf.Status != types.StatusActive {
		return nil, fmt.Errorf("workflow %s is %s, not active", id, wf.Status)
	}
	trigger := TriggerInfo{
		Type: types.TriggerManual,
		Payload: map[string]interface{}{
			"source":    types.TriggerManual,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}
	return s.engine.Execute(ctx, wf, trigger, params)
}

// TestRun performs a dry validation of a definition without persisting
// anything.
func (s *Service) TestRun(wf types.Workflow) []ValidationError {
	return Validate(wf)
}

// ListExecutions lists a workflow's run history, most recent first.
func (s *Service) ListExecutions(ctx context.Context, id string, limit int) ([]types.WorkflowExecution, error) {
	return s.store.ListExecutions(ctx, id, limit)
}

// GetExecution retrieves one execution record.
func (s *Service) GetExecution(ctx context.Context, executionID uint64) (*types.WorkflowExecution, error) {
	return s.engine.GetExecution(ctx, executionID)
}

// CancelExecution requests cancellation of an in-flight run. Returns false
// when no run with that ID is currently executing.
func (s *Service) CancelExecution(executionID uint64) bool {
	return s.engine.Cancel(executionID)
}

// ResumeExecution resumes a waiting run from its recorded position.
func (s *Service) ResumeExecution(ctx context.Context, executionID uint64) (*types.WorkflowExecution, error) {
	return s.engine.Resume(ctx, executionID)
}

func (s *Service) snapshot(ctx context.Context, wf types.Workflow, comment string) error {
	return s.store.SaveVersion(ctx, types.WorkflowVersion{
		WorkflowID: wf.ID,
		Version:    wf.Version,
		Snapshot:   wf,
		Comment:    comment,
		CreatedAt:  time.Now(),
	})
}

// bind attaches a freshly activated workflow to its trigger source.
func (s *Service) bind(ctx context.Context, wf types.Workflow) {
	switch wf.Trigger.Type {
	case types.TriggerEvent:
		if s.subs != nil {
			s.subs.Subscribe(wf.ID, wf.TenantID, wf.Trigger.Event)
		}
	case types.TriggerSchedule:
		if s.jobs != nil && wf.Trigger.Schedule != nil {
			job := types.ScheduledJob{
				WorkflowID: wf.ID,
				TenantID:   wf.TenantID,
				Schedule:   *wf.Trigger.Schedule,
				Enabled:    true,
				CreatedAt:  time.Now(),
				UpdatedAt:  time.Now(),
			}
			if err := s.jobs.AddJob(ctx, job); err != nil {
				s.logger.Error("failed to register scheduled job", "workflow_id", wf.ID, "error", err)
			}
		}
	}
}

func (s *Service) unbind(ctx context.Context, wf types.Workflow) {
	if s.subs != nil {
		s.subs.Unsubscribe(wf.ID)
	}
	if s.jobs != nil {
		if err := s.jobs.RemoveJob(ctx, wf.ID); err != nil {
			s.logger.Error("failed to remove scheduled job", "workflow_id", wf.ID, "error", err)
		}
	}
}
