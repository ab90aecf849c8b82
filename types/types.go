package types

import (
	"encoding/json"
	"time"
)

// Workflow statuses.
const (
	StatusDraft    = "draft"
	StatusActive   = "active"
	StatusPaused   = "paused"
	StatusArchived = "archived"
)

// Execution statuses.
const (
	ExecPending   = "pending"
	ExecRunning   = "running"
	ExecCompleted = "completed"
	ExecFailed    = "failed"
	ExecCancelled = "cancelled"
	ExecWaiting   = "waiting"
)

// Step statuses.
const (
	StepPending   = "pending"
	StepRunning   = "running"
	StepCompleted = "completed"
	StepFailed    = "failed"
	StepSkipped   = "skipped"
)

// Node types.
const (
	NodeTypeTrigger   = "trigger"
	NodeTypeAction    = "action"
	NodeTypeCondition = "condition"
	NodeTypeLoop      = "loop"
	NodeTypeParallel  = "parallel"
	NodeTypeDelay     = "delay"
	NodeTypeEnd       = "end"
)

// Trigger types.
const (
	TriggerManual   = "manual"
	TriggerEvent    = "event"
	TriggerSchedule = "schedule"
)

// Schedule types.
const (
	ScheduleCron     = "cron"
	ScheduleInterval = "interval"
	ScheduleDaily    = "daily"
	ScheduleWeekly   = "weekly"
)

// Visit policies for nodes reachable from more than one branch.
const (
	// VisitReplay executes a node once per incoming path.
	VisitReplay = "replay"
	// VisitSingle executes a node at most once per run.
	VisitSingle = "single"
)

// EdgeSourceTrigger is the special edge source marking the graph's start set.
const EdgeSourceTrigger = "trigger"

// Trigger describes what starts a workflow.
type Trigger struct {
	Type     string         `json:"type"` // "manual", "event", "schedule"
	Event    string         `json:"event,omitempty"`
	Schedule *ScheduleSpec  `json:"schedule,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
}

// ScheduleSpec configures a schedule trigger or a scheduled job.
type ScheduleSpec struct {
	Type            string `json:"type"` // "cron", "interval", "daily", "weekly"
	Cron            string `json:"cron,omitempty"`
	IntervalSeconds int    `json:"interval_seconds,omitempty"`
	TimeOfDay       string `json:"time_of_day,omitempty"` // "HH:MM" for daily/weekly
	Weekday         int    `json:"weekday,omitempty"`     // 0 = Sunday, for weekly
}

// Condition is a boolean expression over the run context. Either a single
// comparison (Field/Op/Value), a conjunction (All) or disjunction (Any) of
// sub-conditions, or a raw expr-lang expression.
type Condition struct {
	Field string      `json:"field,omitempty"`
	Op    string      `json:"op,omitempty"`
	Value any         `json:"value,omitempty"`
	All   []Condition `json:"all,omitempty"`
	Any   []Condition `json:"any,omitempty"`
	Expr  string      `json:"expr,omitempty"`
}

// Comparison operators for Condition.Op.
const (
	OpEq       = "eq"
	OpNeq      = "neq"
	OpGt       = "gt"
	OpGte      = "gte"
	OpLt       = "lt"
	OpLte      = "lte"
	OpEmpty    = "empty"
	OpNotEmpty = "not_empty"
)

// ConditionSpec is the payload of a condition node.
type ConditionSpec struct {
	If          Condition `json:"if"`
	TrueBranch  []string  `json:"true_branch,omitempty"`
	FalseBranch []string  `json:"false_branch,omitempty"`
}

// LoopSpec is the payload of a loop node. Collection is resolved against
// the run context and must yield a sequence.
type LoopSpec struct {
	Collection string   `json:"collection"`
	ItemVar    string   `json:"item_var"`
	Body       []string `json:"body"`
}

// ParallelSpec is the payload of a parallel node. Each branch is a node-id
// list executed concurrently against its own copy of the context.
type ParallelSpec struct {
	Branches [][]string `json:"branches"`
}

// DelaySpec is the payload of a delay node. Either a fixed duration in
// seconds or an expression resolving to a target timestamp (RFC 3339 or
// unix seconds).
type DelaySpec struct {
	Seconds int    `json:"seconds,omitempty"`
	Until   string `json:"until,omitempty"`
}

// Node is a single vertex in the workflow graph. Type selects which of the
// per-variant payloads applies; the engine rejects unknown types.
type Node struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Name       string         `json:"name,omitempty"`
	Action     string         `json:"action,omitempty"`
	Condition  *ConditionSpec `json:"condition,omitempty"`
	Loop       *LoopSpec      `json:"loop,omitempty"`
	Parallel   *ParallelSpec  `json:"parallel,omitempty"`
	Delay      *DelaySpec     `json:"delay,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
	Outputs    []string       `json:"outputs,omitempty"`
	MaxRetries int            `json:"max_retries,omitempty"`
}

// Edge is a directed source -> target pair. Condition tags "true"/"false"
// select the branch taken after a condition node; empty means a plain edge.
type Edge struct {
	Source    string `json:"source"`
	Target    string `json:"target"`
	Condition string `json:"condition,omitempty"`
}

// Settings holds per-workflow execution tuning.
type Settings struct {
	VisitPolicy string `json:"visit_policy,omitempty"` // "replay" (default) or "single"
}

// Stats carries running counters for a workflow.
type Stats struct {
	RunCount     int64      `json:"run_count"`
	SuccessCount int64      `json:"success_count"`
	FailureCount int64      `json:"failure_count"`
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
}

// Workflow is a versioned, tenant-owned automation definition.
type Workflow struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Category    string         `json:"category,omitempty"`
	Status      string         `json:"status"`
	Version     int            `json:"version"`
	Trigger     Trigger        `json:"trigger"`
	Nodes       []Node         `json:"nodes"`
	Edges       []Edge         `json:"edges"`
	Variables   map[string]any `json:"variables,omitempty"`
	Settings    Settings       `json:"settings,omitempty"`
	Stats       Stats          `json:"stats"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// FindNode returns the node with the given id, or false.
func (w *Workflow) FindNode(id string) (Node, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// StartNodes returns the targets of edges leaving the implicit trigger, in
// declaration order.
func (w *Workflow) StartNodes() []string {
	var ids []string
	for _, e := range w.Edges {
		if e.Source == EdgeSourceTrigger {
			ids = append(ids, e.Target)
		}
	}
	return ids
}

// ToMap serializes the workflow to a generic map representation.
func (w Workflow) ToMap() (map[string]any, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// WorkflowFromMap reconstructs a workflow from its map representation.
func WorkflowFromMap(m map[string]any) (Workflow, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return Workflow{}, err
	}
	var w Workflow
	if err := json.Unmarshal(data, &w); err != nil {
		return Workflow{}, err
	}
	return w, nil
}

// WorkflowVersion is an immutable snapshot taken on every edit.
type WorkflowVersion struct {
	WorkflowID string    `json:"workflow_id"`
	Version    int       `json:"version"`
	Snapshot   Workflow  `json:"snapshot"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// StepExecution records one visit of one node during a run.
type StepExecution struct {
	ID          uint64         `json:"id"`
	NodeID      string         `json:"node_id"`
	Status      string         `json:"status"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	RetryCount  int            `json:"retry_count"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// WorkflowExecution is one run of a workflow. Mutated only by the engine
// while in flight; immutable once the status is terminal.
type WorkflowExecution struct {
	ID              uint64          `json:"id"`
	WorkflowID      string          `json:"workflow_id"`
	WorkflowVersion int             `json:"workflow_version"`
	TenantID        string          `json:"tenant_id,omitempty"`
	Status          string          `json:"status"`
	TriggerType     string          `json:"trigger_type"`
	TriggerPayload  map[string]any  `json:"trigger_payload,omitempty"`
	Input           map[string]any  `json:"input,omitempty"`
	Context         map[string]any  `json:"context,omitempty"`
	Steps           []StepExecution `json:"steps"`
	CurrentNodeID   string          `json:"current_node_id,omitempty"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// ScheduledJob drives schedule-triggered workflows.
type ScheduledJob struct {
	WorkflowID string       `json:"workflow_id"`
	TenantID   string       `json:"tenant_id,omitempty"`
	Schedule   ScheduleSpec `json:"schedule"`
	Enabled    bool         `json:"enabled"`
	NextRun    time.Time    `json:"next_run"`
	LastRun    *time.Time   `json:"last_run,omitempty"`
	RunCount   int64        `json:"run_count"`
	ErrorCount int64        `json:"error_count"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}
