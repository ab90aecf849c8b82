package workflow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tenantflow/engine/types"
)

func validWorkflow() types.Workflow {
	return types.Workflow{
		ID:      "wf-1",
		Name:    "valid",
		Trigger: types.Trigger{Type: types.TriggerManual},
		Nodes: []types.Node{
			{ID: "n1", Type: types.NodeTypeAction, Action: "do"},
			{ID: "n2", Type: types.NodeTypeEnd},
		},
		Edges: []types.Edge{
			{Source: types.EdgeSourceTrigger, Target: "n1"},
			{Source: "n1", Target: "n2"},
		},
	}
}

func TestValidateAcceptsValidWorkflow(t *testing.T) {
	assert.Empty(t, Validate(validWorkflow()))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*types.Workflow)
		wantMsg string
	}{
		{
			name:    "missing name",
			mutate:  func(wf *types.Workflow) { wf.Name = "" },
			wantMsg: "must have a name",
		},
		{
			name: "no nodes",
			mutate: func(wf *types.Workflow) {
				wf.Nodes = nil
				wf.Edges = nil
			},
			wantMsg: "at least one node",
		},
		{
			name:    "missing trigger",
			mutate:  func(wf *types.Workflow) { wf.Trigger = types.Trigger{} },
			wantMsg: "must have a trigger",
		},
		{
			name:    "unknown trigger type",
			mutate:  func(wf *types.Workflow) { wf.Trigger.Type = "webhook2" },
			wantMsg: "unknown trigger type",
		},
		{
			name: "event trigger without event",
			mutate: func(wf *types.Workflow) {
				wf.Trigger = types.Trigger{Type: types.TriggerEvent}
			},
			wantMsg: "must specify an event name",
		},
		{
			name: "schedule trigger without schedule",
			mutate: func(wf *types.Workflow) {
				wf.Trigger = types.Trigger{Type: types.TriggerSchedule}
			},
			wantMsg: "must specify a schedule",
		},
		{
			name: "cron schedule without expression",
			mutate: func(wf *types.Workflow) {
				wf.Trigger = types.Trigger{
					Type:     types.TriggerSchedule,
					Schedule: &types.ScheduleSpec{Type: types.ScheduleCron},
				}
			},
			wantMsg: "cron expression",
		},
		{
			name: "interval schedule without interval",
			mutate: func(wf *types.Workflow) {
				wf.Trigger = types.Trigger{
					Type:     types.TriggerSchedule,
					Schedule: &types.ScheduleSpec{Type: types.ScheduleInterval},
				}
			},
			wantMsg: "positive interval",
		},
		{
			name: "weekly schedule with bad weekday",
			mutate: func(wf *types.Workflow) {
				wf.Trigger = types.Trigger{
					Type:     types.TriggerSchedule,
					Schedule: &types.ScheduleSpec{Type: types.ScheduleWeekly, TimeOfDay: "09:00", Weekday: 9},
				}
			},
			wantMsg: "weekday must be 0-6",
		},
		{
			name: "duplicate node IDs",
			mutate: func(wf *types.Workflow) {
				wf.Nodes = append(wf.Nodes, types.Node{ID: "n1", Type: types.NodeTypeEnd})
			},
			wantMsg: "duplicate node ID",
		},
		{
			name: "empty node ID",
			mutate: func(wf *types.Workflow) {
				wf.Nodes = append(wf.Nodes, types.Node{Type: types.NodeTypeEnd})
			},
			wantMsg: "node ID cannot be empty",
		},
		{
			name: "edge to unknown node",
			mutate: func(wf *types.Workflow) {
				wf.Edges = append(wf.Edges, types.Edge{Source: "n1", Target: "ghost"})
			},
			wantMsg: "unknown node",
		},
		{
			name: "edge from unknown node",
			mutate: func(wf *types.Workflow) {
				wf.Edges = append(wf.Edges, types.Edge{Source: "ghost", Target: "n2"})
			},
			wantMsg: "unknown node",
		},
		{
			name: "action without handler",
			mutate: func(wf *types.Workflow) {
				wf.Nodes[0].Action = ""
			},
			wantMsg: "handler name",
		},
		{
			name: "condition without spec",
			mutate: func(wf *types.Workflow) {
				wf.Nodes[0] = types.Node{ID: "n1", Type: types.NodeTypeCondition}
			},
			wantMsg: "must specify a condition",
		},
		{
			name: "condition branch references unknown node",
			mutate: func(wf *types.Workflow) {
				wf.Nodes[0] = types.Node{ID: "n1", Type: types.NodeTypeCondition,
					Condition: &types.ConditionSpec{
						If:         types.Condition{Field: "x", Op: types.OpEq, Value: 1},
						TrueBranch: []string{"ghost"},
					}}
			},
			wantMsg: "unknown node",
		},
		{
			name: "loop without body",
			mutate: func(wf *types.Workflow) {
				wf.Nodes[0] = types.Node{ID: "n1", Type: types.NodeTypeLoop,
					Loop: &types.LoopSpec{Collection: "{{input.items}}", ItemVar: "item"}}
			},
			wantMsg: "non-empty body",
		},
		{
			name: "parallel without branches",
			mutate: func(wf *types.Workflow) {
				wf.Nodes[0] = types.Node{ID: "n1", Type: types.NodeTypeParallel,
					Parallel: &types.ParallelSpec{}}
			},
			wantMsg: "at least one branch",
		},
		{
			name: "delay without duration",
			mutate: func(wf *types.Workflow) {
				wf.Nodes[0] = types.Node{ID: "n1", Type: types.NodeTypeDelay,
					Delay: &types.DelaySpec{}}
			},
			wantMsg: "duration or a target timestamp",
		},
		{
			name: "delay exceeding the cap",
			mutate: func(wf *types.Workflow) {
				wf.Nodes[0] = types.Node{ID: "n1", Type: types.NodeTypeDelay,
					Delay: &types.DelaySpec{Seconds: maxDelaySeconds + 1}}
			},
			wantMsg: "may not exceed",
		},
		{
			name: "unknown node type",
			mutate: func(wf *types.Workflow) {
				wf.Nodes[0].Type = "teleport"
			},
			wantMsg: "unknown node type",
		},
		{
			name: "nothing reachable from trigger",
			mutate: func(wf *types.Workflow) {
				wf.Edges = []types.Edge{{Source: "n1", Target: "n2"}}
			},
			wantMsg: "reachable from the trigger",
		},
		{
			name: "orphan node",
			mutate: func(wf *types.Workflow) {
				wf.Nodes = append(wf.Nodes, types.Node{ID: "island", Type: types.NodeTypeEnd})
			},
			wantMsg: "not connected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := validWorkflow()
			tt.mutate(&wf)
			errs := Validate(wf)
			assert.NotEmpty(t, errs)

			found := false
			for _, e := range errs {
				if strings.Contains(e.Message, tt.wantMsg) {
					found = true
					break
				}
			}
			assert.True(t, found, "expected a validation error containing %q, got %v", tt.wantMsg, errs)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	wf := validWorkflow()
	wf.Name = ""
	wf.Nodes[0].Action = ""
	errs := Validate(wf)
	assert.GreaterOrEqual(t, len(errs), 2, "validation reports every problem, not only the first")
}

func TestValidationErrorString(t *testing.T) {
	e := ValidationError{NodeID: "n1", Field: "action", Message: "broken"}
	assert.Equal(t, "node n1: broken", e.Error())

	e = ValidationError{Message: "broken"}
	assert.Equal(t, "broken", e.Error())
}
