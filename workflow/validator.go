package workflow

import (
	"fmt"

	"github.com/tenantflow/engine/types"
)

// maxDelaySeconds caps fixed delay nodes at 24 hours.
const maxDelaySeconds = 24 * 60 * 60

// ValidationError describes one problem found in a workflow definition.
type ValidationError struct {
	NodeID  string `json:"node_id,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("node %s: %s", e.NodeID, e.Message)
	}
	return e.Message
}

// Validate checks a workflow definition and returns every problem found.
// A workflow may not transition to active while this returns errors.
func Validate(wf types.Workflow) []ValidationError {
	var errs []ValidationError
	add := func(nodeID, field, format string, args ...any) {
		errs = append(errs, ValidationError{NodeID: nodeID, Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if wf.Name == "" {
		add("", "name", "workflow must have a name")
	}
	if len(wf.Nodes) == 0 {
		add("", "nodes", "workflow must have at least one node")
	}

	switch wf.Trigger.Type {
	case "":
		add("", "trigger", "workflow must have a trigger")
	case types.TriggerManual:
	case types.TriggerEvent:
		if wf.Trigger.Event == "" {
			add("", "trigger", "event trigger must specify an event name")
		}
	case types.TriggerSchedule:
		errs = append(errs, validateSchedule(wf.Trigger.Schedule)...)
	default:
		add("", "trigger", "unknown trigger type %q", wf.Trigger.Type)
	}

	nodeIDs := make(map[string]bool, len(wf.Nodes))
	for _, node := range wf.Nodes {
		if node.ID == "" {
			add("", "nodes", "node ID cannot be empty")
			continue
		}
		if nodeIDs[node.ID] {
			add(node.ID, "nodes", "duplicate node ID %q", node.ID)
		}
		nodeIDs[node.ID] = true
	}

	// referenced collects node ids reachable through edges or branch lists
	// for orphan detection.
	referenced := make(map[string]bool)
	checkRef := func(nodeID, field, ref string) {
		if !nodeIDs[ref] {
			add(nodeID, field, "references unknown node %q", ref)
		}
		referenced[ref] = true
	}

	for _, edge := range wf.Edges {
		if edge.Source != types.EdgeSourceTrigger {
			if !nodeIDs[edge.Source] {
				add("", "edges", "edge source references unknown node %q", edge.Source)
			}
			referenced[edge.Source] = true
		}
		checkRef("", "edges", edge.Target)
	}

	for _, node := range wf.Nodes {
		switch node.Type {
		case types.NodeTypeTrigger, types.NodeTypeEnd:
		case types.NodeTypeAction:
			if node.Action == "" {
				add(node.ID, "action", "action node must specify a handler name")
			}
		case types.NodeTypeCondition:
			if node.Condition == nil {
				add(node.ID, "condition", "condition node must specify a condition")
				continue
			}
			for _, ref := range node.Condition.TrueBranch {
				checkRef(node.ID, "condition.true_branch", ref)
			}
			for _, ref := range node.Condition.FalseBranch {
				checkRef(node.ID, "condition.false_branch", ref)
			}
		case types.NodeTypeLoop:
			if node.Loop == nil {
				add(node.ID, "loop", "loop node must specify a loop spec")
				continue
			}
			if node.Loop.Collection == "" {
				add(node.ID, "loop.collection", "loop node must specify a collection expression")
			}
			if node.Loop.ItemVar == "" {
				add(node.ID, "loop.item_var", "loop node must specify an item variable name")
			}
			if len(node.Loop.Body) == 0 {
				add(node.ID, "loop.body", "loop node must have a non-empty body")
			}
			for _, ref := range node.Loop.Body {
				checkRef(node.ID, "loop.body", ref)
			}
		case types.NodeTypeParallel:
			if node.Parallel == nil || len(node.Parallel.Branches) == 0 {
				add(node.ID, "parallel", "parallel node must have at least one branch")
				continue
			}
			for _, branch := range node.Parallel.Branches {
				for _, ref := range branch {
					checkRef(node.ID, "parallel.branches", ref)
				}
			}
		case types.NodeTypeDelay:
			if node.Delay == nil || (node.Delay.Seconds <= 0 && node.Delay.Until == "") {
				add(node.ID, "delay", "delay node must specify a duration or a target timestamp")
			} else if node.Delay.Seconds > maxDelaySeconds {
				add(node.ID, "delay.seconds", "fixed delay may not exceed %d seconds", maxDelaySeconds)
			}
		default:
			add(node.ID, "type", "unknown node type %q", node.Type)
		}
	}

	if len(wf.Nodes) > 0 && len(wf.StartNodes()) == 0 {
		add("", "edges", "no node is reachable from the trigger")
	}

	// Orphan detection: a node must appear as an edge target, an edge
	// source, or inside a branch/body list. Disconnected nodes are errors,
	// not silently ignored.
	for _, node := range wf.Nodes {
		if node.ID != "" && !referenced[node.ID] {
			add(node.ID, "nodes", "node is not connected to the graph")
		}
	}

	return errs
}

func validateSchedule(spec *types.ScheduleSpec) []ValidationError {
	if spec == nil {
		return []ValidationError{{Field: "trigger", Message: "schedule trigger must specify a schedule"}}
	}
	var errs []ValidationError
	switch spec.Type {
	case types.ScheduleCron:
		if spec.Cron == "" {
			errs = append(errs, ValidationError{Field: "trigger.schedule", Message: "cron schedule must specify a cron expression"})
		}
	case types.ScheduleInterval:
		if spec.IntervalSeconds <= 0 {
			errs = append(errs, ValidationError{Field: "trigger.schedule", Message: "interval schedule must specify a positive interval"})
		}
	case types.ScheduleDaily:
		if spec.TimeOfDay == "" {
			errs = append(errs, ValidationError{Field: "trigger.schedule", Message: "daily schedule must specify a time of day"})
		}
	case types.ScheduleWeekly:
		if spec.TimeOfDay == "" {
			errs = append(errs, ValidationError{Field: "trigger.schedule", Message: "weekly schedule must specify a time of day"})
		}
		if spec.Weekday < 0 || spec.Weekday > 6 {
			errs = append(errs, ValidationError{Field: "trigger.schedule", Message: "weekly schedule weekday must be 0-6"})
		}
	default:
		errs = append(errs, ValidationError{Field: "trigger.schedule", Message: fmt.Sprintf("schedule trigger must specify a cron expression or an interval, got type %q", spec.Type)})
	}
	return errs
}
