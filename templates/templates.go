// Package templates holds reusable workflow blueprints that tenants can
// instantiate into their own draft workflows.
package templates

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tenantflow/engine/types"
)

// ErrTemplateNotFound is returned when a template ID is unknown.
var ErrTemplateNotFound = errors.New("template not found")

// Template is a named, categorized workflow blueprint. The Definition
// carries nodes, edges and trigger; identity fields are filled in at
// instantiation time.
type Template struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Category    string         `json:"category"`
	Definition  types.Workflow `json:"definition"`
}

// Catalog is an in-memory template registry.
type Catalog struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{templates: make(map[string]Template)}
}

// Register adds or replaces a template.
func (c *Catalog) Register(t Template) error {
	if t.ID == "" {
		return fmt.Errorf("template must have an ID")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.templates[t.ID] = t
	return nil
}

// Get retrieves a template by ID.
func (c *Catalog) Get(id string) (Template, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.templates[id]
	if !ok {
		return Template{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	return t, nil
}

// List returns templates, optionally filtered by category, sorted by ID.
func (c *Catalog) List(category string) []Template {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Template, 0, len(c.templates))
	for _, t := range c.templates {
		if category != "" && t.Category != category {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Instantiate copies a template's definition into a fresh draft workflow
// for the tenant. The copy gets its own ID and starts at version 0 so the
// definition service assigns version 1 on create.
func (c *Catalog) Instantiate(templateID, tenantID, name string) (types.Workflow, error) {
	t, err := c.Get(templateID)
	if err != nil {
		return types.Workflow{}, err
	}

	// Deep copy through the map form so the caller cannot mutate the
	// template's nodes in place.
	snapshot, err := t.Definition.ToMap()
	if err != nil {
		return types.Workflow{}, fmt.Errorf("failed to copy template %s: %w", templateID, err)
	}
	wf, err := types.WorkflowFromMap(snapshot)
	if err != nil {
		return types.Workflow{}, fmt.Errorf("failed to copy template %s: %w", templateID, err)
	}

	wf.ID = uuid.NewString()
	wf.TenantID = tenantID
	if name != "" {
		wf.Name = name
	}
	wf.Status = types.StatusDraft
	wf.Version = 0
	wf.Stats = types.Stats{}
	wf.CreatedAt = time.Time{}
	wf.UpdatedAt = time.Time{}
	return wf, nil
}

// DefaultCatalog builds a catalog pre-loaded with the built-in templates.
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	for _, t := range builtins() {
		_ = c.Register(t)
	}
	return c
}

func builtins() []Template {
	return []Template{
		{
			ID:          "welcome-sequence",
			Name:        "Welcome sequence",
			Description: "Greets a new signup, waits a day, then follows up.",
			Category:    "onboarding",
			Definition: types.Workflow{
				Name:    "Welcome sequence",
				Trigger: types.Trigger{Type: types.TriggerEvent, Event: "user.signup"},
				Nodes: []types.Node{
					{ID: "send-welcome", Type: types.NodeTypeAction, Name: "Send welcome", Action: "send_email",
						Config: map[string]interface{}{"template": "welcome", "to": "{{trigger.email}}"}},
					{ID: "wait-a-day", Type: types.NodeTypeDelay, Name: "Wait a day",
						Delay: &types.DelaySpec{Seconds: 86400}},
					{ID: "send-followup", Type: types.NodeTypeAction, Name: "Send follow-up", Action: "send_email",
						Config: map[string]interface{}{"template": "followup", "to": "{{trigger.email}}"}},
					{ID: "done", Type: types.NodeTypeEnd, Name: "Done"},
				},
				Edges: []types.Edge{
					{Source: types.EdgeSourceTrigger, Target: "send-welcome"},
					{Source: "send-welcome", Target: "wait-a-day"},
					{Source: "wait-a-day", Target: "send-followup"},
					{Source: "send-followup", Target: "done"},
				},
			},
		},
		{
			ID:          "order-routing",
			Name:        "Order routing",
			Description: "Routes incoming orders by total value.",
			Category:    "commerce",
			Definition: types.Workflow{
				Name:    "Order routing",
				Trigger: types.Trigger{Type: types.TriggerEvent, Event: "order.created"},
				Nodes: []types.Node{
					{ID: "check-total", Type: types.NodeTypeCondition, Name: "High value?",
						Condition: &types.ConditionSpec{
							If:          types.Condition{Field: "{{trigger.total}}", Op: types.OpGt, Value: 500},
							TrueBranch:  []string{"flag-review"},
							FalseBranch: []string{"auto-approve"},
						}},
					{ID: "flag-review", Type: types.NodeTypeAction, Name: "Flag for review", Action: "create_task",
						Config: map[string]interface{}{"queue": "review", "order_id": "{{trigger.order_id}}"}},
					{ID: "auto-approve", Type: types.NodeTypeAction, Name: "Auto approve", Action: "approve_order",
						Config: map[string]interface{}{"order_id": "{{trigger.order_id}}"}},
				},
				Edges: []types.Edge{
					{Source: types.EdgeSourceTrigger, Target: "check-total"},
				},
			},
		},
		{
			ID:          "nightly-digest",
			Name:        "Nightly digest",
			Description: "Collects the day's activity and emails a digest every night.",
			Category:    "reporting",
			Definition: types.Workflow{
				Name: "Nightly digest",
				Trigger: types.Trigger{
					Type:     types.TriggerSchedule,
					Schedule: &types.ScheduleSpec{Type: types.ScheduleDaily, TimeOfDay: "02:00"},
				},
				Nodes: []types.Node{
					{ID: "collect", Type: types.NodeTypeAction, Name: "Collect activity", Action: "collect_activity",
						Outputs: []string{"summary"}},
					{ID: "send", Type: types.NodeTypeAction, Name: "Send digest", Action: "send_email",
						Config: map[string]interface{}{"template": "digest", "body": "{{summary}}"}},
				},
				Edges: []types.Edge{
					{Source: types.EdgeSourceTrigger, Target: "collect"},
					{Source: "collect", Target: "send"},
				},
			},
		},
	}
}
