package templates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantflow/engine/types"
	"github.com/tenantflow/engine/workflow"
)

func sampleTemplate(id, category string) Template {
	return Template{
		ID:       id,
		Name:     "Sample " + id,
		Category: category,
		Definition: types.Workflow{
			Name:    "Sample " + id,
			Trigger: types.Trigger{Type: types.TriggerManual},
			Nodes: []types.Node{
				{ID: "step", Type: types.NodeTypeAction, Action: "noop",
					Config: map[string]interface{}{"key": "value"}},
			},
			Edges: []types.Edge{{Source: types.EdgeSourceTrigger, Target: "step"}},
		},
	}
}

func TestCatalogRegisterAndGet(t *testing.T) {
	c := NewCatalog()

	assert.Error(t, c.Register(Template{}), "templates need an ID")
	require.NoError(t, c.Register(sampleTemplate("t1", "misc")))

	got, err := c.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, "Sample t1", got.Name)

	_, err = c.Get("ghost")
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestCatalogList(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Register(sampleTemplate("b", "commerce")))
	require.NoError(t, c.Register(sampleTemplate("a", "commerce")))
	require.NoError(t, c.Register(sampleTemplate("c", "reporting")))

	all := c.List("")
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].ID, "sorted by ID")

	commerce := c.List("commerce")
	assert.Len(t, commerce, 2)

	assert.Empty(t, c.List("nonexistent"))
}

func TestInstantiate(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Register(sampleTemplate("t1", "misc")))

	wf, err := c.Instantiate("t1", "tenant-a", "My copy")
	require.NoError(t, err)
	assert.NotEmpty(t, wf.ID)
	assert.Equal(t, "tenant-a", wf.TenantID)
	assert.Equal(t, "My copy", wf.Name)
	assert.Equal(t, types.StatusDraft, wf.Status)
	assert.Equal(t, 0, wf.Version)

	// Omitting a name keeps the template's.
	wf2, err := c.Instantiate("t1", "tenant-a", "")
	require.NoError(t, err)
	assert.Equal(t, "Sample t1", wf2.Name)
	assert.NotEqual(t, wf.ID, wf2.ID, "each instance gets its own ID")

	_, err = c.Instantiate("ghost", "tenant-a", "")
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestInstantiateDeepCopies(t *testing.T) {
	c := NewCatalog()
	require.NoError(t, c.Register(sampleTemplate("t1", "misc")))

	wf, err := c.Instantiate("t1", "tenant-a", "")
	require.NoError(t, err)

	// Mutating the instance must not leak into the template.
	wf.Nodes[0].Config["key"] = "tampered"
	wf.Nodes[0].ID = "renamed"

	tpl, err := c.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, "value", tpl.Definition.Nodes[0].Config["key"])
	assert.Equal(t, "step", tpl.Definition.Nodes[0].ID)
}

func TestDefaultCatalogBuiltins(t *testing.T) {
	c := DefaultCatalog()

	all := c.List("")
	require.NotEmpty(t, all)

	// Every built-in must instantiate into a workflow that passes
	// validation, otherwise tenants start from broken drafts.
	for _, tpl := range all {
		wf, err := c.Instantiate(tpl.ID, "tenant-a", "")
		require.NoError(t, err, "template %s", tpl.ID)
		assert.Empty(t, workflow.Validate(wf), "template %s must validate", tpl.ID)
	}
}
