package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantflow/engine/types"
)

// newTestRedisStore connects to the Redis named by TEST_REDIS_ADDR, or
// skips the test when the variable is unset.
func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping Redis integration test")
	}
	store, err := NewRedisStore(RedisOptions{Addr: addr, DB: 15})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.client.FlushDB(context.Background()).Err()
		_ = store.Close()
	})
	require.NoError(t, store.client.FlushDB(context.Background()).Err())
	return store
}

func TestRedisStoreWorkflows(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	wf := sampleWorkflow("wf-1", "tenant-a")
	assert.NoError(t, store.SaveWorkflow(ctx, wf))

	got, err := store.GetWorkflow(ctx, "wf-1")
	assert.NoError(t, err)
	assert.Equal(t, wf.Name, got.Name)

	_, err = store.GetWorkflow(ctx, "missing")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)

	// Tenant index drives listing.
	assert.NoError(t, store.SaveWorkflow(ctx, sampleWorkflow("wf-2", "tenant-a")))
	assert.NoError(t, store.SaveWorkflow(ctx, sampleWorkflow("wf-3", "tenant-b")))

	out, err := store.ListWorkflows(ctx, "tenant-a", ListFilter{})
	assert.NoError(t, err)
	assert.Len(t, out, 2)

	// Global index lists across tenants.
	out, err = store.ListWorkflows(ctx, "", ListFilter{})
	assert.NoError(t, err)
	assert.Len(t, out, 3)

	// Delete cleans up the indexes.
	assert.NoError(t, store.DeleteWorkflow(ctx, "wf-1"))
	out, err = store.ListWorkflows(ctx, "tenant-a", ListFilter{})
	assert.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestRedisStoreVersions(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	for v := 1; v <= 3; v++ {
		wf := sampleWorkflow("wf-1", "tenant-a")
		wf.Version = v
		assert.NoError(t, store.SaveVersion(ctx, types.WorkflowVersion{
			WorkflowID: "wf-1", Version: v, Snapshot: wf, CreatedAt: time.Now(),
		}))
	}

	v2, err := store.GetVersion(ctx, "wf-1", 2)
	assert.NoError(t, err)
	assert.Equal(t, 2, v2.Version)

	_, err = store.GetVersion(ctx, "wf-1", 9)
	assert.ErrorIs(t, err, ErrVersionNotFound)

	versions, err := store.ListVersions(ctx, "wf-1")
	assert.NoError(t, err)
	assert.Len(t, versions, 3)
	assert.Equal(t, 1, versions[0].Version)
}

func TestRedisStoreExecutions(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	for i := uint64(1); i <= 3; i++ {
		assert.NoError(t, store.SaveExecution(ctx, sampleExecution(i, "wf-1", types.ExecCompleted)))
	}
	// Re-saving must not duplicate the index entry.
	assert.NoError(t, store.SaveExecution(ctx, sampleExecution(3, "wf-1", types.ExecFailed)))

	got, err := store.GetExecution(ctx, 3)
	assert.NoError(t, err)
	assert.Equal(t, types.ExecFailed, got.Status)

	out, err := store.ListExecutions(ctx, "wf-1", 0)
	assert.NoError(t, err)
	assert.Len(t, out, 3)
	assert.Equal(t, uint64(3), out[0].ID, "most recent first")

	out, err = store.ListExecutions(ctx, "wf-1", 2)
	assert.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestRedisStoreJobs(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	job := types.ScheduledJob{
		WorkflowID: "wf-1",
		Schedule:   types.ScheduleSpec{Type: types.ScheduleInterval, IntervalSeconds: 30},
		Enabled:    true,
	}
	assert.NoError(t, store.SaveJob(ctx, job))

	got, err := store.GetJob(ctx, "wf-1")
	assert.NoError(t, err)
	assert.True(t, got.Enabled)

	jobs, err := store.ListJobs(ctx)
	assert.NoError(t, err)
	assert.Len(t, jobs, 1)

	assert.NoError(t, store.DeleteJob(ctx, "wf-1"))
	_, err = store.GetJob(ctx, "wf-1")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRedisStoreClearCompleted(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	assert.NoError(t, store.SaveExecution(ctx, sampleExecution(1, "wf-1", types.ExecCompleted)))
	assert.NoError(t, store.SaveExecution(ctx, sampleExecution(2, "wf-1", types.ExecRunning)))

	assert.NoError(t, store.ClearCompleted(ctx))

	out, err := store.ListExecutions(ctx, "wf-1", 0)
	assert.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Equal(t, uint64(2), out[0].ID)
}
