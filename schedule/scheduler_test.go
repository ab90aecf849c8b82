package schedule

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantflow/engine/storage"
	"github.com/tenantflow/engine/types"
)

// fixedNow is a Tuesday, 10:30 local time.
var fixedNow = time.Date(2025, time.March, 4, 10, 30, 0, 0, time.UTC)

func TestNextRun(t *testing.T) {
	tests := []struct {
		name string
		spec types.ScheduleSpec
		want time.Time
	}{
		{
			name: "interval adds seconds",
			spec: types.ScheduleSpec{Type: types.ScheduleInterval, IntervalSeconds: 90},
			want: fixedNow.Add(90 * time.Second),
		},
		{
			name: "cron hourly",
			spec: types.ScheduleSpec{Type: types.ScheduleCron, Cron: "0 * * * *"},
			want: time.Date(2025, time.March, 4, 11, 0, 0, 0, time.UTC),
		},
		{
			name: "daily later today",
			spec: types.ScheduleSpec{Type: types.ScheduleDaily, TimeOfDay: "14:00"},
			want: time.Date(2025, time.March, 4, 14, 0, 0, 0, time.UTC),
		},
		{
			name: "daily already passed rolls to tomorrow",
			spec: types.ScheduleSpec{Type: types.ScheduleDaily, TimeOfDay: "09:00"},
			want: time.Date(2025, time.March, 5, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "weekly later this week",
			spec: types.ScheduleSpec{Type: types.ScheduleWeekly, TimeOfDay: "08:00", Weekday: 5}, // Friday
			want: time.Date(2025, time.March, 7, 8, 0, 0, 0, time.UTC),
		},
		{
			name: "weekly same day later time",
			spec: types.ScheduleSpec{Type: types.ScheduleWeekly, TimeOfDay: "18:00", Weekday: 2}, // Tuesday
			want: time.Date(2025, time.March, 4, 18, 0, 0, 0, time.UTC),
		},
		{
			name: "weekly same day already passed rolls a week",
			spec: types.ScheduleSpec{Type: types.ScheduleWeekly, TimeOfDay: "09:00", Weekday: 2},
			want: time.Date(2025, time.March, 11, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "weekly earlier weekday rolls forward",
			spec: types.ScheduleSpec{Type: types.ScheduleWeekly, TimeOfDay: "09:00", Weekday: 1}, // Monday
			want: time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextRun(tt.spec, fixedNow)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextRunErrors(t *testing.T) {
	tests := []struct {
		name string
		spec types.ScheduleSpec
	}{
		{"unknown type", types.ScheduleSpec{Type: "lunar"}},
		{"bad cron", types.ScheduleSpec{Type: types.ScheduleCron, Cron: "not cron"}},
		{"zero interval", types.ScheduleSpec{Type: types.ScheduleInterval}},
		{"bad time of day", types.ScheduleSpec{Type: types.ScheduleDaily, TimeOfDay: "25:99"}},
		{"bad weekday", types.ScheduleSpec{Type: types.ScheduleWeekly, TimeOfDay: "09:00", Weekday: 7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NextRun(tt.spec, fixedNow)
			assert.Error(t, err)
		})
	}
}

func noopExecutor(context.Context, types.ScheduledJob, map[string]interface{}) error {
	return nil
}

func intervalJob(workflowID string, seconds int) types.ScheduledJob {
	return types.ScheduledJob{
		WorkflowID: workflowID,
		TenantID:   "tenant-a",
		Schedule:   types.ScheduleSpec{Type: types.ScheduleInterval, IntervalSeconds: seconds},
		Enabled:    true,
	}
}

func TestSchedulerAddJob(t *testing.T) {
	store := storage.NewMemoryStore()
	s := NewScheduler(noopExecutor, WithStore(store), WithClock(func() time.Time { return fixedNow }))

	require.NoError(t, s.AddJob(context.Background(), intervalJob("wf-1", 60)))

	job, ok := s.GetJob("wf-1")
	require.True(t, ok)
	assert.Equal(t, fixedNow.Add(time.Minute), job.NextRun)

	// The job also landed in the store.
	persisted, err := store.GetJob(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, job.NextRun, persisted.NextRun)
}

func TestSchedulerAddJobInvalidSchedule(t *testing.T) {
	s := NewScheduler(noopExecutor)
	err := s.AddJob(context.Background(), types.ScheduledJob{
		WorkflowID: "wf-1",
		Schedule:   types.ScheduleSpec{Type: types.ScheduleCron, Cron: "garbage"},
	})
	assert.Error(t, err)
	_, ok := s.GetJob("wf-1")
	assert.False(t, ok)
}

func TestSchedulerRemoveJob(t *testing.T) {
	store := storage.NewMemoryStore()
	s := NewScheduler(noopExecutor, WithStore(store))

	require.NoError(t, s.AddJob(context.Background(), intervalJob("wf-1", 60)))
	require.NoError(t, s.RemoveJob(context.Background(), "wf-1"))

	_, ok := s.GetJob("wf-1")
	assert.False(t, ok)
	_, err := store.GetJob(context.Background(), "wf-1")
	assert.ErrorIs(t, err, storage.ErrJobNotFound)

	// Removing an unknown job is not an error.
	assert.NoError(t, s.RemoveJob(context.Background(), "ghost"))
}

func TestSchedulerUpdateJobKeepsCounters(t *testing.T) {
	s := NewScheduler(noopExecutor, WithClock(func() time.Time { return fixedNow }))
	ctx := context.Background()

	require.NoError(t, s.AddJob(ctx, intervalJob("wf-1", 60)))
	require.NoError(t, s.MarkExecuted(ctx, "wf-1", false, errors.New("boom")))

	updated := intervalJob("wf-1", 300)
	require.NoError(t, s.UpdateJob(ctx, updated))

	job, ok := s.GetJob("wf-1")
	require.True(t, ok)
	assert.Equal(t, 300, job.Schedule.IntervalSeconds)
	assert.Equal(t, fixedNow.Add(5*time.Minute), job.NextRun)
	assert.Equal(t, int64(1), job.RunCount)
	assert.Equal(t, int64(1), job.ErrorCount)
	require.NotNil(t, job.LastRun)

	err := s.UpdateJob(ctx, intervalJob("ghost", 60))
	assert.ErrorIs(t, err, storage.ErrJobNotFound)
}

func TestSchedulerEnableDisable(t *testing.T) {
	now := fixedNow
	s := NewScheduler(noopExecutor, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, s.AddJob(ctx, intervalJob("wf-1", 60)))
	require.NoError(t, s.DisableJob(ctx, "wf-1"))

	// Disabled jobs are never due, even past next_run.
	assert.Empty(t, s.DueJobs(fixedNow.Add(time.Hour)))

	// Re-enabling recomputes next_run from the current clock, not the
	// stale one, so a long-disabled job does not fire immediately.
	now = fixedNow.Add(2 * time.Hour)
	require.NoError(t, s.EnableJob(ctx, "wf-1"))
	job, _ := s.GetJob("wf-1")
	assert.Equal(t, now.Add(time.Minute), job.NextRun)

	assert.ErrorIs(t, s.EnableJob(ctx, "ghost"), storage.ErrJobNotFound)
}

func TestSchedulerDueJobs(t *testing.T) {
	s := NewScheduler(noopExecutor, WithClock(func() time.Time { return fixedNow }))
	ctx := context.Background()

	require.NoError(t, s.AddJob(ctx, intervalJob("soon", 60)))
	require.NoError(t, s.AddJob(ctx, intervalJob("later", 3600)))

	assert.Empty(t, s.DueJobs(fixedNow), "nothing due at schedule time")

	due := s.DueJobs(fixedNow.Add(2 * time.Minute))
	require.Len(t, due, 1)
	assert.Equal(t, "soon", due[0].WorkflowID)

	due = s.DueJobs(fixedNow.Add(2 * time.Hour))
	assert.Len(t, due, 2)
}

func TestSchedulerIsDueWithoutExecutor(t *testing.T) {
	s := NewScheduler(nil)
	job := intervalJob("wf-1", 60)
	job.NextRun = fixedNow.Add(-time.Minute)
	assert.False(t, s.IsDue(job, fixedNow))
}

func TestSchedulerMarkExecuted(t *testing.T) {
	now := fixedNow
	s := NewScheduler(noopExecutor, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, s.AddJob(ctx, intervalJob("wf-1", 60)))

	now = fixedNow.Add(time.Minute)
	require.NoError(t, s.MarkExecuted(ctx, "wf-1", true, nil))

	job, _ := s.GetJob("wf-1")
	assert.Equal(t, int64(1), job.RunCount)
	assert.Equal(t, int64(0), job.ErrorCount)
	require.NotNil(t, job.LastRun)
	assert.Equal(t, now, *job.LastRun)
	assert.Equal(t, now.Add(time.Minute), job.NextRun, "next_run advances from execution time")

	require.NoError(t, s.MarkExecuted(ctx, "wf-1", false, errors.New("boom")))
	job, _ = s.GetJob("wf-1")
	assert.Equal(t, int64(2), job.RunCount)
	assert.Equal(t, int64(1), job.ErrorCount)

	assert.ErrorIs(t, s.MarkExecuted(ctx, "ghost", true, nil), storage.ErrJobNotFound)
}

func TestSchedulerStartRestoresJobs(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	seeded := NewScheduler(noopExecutor, WithStore(store))
	require.NoError(t, seeded.AddJob(ctx, intervalJob("wf-1", 60)))
	require.NoError(t, seeded.AddJob(ctx, intervalJob("wf-2", 120)))

	s := NewScheduler(noopExecutor, WithStore(store), WithCheckInterval(time.Hour))
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	assert.Len(t, s.Jobs(), 2)
	_, ok := s.GetJob("wf-1")
	assert.True(t, ok)
}

func TestSchedulerStartWithoutExecutor(t *testing.T) {
	s := NewScheduler(nil)
	assert.ErrorIs(t, s.Start(context.Background()), ErrNoExecutor)
}

func TestSchedulerSweepDispatchesDueJobs(t *testing.T) {
	var (
		mu   sync.Mutex
		runs []string
	)
	now := fixedNow
	s := NewScheduler(func(_ context.Context, job types.ScheduledJob, payload map[string]interface{}) error {
		mu.Lock()
		defer mu.Unlock()
		runs = append(runs, job.WorkflowID)
		assert.Equal(t, job.WorkflowID, payload["workflow_id"])
		assert.Equal(t, types.ScheduleInterval, payload["schedule_type"])
		return nil
	}, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, s.AddJob(ctx, intervalJob("wf-1", 60)))

	now = fixedNow.Add(2 * time.Minute)
	s.sweep(ctx)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(runs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		job, _ := s.GetJob("wf-1")
		return job.RunCount == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The same sweep moment does not double-fire: next_run moved forward.
	s.sweep(ctx)
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Len(t, runs, 1)
	mu.Unlock()
}

func TestSchedulerSweepDoesNotRedispatchInFlightJob(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	block := make(chan struct{})
	now := fixedNow
	s := NewScheduler(func(_ context.Context, job types.ScheduledJob, _ map[string]interface{}) error {
		mu.Lock()
		calls++
		mu.Unlock()
		<-block
		return nil
	}, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, s.AddJob(ctx, intervalJob("wf-1", 3600)))

	// The job is well past due; the executor outlasts several sweep ticks.
	now = fixedNow.Add(2 * time.Hour)
	s.sweep(ctx)
	s.sweep(ctx)
	s.sweep(ctx)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, 1, calls, "one due period dispatches exactly one run")
	mu.Unlock()

	// next_run advanced at claim time, before the executor returned.
	job, ok := s.GetJob("wf-1")
	require.True(t, ok)
	assert.Equal(t, now.Add(time.Hour), job.NextRun)

	close(block)
	require.Eventually(t, func() bool {
		job, _ := s.GetJob("wf-1")
		return job.RunCount == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPresets(t *testing.T) {
	expr, ok := PresetExpression("every_hour")
	require.True(t, ok)
	assert.Equal(t, "0 * * * *", expr)

	_, ok = PresetExpression("every_decade")
	assert.False(t, ok)

	names := PresetNames()
	assert.Contains(t, names, "daily_midnight")
	assert.True(t, sort.StringsAreSorted(names))

	// Every preset must be a valid standard cron expression.
	for _, name := range names {
		expr, _ := PresetExpression(name)
		assert.NoError(t, ValidateCron(expr), "preset %s", name)
	}
}

func TestValidateCron(t *testing.T) {
	assert.NoError(t, ValidateCron("*/5 * * * *"))
	assert.Error(t, ValidateCron("banana"))
}

func TestNextRuns(t *testing.T) {
	runs, err := NextRuns("0 * * * *", 3, fixedNow)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, time.Date(2025, time.March, 4, 11, 0, 0, 0, time.UTC), runs[0])
	assert.Equal(t, time.Date(2025, time.March, 4, 12, 0, 0, 0, time.UTC), runs[1])
	assert.True(t, runs[2].After(runs[1]))

	_, err = NextRuns("garbage", 3, fixedNow)
	assert.Error(t, err)
}
