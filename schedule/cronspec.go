package schedule

import (
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
)

// presets maps friendly schedule names to standard 5-field cron
// expressions, for callers who would rather not write cron by hand.
var presets = map[string]string{
	"every_minute":     "* * * * *",
	"every_5_minutes":  "*/5 * * * *",
	"every_15_minutes": "*/15 * * * *",
	"every_30_minutes": "*/30 * * * *",
	"every_hour":       "0 * * * *",
	"daily_midnight":   "0 0 * * *",
	"daily_noon":       "0 12 * * *",
	"weekly_monday":    "0 9 * * 1",
	"monthly_first":    "0 0 1 * *",
}

// PresetExpression resolves a preset name to its cron expression.
func PresetExpression(name string) (string, bool) {
	expr, ok := presets[name]
	return expr, ok
}

// PresetNames lists the available preset names, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateCron checks a standard 5-field cron expression.
func ValidateCron(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// NextRuns computes the next n fire times of a cron expression after from.
// Useful for previewing a schedule before activating it.
func NextRuns(expr string, n int, from time.Time) ([]time.Time, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	runs := make([]time.Time, 0, n)
	at := from
	for i := 0; i < n; i++ {
		at = sched.Next(at)
		runs = append(runs, at)
	}
	return runs, nil
}
