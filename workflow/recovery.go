package workflow

import (
	"errors"
	"fmt"

	"github.com/tenantflow/engine/types"
)

// Recovery strategies, selected via the node config key "on_error".
const (
	RecoverySkip       = "skip"
	RecoveryFallback   = "fallback"
	RecoveryCheckpoint = "checkpoint"
	RecoveryPause      = "pause"
)

// defaultCheckpointRestarts bounds checkpoint re-runs per run so a
// persistently failing checkpoint cannot loop forever.
const defaultCheckpointRestarts = 3

// RecoverySpec is parsed from a node's "on_error" config entry:
//
//	{"strategy": "fallback", "fallback_value": {...}}
//	{"strategy": "checkpoint", "checkpoint": "node-3", "max_restarts": 2}
type RecoverySpec struct {
	Strategy      string
	FallbackValue interface{}
	Checkpoint    string
	MaxRestarts   int
}

// recoveryFor extracts the recovery spec from a node's config, or nil when
// the node has none.
func recoveryFor(node types.Node) *RecoverySpec {
	raw, ok := node.Config["on_error"]
	if !ok {
		return nil
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}
	spec := &RecoverySpec{MaxRestarts: defaultCheckpointRestarts}
	if s, ok := m["strategy"].(string); ok {
		spec.Strategy = s
	}
	spec.FallbackValue = m["fallback_value"]
	if c, ok := m["checkpoint"].(string); ok {
		spec.Checkpoint = c
	}
	switch n := m["max_restarts"].(type) {
	case int:
		spec.MaxRestarts = n
	case float64:
		spec.MaxRestarts = int(n)
	}
	if spec.Strategy == "" {
		return nil
	}
	return spec
}

// checkpointSignal unwinds the node walk back to the run driver, which
// discards steps recorded after the checkpoint and re-runs from there.
type checkpointSignal struct {
	checkpoint  string
	maxRestarts int
	cause       error
}

func (s *checkpointSignal) Error() string {
	return fmt.Sprintf("checkpoint retry from %q: %v", s.checkpoint, s.cause)
}

func (s *checkpointSignal) Unwrap() error { return s.cause }

// errPaused unwinds the walk when a pause-for-intervention strategy fires;
// the run is left in the waiting state, visibly distinct from failed.
var errPaused = errors.New("execution paused for intervention")
