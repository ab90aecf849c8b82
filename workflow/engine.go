package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/songzhibin97/gkit/generator"

	"github.com/tenantflow/engine/faults"
	"github.com/tenantflow/engine/rules"
	"github.com/tenantflow/engine/storage"
	"github.com/tenantflow/engine/types"
)

// Standard error definitions
var (
	ErrActionNotRegistered = errors.New("action not registered")
	ErrNotWaiting          = errors.New("execution is not in waiting state")
)

// Engine walks the node graph for workflow runs. A single engine instance
// drives many concurrently in-flight runs; each run is one call to Execute,
// typically on its own goroutine. The engine performs no blocking I/O of
// its own besides delay nodes and the handlers it awaits.
type Engine struct {
	store      storage.Store
	actions    *Registry
	conditions *rules.Conditions
	generate   generator.Generator
	retry      faults.RetryPolicy
	logger     *slog.Logger
	mu         sync.Mutex
	cancels    map[uint64]context.CancelFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(policy faults.RetryPolicy) Option {
	return func(e *Engine) { e.retry = policy }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithEvaluator sets a custom raw-expression evaluator for conditions.
func WithEvaluator(ev rules.Evaluator) Option {
	return func(e *Engine) { e.conditions = rules.NewConditions(ev) }
}

// NewEngine creates an execution engine with the given generator, storage
// and action registry.
func NewEngine(generate generator.Generator, store storage.Store, actions *Registry, opts ...Option) (*Engine, error) {
	if generate == nil {
		return nil, errors.New("generator is required")
	}
	if store == nil {
		store = storage.NewMemoryStore()
	}
	if actions == nil {
		actions = NewRegistry()
	}

	e := &Engine{
		store:      store,
		actions:    actions,
		conditions: rules.NewConditions(nil),
		generate:   generate,
		retry:      faults.DefaultRetryPolicy(),
		logger:     slog.Default(),
		cancels:    make(map[uint64]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// TriggerInfo identifies what started a run.
type TriggerInfo struct {
	Type    string
	Payload map[string]interface{}
}

// run is the in-flight state of one execution. Steps are kept as pointers
// so parallel branches can update them in place; exec.Steps is materialized
// from them on every save.
type run struct {
	exec     *types.WorkflowExecution
	wf       *types.Workflow
	steps    []*types.StepExecution
	visited  map[string]bool
	stepSeq  uint64
	restarts int
	paused   string // node that fired a pause strategy, the resume point
	mu       sync.Mutex
}

func (r *run) addStep(nodeID string, input map[string]interface{}) *types.StepExecution {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stepSeq++
	step := &types.StepExecution{
		ID:        r.stepSeq,
		NodeID:    nodeID,
		Status:    types.StepRunning,
		Input:     input,
		StartedAt: time.Now(),
	}
	r.steps = append(r.steps, step)
	r.exec.CurrentNodeID = nodeID
	return step
}

func (r *run) finishStep(step *types.StepExecution, status string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	step.Status = status
	step.CompletedAt = &now
	if err != nil {
		step.Error = err.Error()
	}
}

// truncateAfter drops every step recorded after the first visit of the
// checkpoint node. Returns false if the checkpoint was never visited.
func (r *run) truncateAfter(nodeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, step := range r.steps {
		if step.NodeID == nodeID {
			r.steps = r.steps[:i]
			return true
		}
	}
	return false
}

// markVisited reports whether nodeID was already visited, marking it in
// the same critical section. Only consulted under the single-visit policy.
func (r *run) markVisited(nodeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.visited[nodeID] {
		return true
	}
	r.visited[nodeID] = true
	return false
}

// Execute runs one workflow to completion and returns the execution
// record. For a failed run both the record (status failed, step trail
// intact) and the terminal error are returned; completed, cancelled and
// waiting runs return a nil error.
func (e *Engine) Execute(ctx context.Context, wf types.Workflow, trigger TriggerInfo, input map[string]interface{}) (*types.WorkflowExecution, error) {
	id, err := e.generate.NextID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate execution ID: %w", err)
	}

	now := time.Now()
	exec := &types.WorkflowExecution{
		ID:              id,
		WorkflowID:      wf.ID,
		WorkflowVersion: wf.Version,
		TenantID:        wf.TenantID,
		Status:          types.ExecPending,
		TriggerType:     trigger.Type,
		TriggerPayload:  trigger.Payload,
		Input:           input,
		StartedAt:       &now,
	}

	cmap := map[string]interface{}{
		"workflow": map[string]interface{}{"id": wf.ID, "name": wf.Name},
		"trigger":  orEmpty(trigger.Payload),
		"input":    orEmpty(input),
	}
	if len(wf.Variables) > 0 {
		cmap["variables"] = copyValue(wf.Variables)
	}
	exec.Context = cmap

	r := &run{exec: exec, wf: &wf, visited: make(map[string]bool)}

	start := wf.StartNodes()
	if len(start) == 0 {
		werr := faults.NewValidation("", "workflow has no nodes reachable from trigger")
		exec.Status = types.ExecFailed
		exec.Error = werr.Error()
		exec.CompletedAt = &now
		e.saveRun(ctx, r)
		return exec, werr
	}

	return e.drive(ctx, r, cmap, start)
}

// drive runs the given start set to a terminal state, handling
// cancellation registration, checkpoint restarts and workflow stats.
func (e *Engine) drive(ctx context.Context, r *run, cmap map[string]interface{}, start []string) (*types.WorkflowExecution, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	e.cancels[r.exec.ID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.cancels, r.exec.ID)
		e.mu.Unlock()
	}()

	r.exec.Status = types.ExecRunning
	e.saveRun(ctx, r)

	err := e.runFrom(runCtx, r, cmap, start)

	now := time.Now()
	switch {
	case err == nil:
		r.exec.Status = types.ExecCompleted
		r.exec.CompletedAt = &now
		e.saveRun(ctx, r)
		e.bumpStats(ctx, r.exec.WorkflowID, statsSuccess)
		return r.exec, nil
	case errors.Is(err, errPaused):
		// Status was set to waiting at the pause point. CurrentNodeID is
		// re-anchored to the pausing node here, after every branch has
		// drained: sibling steps recorded between the pause and the unwind
		// must not steal the resume point.
		r.mu.Lock()
		r.exec.CurrentNodeID = r.paused
		r.mu.Unlock()
		e.saveRun(ctx, r)
		return r.exec, nil
	case faults.KindOf(err) == faults.KindCancelled:
		r.exec.Status = types.ExecCancelled
		r.exec.CompletedAt = &now
		e.saveRun(ctx, r)
		e.bumpStats(ctx, r.exec.WorkflowID, statsNeither)
		return r.exec, nil
	default:
		r.exec.Status = types.ExecFailed
		r.exec.Error = err.Error()
		r.exec.CompletedAt = &now
		e.saveRun(ctx, r)
		e.bumpStats(ctx, r.exec.WorkflowID, statsFailure)
		return r.exec, err
	}
}

// runFrom executes the given node list, restarting from a checkpoint when
// a checkpoint-retry recovery fires.
func (e *Engine) runFrom(ctx context.Context, r *run, cmap map[string]interface{}, nodes []string) error {
	for {
		err := e.executeList(ctx, r, cmap, nodes)
		var cs *checkpointSignal
		if !errors.As(err, &cs) {
			return err
		}
		r.restarts++
		if r.restarts > cs.maxRestarts {
			return cs.cause
		}
		if !r.truncateAfter(cs.checkpoint) {
			return cs.cause
		}
		e.logger.Info("restarting from checkpoint",
			"execution_id", r.exec.ID, "checkpoint", cs.checkpoint, "restart", r.restarts)
		nodes = []string{cs.checkpoint}
	}
}

func (e *Engine) executeList(ctx context.Context, r *run, cmap map[string]interface{}, nodes []string) error {
	for _, nodeID := range nodes {
		if err := e.executeNode(ctx, r, cmap, nodeID); err != nil {
			return err
		}
	}
	return nil
}

// executeNode runs one node, records its step, and advances over plain
// edges unless the node type forwards control itself (condition, loop and
// parallel do). Cancellation is observed here, at every node boundary.
func (e *Engine) executeNode(ctx context.Context, r *run, cmap map[string]interface{}, nodeID string) error {
	if ctx.Err() != nil {
		return faults.NewCancelled(nodeID)
	}

	node, ok := r.wf.FindNode(nodeID)
	if !ok {
		return faults.NewValidation(nodeID, "node %q not found in workflow", nodeID)
	}

	if r.wf.Settings.VisitPolicy == types.VisitSingle && r.markVisited(nodeID) {
		return nil
	}

	switch node.Type {
	case types.NodeTypeTrigger:
		step := r.addStep(node.ID, nil)
		r.finishStep(step, types.StepCompleted, nil)
		return e.advance(ctx, r, cmap, node)
	case types.NodeTypeAction:
		return e.executeAction(ctx, r, cmap, node)
	case types.NodeTypeCondition:
		return e.executeCondition(ctx, r, cmap, node)
	case types.NodeTypeLoop:
		return e.executeLoop(ctx, r, cmap, node)
	case types.NodeTypeParallel:
		return e.executeParallel(ctx, r, cmap, node)
	case types.NodeTypeDelay:
		return e.executeDelay(ctx, r, cmap, node)
	case types.NodeTypeEnd:
		step := r.addStep(node.ID, nil)
		r.finishStep(step, types.StepCompleted, nil)
		e.saveRun(ctx, r)
		return nil
	default:
		return faults.NewValidation(nodeID, "unknown node type %q", node.Type)
	}
}

func (e *Engine) executeAction(ctx context.Context, r *run, cmap map[string]interface{}, node types.Node) error {
	cfg := resolveConfig(node.Config, cmap)
	step := r.addStep(node.ID, cfg)

	handler, ok := e.actions.Get(node.Action)
	if !ok {
		werr := faults.NewValidation(node.ID, "%v: %s", ErrActionNotRegistered, node.Action)
		r.finishStep(step, types.StepFailed, werr)
		return werr
	}

	out, err := e.invokeWithRetry(ctx, handler, cfg, cmap, node, step)
	if err != nil {
		if handled, herr := e.recover(ctx, r, cmap, node, step, err); handled {
			return herr
		}
		r.finishStep(step, types.StepFailed, err)
		e.saveRun(ctx, r)
		return err
	}

	outMap := toOutputMap(out)
	r.mu.Lock()
	step.Output = outMap
	r.mu.Unlock()
	r.finishStep(step, types.StepCompleted, nil)
	propagateOutputs(node, outMap, cmap)
	e.saveRun(ctx, r)

	return e.advance(ctx, r, cmap, node)
}

// recover applies the node's configured recovery strategy after retries
// are exhausted. Returns handled=false when the node has no strategy, in
// which case the original error propagates.
func (e *Engine) recover(ctx context.Context, r *run, cmap map[string]interface{}, node types.Node, step *types.StepExecution, cause error) (bool, error) {
	rec := recoveryFor(node)
	if rec == nil {
		return false, nil
	}

	switch rec.Strategy {
	case RecoverySkip:
		r.finishStep(step, types.StepSkipped, nil)
		e.saveRun(ctx, r)
		e.logger.Warn("step skipped after failure", "execution_id", r.exec.ID, "node", node.ID, "error", cause)
		return true, e.advance(ctx, r, cmap, node)
	case RecoveryFallback:
		outMap := toOutputMap(rec.FallbackValue)
		r.mu.Lock()
		step.Output = outMap
		r.mu.Unlock()
		r.finishStep(step, types.StepCompleted, nil)
		propagateOutputs(node, outMap, cmap)
		e.saveRun(ctx, r)
		return true, e.advance(ctx, r, cmap, node)
	case RecoveryCheckpoint:
		r.finishStep(step, types.StepFailed, cause)
		return true, &checkpointSignal{checkpoint: rec.Checkpoint, maxRestarts: rec.MaxRestarts, cause: cause}
	case RecoveryPause:
		r.finishStep(step, types.StepFailed, cause)
		r.mu.Lock()
		r.exec.Status = types.ExecWaiting
		r.exec.Error = cause.Error()
		r.paused = node.ID
		r.mu.Unlock()
		e.saveRun(ctx, r)
		return true, errPaused
	default:
		return false, nil
	}
}

// invokeWithRetry wraps the handler call in the retry policy. The total
// number of attempts is the policy's MaxRetries plus the initial one.
func (e *Engine) invokeWithRetry(ctx context.Context, handler Action, cfg, cmap map[string]interface{}, node types.Node, step *types.StepExecution) (interface{}, error) {
	policy := e.retry
	if node.MaxRetries > 0 {
		policy.MaxRetries = node.MaxRetries
	}

	var failures int
	for {
		out, err := handler.Execute(ctx, cfg, cmap)
		if err == nil {
			return out, nil
		}
		werr := faults.Coerce(node.ID, err)
		failures++

		if !policy.ShouldRetry(werr, failures) {
			if werr.Recoverable {
				return nil, faults.Exhausted(node.ID, failures, werr)
			}
			return nil, werr
		}

		step.RetryCount++

		select {
		case <-ctx.Done():
			return nil, faults.NewCancelled(node.ID)
		case <-time.After(policy.Delay(step.RetryCount - 1)):
		}
	}
}

func (e *Engine) executeCondition(ctx context.Context, r *run, cmap map[string]interface{}, node types.Node) error {
	spec := node.Condition
	if spec == nil {
		return faults.NewValidation(node.ID, "condition node has no condition")
	}

	step := r.addStep(node.ID, nil)
	result, err := e.conditions.Evaluate(spec.If, cmap)
	if err != nil {
		werr := faults.NewValidation(node.ID, "condition evaluation failed: %v", err)
		r.finishStep(step, types.StepFailed, werr)
		return werr
	}

	r.mu.Lock()
	step.Output = map[string]interface{}{"result": result}
	r.mu.Unlock()
	r.finishStep(step, types.StepCompleted, nil)
	e.saveRun(ctx, r)

	branch := spec.TrueBranch
	tag := "true"
	if !result {
		branch = spec.FalseBranch
		tag = "false"
	}
	if len(branch) == 0 {
		// Branch lists may also be encoded as tagged edges.
		for _, edge := range r.wf.Edges {
			if edge.Source == node.ID && edge.Condition == tag {
				branch = append(branch, edge.Target)
			}
		}
	}

	// The condition's own plain outgoing edges are intentionally not
	// followed; only the selected branch governs continuation.
	return e.executeList(ctx, r, cmap, branch)
}

func (e *Engine) executeLoop(ctx context.Context, r *run, cmap map[string]interface{}, node types.Node) error {
	spec := node.Loop
	if spec == nil {
		return faults.NewValidation(node.ID, "loop node has no loop spec")
	}

	collection := resolveExpr(spec.Collection, cmap)
	seq, ok := collection.([]interface{})
	if !ok {
		return faults.NewValidation(node.ID, "loop collection %q did not resolve to a sequence", spec.Collection)
	}

	step := r.addStep(node.ID, map[string]interface{}{"count": len(seq)})

	// Iterations share one context by design: later iterations observe
	// earlier iterations' writes, enabling accumulation patterns.
	for i, item := range seq {
		if ctx.Err() != nil {
			r.finishStep(step, types.StepFailed, faults.NewCancelled(node.ID))
			return faults.NewCancelled(node.ID)
		}
		cmap[spec.ItemVar] = item
		cmap[spec.ItemVar+"_index"] = i
		for _, bodyID := range spec.Body {
			if err := e.executeNode(ctx, r, cmap, bodyID); err != nil {
				r.finishStep(step, types.StepFailed, err)
				return err
			}
		}
	}

	r.mu.Lock()
	step.Output = map[string]interface{}{"iterations": len(seq)}
	r.mu.Unlock()
	r.finishStep(step, types.StepCompleted, nil)
	e.saveRun(ctx, r)
	return nil
}

func (e *Engine) executeParallel(ctx context.Context, r *run, cmap map[string]interface{}, node types.Node) error {
	spec := node.Parallel
	if spec == nil || len(spec.Branches) == 0 {
		return faults.NewValidation(node.ID, "parallel node has no branches")
	}

	step := r.addStep(node.ID, map[string]interface{}{"branches": len(spec.Branches)})

	var wg sync.WaitGroup
	errCh := make(chan error, len(spec.Branches))

	for _, branch := range spec.Branches {
		// Each branch gets its own copy of the context at fan-out time so
		// branches cannot interfere with each other's writes.
		branchCtx := copyContext(cmap)
		branchNodes := branch
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, id := range branchNodes {
				if err := e.executeNode(ctx, r, branchCtx, id); err != nil {
					errCh <- err
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			r.finishStep(step, types.StepFailed, err)
			return err
		}
	}

	r.finishStep(step, types.StepCompleted, nil)
	e.saveRun(ctx, r)
	return nil
}

func (e *Engine) executeDelay(ctx context.Context, r *run, cmap map[string]interface{}, node types.Node) error {
	spec := node.Delay
	if spec == nil {
		return faults.NewValidation(node.ID, "delay node has no delay spec")
	}

	var wait time.Duration
	if spec.Until != "" {
		target, err := parseTimestamp(resolveExpr(spec.Until, cmap))
		if err != nil {
			return faults.NewValidation(node.ID, "delay target %q: %v", spec.Until, err)
		}
		wait = time.Until(target)
	} else {
		wait = time.Duration(spec.Seconds) * time.Second
	}

	step := r.addStep(node.ID, map[string]interface{}{"wait": wait.String()})

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			werr := faults.NewCancelled(node.ID)
			r.finishStep(step, types.StepFailed, werr)
			return werr
		case <-timer.C:
		}
	}

	r.finishStep(step, types.StepCompleted, nil)
	e.saveRun(ctx, r)
	return e.advance(ctx, r, cmap, node)
}

// advance executes every node reachable from node via a plain edge, in
// edge declaration order.
func (e *Engine) advance(ctx context.Context, r *run, cmap map[string]interface{}, node types.Node) error {
	for _, edge := range r.wf.Edges {
		if edge.Source == node.ID && edge.Condition == "" {
			if err := e.executeNode(ctx, r, cmap, edge.Target); err != nil {
				return err
			}
		}
	}
	return nil
}

// Cancel requests cancellation of an in-flight run. The engine stops
// scheduling nodes at the next boundary; a handler already in flight is
// not interrupted. Returns false if the run is not in flight.
func (e *Engine) Cancel(executionID uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	cancel, ok := e.cancels[executionID]
	if ok {
		cancel()
	}
	return ok
}

// Resume continues a run paused in the waiting state, re-running from its
// recorded current node against the exact workflow version it started on.
func (e *Engine) Resume(ctx context.Context, executionID uint64) (*types.WorkflowExecution, error) {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if exec.Status != types.ExecWaiting {
		return nil, fmt.Errorf("%w: execution %d is %s", ErrNotWaiting, executionID, exec.Status)
	}

	wf, err := e.store.GetWorkflow(ctx, exec.WorkflowID)
	if err != nil {
		return nil, err
	}
	if wf.Version != exec.WorkflowVersion {
		v, err := e.store.GetVersion(ctx, exec.WorkflowID, exec.WorkflowVersion)
		if err != nil {
			return nil, fmt.Errorf("workflow changed and version %d is gone: %w", exec.WorkflowVersion, err)
		}
		wf = v.Snapshot
	}

	cmap := exec.Context
	if cmap == nil {
		cmap = make(map[string]interface{})
	}
	exec.Error = ""

	r := &run{exec: &exec, wf: &wf, visited: make(map[string]bool)}
	for i := range exec.Steps {
		step := exec.Steps[i]
		r.steps = append(r.steps, &step)
		if step.ID > r.stepSeq {
			r.stepSeq = step.ID
		}
	}

	return e.drive(ctx, r, cmap, []string{exec.CurrentNodeID})
}

// GetExecution retrieves an execution record.
func (e *Engine) GetExecution(ctx context.Context, executionID uint64) (*types.WorkflowExecution, error) {
	exec, err := e.store.GetExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return &exec, nil
}

// saveRun persists a snapshot of the execution. Persistence failures are
// logged, not propagated: a flaky store must not fail the run itself.
func (e *Engine) saveRun(ctx context.Context, r *run) {
	r.mu.Lock()
	r.exec.Steps = make([]types.StepExecution, len(r.steps))
	for i, step := range r.steps {
		r.exec.Steps[i] = *step
	}
	snapshot := *r.exec
	r.mu.Unlock()

	if err := e.store.SaveExecution(context.WithoutCancel(ctx), snapshot); err != nil {
		e.logger.Error("failed to save execution", "execution_id", snapshot.ID, "error", err)
	}
}

const (
	statsSuccess = iota
	statsFailure
	statsNeither
)

func (e *Engine) bumpStats(ctx context.Context, workflowID string, outcome int) {
	ctx = context.WithoutCancel(ctx)
	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return
	}
	now := time.Now()
	wf.Stats.RunCount++
	switch outcome {
	case statsSuccess:
		wf.Stats.SuccessCount++
	case statsFailure:
		wf.Stats.FailureCount++
	}
	wf.Stats.LastRunAt = &now
	if err := e.store.SaveWorkflow(ctx, wf); err != nil {
		e.logger.Error("failed to update workflow stats", "workflow_id", workflowID, "error", err)
	}
}

// resolveConfig resolves a node config map against the run context.
func resolveConfig(config, cmap map[string]interface{}) map[string]interface{} {
	if config == nil {
		return map[string]interface{}{}
	}
	resolved, ok := rules.Resolve(config, cmap).(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	return resolved
}

// resolveExpr resolves a collection/timestamp expression: either a
// templated string or a bare dotted path.
func resolveExpr(expr string, cmap map[string]interface{}) interface{} {
	if strings.Contains(expr, "{{") {
		return rules.Resolve(expr, cmap)
	}
	val, _ := rules.Lookup(expr, cmap)
	return val
}

func parseTimestamp(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("not an RFC 3339 timestamp: %v", err)
		}
		return parsed, nil
	case float64:
		return time.Unix(int64(t), 0), nil
	case int64:
		return time.Unix(t, 0), nil
	case int:
		return time.Unix(int64(t), 0), nil
	default:
		return time.Time{}, fmt.Errorf("cannot interpret %T as a timestamp", v)
	}
}

// toOutputMap normalizes a handler return value into the step output map.
func toOutputMap(out interface{}) map[string]interface{} {
	switch o := out.(type) {
	case nil:
		return map[string]interface{}{}
	case map[string]interface{}:
		return o
	default:
		return map[string]interface{}{"result": out}
	}
}

// propagateOutputs writes the node's declared outputs into the context,
// making them visible to subsequently executed nodes.
func propagateOutputs(node types.Node, outMap, cmap map[string]interface{}) {
	for _, name := range node.Outputs {
		if v, ok := outMap[name]; ok {
			cmap[name] = v
		}
	}
}

func orEmpty(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

// copyValue deep-copies maps and slices; scalars are returned as-is.
func copyValue(v interface{}) interface{} {
	switch c := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(c))
		for k, item := range c {
			out[k] = copyValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(c))
		for i, item := range c {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}

func copyContext(cmap map[string]interface{}) map[string]interface{} {
	return copyValue(cmap).(map[string]interface{})
}
