// Package events implements the trigger registry: event pub/sub that maps
// event types to subscribed workflows and fans triggered runs out to the
// engine without blocking the emitter.
package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrRegistryClosed indicates the registry has been stopped.
	ErrRegistryClosed = errors.New("trigger registry is closed")
	// ErrChannelFull indicates the notification channel is full.
	ErrChannelFull = errors.New("event channel is full")
)

// Event is delivered to process-wide handlers on every emission.
type Event struct {
	Type     string
	TenantID string
	Data     map[string]interface{}
}

// EventHandler defines the interface for process-wide event handlers.
type EventHandler interface {
	Handle(ctx context.Context, event Event) error
}

// EventHandlerFunc is a function adapter for EventHandler.
type EventHandlerFunc func(ctx context.Context, event Event) error

// Handle implements the EventHandler interface.
func (f EventHandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Dispatcher starts one workflow run for an emitted event. Implementations
// are invoked on their own goroutine, one per triggered workflow.
type Dispatcher func(ctx context.Context, workflowID string, payload map[string]interface{})

type subscription struct {
	workflowID string
	tenantID   string
}

// Registry maps event types to subscribed workflows and process-wide
// handlers. Safe for concurrent use.
type Registry struct {
	subs       map[string][]subscription
	handlers   map[string][]EventHandler
	dispatch   Dispatcher
	logger     *slog.Logger
	mu         sync.RWMutex
	eventCh    chan Event
	wg         sync.WaitGroup
	closed     bool
	closeMu    sync.RWMutex
	errHandler func(event Event, err error)
}

// RegistryOption defines functional options for configuring a Registry.
type RegistryOption func(*Registry)

// WithBufferSize sets the handler notification channel buffer size.
func WithBufferSize(size int) RegistryOption {
	return func(r *Registry) {
		r.eventCh = make(chan Event, size)
	}
}

// WithLogger sets the logger used for handler errors.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithErrorHandler sets a custom handler-error callback.
func WithErrorHandler(handler func(event Event, err error)) RegistryOption {
	return func(r *Registry) {
		r.errHandler = handler
	}
}

// NewRegistry creates a trigger registry. dispatch may be nil, in which
// case emissions only notify process-wide handlers.
func NewRegistry(dispatch Dispatcher, options ...RegistryOption) *Registry {
	r := &Registry{
		subs:     make(map[string][]subscription),
		handlers: make(map[string][]EventHandler),
		dispatch: dispatch,
		logger:   slog.Default(),
		eventCh:  make(chan Event, 100),
	}
	for _, option := range options {
		option(r)
	}
	if r.errHandler == nil {
		r.errHandler = func(event Event, err error) {
			r.logger.Error("event handler failed", "event", event.Type, "error", err)
		}
	}

	r.wg.Add(1)
	go r.processEvents()

	return r
}

// Subscribe registers a workflow to be triggered by eventType. Duplicate
// subscriptions are collapsed.
func (r *Registry) Subscribe(workflowID, tenantID, eventType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs[eventType] {
		if sub.workflowID == workflowID {
			return
		}
	}
	r.subs[eventType] = append(r.subs[eventType], subscription{workflowID: workflowID, tenantID: tenantID})
}

// Unsubscribe removes a workflow's subscriptions. With no event types
// given, all of the workflow's subscriptions are removed.
func (r *Registry) Unsubscribe(workflowID string, eventTypes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(eventTypes) == 0 {
		for et := range r.subs {
			r.removeLocked(workflowID, et)
		}
		return
	}
	for _, et := range eventTypes {
		r.removeLocked(workflowID, et)
	}
}

func (r *Registry) removeLocked(workflowID, eventType string) {
	subs := r.subs[eventType]
	for i, sub := range subs {
		if sub.workflowID == workflowID {
			r.subs[eventType] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(r.subs[eventType]) == 0 {
		delete(r.subs, eventType)
	}
}

// Subscriptions returns the workflow ids subscribed to eventType.
func (r *Registry) Subscriptions(eventType string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.subs[eventType]))
	for _, sub := range r.subs[eventType] {
		ids = append(ids, sub.workflowID)
	}
	return ids
}

// RegisterHandler subscribes a process-wide handler for cross-cutting
// concerns; it is notified on every emission of eventType.
func (r *Registry) RegisterHandler(eventType string, handler EventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = append(r.handlers[eventType], handler)
}

// RegisterHandlerFunc subscribes a function as a process-wide handler.
func (r *Registry) RegisterHandlerFunc(eventType string, handlerFunc func(ctx context.Context, event Event) error) {
	r.RegisterHandler(eventType, EventHandlerFunc(handlerFunc))
}

// Emit triggers every workflow subscribed to eventType whose tenant
// matches (empty tenantID disables scoping). Each triggered run is
// dispatched on its own goroutine; Emit returns the triggered workflow ids
// immediately after dispatch, never waiting on run completion.
func (r *Registry) Emit(ctx context.Context, eventType string, payload map[string]interface{}, tenantID string) ([]string, error) {
	r.closeMu.RLock()
	if r.closed {
		r.closeMu.RUnlock()
		return nil, ErrRegistryClosed
	}
	r.closeMu.RUnlock()

	data := map[string]interface{}{
		"event":     eventType,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range payload {
		data[k] = v
	}

	r.mu.RLock()
	var triggered []string
	for _, sub := range r.subs[eventType] {
		if tenantID != "" && sub.tenantID != "" && sub.tenantID != tenantID {
			continue
		}
		triggered = append(triggered, sub.workflowID)
	}
	hasHandlers := len(r.handlers[eventType]) > 0
	r.mu.RUnlock()

	if r.dispatch != nil {
		// Triggered runs must outlive the emitter: an HTTP request context
		// is torn down the moment the handler returns, and Emit returns
		// right after dispatch. Values (trace IDs) are kept, cancellation
		// is not.
		runCtx := context.WithoutCancel(ctx)
		for _, workflowID := range triggered {
			wfID := workflowID
			go r.dispatch(runCtx, wfID, data)
		}
	}

	if hasHandlers {
		select {
		case r.eventCh <- Event{Type: eventType, TenantID: tenantID, Data: data}:
		default:
			return triggered, ErrChannelFull
		}
	}

	return triggered, nil
}

// Stop stops the handler notification goroutine and waits for completion.
// Remaining notifications are discarded.
func (r *Registry) Stop() {
	r.closeMu.Lock()
	if !r.closed {
		r.closed = true
		for len(r.eventCh) > 0 {
			<-r.eventCh
		}
		close(r.eventCh)
	}
	r.closeMu.Unlock()

	r.wg.Wait()
}

// processEvents notifies process-wide handlers asynchronously.
func (r *Registry) processEvents() {
	defer r.wg.Done()

	for event := range r.eventCh {
		r.mu.RLock()
		handlers := append([]EventHandler(nil), r.handlers[event.Type]...)
		r.mu.RUnlock()

		for _, err := range r.executeHandlers(context.Background(), handlers, event) {
			r.errHandler(event, err)
		}
	}
}

// executeHandlers runs all handlers concurrently and collects errors.
func (r *Registry) executeHandlers(ctx context.Context, handlers []EventHandler, event Event) []error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(handlers))

	for _, handler := range handlers {
		wg.Add(1)
		go func(h EventHandler) {
			defer wg.Done()
			if err := h.Handle(ctx, event); err != nil {
				errCh <- err
			}
		}(handler)
	}

	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}

	return errs
}
