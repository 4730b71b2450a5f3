// Package dispatch maps admitted actions to the handlers that perform them.
// The registry is checked against the policy's action table at startup so a
// permitted action can never reach a missing handler.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/davidahmann/steward/pkg/types"
)

var (
	ErrDuplicateHandler = errors.New("handler already registered")
	ErrMissingHandler   = errors.New("no handler for action")
	ErrUnknownAction    = errors.New("handler registered for unknown action")
	ErrNotAdmitted      = errors.New("decision does not admit the action")
)

type Result struct {
	Action string          `json:"action"`
	Status int             `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
}

type Handler interface {
	Handle(ctx context.Context, req types.ActionRequest, d types.Decision) (Result, error)
}

type HandlerFunc func(ctx context.Context, req types.ActionRequest, d types.Decision) (Result, error)

func (f HandlerFunc) Handle(ctx context.Context, req types.ActionRequest, d types.Decision) (Result, error) {
	return f(ctx, req, d)
}

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(action string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[action]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, action)
	}
	r.handlers[action] = h
	return nil
}

// Validate reports every action without a handler and every handler
// without an action.
func (r *Registry) Validate(actions []string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	known := make(map[string]struct{}, len(actions))
	var errs []error
	for _, action := range actions {
		known[action] = struct{}{}
		if _, ok := r.handlers[action]; !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissingHandler, action))
		}
	}
	registered := make([]string, 0, len(r.handlers))
	for action := range r.handlers {
		registered = append(registered, action)
	}
	sort.Strings(registered)
	for _, action := range registered {
		if _, ok := known[action]; !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownAction, action))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for action := range r.handlers {
		out = append(out, action)
	}
	sort.Strings(out)
	return out
}

// Dispatch runs the handler for an admitted decision.
func (r *Registry) Dispatch(ctx context.Context, req types.ActionRequest, d types.Decision) (Result, error) {
	if !d.Admitted() {
		return Result{}, ErrNotAdmitted
	}
	r.mu.RLock()
	h, ok := r.handlers[req.Action]
	r.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrMissingHandler, req.Action)
	}
	res, err := h.Handle(ctx, req, d)
	if err != nil {
		return Result{}, fmt.Errorf("dispatch %s: %w", req.Action, err)
	}
	if res.Action == "" {
		res.Action = req.Action
	}
	return res, nil
}
