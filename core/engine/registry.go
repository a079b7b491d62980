package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/m3rciful/flowbot/core/expression"
	"github.com/m3rciful/flowbot/core/scenario"
	"github.com/m3rciful/flowbot/core/session"
)

// Handler executes one step and reports how the pass should proceed.
// Handlers may mutate ex.Session.Variables; the engine persists the session
// only when the handler succeeds.
type Handler func(ctx context.Context, ex *Exec, st *scenario.Step) (Outcome, error)

// Registry maps step types to handlers. The engine seeds it with the
// built-in types; callers may add custom ones before the engine starts.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry returns a registry with all built-in step types installed.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[string]Handler)}
	r.Register(scenario.TypeStart, handleStart)
	r.Register(scenario.TypeEnd, handleEnd)
	r.Register(scenario.TypeChannelAction, handleChannelAction)
	r.Register(scenario.TypeInput, handleInput)
	r.Register(scenario.TypeBranch, handleBranch)
	r.Register(scenario.TypeMongoUpsert, handleMongoUpsert)
	r.Register(scenario.TypeMongoFindOne, handleMongoFindOne)
	r.Register(scenario.TypeSwitchScenario, handleSwitchScenario)
	return r
}

// Register installs or replaces the handler for a step type.
func (r *Registry) Register(stepType string, h Handler) {
	r.handlers[stepType] = h
}

// Lookup returns the handler for a step type.
func (r *Registry) Lookup(stepType string) (Handler, error) {
	h, ok := r.handlers[stepType]
	if !ok {
		return nil, fmt.Errorf("no handler registered for step type %q", stepType)
	}
	return h, nil
}

// Exec is the per-pass execution context passed to step handlers.
type Exec struct {
	Session  *session.Session
	Scenario *scenario.Scenario

	eval        *expression.Evaluator
	channel     Channel
	docs        DocumentStore
	callTimeout time.Duration
	now         func() time.Time
}

// Interpolate substitutes {placeholder} references from session variables.
func (ex *Exec) Interpolate(s string) string {
	return expression.Interpolate(s, ex.Session.Variables)
}

// InterpolateMap substitutes placeholders in every string value of m.
func (ex *Exec) InterpolateMap(m map[string]any) map[string]any {
	return expression.InterpolateMap(m, ex.Session.Variables)
}

// EvalBool evaluates a condition expression against session variables.
func (ex *Exec) EvalBool(expr string) (bool, error) {
	return ex.eval.EvalBool(expr, ex.Session.Variables)
}

// callCtx bounds an external collaborator call.
func (ex *Exec) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ex.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, ex.callTimeout)
}
