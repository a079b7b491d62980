package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/flowbot/core/config"
	"github.com/m3rciful/flowbot/core/expression"
	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/metrics"
	"github.com/m3rciful/flowbot/core/scenario"
	"github.com/m3rciful/flowbot/core/session"
)

const component = "engine"

// Options configure a new Engine. Scenarios, Store and Channel are required;
// Documents may be nil when no loaded scenario uses document store steps.
type Options struct {
	Config    config.EngineConfig
	Scenarios *scenario.Registry
	Store     session.Store
	Channel   Channel
	Documents DocumentStore
	Handlers  *Registry
	Metrics   *metrics.Metrics
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Engine executes scenarios against sessions. All public methods are safe
// for concurrent use; events for the same (chat, user) pair are serialized
// through a per-session lock.
type Engine struct {
	cfg       config.EngineConfig
	scenarios *scenario.Registry
	store     session.Store
	channel   Channel
	docs      DocumentStore
	handlers  *Registry
	metrics   *metrics.Metrics
	eval      *expression.Evaluator
	locks     *session.Locks
	now       func() time.Time
}

// New creates an Engine from options.
func New(opts Options) (*Engine, error) {
	if opts.Scenarios == nil {
		return nil, fmt.Errorf("engine: scenario registry is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("engine: session store is required")
	}
	if opts.Channel == nil {
		return nil, fmt.Errorf("engine: channel is required")
	}
	if opts.Config.StepBudget <= 0 {
		opts.Config.StepBudget = 256
	}
	if opts.Handlers == nil {
		opts.Handlers = NewRegistry()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		cfg:       opts.Config,
		scenarios: opts.Scenarios,
		store:     opts.Store,
		channel:   opts.Channel,
		docs:      opts.Documents,
		handlers:  opts.Handlers,
		metrics:   opts.Metrics,
		eval:      expression.New(),
		locks:     session.NewLocks(),
		now:       opts.Now,
	}, nil
}

// HandleEvent processes one inbound event: it resumes a suspended session
// when the event satisfies its wait, creates a session on the default
// scenario when none exists, and runs steps until the session suspends or
// terminates.
func (e *Engine) HandleEvent(ctx context.Context, ev Event) error {
	unlock := e.locks.Acquire(session.Key(ev.ChatID, ev.UserID))
	defer unlock()

	s, err := e.store.Load(ctx, ev.ChatID, ev.UserID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		s, err = e.create(ctx, ev.ChatID, ev.UserID, e.cfg.DefaultScenario, nil)
		if err != nil {
			return err
		}
	case err != nil:
		return &CollaboratorError{System: "session store", Op: "load", Err: err}
	case s.Suspended:
		if s.Wait == nil {
			// Suspended with no wait spec is unrecoverable; start over.
			logger.Warn(ctx, component, "suspended_without_wait",
				slog.String("session_id", s.ID))
			if err := e.store.Delete(ctx, s.ID); err != nil {
				return &CollaboratorError{System: "session store", Op: "delete", Err: err}
			}
			s, err = e.create(ctx, ev.ChatID, ev.UserID, e.cfg.DefaultScenario, nil)
			if err != nil {
				return err
			}
			break
		}
		if !waitAccepts(s.Wait, ev) {
			return e.rejectUnmatched(ctx, s, ev)
		}
		bindInput(s, ev)
		s.Resume(s.Wait.NextStep)
		if err := e.save(ctx, s); err != nil {
			return err
		}
	default:
		// Not suspended: a previous pass stopped mid-flight. Resume from the
		// persisted step.
	}

	return e.runPass(logger.WithSessionMeta(ctx, s.ID, s.ScenarioID, s.StepID), s)
}

// StartScenario forces the conversation into the given scenario, replacing
// any existing session position. Commands mapped to scenarios enter here.
func (e *Engine) StartScenario(ctx context.Context, chatID, userID int64, scenarioID string, extra map[string]any) error {
	unlock := e.locks.Acquire(session.Key(chatID, userID))
	defer unlock()

	target, err := e.scenarios.Resolve(scenarioID)
	if err != nil {
		return err
	}

	s, err := e.store.Load(ctx, chatID, userID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		s, err = e.create(ctx, chatID, userID, scenarioID, extra)
		if err != nil {
			return err
		}
	case err != nil:
		return &CollaboratorError{System: "session store", Op: "load", Err: err}
	default:
		s.Variables = mergeHandoverVars(s, target, extra)
		s.Resume(target.StartID())
		s.ScenarioID = scenarioID
		if err := e.save(ctx, s); err != nil {
			return err
		}
	}

	return e.runPass(logger.WithSessionMeta(ctx, s.ID, s.ScenarioID, s.StepID), s)
}

// create builds and persists a fresh session positioned at the scenario's
// start step, with initial_context seeded under the identity variables.
func (e *Engine) create(ctx context.Context, chatID, userID int64, scenarioID string, extra map[string]any) (*session.Session, error) {
	sc, err := e.scenarios.Resolve(scenarioID)
	if err != nil {
		return nil, err
	}
	s := session.New(chatID, userID, scenarioID, sc.StartID())
	for k, v := range sc.InitialContext {
		if _, reserved := s.Variables[k]; !reserved {
			s.Variables[k] = v
		}
	}
	for k, v := range extra {
		if k != session.VarChatID && k != session.VarUserID {
			s.Variables[k] = v
		}
	}
	if err := e.save(ctx, s); err != nil {
		return nil, err
	}
	logger.Info(ctx, component, "session_created",
		slog.String("session_id", s.ID),
		slog.String("scenario_id", scenarioID))
	return s, nil
}

// runPass executes steps until the session suspends, terminates or fails.
// The step budget bounds a single pass; exceeding it freezes the session at
// its current step so an operator can inspect or repair it.
func (e *Engine) runPass(ctx context.Context, s *session.Session) error {
	start := e.now()

	for steps := 0; ; steps++ {
		if steps >= e.cfg.StepBudget {
			if err := e.save(ctx, s); err != nil {
				return err
			}
			err := &StepBudgetError{Ref: e.ref(s, s.StepID), Budget: e.cfg.StepBudget}
			e.finishPass(ctx, s, start, "error", steps)
			return err
		}
		if s.StepID == "" || s.StepID == scenario.EndTarget {
			if err := e.terminate(ctx, s); err != nil {
				return err
			}
			e.finishPass(ctx, s, start, "terminated", steps)
			return nil
		}

		sc, err := e.scenarios.Resolve(s.ScenarioID)
		if err != nil {
			return &StepError{Ref: e.ref(s, s.StepID), Err: err}
		}
		st, ok := sc.Step(s.StepID)
		if !ok {
			return &StepError{Ref: e.ref(s, s.StepID),
				Err: fmt.Errorf("step %q not in scenario", s.StepID)}
		}

		stepCtx := logger.WithSessionMeta(ctx, s.ID, s.ScenarioID, st.ID)
		h, err := e.handlers.Lookup(st.Type)
		if err != nil {
			return &StepError{Ref: e.ref(s, st.ID), StepType: st.Type, Err: err}
		}

		ex := &Exec{
			Session:     s,
			Scenario:    sc,
			eval:        e.eval,
			channel:     e.channel,
			docs:        e.docs,
			callTimeout: e.cfg.SendTimeout,
			now:         e.now,
		}
		out, err := h(stepCtx, ex, st)
		e.metrics.Step(st.Type)
		if err != nil {
			// The session keeps its last persisted state; in-memory mutations
			// from the failed handler are discarded with this pass.
			e.finishPass(ctx, s, start, "error", steps)
			return e.stepErr(s, st, err)
		}
		logger.Debug(stepCtx, component, "step_executed",
			slog.String("step_type", st.Type))

		switch out.Kind {
		case OutcomeContinue:
			s.StepID = out.Next
			if err := e.save(stepCtx, s); err != nil {
				return err
			}
		case OutcomeSuspend:
			w := out.Wait
			s.StepID = st.ID
			s.Suspend(&session.Wait{
				InputType:       w.InputType,
				Variable:        w.Variable,
				ExpectedValues:  w.ExpectedValues,
				NextStep:        w.NextStep,
				TimeoutNextStep: w.TimeoutNextStep,
			}, w.Timeout, e.now())
			if err := e.save(stepCtx, s); err != nil {
				return err
			}
			e.metrics.Suspend()
			e.finishPass(ctx, s, start, "suspended", steps)
			return nil
		case OutcomeTerminate:
			if err := e.terminate(stepCtx, s); err != nil {
				return err
			}
			e.finishPass(ctx, s, start, "terminated", steps)
			return nil
		case OutcomeHandover:
			target, err := e.scenarios.Resolve(out.Target)
			if err != nil {
				e.finishPass(ctx, s, start, "error", steps)
				return &StepError{Ref: e.ref(s, st.ID), StepType: st.Type, Err: err}
			}
			s.Variables = mergeHandoverVars(s, target, out.Context)
			s.ScenarioID = target.ID
			s.StepID = target.StartID()
			if err := e.save(stepCtx, s); err != nil {
				return err
			}
			e.metrics.Handover()
			logger.Info(stepCtx, component, "scenario_handover",
				slog.String("target_scenario_id", target.ID))
		default:
			return &StepError{Ref: e.ref(s, st.ID), StepType: st.Type,
				Err: fmt.Errorf("handler returned unknown outcome %d", out.Kind)}
		}
	}
}

func (e *Engine) terminate(ctx context.Context, s *session.Session) error {
	if err := e.store.Delete(ctx, s.ID); err != nil {
		return &CollaboratorError{Ref: e.ref(s, s.StepID),
			System: "session store", Op: "delete", Err: err}
	}
	logger.Info(ctx, component, "session_terminated",
		slog.String("session_id", s.ID))
	return nil
}

func (e *Engine) save(ctx context.Context, s *session.Session) error {
	s.UpdatedAt = e.now()
	if err := e.store.Save(ctx, s); err != nil {
		return &CollaboratorError{Ref: e.ref(s, s.StepID),
			System: "session store", Op: "save", Err: err}
	}
	return nil
}

func (e *Engine) rejectUnmatched(ctx context.Context, s *session.Session, ev Event) error {
	e.metrics.Unmatched()
	logger.Warn(ctx, component, "unmatched_input",
		slog.String("session_id", s.ID),
		slog.String("kind", string(ev.Kind)))

	if e.cfg.UnmatchedInput == config.UnmatchedPolicyError {
		return &UnmatchedInputError{Ref: e.ref(s, s.StepID), Kind: ev.Kind, Payload: ev.Payload}
	}
	if e.cfg.UnmatchedReply != "" {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout)
		defer cancel()
		if err := e.channel.SendMessage(callCtx, s.ChatID, e.cfg.UnmatchedReply, SendOptions{}); err != nil {
			logger.Warn(ctx, component, "unmatched_reply_failed",
				slog.String("error", err.Error()))
		}
	}
	return nil
}

func (e *Engine) finishPass(ctx context.Context, s *session.Session, start time.Time, outcome string, steps int) {
	took := e.now().Sub(start)
	e.metrics.Pass(outcome, took)
	logger.Info(ctx, component, "pass_finished",
		slog.String("session_id", s.ID),
		slog.String("outcome", outcome),
		slog.Int("steps", steps),
		slog.Int64("duration_ms", logger.RoundMS(took).Milliseconds()))
}

func (e *Engine) ref(s *session.Session, stepID string) Ref {
	return Ref{SessionID: s.ID, ScenarioID: s.ScenarioID, StepID: stepID}
}

// stepErr attaches session coordinates to a handler failure while keeping
// the inner error visible to errors.As.
func (e *Engine) stepErr(s *session.Session, st *scenario.Step, err error) error {
	ref := e.ref(s, st.ID)
	var ce *CollaboratorError
	if errors.As(err, &ce) {
		ce.Ref = ref
		return err
	}
	return &StepError{Ref: ref, StepType: st.Type, Err: err}
}

// waitAccepts reports whether the event satisfies the wait spec.
func waitAccepts(w *session.Wait, ev Event) bool {
	switch w.InputType {
	case scenario.InputAny:
	case scenario.InputText:
		if ev.Kind != KindText {
			return false
		}
	case scenario.InputCallback:
		if ev.Kind != KindCallback {
			return false
		}
	default:
		return false
	}
	if len(w.ExpectedValues) == 0 {
		return true
	}
	for _, v := range w.ExpectedValues {
		if ev.Payload == v {
			return true
		}
	}
	return false
}

// bindInput writes the accepted payload into session variables. Text goes to
// the declared variable; callback payloads go to the reserved callback_data
// variable.
func bindInput(s *session.Session, ev Event) {
	if ev.Kind == KindCallback {
		s.Variables[session.VarCallbackData] = ev.Payload
		return
	}
	if s.Wait != nil && s.Wait.Variable != "" {
		s.Variables[s.Wait.Variable] = ev.Payload
	}
}
