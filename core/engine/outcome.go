package engine

import "time"

// OutcomeKind tells the engine loop what to do after a step handler returns.
type OutcomeKind int

const (
	// OutcomeContinue advances to Outcome.Next within the same pass.
	OutcomeContinue OutcomeKind = iota
	// OutcomeSuspend persists the wait and yields until a matching event.
	OutcomeSuspend
	// OutcomeTerminate ends the session and removes it from the store.
	OutcomeTerminate
	// OutcomeHandover transfers the session to another scenario.
	OutcomeHandover
)

// WaitSpec describes what a suspended session is waiting for.
type WaitSpec struct {
	InputType       string
	Variable        string
	ExpectedValues  []string
	NextStep        string
	TimeoutNextStep string
	Timeout         time.Duration
}

// Outcome is the result of executing one step.
type Outcome struct {
	Kind OutcomeKind
	Next string
	Wait *WaitSpec

	// Handover fields.
	Target  string
	Context map[string]any
}

// Continue advances to the given step id.
func Continue(next string) Outcome { return Outcome{Kind: OutcomeContinue, Next: next} }

// Suspend pauses the session until an event satisfies the wait.
func Suspend(w WaitSpec) Outcome { return Outcome{Kind: OutcomeSuspend, Wait: &w} }

// Terminate ends the session.
func Terminate() Outcome { return Outcome{Kind: OutcomeTerminate} }

// Handover transfers control to another scenario with extra context values.
func Handover(target string, extra map[string]any) Outcome {
	return Outcome{Kind: OutcomeHandover, Target: target, Context: extra}
}
