// Package session holds the durable execution state of one user's progress
// through a scenario, and the pluggable stores that persist it.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Reserved variable names maintained by the engine.
const (
	VarChatID       = "chat_id"
	VarUserID       = "user_id"
	VarCallbackData = "callback_data"
)

// Wait records what a suspended session is waiting for.
type Wait struct {
	// InputType restricts accepted event kinds: text, callback_query or any.
	InputType string `json:"input_type" bson:"input_type"`
	// Variable receives a matching text payload on resume.
	Variable string `json:"variable,omitempty" bson:"variable,omitempty"`
	// ExpectedValues, when non-empty, restricts accepted payloads.
	ExpectedValues []string `json:"expected_values,omitempty" bson:"expected_values,omitempty"`
	// NextStep is where execution resumes after a matching event.
	NextStep string `json:"next_step" bson:"next_step"`
	// TimeoutNextStep, when set, is where execution routes on deadline expiry.
	TimeoutNextStep string `json:"timeout_next_step,omitempty" bson:"timeout_next_step,omitempty"`
}

// Session is mutated exclusively by the execution engine and persisted after
// every step transition and on suspend/resume.
type Session struct {
	ID         string         `json:"session_id" bson:"_id"`
	ChatID     int64          `json:"chat_id" bson:"chat_id"`
	UserID     int64          `json:"user_id" bson:"user_id"`
	ScenarioID string         `json:"current_scenario_id" bson:"current_scenario_id"`
	StepID     string         `json:"current_step_id" bson:"current_step_id"`
	Variables  map[string]any `json:"variables" bson:"variables"`

	Suspended      bool      `json:"suspended" bson:"suspended"`
	SuspendedSince time.Time `json:"suspended_since,omitempty" bson:"suspended_since,omitempty"`
	// Deadline is zero when the wait has no timeout.
	Deadline time.Time `json:"deadline,omitempty" bson:"deadline,omitempty"`
	Wait     *Wait     `json:"wait,omitempty" bson:"wait,omitempty"`

	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// New creates a session positioned at the given scenario step, with the
// chat/user identity bound into the variables.
func New(chatID, userID int64, scenarioID, stepID string) *Session {
	return &Session{
		ID:         uuid.NewString(),
		ChatID:     chatID,
		UserID:     userID,
		ScenarioID: scenarioID,
		StepID:     stepID,
		Variables: map[string]any{
			VarChatID: chatID,
			VarUserID: userID,
		},
	}
}

// Key identifies the conversation a session belongs to.
func Key(chatID, userID int64) string {
	return fmt.Sprintf("%d:%d", chatID, userID)
}

// Suspend marks the session as waiting for external input.
func (s *Session) Suspend(w *Wait, timeout time.Duration, now time.Time) {
	s.Suspended = true
	s.SuspendedSince = now
	s.Wait = w
	if timeout > 0 {
		s.Deadline = now.Add(timeout)
	} else {
		s.Deadline = time.Time{}
	}
}

// Resume clears the wait state and positions the session at the next step.
func (s *Session) Resume(stepID string) {
	s.Suspended = false
	s.SuspendedSince = time.Time{}
	s.Deadline = time.Time{}
	s.Wait = nil
	s.StepID = stepID
}

// Clone returns a deep copy so stored sessions never alias live ones.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Variables = cloneMap(s.Variables)
	if s.Wait != nil {
		w := *s.Wait
		w.ExpectedValues = append([]string(nil), s.Wait.ExpectedValues...)
		out.Wait = &w
	}
	return &out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		return cloneMap(vv)
	case []any:
		out := make([]any, len(vv))
		for i := range vv {
			out[i] = cloneValue(vv[i])
		}
		return out
	default:
		return v
	}
}
