package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/m3rciful/flowbot/core/scenario"
	"github.com/m3rciful/flowbot/core/session"
)

func handleStart(_ context.Context, _ *Exec, st *scenario.Step) (Outcome, error) {
	return Continue(st.NextStep), nil
}

func handleEnd(_ context.Context, _ *Exec, _ *scenario.Step) (Outcome, error) {
	return Terminate(), nil
}

func handleChannelAction(ctx context.Context, ex *Exec, st *scenario.Step) (Outcome, error) {
	p, err := st.ChannelAction()
	if err != nil {
		return Outcome{}, err
	}

	chatID := ex.Session.ChatID
	if p.ChatID != "" {
		chatID, err = parseID(ex.Interpolate(p.ChatID))
		if err != nil {
			return Outcome{}, fmt.Errorf("chat_id: %w", err)
		}
	}

	callCtx, cancel := ex.callCtx(ctx)
	defer cancel()

	switch p.Action {
	case scenario.ActionSendMessage:
		text := ex.Interpolate(p.Text)
		buttons := interpolateButtons(ex, p.Buttons)
		err = ex.channel.SendMessage(callCtx, chatID, text, SendOptions{
			ParseMode: p.ParseMode,
			Buttons:   buttons,
		})
	case scenario.ActionCopyMessage:
		var fromChatID int64
		var messageID int64
		fromChatID, err = parseID(ex.Interpolate(p.FromChatID))
		if err != nil {
			return Outcome{}, fmt.Errorf("from_chat_id: %w", err)
		}
		messageID, err = parseID(ex.Interpolate(p.MessageID))
		if err != nil {
			return Outcome{}, fmt.Errorf("message_id: %w", err)
		}
		err = ex.channel.CopyMessage(callCtx, chatID, fromChatID, int(messageID), p.DisableNotification)
	default:
		return Outcome{}, fmt.Errorf("unknown action %q", p.Action)
	}
	if err != nil {
		return Outcome{}, &CollaboratorError{System: "channel", Op: p.Action, Err: err}
	}
	return Continue(st.NextStep), nil
}

func handleInput(_ context.Context, _ *Exec, st *scenario.Step) (Outcome, error) {
	p, err := st.Input()
	if err != nil {
		return Outcome{}, err
	}
	return Suspend(WaitSpec{
		InputType:       p.InputType,
		Variable:        p.Variable,
		ExpectedValues:  p.ExpectedValues,
		NextStep:        st.NextStep,
		TimeoutNextStep: p.TimeoutNextStep,
		Timeout:         time.Duration(p.TimeoutSeconds) * time.Second,
	}), nil
}

func handleBranch(_ context.Context, ex *Exec, st *scenario.Step) (Outcome, error) {
	p, err := st.Branch()
	if err != nil {
		return Outcome{}, err
	}
	for _, c := range p.Conditions {
		ok, err := ex.EvalBool(c.Condition)
		if err != nil {
			return Outcome{}, err
		}
		if ok {
			return Continue(c.NextStep), nil
		}
	}
	if p.DefaultNextStep != "" {
		return Continue(p.DefaultNextStep), nil
	}
	return Outcome{}, ErrNoBranchMatched
}

func handleMongoUpsert(ctx context.Context, ex *Exec, st *scenario.Step) (Outcome, error) {
	p, err := st.MongoUpsert()
	if err != nil {
		return Outcome{}, err
	}
	if ex.docs == nil {
		return Outcome{}, fmt.Errorf("document store is not configured")
	}
	filter := ex.InterpolateMap(p.Filter)
	document := ex.InterpolateMap(p.Document)

	callCtx, cancel := ex.callCtx(ctx)
	defer cancel()
	if err := ex.docs.Upsert(callCtx, p.Collection, filter, document); err != nil {
		return Outcome{}, &CollaboratorError{System: "document store", Op: "upsert", Err: err}
	}
	return Continue(st.NextStep), nil
}

func handleMongoFindOne(ctx context.Context, ex *Exec, st *scenario.Step) (Outcome, error) {
	p, err := st.MongoFindOne()
	if err != nil {
		return Outcome{}, err
	}
	if ex.docs == nil {
		return Outcome{}, fmt.Errorf("document store is not configured")
	}
	filter := ex.InterpolateMap(p.Filter)

	callCtx, cancel := ex.callCtx(ctx)
	defer cancel()
	doc, found, err := ex.docs.FindOne(callCtx, p.Collection, filter)
	if err != nil {
		return Outcome{}, &CollaboratorError{System: "document store", Op: "find_one", Err: err}
	}
	if found {
		ex.Session.Variables[p.OutputVar] = doc
	} else {
		// Absence must be observable: exists("{var}") evaluates to false.
		delete(ex.Session.Variables, p.OutputVar)
	}
	return Continue(st.NextStep), nil
}

func handleSwitchScenario(_ context.Context, ex *Exec, st *scenario.Step) (Outcome, error) {
	p, err := st.SwitchScenario()
	if err != nil {
		return Outcome{}, err
	}
	target := ex.Interpolate(p.TargetScenarioID)
	extra := ex.InterpolateMap(p.Context)
	return Handover(target, extra), nil
}

func interpolateButtons(ex *Exec, rows [][]scenario.Button) [][]scenario.Button {
	if len(rows) == 0 {
		return nil
	}
	out := make([][]scenario.Button, len(rows))
	for i, row := range rows {
		out[i] = make([]scenario.Button, len(row))
		for j, b := range row {
			out[i][j] = scenario.Button{
				Text:         ex.Interpolate(b.Text),
				CallbackData: ex.Interpolate(b.CallbackData),
				URL:          ex.Interpolate(b.URL),
			}
		}
	}
	return out
}

func parseID(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("not a numeric id: %q", s)
	}
	return n, nil
}

// mergeHandoverVars builds the variable set for a session entering a new
// scenario. Precedence, lowest to highest: target initial_context, carried
// session variables, handover payload. Identity variables always survive.
func mergeHandoverVars(s *session.Session, target *scenario.Scenario, payload map[string]any) map[string]any {
	out := make(map[string]any, len(s.Variables)+len(payload)+len(target.InitialContext))
	for k, v := range target.InitialContext {
		out[k] = v
	}
	for k, v := range s.Variables {
		out[k] = v
	}
	for k, v := range payload {
		out[k] = v
	}
	out[session.VarChatID] = s.ChatID
	out[session.VarUserID] = s.UserID
	return out
}
