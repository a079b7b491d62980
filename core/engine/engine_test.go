package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/flowbot/core/config"
	"github.com/m3rciful/flowbot/core/expression"
	"github.com/m3rciful/flowbot/core/scenario"
	"github.com/m3rciful/flowbot/core/session"
)

type sentMessage struct {
	ChatID int64
	Text   string
	Opts   SendOptions
}

type fakeChannel struct {
	mu    sync.Mutex
	sent  []sentMessage
	fail  error
	codes []int64
}

func (f *fakeChannel) SendMessage(_ context.Context, chatID int64, text string, opts SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, sentMessage{ChatID: chatID, Text: text, Opts: opts})
	return nil
}

func (f *fakeChannel) CopyMessage(_ context.Context, chatID, fromChatID int64, messageID int, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.codes = append(f.codes, chatID, fromChatID, int64(messageID))
	return nil
}

func (f *fakeChannel) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, m := range f.sent {
		out[i] = m.Text
	}
	return out
}

type fakeDocs struct {
	mu      sync.Mutex
	docs    map[string][]map[string]any
	upserts int
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{docs: make(map[string][]map[string]any)}
}

func (f *fakeDocs) Upsert(_ context.Context, collection string, filter, document map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	for i, d := range f.docs[collection] {
		if docMatches(d, filter) {
			merged := make(map[string]any, len(d)+len(document))
			for k, v := range d {
				merged[k] = v
			}
			for k, v := range document {
				merged[k] = v
			}
			f.docs[collection][i] = merged
			return nil
		}
	}
	fresh := make(map[string]any, len(filter)+len(document))
	for k, v := range filter {
		fresh[k] = v
	}
	for k, v := range document {
		fresh[k] = v
	}
	f.docs[collection] = append(f.docs[collection], fresh)
	return nil
}

func (f *fakeDocs) FindOne(_ context.Context, collection string, filter map[string]any) (map[string]any, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.docs[collection] {
		if docMatches(d, filter) {
			return d, true, nil
		}
	}
	return nil, false, nil
}

func docMatches(doc, filter map[string]any) bool {
	for k, want := range filter {
		if fmt.Sprint(doc[k]) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func mustScenario(t *testing.T, raw string) *scenario.Scenario {
	t.Helper()
	sc, err := scenario.Load([]byte(raw))
	require.NoError(t, err)
	return sc
}

type testRig struct {
	engine  *Engine
	store   session.Store
	channel *fakeChannel
	docs    *fakeDocs
	clock   *testClock
}

func newTestRig(t *testing.T, cfg config.EngineConfig, raws ...string) *testRig {
	t.Helper()
	reg := scenario.NewRegistry("")
	for _, raw := range raws {
		require.NoError(t, reg.Register(mustScenario(t, raw)))
	}
	rig := &testRig{
		store:   session.NewMemoryStore(),
		channel: &fakeChannel{},
		docs:    newFakeDocs(),
		clock:   newTestClock(),
	}
	if cfg.StepBudget == 0 {
		cfg.StepBudget = 64
	}
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = time.Second
	}
	eng, err := New(Options{
		Config:    cfg,
		Scenarios: reg,
		Store:     rig.store,
		Channel:   rig.channel,
		Documents: rig.docs,
		Now:       rig.clock.Now,
	})
	require.NoError(t, err)
	rig.engine = eng
	return rig
}

const greeterScenario = `{
  "scenario_id": "greeter",
  "initial_context": {"greeting": "Hello"},
  "steps": [
    {"id": "s", "type": "start", "next_step": "say"},
    {"id": "say", "type": "channel_action",
     "params": {"action": "send_message", "text": "{greeting}, {name}!"},
     "next_step": "done"},
    {"id": "done", "type": "end"}
  ]
}`

func TestRunToTermination(t *testing.T) {
	rig := newTestRig(t, config.EngineConfig{DefaultScenario: "greeter"}, greeterScenario)
	ctx := context.Background()

	err := rig.engine.HandleEvent(ctx, Event{ChatID: 1, UserID: 2, Kind: KindText, Payload: "hi"})
	require.NoError(t, err)

	// Undefined {name} interpolates to empty, never errors.
	assert.Equal(t, []string{"Hello, !"}, rig.channel.texts())

	_, err = rig.store.Load(ctx, 1, 2)
	assert.ErrorIs(t, err, session.ErrNotFound, "terminated session must be removed")
}

const surveyScenario = `{
  "scenario_id": "survey",
  "steps": [
    {"id": "s", "type": "start", "next_step": "ask"},
    {"id": "ask", "type": "channel_action",
     "params": {"text": "Happy?"}, "next_step": "answer"},
    {"id": "answer", "type": "input",
     "params": {"variable": "answer", "input_type": "text",
                "expected_values": ["Yes", "No"]},
     "next_step": "route"},
    {"id": "route", "type": "branch",
     "params": {"conditions": [
        {"condition": "\"{answer}\" == \"Yes\"", "next_step": "thanks"},
        {"condition": "\"{answer}\" == \"No\"", "next_step": "sorry"}
     ]},
     "next_step": ""},
    {"id": "thanks", "type": "channel_action",
     "params": {"text": "Great!"}, "next_step": "end"},
    {"id": "sorry", "type": "channel_action",
     "params": {"text": "Sad to hear."}, "next_step": "end"}
  ]
}`

func TestSuspendAndResume(t *testing.T) {
	rig := newTestRig(t, config.EngineConfig{DefaultScenario: "survey"}, surveyScenario)
	ctx := context.Background()

	require.NoError(t, rig.engine.HandleEvent(ctx, Event{ChatID: 7, UserID: 7, Kind: KindText, Payload: "/go"}))

	s, err := rig.store.Load(ctx, 7, 7)
	require.NoError(t, err)
	assert.True(t, s.Suspended)
	assert.Equal(t, "answer", s.StepID)
	require.NotNil(t, s.Wait)
	assert.Equal(t, "route", s.Wait.NextStep)

	// A payload outside expected_values must not advance the session.
	require.NoError(t, rig.engine.HandleEvent(ctx, Event{ChatID: 7, UserID: 7, Kind: KindText, Payload: "Maybe"}))
	s, err = rig.store.Load(ctx, 7, 7)
	require.NoError(t, err)
	assert.True(t, s.Suspended)
	assert.Equal(t, "answer", s.StepID)

	require.NoError(t, rig.engine.HandleEvent(ctx, Event{ChatID: 7, UserID: 7, Kind: KindText, Payload: "Yes"}))
	assert.Equal(t, []string{"Happy?", "Great!"}, rig.channel.texts())

	_, err = rig.store.Load(ctx, 7, 7)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

const freeTextScenario = `{
  "scenario_id": "feedback",
  "steps": [
    {"id": "s", "type": "start", "next_step": "ask"},
    {"id": "ask", "type": "channel_action",
     "params": {"text": "Happy?"}, "next_step": "answer"},
    {"id": "answer", "type": "input",
     "params": {"variable": "answer", "input_type": "text"},
     "next_step": "route"},
    {"id": "route", "type": "branch",
     "params": {"conditions": [
        {"condition": "\"{answer}\" == \"Yes\"", "next_step": "thanks"}
     ],
     "default_next_step": "noted"},
     "next_step": ""},
    {"id": "thanks", "type": "channel_action",
     "params": {"text": "Great!"}, "next_step": "end"},
    {"id": "noted", "type": "channel_action",
     "params": {"text": "Noted."}, "next_step": "end"}
  ]
}`

func TestQuotedPayloadDoesNotWedgeBranch(t *testing.T) {
	rig := newTestRig(t, config.EngineConfig{DefaultScenario: "feedback"}, freeTextScenario)
	ctx := context.Background()

	require.NoError(t, rig.engine.HandleEvent(ctx, Event{ChatID: 8, UserID: 8, Kind: KindText, Payload: "/go"}))

	// Free text with quote characters must route through the default
	// branch, not poison the condition and strand the session.
	err := rig.engine.HandleEvent(ctx, Event{ChatID: 8, UserID: 8, Kind: KindText, Payload: `I said "maybe"`})
	require.NoError(t, err)
	assert.Equal(t, []string{"Happy?", "Noted."}, rig.channel.texts())
	_, err = rig.store.Load(ctx, 8, 8)
	assert.ErrorIs(t, err, session.ErrNotFound)

	// A fresh run still matches the literal answer.
	require.NoError(t, rig.engine.HandleEvent(ctx, Event{ChatID: 8, UserID: 8, Kind: KindText, Payload: "/go"}))
	require.NoError(t, rig.engine.HandleEvent(ctx, Event{ChatID: 8, UserID: 8, Kind: KindText, Payload: "Yes"}))
	assert.Equal(t, "Great!", rig.channel.texts()[3])
}

func TestUnmatchedInputErrorPolicy(t *testing.T) {
	rig := newTestRig(t, config.EngineConfig{
		DefaultScenario: "survey",
		UnmatchedInput:  config.UnmatchedPolicyError,
	}, surveyScenario)
	ctx := context.Background()

	require.NoError(t, rig.engine.HandleEvent(ctx, Event{ChatID: 9, UserID: 9, Kind: KindText, Payload: "/go"}))

	err := rig.engine.HandleEvent(ctx, Event{ChatID: 9, UserID: 9, Kind: KindText, Payload: "Maybe"})
	var unmatched *UnmatchedInputError
	require.ErrorAs(t, err, &unmatched)
	assert.Equal(t, KindText, unmatched.Kind)
}

const quizScenario = `{
  "scenario_id": "quiz",
  "steps": [
    {"id": "s", "type": "start", "next_step": "ask"},
    {"id": "ask", "type": "channel_action",
     "params": {"text": "Pick one", "buttons": [[
        {"text": "Red", "callback_data": "red"},
        {"text": "Blue", "callback_data": "blue"}
     ]]},
     "next_step": "pick"},
    {"id": "pick", "type": "input",
     "params": {"input_type": "callback_query", "expected_values": ["red", "blue"]},
     "next_step": "echo"},
    {"id": "echo", "type": "channel_action",
     "params": {"text": "You picked {callback_data}"}, "next_step": "end"}
  ]
}`

func TestCallbackBindsReservedVariable(t *testing.T) {
	rig := newTestRig(t, config.EngineConfig{DefaultScenario: "quiz"}, quizScenario)
	ctx := context.Background()

	require.NoError(t, rig.engine.HandleEvent(ctx, Event{ChatID: 3, UserID: 3, Kind: KindText, Payload: "/go"}))

	// A text event must not satisfy a callback wait.
	require.NoError(t, rig.engine.HandleEvent(ctx, Event{ChatID: 3, UserID: 3, Kind: KindText, Payload: "red"}))
	s, err := rig.store.Load(ctx, 3, 3)
	require.NoError(t, err)
	assert.True(t, s.Suspended)

	require.NoError(t, rig.engine.HandleEvent(ctx, Event{ChatID: 3, UserID: 3, Kind: KindCallback, Payload: "blue"}))
	texts := rig.channel.texts()
	require.Len(t, texts, 2)
	assert.Equal(t, "You picked blue", texts[1])
}

const branchOrderScenario = `{
  "scenario_id": "order",
  "steps": [
    {"id": "s", "type": "start", "next_step": "route"},
    {"id": "route", "type": "branch",
     "params": {"conditions": [
        {"condition": "true", "next_step": "first"},
        {"condition": "true", "next_step": "second"}
     ]},
     "next_step": ""},
    {"id": "first", "type": "channel_action",
     "params": {"text": "first"}, "next_step": "end"},
    {"id": "second", "type": "channel_action",
     "params": {"text": "second"}, "next_step": "end"}
  ]
}`

func TestBranchFirstMatchWins(t *testing.T) {
	rig := newTestRig(t, config.EngineConfig{DefaultScenario: "order"}, branchOrderScenario)

	require.NoError(t, rig.engine.HandleEvent(context.Background(),
		Event{ChatID: 1, UserID: 1, Kind: KindText, Payload: "x"}))
	assert.Equal(t, []string{"first"}, rig.channel.texts())
}

const loopScenario = `{
  "scenario_id": "loop",
  "steps": [
    {"id": "s", "type": "start", "next_step": "spin"},
    {"id": "spin", "type": "branch",
     "params": {"conditions": [{"condition": "true", "next_step": "spin"}]},
     "next_step": ""}
  ]
}`

func TestStepBudgetFreezesSession(t *testing.T) {
	rig := newTestRig(t, config.EngineConfig{DefaultScenario: "loop", StepBudget: 8}, loopScenario)
	ctx := context.Background()

	err := rig.engine.HandleEvent(ctx, Event{ChatID: 5, UserID: 5, Kind: KindText, Payload: "x"})
	var budget *StepBudgetError
	require.ErrorAs(t, err, &budget)
	assert.Equal(t, 8, budget.Budget)

	s, err := rig.store.Load(ctx, 5, 5)
	require.NoError(t, err)
	assert.Equal(t, "spin", s.StepID, "session frozen at the step it reached")
	assert.False(t, s.Suspended)
}

const handoverTargetScenario = `{
  "scenario_id": "support",
  "initial_context": {"topic": "default", "extra": "from-initial"},
  "steps": [
    {"id": "s", "type": "start", "next_step": "say"},
    {"id": "say", "type": "channel_action",
     "params": {"text": "{topic}|{keep}|{extra}"}, "next_step": "end"}
  ]
}`

const handoverSourceScenario = `{
  "scenario_id": "intake",
  "initial_context": {"topic": "general", "keep": "carried"},
  "steps": [
    {"id": "s", "type": "start", "next_step": "jump"},
    {"id": "jump", "type": "switch_scenario",
     "params": {"target_scenario_id": "support", "context": {"topic": "billing"}},
     "next_step": ""}
  ]
}`

func TestHandoverMergePrecedence(t *testing.T) {
	rig := newTestRig(t, config.EngineConfig{DefaultScenario: "intake"},
		handoverSourceScenario, handoverTargetScenario)
	ctx := context.Background()

	require.NoError(t, rig.engine.HandleEvent(ctx, Event{ChatID: 4, UserID: 4, Kind: KindText, Payload: "x"}))

	// Payload beats carried variables; carried variables beat the target's
	// initial_context; initial_context fills what nothing else sets.
	assert.Equal(t, []string{"billing|carried|from-initial"}, rig.channel.texts())

	_, err := rig.store.Load(ctx, 4, 4)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestSessionsAreIndependentPerUser(t *testing.T) {
	rig := newTestRig(t, config.EngineConfig{DefaultScenario: "survey"}, surveyScenario)
	ctx := context.Background()

	require.NoError(t, rig.engine.HandleEvent(ctx, Event{ChatID: 1, UserID: 1, Kind: KindText, Payload: "x"}))
	require.NoError(t, rig.engine.HandleEvent(ctx, Event{ChatID: 2, UserID: 2, Kind: KindText, Payload: "x"}))

	require.NoError(t, rig.engine.HandleEvent(ctx, Event{ChatID: 1, UserID: 1, Kind: KindText, Payload: "Yes"}))
	require.NoError(t, rig.engine.HandleEvent(ctx, Event{ChatID: 2, UserID: 2, Kind: KindText, Payload: "No"}))

	texts := rig.channel.texts()
	assert.Contains(t, texts, "Great!")
	assert.Contains(t, texts, "Sad to hear.")
}

func TestChannelFailureKeepsPersistedState(t *testing.T) {
	rig := newTestRig(t, config.EngineConfig{DefaultScenario: "greeter"}, greeterScenario)
	rig.channel.fail = errors.New("telegram: 502")
	ctx := context.Background()

	err := rig.engine.HandleEvent(ctx, Event{ChatID: 6, UserID: 6, Kind: KindText, Payload: "x"})
	var collab *CollaboratorError
	require.ErrorAs(t, err, &collab)
	assert.Equal(t, "channel", collab.System)
	assert.Equal(t, "say", collab.StepID)

	s, err := rig.store.Load(ctx, 6, 6)
	require.NoError(t, err)
	assert.Equal(t, "say", s.StepID, "session stays at the failed step for retry")
}

const docScenario = `{
  "scenario_id": "docs",
  "steps": [
    {"id": "s", "type": "start", "next_step": "save"},
    {"id": "save", "type": "mongo_upsert_document",
     "params": {"collection": "users",
                "filter": {"user_id": "{user_id}"},
                "document": {"user_id": "{user_id}", "status": "seen"}},
     "next_step": "lookup"},
    {"id": "lookup", "type": "mongo_find_one_document",
     "params": {"collection": "users",
                "filter": {"user_id": "{user_id}"},
                "output_var": "profile"},
     "next_step": "route"},
    {"id": "route", "type": "branch",
     "params": {"conditions": [
        {"condition": "exists(\"profile\")", "next_step": "hit"}
     ], "default_next_step": "miss"},
     "next_step": ""},
    {"id": "hit", "type": "channel_action",
     "params": {"text": "status={profile.status}"}, "next_step": "end"},
    {"id": "miss", "type": "channel_action",
     "params": {"text": "no profile"}, "next_step": "end"}
  ]
}`

func TestDocumentStoreRoundTrip(t *testing.T) {
	rig := newTestRig(t, config.EngineConfig{DefaultScenario: "docs"}, docScenario)

	require.NoError(t, rig.engine.HandleEvent(context.Background(),
		Event{ChatID: 10, UserID: 11, Kind: KindText, Payload: "x"}))

	assert.Equal(t, 1, rig.docs.upserts)
	assert.Equal(t, []string{"status=seen"}, rig.channel.texts())
}

const missScenario = `{
  "scenario_id": "miss",
  "initial_context": {"profile": "stale"},
  "steps": [
    {"id": "s", "type": "start", "next_step": "lookup"},
    {"id": "lookup", "type": "mongo_find_one_document",
     "params": {"collection": "users",
                "filter": {"user_id": "{user_id}"},
                "output_var": "profile"},
     "next_step": "route"},
    {"id": "route", "type": "branch",
     "params": {"conditions": [
        {"condition": "exists(\"profile\")", "next_step": "hit"}
     ], "default_next_step": "gone"},
     "next_step": ""},
    {"id": "hit", "type": "channel_action",
     "params": {"text": "found"}, "next_step": "end"},
    {"id": "gone", "type": "channel_action",
     "params": {"text": "absent"}, "next_step": "end"}
  ]
}`

func TestFindOneAbsenceClearsVariable(t *testing.T) {
	rig := newTestRig(t, config.EngineConfig{DefaultScenario: "miss"}, missScenario)

	// The stale initial binding must be removed so exists() observes absence.
	require.NoError(t, rig.engine.HandleEvent(context.Background(),
		Event{ChatID: 12, UserID: 12, Kind: KindText, Payload: "x"}))
	assert.Equal(t, []string{"absent"}, rig.channel.texts())
}

const timedScenario = `{
  "scenario_id": "timed",
  "steps": [
    {"id": "s", "type": "start", "next_step": "wait"},
    {"id": "wait", "type": "input",
     "params": {"variable": "answer", "timeout_seconds": 60,
                "timeout_next_step": "nudge"},
     "next_step": "end"},
    {"id": "nudge", "type": "channel_action",
     "params": {"text": "Still there?"}, "next_step": "end"}
  ]
}`

func TestSweepRoutesTimeoutStep(t *testing.T) {
	rig := newTestRig(t, config.EngineConfig{DefaultScenario: "timed"}, timedScenario)
	ctx := context.Background()

	require.NoError(t, rig.engine.HandleEvent(ctx, Event{ChatID: 8, UserID: 8, Kind: KindText, Payload: "x"}))

	// Not expired yet.
	handled, err := rig.engine.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, handled)

	rig.clock.Advance(2 * time.Minute)
	handled, err = rig.engine.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, handled)
	assert.Equal(t, []string{"Still there?"}, rig.channel.texts())

	_, err = rig.store.Load(ctx, 8, 8)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

const noRouteScenario = `{
  "scenario_id": "noroute",
  "steps": [
    {"id": "s", "type": "start", "next_step": "wait"},
    {"id": "wait", "type": "input",
     "params": {"variable": "answer", "timeout_seconds": 30},
     "next_step": "end"}
  ]
}`

func TestSweepTerminatesWithoutTimeoutRoute(t *testing.T) {
	rig := newTestRig(t, config.EngineConfig{DefaultScenario: "noroute"}, noRouteScenario)
	ctx := context.Background()

	require.NoError(t, rig.engine.HandleEvent(ctx, Event{ChatID: 13, UserID: 13, Kind: KindText, Payload: "x"}))
	rig.clock.Advance(time.Minute)

	handled, err := rig.engine.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, handled)

	_, err = rig.store.Load(ctx, 13, 13)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestSweepEscalatePolicySurfacesExpiry(t *testing.T) {
	rig := newTestRig(t, config.EngineConfig{
		DefaultScenario: "noroute",
		TimeoutPolicy:   config.TimeoutPolicyEscalate,
	}, noRouteScenario)
	ctx := context.Background()

	require.NoError(t, rig.engine.HandleEvent(ctx, Event{ChatID: 14, UserID: 14, Kind: KindText, Payload: "x"}))
	rig.clock.Advance(time.Minute)

	handled, err := rig.engine.SweepExpired(ctx)
	assert.Equal(t, 1, handled)
	var expiry *TimeoutExpiryError
	require.ErrorAs(t, err, &expiry)

	// The session stays for operator intervention, with the deadline cleared
	// so the next sweep does not report it again.
	s, err := rig.store.Load(ctx, 14, 14)
	require.NoError(t, err)
	assert.True(t, s.Suspended)
	assert.True(t, s.Deadline.IsZero())

	handled, err = rig.engine.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, handled)
}

func TestStartScenarioReplacesPosition(t *testing.T) {
	rig := newTestRig(t, config.EngineConfig{DefaultScenario: "survey"},
		surveyScenario, greeterScenario)
	ctx := context.Background()

	require.NoError(t, rig.engine.HandleEvent(ctx, Event{ChatID: 20, UserID: 20, Kind: KindText, Payload: "x"}))
	s, err := rig.store.Load(ctx, 20, 20)
	require.NoError(t, err)
	assert.True(t, s.Suspended)

	require.NoError(t, rig.engine.StartScenario(ctx, 20, 20, "greeter",
		map[string]any{"name": "Ava"}))
	texts := rig.channel.texts()
	assert.Equal(t, "Hello, Ava!", texts[len(texts)-1])
}

func TestEvaluationErrorIsFatal(t *testing.T) {
	raw := `{
	  "scenario_id": "broken",
	  "steps": [
	    {"id": "s", "type": "start", "next_step": "route"},
	    {"id": "route", "type": "branch",
	     "params": {"conditions": [
	        {"condition": "1 +", "next_step": "end"}
	     ]},
	     "next_step": ""}
	  ]
	}`
	rig := newTestRig(t, config.EngineConfig{DefaultScenario: "broken"}, raw)

	err := rig.engine.HandleEvent(context.Background(),
		Event{ChatID: 21, UserID: 21, Kind: KindText, Payload: "x"})
	var evalErr *expression.EvaluationError
	require.ErrorAs(t, err, &evalErr, "malformed conditions must not fold to false")
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "route", stepErr.StepID)
}
