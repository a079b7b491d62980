package scenario

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validRaw = `{
  "scenario_id": "demo",
  "name": "Demo",
  "version": 3,
  "initial_context": {"retries": 2, "ratio": 0.5},
  "steps": [
    {"id": "begin", "type": "start", "next_step": "hello"},
    {"id": "hello", "type": "channel_action",
     "params": {"text": "hi"}, "next_step": "end"}
  ]
}`

func TestLoadValidScenario(t *testing.T) {
	sc, err := Load([]byte(validRaw))
	require.NoError(t, err)

	assert.Equal(t, "demo", sc.ID)
	assert.Equal(t, 3, sc.Version)
	assert.Equal(t, "begin", sc.StartID())

	st, ok := sc.Step("hello")
	require.True(t, ok)
	p, err := st.ChannelAction()
	require.NoError(t, err)
	assert.Equal(t, ActionSendMessage, p.Action)
	assert.Equal(t, "hi", p.Text)
}

func TestLoadNormalizesNumbers(t *testing.T) {
	sc, err := Load([]byte(validRaw))
	require.NoError(t, err)

	assert.Equal(t, int64(2), sc.InitialContext["retries"])
	assert.Equal(t, 0.5, sc.InitialContext["ratio"])
}

func TestLoadRejections(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "not json",
			raw:  `{`,
			want: "invalid JSON",
		},
		{
			name: "missing scenario id",
			raw:  `{"steps": [{"id": "s", "type": "start", "next_step": "end"}]}`,
			want: "scenario_id",
		},
		{
			name: "unknown step type",
			raw: `{"scenario_id": "x", "steps": [
				{"id": "s", "type": "teleport", "next_step": "end"}]}`,
			want: "type",
		},
		{
			name: "reserved step id",
			raw: `{"scenario_id": "x", "steps": [
				{"id": "s", "type": "start", "next_step": "end"},
				{"id": "end", "type": "channel_action", "params": {"text": "t"}, "next_step": "end"}]}`,
			want: "reserved",
		},
		{
			name: "duplicate step id",
			raw: `{"scenario_id": "x", "steps": [
				{"id": "s", "type": "start", "next_step": "end"},
				{"id": "s", "type": "channel_action", "params": {"text": "t"}, "next_step": "end"}]}`,
			want: "duplicate",
		},
		{
			name: "no start step",
			raw: `{"scenario_id": "x", "steps": [
				{"id": "a", "type": "channel_action", "params": {"text": "t"}, "next_step": "end"}]}`,
			want: "start",
		},
		{
			name: "two start steps",
			raw: `{"scenario_id": "x", "steps": [
				{"id": "a", "type": "start", "next_step": "end"},
				{"id": "b", "type": "start", "next_step": "end"}]}`,
			want: "start",
		},
		{
			name: "dangling next_step",
			raw: `{"scenario_id": "x", "steps": [
				{"id": "s", "type": "start", "next_step": "ghost"}]}`,
			want: "ghost",
		},
		{
			name: "send_message without text",
			raw: `{"scenario_id": "x", "steps": [
				{"id": "s", "type": "start", "next_step": "a"},
				{"id": "a", "type": "channel_action", "params": {"action": "send_message"}, "next_step": "end"}]}`,
			want: "text",
		},
		{
			name: "branch without conditions",
			raw: `{"scenario_id": "x", "steps": [
				{"id": "s", "type": "start", "next_step": "b"},
				{"id": "b", "type": "branch", "params": {"conditions": []}}]}`,
			want: "condition",
		},
		{
			name: "branch condition with dangling target",
			raw: `{"scenario_id": "x", "steps": [
				{"id": "s", "type": "start", "next_step": "b"},
				{"id": "b", "type": "branch",
				 "params": {"conditions": [{"condition": "true", "next_step": "ghost"}]}}]}`,
			want: "ghost",
		},
		{
			name: "input timeout route missing",
			raw: `{"scenario_id": "x", "steps": [
				{"id": "s", "type": "start", "next_step": "i"},
				{"id": "i", "type": "input",
				 "params": {"variable": "v", "timeout_seconds": 5, "timeout_next_step": "ghost"},
				 "next_step": "end"}]}`,
			want: "ghost",
		},
		{
			name: "find_one without output var",
			raw: `{"scenario_id": "x", "steps": [
				{"id": "s", "type": "start", "next_step": "f"},
				{"id": "f", "type": "mongo_find_one_document",
				 "params": {"collection": "c", "filter": {"a": 1}}, "next_step": "end"}]}`,
			want: "output_var",
		},
		{
			name: "switch without target",
			raw: `{"scenario_id": "x", "steps": [
				{"id": "s", "type": "start", "next_step": "sw"},
				{"id": "sw", "type": "switch_scenario", "params": {}}]}`,
			want: "target_scenario_id",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load([]byte(tc.raw))
			require.Error(t, err)
			var defErr *DefinitionError
			require.ErrorAs(t, err, &defErr)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParseFlagsUnreachableSteps(t *testing.T) {
	raw := `{"scenario_id": "x", "steps": [
		{"id": "s", "type": "start", "next_step": "end"},
		{"id": "orphan", "type": "channel_action", "params": {"text": "t"}, "next_step": "end"}]}`

	sc, issues := Parse([]byte(raw))
	require.NotNil(t, sc)

	var warned bool
	for _, i := range issues {
		require.NotEqual(t, "error", i.Severity)
		if i.Severity == "warning" {
			warned = true
			assert.Contains(t, i.Message, "orphan")
		}
	}
	assert.True(t, warned)
}

func TestInputDefaultsToText(t *testing.T) {
	raw := `{"scenario_id": "x", "steps": [
		{"id": "s", "type": "start", "next_step": "i"},
		{"id": "i", "type": "input", "params": {"variable": "v"}, "next_step": "end"}]}`

	sc, err := Load([]byte(raw))
	require.NoError(t, err)
	st, _ := sc.Step("i")
	p, err := st.Input()
	require.NoError(t, err)
	assert.Equal(t, InputText, p.InputType)
}
