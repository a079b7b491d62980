package scenario

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Channel actions supported by channel_action steps.
const (
	ActionSendMessage = "send_message"
	ActionCopyMessage = "copy_message"
)

// Input kinds accepted by input steps.
const (
	InputText     = "text"
	InputCallback = "callback_query"
	InputAny      = "any"
)

// Button describes one inline keyboard button of a channel_action step.
type Button struct {
	Text         string `mapstructure:"text"`
	CallbackData string `mapstructure:"callback_data"`
	URL          string `mapstructure:"url"`
}

// ChannelActionParams configure an outbound message send or copy. All string
// values may carry {name} placeholders resolved at execution time.
type ChannelActionParams struct {
	Action              string     `mapstructure:"action"`
	ChatID              string     `mapstructure:"chat_id"`
	Text                string     `mapstructure:"text"`
	ParseMode           string     `mapstructure:"parse_mode"`
	Buttons             [][]Button `mapstructure:"buttons"`
	FromChatID          string     `mapstructure:"from_chat_id"`
	MessageID           string     `mapstructure:"message_id"`
	DisableNotification bool       `mapstructure:"disable_notification"`
}

// InputParams configure a suspend-and-wait step.
type InputParams struct {
	Variable        string   `mapstructure:"variable"`
	InputType       string   `mapstructure:"input_type"`
	ExpectedValues  []string `mapstructure:"expected_values"`
	TimeoutSeconds  int      `mapstructure:"timeout_seconds"`
	TimeoutNextStep string   `mapstructure:"timeout_next_step"`
}

// BranchCondition is one condition/target pair, evaluated in declared order.
type BranchCondition struct {
	Condition string `mapstructure:"condition"`
	NextStep  string `mapstructure:"next_step"`
}

// BranchParams configure a first-match-wins conditional.
type BranchParams struct {
	Conditions      []BranchCondition `mapstructure:"conditions"`
	DefaultNextStep string            `mapstructure:"default_next_step"`
}

// MongoUpsertParams configure a document store upsert.
type MongoUpsertParams struct {
	Collection string         `mapstructure:"collection"`
	Filter     map[string]any `mapstructure:"filter"`
	Document   map[string]any `mapstructure:"document"`
}

// MongoFindOneParams configure a document store lookup bound to a variable.
type MongoFindOneParams struct {
	Collection string         `mapstructure:"collection"`
	Filter     map[string]any `mapstructure:"filter"`
	OutputVar  string         `mapstructure:"output_var"`
}

// SwitchScenarioParams configure a handover to another scenario.
type SwitchScenarioParams struct {
	TargetScenarioID string         `mapstructure:"target_scenario_id"`
	Context          map[string]any `mapstructure:"context"`
}

// decodeStepParams converts the schemaless params bag into the typed variant
// for the step kind so definition mistakes surface at load time, not during
// a live conversation.
func decodeStepParams(st *Step) error {
	switch st.Type {
	case TypeStart, TypeEnd:
		st.decoded = nil
		return nil
	case TypeChannelAction:
		p := &ChannelActionParams{}
		if err := decodeInto(st.Params, p); err != nil {
			return err
		}
		if p.Action == "" {
			p.Action = ActionSendMessage
		}
		switch p.Action {
		case ActionSendMessage:
			if p.Text == "" {
				return fmt.Errorf("send_message requires text")
			}
		case ActionCopyMessage:
			if p.FromChatID == "" || p.MessageID == "" {
				return fmt.Errorf("copy_message requires from_chat_id and message_id")
			}
		default:
			return fmt.Errorf("unknown action %q", p.Action)
		}
		st.decoded = p
	case TypeInput:
		p := &InputParams{}
		if err := decodeInto(st.Params, p); err != nil {
			return err
		}
		if p.InputType == "" {
			p.InputType = InputText
		}
		switch p.InputType {
		case InputText, InputCallback, InputAny:
		default:
			return fmt.Errorf("unknown input_type %q", p.InputType)
		}
		if p.InputType != InputCallback && p.Variable == "" {
			return fmt.Errorf("input requires variable for text input")
		}
		if p.TimeoutSeconds < 0 {
			return fmt.Errorf("timeout_seconds must be >= 0")
		}
		st.decoded = p
	case TypeBranch:
		p := &BranchParams{}
		if err := decodeInto(st.Params, p); err != nil {
			return err
		}
		if len(p.Conditions) == 0 {
			return fmt.Errorf("branch requires at least one condition")
		}
		for i, c := range p.Conditions {
			if c.Condition == "" {
				return fmt.Errorf("branch condition %d is empty", i)
			}
			if c.NextStep == "" {
				return fmt.Errorf("branch condition %d has no next_step", i)
			}
		}
		st.decoded = p
	case TypeMongoUpsert:
		p := &MongoUpsertParams{}
		if err := decodeInto(st.Params, p); err != nil {
			return err
		}
		if p.Collection == "" {
			return fmt.Errorf("mongo_upsert_document requires collection")
		}
		if len(p.Filter) == 0 {
			return fmt.Errorf("mongo_upsert_document requires filter")
		}
		if len(p.Document) == 0 {
			return fmt.Errorf("mongo_upsert_document requires document")
		}
		st.decoded = p
	case TypeMongoFindOne:
		p := &MongoFindOneParams{}
		if err := decodeInto(st.Params, p); err != nil {
			return err
		}
		if p.Collection == "" {
			return fmt.Errorf("mongo_find_one_document requires collection")
		}
		if len(p.Filter) == 0 {
			return fmt.Errorf("mongo_find_one_document requires filter")
		}
		if p.OutputVar == "" {
			return fmt.Errorf("mongo_find_one_document requires output_var")
		}
		st.decoded = p
	case TypeSwitchScenario:
		p := &SwitchScenarioParams{}
		if err := decodeInto(st.Params, p); err != nil {
			return err
		}
		if p.TargetScenarioID == "" {
			return fmt.Errorf("switch_scenario requires target_scenario_id")
		}
		st.decoded = p
	default:
		return fmt.Errorf("unknown step type %q", st.Type)
	}
	return nil
}

func decodeInto(params map[string]any, target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(params); err != nil {
		return fmt.Errorf("bad params: %w", err)
	}
	return nil
}
