// Package scenario defines the declarative conversation flow format and its
// loader. A scenario is a directed graph of typed steps; definitions are
// immutable once loaded.
package scenario

import "fmt"

// Step type tags understood by the execution engine.
const (
	TypeStart          = "start"
	TypeEnd            = "end"
	TypeChannelAction  = "channel_action"
	TypeInput          = "input"
	TypeBranch         = "branch"
	TypeMongoUpsert    = "mongo_upsert_document"
	TypeMongoFindOne   = "mongo_find_one_document"
	TypeSwitchScenario = "switch_scenario"
)

// EndTarget is the reserved next_step value that terminates a scenario
// without requiring an explicit end step.
const EndTarget = "end"

// Step is one node of a scenario graph. Steps are read-only once loaded.
type Step struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Params   map[string]any `json:"params,omitempty"`
	NextStep string         `json:"next_step,omitempty"`

	// decoded holds the per-kind typed params filled in by the loader.
	decoded any
}

// Scenario is an immutable named, versioned step graph.
type Scenario struct {
	ID             string         `json:"scenario_id"`
	Name           string         `json:"name,omitempty"`
	Version        int            `json:"version,omitempty"`
	InitialContext map[string]any `json:"initial_context,omitempty"`
	Steps          []Step         `json:"steps"`

	startID string
	index   map[string]*Step
}

// StartID returns the id of the single start step.
func (s *Scenario) StartID() string { return s.startID }

// Step returns the step with the given id.
func (s *Scenario) Step(id string) (*Step, bool) {
	st, ok := s.index[id]
	return st, ok
}

// ChannelAction returns the typed params of a channel_action step.
func (st *Step) ChannelAction() (*ChannelActionParams, error) {
	return typedParams[ChannelActionParams](st)
}

// Input returns the typed params of an input step.
func (st *Step) Input() (*InputParams, error) {
	return typedParams[InputParams](st)
}

// Branch returns the typed params of a branch step.
func (st *Step) Branch() (*BranchParams, error) {
	return typedParams[BranchParams](st)
}

// MongoUpsert returns the typed params of a mongo_upsert_document step.
func (st *Step) MongoUpsert() (*MongoUpsertParams, error) {
	return typedParams[MongoUpsertParams](st)
}

// MongoFindOne returns the typed params of a mongo_find_one_document step.
func (st *Step) MongoFindOne() (*MongoFindOneParams, error) {
	return typedParams[MongoFindOneParams](st)
}

// SwitchScenario returns the typed params of a switch_scenario step.
func (st *Step) SwitchScenario() (*SwitchScenarioParams, error) {
	return typedParams[SwitchScenarioParams](st)
}

func typedParams[T any](st *Step) (*T, error) {
	if p, ok := st.decoded.(*T); ok {
		return p, nil
	}
	return nil, fmt.Errorf("step %q (%s): params not decoded", st.ID, st.Type)
}
