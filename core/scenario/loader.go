package scenario

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("decode embedded schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("scenario.schema.json", doc); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, schemaErr = c.Compile("scenario.schema.json")
	})
	return schema, schemaErr
}

// Issue is one validation finding for a scenario definition.
type Issue struct {
	Path     string `json:"path,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (i Issue) String() string {
	if i.Path != "" {
		return fmt.Sprintf("%s at %s", i.Message, i.Path)
	}
	return i.Message
}

// DefinitionError rejects a malformed scenario definition at load time,
// before any session can use it.
type DefinitionError struct {
	ScenarioID string
	Issues     []Issue
}

func (e *DefinitionError) Error() string {
	msgs := make([]string, 0, len(e.Issues))
	for _, i := range e.Issues {
		if i.Severity == "error" {
			msgs = append(msgs, i.String())
		}
	}
	return fmt.Sprintf("scenario %q definition invalid: %s", e.ScenarioID, strings.Join(msgs, "; "))
}

// Load parses and validates one scenario definition. The returned scenario
// is immutable and safe for concurrent use.
func Load(data []byte) (*Scenario, error) {
	sc, issues := Parse(data)
	for _, i := range issues {
		if i.Severity == "error" {
			id := ""
			if sc != nil {
				id = sc.ID
			}
			return nil, &DefinitionError{ScenarioID: id, Issues: issues}
		}
	}
	return sc, nil
}

// Parse decodes a definition and runs the full validation pipeline,
// returning all findings. Warnings do not prevent use of the scenario.
func Parse(data []byte) (*Scenario, []Issue) {
	// Phase 1: shape, against the embedded JSON Schema.
	if issues := validateShape(data); len(issues) > 0 {
		return nil, issues
	}

	var sc Scenario
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&sc); err != nil {
		return nil, []Issue{{Message: fmt.Sprintf("invalid JSON: %v", err), Severity: "error"}}
	}
	normalizeNumbers(&sc)

	// Phase 2: graph integrity and typed params.
	issues := validateGraph(&sc)
	if hasErrors(issues) {
		return &sc, issues
	}

	sc.index = make(map[string]*Step, len(sc.Steps))
	for i := range sc.Steps {
		sc.index[sc.Steps[i].ID] = &sc.Steps[i]
		if sc.Steps[i].Type == TypeStart {
			sc.startID = sc.Steps[i].ID
		}
	}

	issues = append(issues, validateReachability(&sc)...)
	return &sc, issues
}

func validateShape(data []byte) []Issue {
	sch, err := compiledSchema()
	if err != nil {
		return []Issue{{Message: err.Error(), Severity: "error"}}
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return []Issue{{Message: fmt.Sprintf("invalid JSON: %v", err), Severity: "error"}}
	}
	if err := sch.Validate(inst); err != nil {
		return []Issue{{Message: err.Error(), Severity: "error"}}
	}
	return nil
}

func validateGraph(sc *Scenario) []Issue {
	var issues []Issue
	errf := func(path, msg string, args ...any) {
		issues = append(issues, Issue{Path: path, Message: fmt.Sprintf(msg, args...), Severity: "error"})
	}

	ids := make(map[string]bool, len(sc.Steps))
	starts := 0
	for i := range sc.Steps {
		st := &sc.Steps[i]
		path := fmt.Sprintf("/steps/%d", i)
		if st.ID == EndTarget {
			errf(path, "step id %q is reserved", EndTarget)
			continue
		}
		if ids[st.ID] {
			errf(path, "duplicate step id %q", st.ID)
			continue
		}
		ids[st.ID] = true
		if st.Type == TypeStart {
			starts++
		}
		if err := decodeStepParams(st); err != nil {
			errf(path+"/params", "%v", err)
		}
	}
	if starts != 1 {
		errf("/steps", "expected exactly one start step, found %d", starts)
	}
	if hasErrors(issues) {
		return issues
	}

	target := func(path, id string, required bool) {
		if id == "" {
			if required {
				errf(path, "missing next_step")
			}
			return
		}
		if id != EndTarget && !ids[id] {
			errf(path, "next_step %q does not reference an existing step", id)
		}
	}

	for i := range sc.Steps {
		st := &sc.Steps[i]
		path := fmt.Sprintf("/steps/%d", i)
		switch st.Type {
		case TypeEnd, TypeSwitchScenario:
			// Terminal for this scenario.
		case TypeBranch:
			p, _ := st.Branch()
			for j, c := range p.Conditions {
				target(fmt.Sprintf("%s/params/conditions/%d", path, j), c.NextStep, true)
			}
			target(path+"/params/default_next_step", p.DefaultNextStep, false)
		case TypeInput:
			p, _ := st.Input()
			target(path+"/params/timeout_next_step", p.TimeoutNextStep, false)
			target(path, st.NextStep, true)
		default:
			target(path, st.NextStep, true)
		}
	}
	return issues
}

// validateReachability flags steps no path from start can reach. They are
// warnings: harmless at runtime but almost always an authoring mistake.
func validateReachability(sc *Scenario) []Issue {
	reached := make(map[string]bool, len(sc.Steps))
	queue := []string{sc.startID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == "" || id == EndTarget || reached[id] {
			continue
		}
		reached[id] = true
		st, ok := sc.index[id]
		if !ok {
			continue
		}
		queue = append(queue, st.NextStep)
		switch st.Type {
		case TypeBranch:
			if p, err := st.Branch(); err == nil {
				for _, c := range p.Conditions {
					queue = append(queue, c.NextStep)
				}
				queue = append(queue, p.DefaultNextStep)
			}
		case TypeInput:
			if p, err := st.Input(); err == nil {
				queue = append(queue, p.TimeoutNextStep)
			}
		}
	}

	var issues []Issue
	for i := range sc.Steps {
		if !reached[sc.Steps[i].ID] {
			issues = append(issues, Issue{
				Path:     fmt.Sprintf("/steps/%d", i),
				Message:  fmt.Sprintf("step %q is unreachable from start", sc.Steps[i].ID),
				Severity: "warning",
			})
		}
	}
	return issues
}

// normalizeNumbers rewrites json.Number values into int64/float64 so variable
// bindings round-trip through every session store backend identically.
func normalizeNumbers(sc *Scenario) {
	sc.InitialContext = normalizeMap(sc.InitialContext)
	for i := range sc.Steps {
		sc.Steps[i].Params = normalizeMap(sc.Steps[i].Params)
	}
}

func normalizeMap(m map[string]any) map[string]any {
	for k, v := range m {
		m[k] = normalizeValue(v)
	}
	return m
}

func normalizeValue(v any) any {
	switch vv := v.(type) {
	case json.Number:
		if iv, err := vv.Int64(); err == nil {
			return iv
		}
		if fv, err := vv.Float64(); err == nil {
			return fv
		}
		return vv.String()
	case map[string]any:
		return normalizeMap(vv)
	case []any:
		for i := range vv {
			vv[i] = normalizeValue(vv[i])
		}
		return vv
	default:
		return v
	}
}

func hasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == "error" {
			return true
		}
	}
	return false
}
