// Package expression evaluates scenario condition strings and interpolates
// {name} placeholders against session variable bindings. Evaluation is
// side-effect free: bindings are never mutated.
package expression

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// EvaluationError reports a malformed or failing condition expression. The
// engine treats it as fatal for the current pass; it is never folded to false.
type EvaluationError struct {
	Expr string
	Err  error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("expression %q: %v", e.Expr, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// Evaluator compiles and runs boolean conditions, caching compiled programs
// by condition text.
type Evaluator struct {
	mu    sync.Mutex
	cache map[string]compiled
}

// New returns an Evaluator with an empty program cache.
func New() *Evaluator {
	return &Evaluator{cache: make(map[string]compiled)}
}

// Interpolate replaces {name} placeholders with the bound value coerced to a
// string. A missing variable interpolates to the empty string, not an error;
// existing scenario definitions rely on this. Dotted names descend into
// nested maps. Anything that does not look like a placeholder is left as-is.
func Interpolate(template string, vars map[string]any) string {
	if !strings.ContainsRune(template, '{') {
		return template
	}
	var b strings.Builder
	b.Grow(len(template))
	for i := 0; i < len(template); {
		c := template[i]
		if c != '{' {
			b.WriteByte(c)
			i++
			continue
		}
		end := strings.IndexByte(template[i:], '}')
		if end < 0 {
			b.WriteString(template[i:])
			break
		}
		name := template[i+1 : i+end]
		if !validPlaceholder(name) {
			b.WriteByte(c)
			i++
			continue
		}
		val, _ := LookupPath(vars, name)
		b.WriteString(CoerceString(val))
		i += end + 1
	}
	return b.String()
}

// InterpolateMap returns a copy of params with every string value
// interpolated. Nested maps and string slices are walked recursively.
func InterpolateMap(params map[string]any, vars map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = interpolateValue(v, vars)
	}
	return out
}

func interpolateValue(v any, vars map[string]any) any {
	switch vv := v.(type) {
	case string:
		return Interpolate(vv, vars)
	case map[string]any:
		return InterpolateMap(vv, vars)
	case []any:
		out := make([]any, len(vv))
		for i, item := range vv {
			out[i] = interpolateValue(item, vars)
		}
		return out
	default:
		return v
	}
}

// EvalBool evaluates a boolean condition against the bindings. The condition
// may itself carry {name} placeholders; each is rewritten into a synthetic
// variable bound at run time, so user-provided values never become part of
// the program source and cannot break the parse.
func (e *Evaluator) EvalBool(condition string, vars map[string]any) (bool, error) {
	src := strings.TrimSpace(condition)
	if src == "" {
		return true, nil
	}

	program, phs, err := e.compile(src)
	if err != nil {
		return false, &EvaluationError{Expr: condition, Err: err}
	}
	env := buildEnv(vars)
	for i, ph := range phs {
		val, _ := LookupPath(vars, ph.name)
		if ph.asText {
			env[placeholderVar(i)] = CoerceString(val)
		} else {
			env[placeholderVar(i)] = val
		}
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, &EvaluationError{Expr: condition, Err: err}
	}
	result, ok := out.(bool)
	if !ok {
		return false, &EvaluationError{Expr: condition, Err: fmt.Errorf("did not return bool (got %T)", out)}
	}
	return result, nil
}

// compiled pairs a program with the placeholders its source was rewritten
// around, in binding order.
type compiled struct {
	program *vm.Program
	phs     []placeholder
}

// compile caches by the raw condition text: the rewrite is a pure function
// of it, so the cache stays bounded by the scenario definitions regardless
// of what values users send.
func (e *Evaluator) compile(src string) (*vm.Program, []placeholder, error) {
	e.mu.Lock()
	c, ok := e.cache[src]
	e.mu.Unlock()
	if ok {
		return c.program, c.phs, nil
	}

	rewritten, phs := rewriteCondition(src)
	program, err := expr.Compile(rewritten,
		expr.Env(buildEnv(nil)),
		expr.AsBool(),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, nil, err
	}

	e.mu.Lock()
	e.cache[src] = compiled{program: program, phs: phs}
	e.mu.Unlock()
	return program, phs, nil
}

// placeholder records one {name} occurrence in a condition. asText marks
// occurrences inside string literals, which bind the value coerced to a
// string; bare occurrences bind the raw value.
type placeholder struct {
	name   string
	asText bool
}

func placeholderVar(i int) string {
	return "__interp" + strconv.Itoa(i)
}

// rewriteCondition replaces every {name} placeholder with a synthetic
// variable reference. A quoted literal containing placeholders is rebuilt as
// a concatenation of its text segments and those variables.
func rewriteCondition(src string) (string, []placeholder) {
	if !strings.ContainsRune(src, '{') {
		return src, nil
	}
	var (
		b   strings.Builder
		phs []placeholder
	)
	b.Grow(len(src) + 16)
	emit := func(name string, asText bool) string {
		phs = append(phs, placeholder{name: name, asText: asText})
		return placeholderVar(len(phs) - 1)
	}
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '"' || c == '\'':
			end, ok := literalEnd(src, i)
			if !ok {
				// Unterminated literal; let the compiler report it.
				b.WriteString(src[i:])
				i = len(src)
				continue
			}
			b.WriteString(rewriteLiteral(src[i:end+1], emit))
			i = end + 1
		case c == '{':
			name, width := placeholderAt(src, i)
			if width == 0 {
				b.WriteByte(c)
				i++
				continue
			}
			b.WriteString(emit(name, false))
			i += width
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), phs
}

// literalEnd returns the index of the quote closing the literal that opens
// at start, honoring backslash escapes.
func literalEnd(src string, start int) (int, bool) {
	quote := src[start]
	for i := start + 1; i < len(src); i++ {
		switch src[i] {
		case '\\':
			i++
		case quote:
			return i, true
		}
	}
	return 0, false
}

// placeholderAt reports the placeholder name opening at src[i] and its byte
// width, or width 0 when the braces do not form one.
func placeholderAt(src string, i int) (string, int) {
	end := strings.IndexByte(src[i:], '}')
	if end < 0 {
		return "", 0
	}
	name := src[i+1 : i+end]
	if !validPlaceholder(name) {
		return "", 0
	}
	return name, end + 1
}

// rewriteLiteral rebuilds a quoted literal whose body carries placeholders.
// "pre {a} post" becomes ("pre " + __interpN + " post"); a literal without
// placeholders is returned unchanged.
func rewriteLiteral(lit string, emit func(name string, asText bool) string) string {
	quote := string(lit[0])
	body := lit[1 : len(lit)-1]
	if !strings.ContainsRune(body, '{') {
		return lit
	}
	var parts []string
	seg := 0
	for i := 0; i < len(body); {
		switch body[i] {
		case '\\':
			i += 2
		case '{':
			name, width := placeholderAt(body, i)
			if width == 0 {
				i++
				continue
			}
			if i > seg {
				parts = append(parts, quote+body[seg:i]+quote)
			}
			parts = append(parts, emit(name, true))
			i += width
			seg = i
		default:
			i++
		}
	}
	if len(parts) == 0 {
		return lit
	}
	if seg < len(body) {
		parts = append(parts, quote+body[seg:]+quote)
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, " + ") + ")"
}

// buildEnv merges bindings with the helper functions available to conditions.
func buildEnv(vars map[string]any) map[string]any {
	env := make(map[string]any, len(vars)+4)
	for k, v := range vars {
		env[k] = v
	}
	env["contains"] = func(haystack, needle any) bool {
		return strings.Contains(CoerceString(haystack), CoerceString(needle))
	}
	env["lower"] = func(s any) string {
		return strings.ToLower(CoerceString(s))
	}
	// exists("name") checks binding presence; exists(ref) checks non-nil.
	env["exists"] = func(v any) bool {
		if name, ok := v.(string); ok {
			_, present := LookupPath(vars, name)
			return present
		}
		return v != nil
	}
	env["get"] = func(m, key, def any) any {
		mm, ok := asStringMap(m)
		if !ok {
			return def
		}
		if v, ok := mm[CoerceString(key)]; ok && v != nil {
			return v
		}
		return def
	}
	return env
}

// LookupPath resolves a possibly dotted variable name against the bindings,
// descending into nested maps. The second result reports presence.
func LookupPath(vars map[string]any, name string) (any, bool) {
	if vars == nil {
		return nil, false
	}
	parts := strings.Split(name, ".")
	var current any = vars
	for _, part := range parts {
		m, ok := asStringMap(current)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func asStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, vv := range m {
			out[k] = vv
		}
		return out, true
	}
	return nil, false
}

// CoerceString renders a bound value the way scenario authors expect to see
// it inside a message text.
func CoerceString(v any) string {
	switch vv := v.(type) {
	case nil:
		return ""
	case string:
		return vv
	case bool:
		return strconv.FormatBool(vv)
	case int:
		return strconv.Itoa(vv)
	case int64:
		return strconv.FormatInt(vv, 10)
	case float64:
		return strconv.FormatFloat(vv, 'f', -1, 64)
	case json.Number:
		return vv.String()
	default:
		data, err := json.Marshal(vv)
		if err != nil {
			return fmt.Sprint(vv)
		}
		return string(data)
	}
}

func validPlaceholder(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '.':
		default:
			return false
		}
	}
	if name[0] >= '0' && name[0] <= '9' {
		return false
	}
	return true
}
