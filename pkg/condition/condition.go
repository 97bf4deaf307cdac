// Package condition implements the boolean predicates that gate subrequest
// execution. Specs arrive from the YAML config; Compile turns them into an
// evaluable form (and compiles regexes) at load time, so evaluation at
// request time never fails.
package condition

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gantry/gantry/pkg/interp"
	"github.com/gantry/gantry/pkg/value"
)

// Spec is the serialized condition tree as it appears in configuration.
// Exactly one variant is selected by Type; Negate flips the node's result
// after evaluation.
type Spec struct {
	Type    string `mapstructure:"type"`
	Field   string `mapstructure:"field"`
	Value   string `mapstructure:"value"`
	Pattern string `mapstructure:"pattern"`
	Header  string `mapstructure:"header"`
	Param   string `mapstructure:"param"`

	Conditions []*Spec `mapstructure:"conditions"`
	Condition  *Spec   `mapstructure:"condition"`

	Negate bool `mapstructure:"negate"`
}

// Condition is a compiled predicate.
type Condition interface {
	Evaluate(ctx *interp.Context) bool
}

// CompileError reports an invalid condition spec. It is a configuration-time
// failure; compiled conditions cannot fail at runtime.
type CompileError struct {
	Type   string
	Reason string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("invalid condition %q: %s", e.Type, e.Reason)
}

// Compile translates a spec tree into a compiled condition. A nil spec
// compiles to the always-true condition.
func Compile(spec *Spec) (Condition, error) {
	if spec == nil {
		return always{}, nil
	}

	var cond Condition
	switch spec.Type {
	case "always", "":
		cond = always{}
	case "fieldexists":
		if spec.Field == "" {
			return nil, &CompileError{Type: spec.Type, Reason: "field is required"}
		}
		cond = fieldExists{field: spec.Field}
	case "fieldequals":
		if spec.Field == "" {
			return nil, &CompileError{Type: spec.Type, Reason: "field is required"}
		}
		cond = fieldEquals{field: spec.Field, value: spec.Value}
	case "fieldmatches":
		if spec.Field == "" {
			return nil, &CompileError{Type: spec.Type, Reason: "field is required"}
		}
		re, err := regexp.Compile(anchored(spec.Pattern))
		if err != nil {
			return nil, &CompileError{Type: spec.Type, Reason: err.Error()}
		}
		cond = fieldMatches{field: spec.Field, pattern: re}
	case "headerexists":
		if spec.Header == "" {
			return nil, &CompileError{Type: spec.Type, Reason: "header is required"}
		}
		cond = headerExists{header: strings.ToLower(spec.Header)}
	case "headerequals":
		if spec.Header == "" {
			return nil, &CompileError{Type: spec.Type, Reason: "header is required"}
		}
		cond = headerEquals{header: strings.ToLower(spec.Header), value: spec.Value}
	case "queryexists":
		if spec.Param == "" {
			return nil, &CompileError{Type: spec.Type, Reason: "param is required"}
		}
		cond = queryExists{param: spec.Param}
	case "queryequals":
		if spec.Param == "" {
			return nil, &CompileError{Type: spec.Type, Reason: "param is required"}
		}
		cond = queryEquals{param: spec.Param, value: spec.Value}
	case "and", "or":
		if len(spec.Conditions) == 0 {
			return nil, &CompileError{Type: spec.Type, Reason: "conditions list is required"}
		}
		children := make([]Condition, len(spec.Conditions))
		for i, child := range spec.Conditions {
			compiled, err := Compile(child)
			if err != nil {
				return nil, err
			}
			children[i] = compiled
		}
		if spec.Type == "and" {
			cond = conjunction{children: children}
		} else {
			cond = disjunction{children: children}
		}
	case "not":
		if spec.Condition == nil {
			return nil, &CompileError{Type: spec.Type, Reason: "condition is required"}
		}
		inner, err := Compile(spec.Condition)
		if err != nil {
			return nil, err
		}
		cond = negation{inner: inner}
	default:
		return nil, &CompileError{Type: spec.Type, Reason: "unknown condition type"}
	}

	if spec.Negate {
		cond = negation{inner: cond}
	}
	return cond, nil
}

// anchored wraps a pattern so it must match the whole field value.
func anchored(pattern string) string {
	return "^(?:" + pattern + ")$"
}

type always struct{}

func (always) Evaluate(*interp.Context) bool { return true }

// lookupField finds a field value: path params first, then query params.
// Dotted fields fall through to the interpolation resolver, so conditions
// can gate on earlier subrequest results (e.g. subrequest.cache.value).
// The boolean is false when the field is absent or resolves to Null.
func lookupField(ctx *interp.Context, field string) (string, bool) {
	if v, ok := ctx.PathParams[field]; ok {
		return v, true
	}
	if v, ok := ctx.QueryParams[field]; ok {
		return v, true
	}
	if strings.Contains(field, ".") {
		resolved, err := ctx.Resolve(field)
		if err != nil {
			return "", false
		}
		if _, isNull := resolved.(value.Null); isNull {
			return "", false
		}
		return renderScalar(resolved), true
	}
	return "", false
}

func renderScalar(v value.Value) string {
	if s, ok := v.(value.String); ok {
		return string(s)
	}
	return value.EncodeString(v)
}

type fieldExists struct{ field string }

func (c fieldExists) Evaluate(ctx *interp.Context) bool {
	_, ok := lookupField(ctx, c.field)
	return ok
}

type fieldEquals struct{ field, value string }

func (c fieldEquals) Evaluate(ctx *interp.Context) bool {
	got, ok := lookupField(ctx, c.field)
	return ok && got == c.value
}

type fieldMatches struct {
	field   string
	pattern *regexp.Regexp
}

func (c fieldMatches) Evaluate(ctx *interp.Context) bool {
	got, ok := lookupField(ctx, c.field)
	return ok && c.pattern.MatchString(got)
}

type headerExists struct{ header string }

func (c headerExists) Evaluate(ctx *interp.Context) bool {
	_, ok := ctx.Headers[c.header]
	return ok
}

type headerEquals struct{ header, value string }

func (c headerEquals) Evaluate(ctx *interp.Context) bool {
	got, ok := ctx.Headers[c.header]
	return ok && got == c.value
}

type queryExists struct{ param string }

func (c queryExists) Evaluate(ctx *interp.Context) bool {
	_, ok := ctx.QueryParams[c.param]
	return ok
}

type queryEquals struct{ param, value string }

func (c queryEquals) Evaluate(ctx *interp.Context) bool {
	got, ok := ctx.QueryParams[c.param]
	return ok && got == c.value
}

type conjunction struct{ children []Condition }

func (c conjunction) Evaluate(ctx *interp.Context) bool {
	for _, child := range c.children {
		if !child.Evaluate(ctx) {
			return false
		}
	}
	return true
}

type disjunction struct{ children []Condition }

func (c disjunction) Evaluate(ctx *interp.Context) bool {
	for _, child := range c.children {
		if child.Evaluate(ctx) {
			return true
		}
	}
	return false
}

type negation struct{ inner Condition }

func (c negation) Evaluate(ctx *interp.Context) bool {
	return !c.inner.Evaluate(ctx)
}
