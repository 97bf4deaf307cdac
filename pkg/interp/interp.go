// Package interp implements the ${...} interpolation engine. Expressions are
// dotted paths resolved against a per-request context of named values; the
// same machinery backs subrequest URIs, headers, bodies, SQL params, Mongo
// filters, Redis keys and response templates.
package interp

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/gantry/gantry/pkg/value"
)

// Error reports a malformed ${...} expression. Missing values never produce
// an Error; they resolve to Null.
type Error struct {
	Path   string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("interpolation failed at %q: %s", e.Path, e.Reason)
}

// Context is the evaluation environment for interpolation and conditions.
// It is assembled once per route execution and extended with subrequest
// results as they complete; concurrent readers must each hold their own
// snapshot (see WithResults).
type Context struct {
	Method      string
	PathParams  map[string]string
	QueryParams map[string]string
	// Headers keys are lowercased at construction; lookups lowercase too,
	// so header access is case-insensitive.
	Headers map[string]string
	Body    value.Value

	// Results holds completed subrequest results by name.
	Results map[string]value.Value

	// Response is bound only while rendering a response template.
	Response value.Value
}

// NewContext creates a context with empty result and parameter maps.
func NewContext(method string) *Context {
	return &Context{
		Method:      method,
		PathParams:  map[string]string{},
		QueryParams: map[string]string{},
		Headers:     map[string]string{},
		Body:        value.Null{},
		Results:     map[string]value.Value{},
	}
}

// AddResult records a completed subrequest result under its name.
func (c *Context) AddResult(name string, result value.Value) {
	if c.Results == nil {
		c.Results = map[string]value.Value{}
	}
	c.Results[name] = result
}

// WithResults returns a shallow copy of the context whose result map is
// pinned to the given snapshot. Wave siblings in the scheduler each receive
// a pinned copy so they cannot observe one another.
func (c *Context) WithResults(results map[string]value.Value) *Context {
	cp := *c
	cp.Results = results
	return &cp
}

// WithResponse returns a copy with the response root bound, for use inside
// response templates.
func (c *Context) WithResponse(resp value.Value) *Context {
	cp := *c
	cp.Response = resp
	return &cp
}

// Resolve evaluates a single path expression (the text between ${ and })
// against the context and returns the resolved Value. Unknown roots and
// missing fields resolve to Null.
func (c *Context) Resolve(expr string) (value.Value, error) {
	root, steps, err := parsePath(expr)
	if err != nil {
		return nil, &Error{Path: expr, Reason: err.Error()}
	}

	switch root {
	case "request":
		return c.resolveRequest(expr, steps)
	case "subrequest":
		if len(steps) == 0 || steps[0].isIndex {
			return nil, &Error{Path: expr, Reason: "subrequest reference requires a name"}
		}
		result, ok := c.Results[steps[0].field]
		if !ok {
			return value.Null{}, nil
		}
		return navigate(result, steps[1:]), nil
	case "response":
		if c.Response == nil {
			return value.Null{}, nil
		}
		return navigate(c.Response, steps), nil
	default:
		return value.Null{}, nil
	}
}

func (c *Context) resolveRequest(expr string, steps []step) (value.Value, error) {
	if len(steps) == 0 {
		return nil, &Error{Path: expr, Reason: "request reference requires a field"}
	}
	head, rest := steps[0], steps[1:]
	if head.isIndex {
		return value.Null{}, nil
	}

	switch head.field {
	case "method":
		return value.String(c.Method), nil
	case "path":
		return navigate(stringMapValue(c.PathParams), rest), nil
	case "query":
		return navigate(stringMapValue(c.QueryParams), rest), nil
	case "headers":
		if len(rest) == 0 {
			return stringMapValue(c.Headers), nil
		}
		name := strings.ToLower(rest[0].field)
		if rest[0].isIndex {
			return value.Null{}, nil
		}
		v, ok := c.Headers[name]
		if !ok {
			return value.Null{}, nil
		}
		return navigate(value.String(v), rest[1:]), nil
	case "body":
		if c.Body == nil {
			return value.Null{}, nil
		}
		return navigate(c.Body, rest), nil
	default:
		return value.Null{}, nil
	}
}

func stringMapValue(m map[string]string) value.Value {
	obj := value.NewObject()
	for _, k := range sortedKeys(m) {
		obj.Set(k, value.String(m[k]))
	}
	return obj
}

// Render substitutes every ${EXPR} in the template and returns the spliced
// string. $$ emits a literal $. Resolved values render per the string-host
// policy: Null as empty, scalars by their text form, trees as JSON.
func (c *Context) Render(template string) (string, error) {
	var sb strings.Builder
	if err := c.renderInto(&sb, template); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Eval applies the sole-expression rule: when the template is exactly one
// ${EXPR} and nothing else, the resolved Value is returned with its type
// preserved. Otherwise the spliced string is returned as a String value.
func (c *Context) Eval(template string) (value.Value, error) {
	if expr, ok := soleExpression(template); ok {
		return c.Resolve(expr)
	}
	s, err := c.Render(template)
	if err != nil {
		return nil, err
	}
	return value.String(s), nil
}

func (c *Context) renderInto(sb *strings.Builder, template string) error {
	rest := template
	for {
		dollar := strings.IndexByte(rest, '$')
		if dollar < 0 {
			sb.WriteString(rest)
			return nil
		}
		sb.WriteString(rest[:dollar])
		rest = rest[dollar:]

		switch {
		case strings.HasPrefix(rest, "$$"):
			sb.WriteByte('$')
			rest = rest[2:]
		case strings.HasPrefix(rest, "${"):
			closeBrace := strings.IndexByte(rest, '}')
			if closeBrace < 0 {
				return &Error{Path: template, Reason: "unterminated ${ expression"}
			}
			expr := rest[2:closeBrace]
			resolved, err := c.Resolve(expr)
			if err != nil {
				return err
			}
			sb.WriteString(renderValue(resolved))
			rest = rest[closeBrace+1:]
		default:
			// Bare $ with no brace is literal text.
			sb.WriteByte('$')
			rest = rest[1:]
		}
	}
}

// soleExpression reports whether the template is exactly one ${EXPR}.
func soleExpression(template string) (string, bool) {
	if !strings.HasPrefix(template, "${") || !strings.HasSuffix(template, "}") {
		return "", false
	}
	inner := template[2 : len(template)-1]
	// A '}' inside would terminate the expression early; a '$' means more
	// than one substitution participates.
	if strings.ContainsAny(inner, "}$") {
		return "", false
	}
	return inner, true
}

// renderValue converts a resolved value to its string-splice form.
func renderValue(v value.Value) string {
	switch t := v.(type) {
	case nil, value.Null:
		return ""
	case value.String:
		return string(t)
	case value.Bool:
		return strconv.FormatBool(bool(t))
	case value.Integer:
		return strconv.FormatInt(int64(t), 10)
	case value.Float:
		return strconv.FormatFloat(float64(t), 'g', -1, 64)
	default:
		return value.EncodeString(v)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Insertion order is unavailable for Go maps; sorted order keeps
	// rendering deterministic.
	sort.Strings(keys)
	return keys
}
