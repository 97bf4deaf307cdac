// Package transform implements the response transformation stage: filter,
// field mappings, include/exclude and template, applied in that fixed order
// to the aggregated subrequest results.
package transform

import (
	"fmt"

	"github.com/gantry/gantry/config"
	"github.com/gantry/gantry/pkg/interp"
	"github.com/gantry/gantry/pkg/value"
)

// Error reports a transformation failure: a missing filter path or a
// template that does not render valid JSON.
type Error struct {
	Stage  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("response transform failed in %s: %s", e.Stage, e.Reason)
}

// Apply runs the configured stages over the aggregate result. A nil spec is
// the identity transform.
func Apply(aggregate value.Value, spec *config.ResponseTransform, ictx *interp.Context) (value.Value, error) {
	if spec == nil {
		return aggregate, nil
	}

	result := aggregate

	if spec.Filter != "" {
		selected, ok, err := interp.Lookup(result, spec.Filter)
		if err != nil {
			return nil, &Error{Stage: "filter", Reason: err.Error()}
		}
		if !ok {
			return nil, &Error{Stage: "filter", Reason: fmt.Sprintf("path %q not found in result", spec.Filter)}
		}
		result = selected
	}

	if len(spec.FieldMappings) > 0 {
		result = renameFields(result, spec.FieldMappings)
	}

	// include_fields and exclude_fields are mutually exclusive; the config
	// validator rejects both together.
	if spec.IncludeFields != nil {
		result = includeFields(result, spec.IncludeFields)
	} else if spec.ExcludeFields != nil {
		result = excludeFields(result, spec.ExcludeFields)
	}

	if spec.Template != "" {
		rendered, err := ictx.WithResponse(result).Render(spec.Template)
		if err != nil {
			return nil, &Error{Stage: "template", Reason: err.Error()}
		}
		parsed, err := value.Decode([]byte(rendered))
		if err != nil {
			return nil, &Error{Stage: "template", Reason: fmt.Sprintf("rendered template is not valid JSON: %v", err)}
		}
		result = parsed
	}

	return result, nil
}

// renameFields renames top-level keys of an object result; other shapes
// pass through unchanged. The original key order is preserved.
func renameFields(v value.Value, mappings map[string]string) value.Value {
	obj, ok := v.(*value.Object)
	if !ok {
		return v
	}

	out := value.NewObject()
	for _, key := range obj.Keys() {
		field, _ := obj.Get(key)
		if renamed, mapped := mappings[key]; mapped {
			out.Set(renamed, field)
		} else {
			out.Set(key, field)
		}
	}
	return out
}

// includeFields keeps only the listed top-level keys. An empty list yields
// an empty object.
func includeFields(v value.Value, include []string) value.Value {
	obj, ok := v.(*value.Object)
	if !ok {
		return v
	}

	keep := make(map[string]bool, len(include))
	for _, k := range include {
		keep[k] = true
	}

	out := value.NewObject()
	for _, key := range obj.Keys() {
		if keep[key] {
			field, _ := obj.Get(key)
			out.Set(key, field)
		}
	}
	return out
}

// excludeFields drops the listed top-level keys.
func excludeFields(v value.Value, exclude []string) value.Value {
	obj, ok := v.(*value.Object)
	if !ok {
		return v
	}

	drop := make(map[string]bool, len(exclude))
	for _, k := range exclude {
		drop[k] = true
	}

	out := value.NewObject()
	for _, key := range obj.Keys() {
		if !drop[key] {
			field, _ := obj.Get(key)
			out.Set(key, field)
		}
	}
	return out
}
