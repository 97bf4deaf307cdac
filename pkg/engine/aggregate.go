package engine

import (
	"sort"

	"github.com/gantry/gantry/pkg/value"
)

// Aggregate is the combined record of all subrequest outcomes for one route
// execution. Ordered always follows declaration order regardless of
// completion order; ByName indexes the named outcomes, including skip
// sentinels.
type Aggregate struct {
	Ordered []value.Value
	ByName  map[string]value.Value
}

// Skipped is the sentinel recorded for a subrequest whose condition
// evaluated false, so later references can detect it without aborting.
func Skipped() *value.Object {
	return value.NewObject().Set("skipped", value.Bool(true))
}

// Body is the default response body when no transform is configured.
func (a *Aggregate) Body() *value.Object {
	return value.NewObject().
		Set("subrequests", value.Array(a.Ordered)).
		Set("count", value.Integer(len(a.Ordered)))
}

// TransformInput is the object handed to the response transformer; it adds
// the by-name index so filters can address results directly.
func (a *Aggregate) TransformInput() *value.Object {
	byName := value.NewObject()
	for _, name := range sortedNames(a.ByName) {
		byName.Set(name, a.ByName[name])
	}
	return value.NewObject().
		Set("subrequests", value.Array(a.Ordered)).
		Set("subrequests_by_name", byName).
		Set("count", value.Integer(len(a.Ordered)))
}

func sortedNames(m map[string]value.Value) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
