package engine

import (
	"fmt"

	"github.com/gantry/gantry/config"
	"github.com/gantry/gantry/pkg/condition"
	"github.com/gantry/gantry/pkg/dag"
)

// Route is a compiled route: the config spec plus its dependency graph and
// compiled conditions. Compilation happens once at startup; a compiled route
// is immutable and safe for concurrent executions.
type Route struct {
	Spec  *config.Route
	Graph *dag.Graph
	conds []condition.Condition
}

// CompileRoute builds the dependency graph and compiles every subrequest
// condition. Errors are configuration defects and abort startup.
func CompileRoute(spec *config.Route) (*Route, error) {
	names := make([]string, len(spec.Subrequests))
	deps := make([][]string, len(spec.Subrequests))
	for i, sub := range spec.Subrequests {
		names[i] = sub.Name
		deps[i] = sub.DependsOn
	}

	graph, err := dag.Build(names, deps)
	if err != nil {
		return nil, fmt.Errorf("route %s %s: %w", spec.Method, spec.Path, err)
	}

	conds := make([]condition.Condition, len(spec.Subrequests))
	for i, sub := range spec.Subrequests {
		compiled, err := condition.Compile(sub.Condition)
		if err != nil {
			return nil, fmt.Errorf("route %s %s subrequest %d: %w", spec.Method, spec.Path, i, err)
		}
		conds[i] = compiled
	}

	return &Route{Spec: spec, Graph: graph, conds: conds}, nil
}
