// Package gateway dispatches incoming HTTP requests onto configured routes:
// it matches method and path pattern, assembles the interpolation context,
// invokes the scheduler and the response transformer, and shapes errors into
// the gateway's error envelope.
package gateway

import (
	"github.com/gantry/gantry/config"
	"github.com/gantry/gantry/pkg/engine"
)

// route pairs a compiled pattern with its compiled engine route.
type route struct {
	method  string
	pattern pattern
	engine  *engine.Route
}

// Table is the compiled route table. Matching is first-match-wins in
// declaration order; it is immutable after construction.
type Table struct {
	routes []route
}

// NewTable compiles every configured route. Compilation failures are
// configuration defects and abort startup.
func NewTable(cfg *config.Config) (*Table, error) {
	table := &Table{routes: make([]route, 0, len(cfg.Routes))}
	for _, spec := range cfg.Routes {
		compiled, err := engine.CompileRoute(spec)
		if err != nil {
			return nil, err
		}
		table.routes = append(table.routes, route{
			method:  spec.Method,
			pattern: compilePattern(spec.Path),
			engine:  compiled,
		})
	}
	return table, nil
}

// Match finds the first route whose pattern and method match. When only the
// method differs on some matching path, pathMatched is true so the caller
// can answer 405 instead of 404.
func (t *Table) Match(method, path string) (*engine.Route, map[string]string, bool) {
	for _, r := range t.routes {
		params, ok := r.pattern.match(path)
		if !ok {
			continue
		}
		if r.method == method {
			return r.engine, params, false
		}
	}

	for _, r := range t.routes {
		if _, ok := r.pattern.match(path); ok {
			return nil, nil, true
		}
	}
	return nil, nil, false
}
