// Package engine drives a route's subrequest graph: wave-based concurrent
// execution in parallel mode, strict declared order in sequential mode. The
// scheduler honors depends_on, per-subrequest conditions and the per-client
// timeouts enforced inside each client.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/gantry/gantry/config"
	"github.com/gantry/gantry/pkg/client"
	"github.com/gantry/gantry/pkg/interp"
	"github.com/gantry/gantry/pkg/logger"
	"github.com/gantry/gantry/pkg/value"
)

// ClientSource resolves client ids to initialized clients. *client.Registry
// is the production implementation; tests substitute stubs.
type ClientSource interface {
	Get(id string) (client.Client, bool)
}

// Scheduler executes compiled routes against a client source.
type Scheduler struct {
	clients ClientSource
	log     logger.Logger
}

// NewScheduler creates a scheduler.
func NewScheduler(clients ClientSource, log logger.Logger) *Scheduler {
	return &Scheduler{clients: clients, log: log}
}

// Run executes the route's subrequests under its configured mode and
// returns the aggregate of all outcomes. The first failing subrequest (by
// declared order) aborts the route; in-flight wave siblings are awaited and
// their results discarded. Context cancellation stops new dispatches.
func (s *Scheduler) Run(ctx context.Context, route *Route, ictx *interp.Context) (*Aggregate, error) {
	if route.Spec.Mode() == config.ModeSequential {
		return s.runSequential(ctx, route, ictx)
	}
	return s.runParallel(ctx, route, ictx)
}

// execution tracks per-run state shared by both modes.
type execution struct {
	outcomes []value.Value
	skipped  []bool
	results  map[string]value.Value
}

func newExecution(n int) *execution {
	return &execution{
		outcomes: make([]value.Value, n),
		skipped:  make([]bool, n),
		results:  map[string]value.Value{},
	}
}

// markSkipped records the skip sentinel for a node.
func (e *execution) markSkipped(sub *config.Subrequest, idx int) {
	sentinel := Skipped()
	e.outcomes[idx] = sentinel
	e.skipped[idx] = true
	if sub.Name != "" {
		e.results[sub.Name] = sentinel
	}
}

// markDone records a completed result.
func (e *execution) markDone(sub *config.Subrequest, idx int, result value.Value) {
	e.outcomes[idx] = result
	if sub.Name != "" {
		e.results[sub.Name] = result
	}
}

// depSkipped reports whether any declared dependency of node idx was
// skipped; skips propagate along depends_on edges.
func (e *execution) depSkipped(route *Route, idx int) bool {
	for _, dep := range route.Graph.Node(idx).Deps {
		if e.skipped[dep] {
			return true
		}
	}
	return false
}

func (e *execution) aggregate() *Aggregate {
	return &Aggregate{Ordered: e.outcomes, ByName: e.results}
}

// snapshot copies the current result map so wave siblings each see a
// context pinned to wave start.
func (e *execution) snapshot() map[string]value.Value {
	cp := make(map[string]value.Value, len(e.results))
	for k, v := range e.results {
		cp[k] = v
	}
	return cp
}

func (s *Scheduler) runParallel(ctx context.Context, route *Route, ictx *interp.Context) (*Aggregate, error) {
	exec := newExecution(route.Graph.Len())

	for waveIdx, wave := range route.Graph.Waves() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		waveCtx := ictx.WithResults(exec.snapshot())

		// Conditions are evaluated against the wave-start context; skipped
		// nodes are complete immediately and unblock their dependents.
		var ready []int
		for _, idx := range wave {
			sub := route.Spec.Subrequests[idx]
			if exec.depSkipped(route, idx) || !route.conds[idx].Evaluate(waveCtx) {
				s.log.Debug("skipping subrequest", "name", sub.Name, "wave", waveIdx)
				exec.markSkipped(sub, idx)
				continue
			}
			ready = append(ready, idx)
		}

		if len(ready) == 0 {
			continue
		}
		s.log.Debug("dispatching wave", "wave", waveIdx, "subrequests", len(ready))

		waveResults := make([]value.Value, route.Graph.Len())
		waveErrs := make([]error, route.Graph.Len())

		var wg sync.WaitGroup
		for _, idx := range ready {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				res, err := s.dispatch(ctx, route.Spec.Subrequests[idx], waveCtx)
				waveResults[idx], waveErrs[idx] = res, err
			}(idx)
		}
		// Siblings are awaited even after a failure; their results are
		// discarded with the route.
		wg.Wait()

		for _, idx := range ready {
			if waveErrs[idx] != nil {
				return nil, waveErrs[idx]
			}
		}
		for _, idx := range ready {
			exec.markDone(route.Spec.Subrequests[idx], idx, waveResults[idx])
		}
	}

	return exec.aggregate(), nil
}

func (s *Scheduler) runSequential(ctx context.Context, route *Route, ictx *interp.Context) (*Aggregate, error) {
	exec := newExecution(route.Graph.Len())

	for idx, sub := range route.Spec.Subrequests {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		stepCtx := ictx.WithResults(exec.results)

		if exec.depSkipped(route, idx) || !route.conds[idx].Evaluate(stepCtx) {
			s.log.Debug("skipping subrequest", "name", sub.Name, "position", idx)
			exec.markSkipped(sub, idx)
			continue
		}

		res, err := s.dispatch(ctx, sub, stepCtx)
		if err != nil {
			return nil, err
		}
		exec.markDone(sub, idx, res)
	}

	return exec.aggregate(), nil
}

// dispatch executes a single subrequest and stamps its name onto any client
// error for the dispatcher's error envelope.
func (s *Scheduler) dispatch(ctx context.Context, sub *config.Subrequest, ictx *interp.Context) (value.Value, error) {
	c, ok := s.clients.Get(sub.ClientID)
	if !ok {
		// The validator guarantees registration; this guards a mismatched
		// registry wiring.
		return nil, &client.Error{
			Kind:       client.KindBackend,
			ClientID:   sub.ClientID,
			Subrequest: sub.Name,
			Message:    fmt.Sprintf("client %q is not registered", sub.ClientID),
		}
	}

	result, err := c.Execute(ctx, sub, ictx)
	if err != nil {
		if cerr, isClient := err.(*client.Error); isClient && cerr.Subrequest == "" {
			cerr.Subrequest = sub.Name
		}
		return nil, err
	}
	return result, nil
}
