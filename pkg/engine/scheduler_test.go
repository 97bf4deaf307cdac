package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantry/gantry/config"
	"github.com/gantry/gantry/pkg/client"
	"github.com/gantry/gantry/pkg/condition"
	"github.com/gantry/gantry/pkg/interp"
	"github.com/gantry/gantry/pkg/logger"
	"github.com/gantry/gantry/pkg/value"
)

// stubClient executes subrequests with a caller-supplied function and
// records start/finish times for ordering assertions.
type stubClient struct {
	mu       sync.Mutex
	fn       func(sub *config.Subrequest, ictx *interp.Context) (*value.Object, error)
	delay    time.Duration
	started  map[string]time.Time
	finished map[string]time.Time
}

func newStubClient(fn func(sub *config.Subrequest, ictx *interp.Context) (*value.Object, error)) *stubClient {
	return &stubClient{
		fn:       fn,
		started:  map[string]time.Time{},
		finished: map[string]time.Time{},
	}
}

func (s *stubClient) Execute(ctx context.Context, sub *config.Subrequest, ictx *interp.Context) (*value.Object, error) {
	s.mu.Lock()
	s.started[sub.Name] = time.Now()
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	res, err := s.fn(sub, ictx)

	s.mu.Lock()
	s.finished[sub.Name] = time.Now()
	s.mu.Unlock()
	return res, err
}

func (s *stubClient) Close() error { return nil }

type stubSource map[string]client.Client

func (s stubSource) Get(id string) (client.Client, bool) {
	c, ok := s[id]
	return c, ok
}

func echoResult(sub *config.Subrequest, ictx *interp.Context) (*value.Object, error) {
	uri, err := ictx.Render(sub.URI)
	if err != nil {
		return nil, err
	}
	return value.NewObject().
		Set("client_id", value.String(sub.ClientID)).
		Set("type", value.String("http")).
		Set("status", value.Integer(200)).
		Set("body", value.NewObject().Set("uri", value.String(uri)).Set("id", value.Integer(7))), nil
}

func httpSub(name, uri string, deps ...string) *config.Subrequest {
	return &config.Subrequest{
		Name:      name,
		ClientID:  "api",
		Type:      config.ClientHTTP,
		URI:       uri,
		Method:    "GET",
		DependsOn: deps,
	}
}

func compile(t *testing.T, spec *config.Route) *Route {
	t.Helper()
	route, err := CompileRoute(spec)
	require.NoError(t, err)
	return route
}

func run(t *testing.T, stub *stubClient, spec *config.Route, ictx *interp.Context) (*Aggregate, error) {
	t.Helper()
	sched := NewScheduler(stubSource{"api": stub}, logger.Discard())
	return sched.Run(context.Background(), compile(t, spec), ictx)
}

func TestRun_ParallelFanOutWithDependencyWave(t *testing.T) {
	stub := newStubClient(echoResult)
	stub.delay = 10 * time.Millisecond

	spec := &config.Route{
		Method: "GET",
		Path:   "/u/:id",
		Subrequests: []*config.Subrequest{
			httpSub("user", "/users/${request.path.id}"),
			httpSub("posts", "/users/${subrequest.user.body.id}/posts", "user"),
			httpSub("friends", "/users/${subrequest.user.body.id}/friends", "user"),
		},
	}

	ictx := interp.NewContext("GET")
	ictx.PathParams["id"] = "42"

	agg, err := run(t, stub, spec, ictx)
	require.NoError(t, err)
	require.Len(t, agg.Ordered, 3)

	// Dependents start only after the dependency finished.
	assert.True(t, !stub.started["posts"].Before(stub.finished["user"]))
	assert.True(t, !stub.started["friends"].Before(stub.finished["user"]))

	// Both saw the user result through interpolation.
	for _, name := range []string{"posts", "friends"} {
		res := agg.ByName[name].(*value.Object)
		body, _ := res.Get("body")
		uri, _ := body.(*value.Object).Get("uri")
		assert.Contains(t, string(uri.(value.String)), "/users/7/")
	}

	// Aggregate order follows declaration, not completion.
	first := agg.Ordered[0].(*value.Object)
	body, _ := first.Get("body")
	uri, _ := body.(*value.Object).Get("uri")
	assert.Equal(t, value.String("/users/42"), uri)
}

func TestRun_ParallelSiblingsCannotSeeEachOther(t *testing.T) {
	stub := newStubClient(echoResult)

	spec := &config.Route{
		Method: "GET",
		Path:   "/x",
		Subrequests: []*config.Subrequest{
			httpSub("a", "/a?peer=${subrequest.b.status}"),
			httpSub("b", "/b?peer=${subrequest.a.status}"),
		},
	}

	agg, err := run(t, stub, spec, interp.NewContext("GET"))
	require.NoError(t, err)

	for _, name := range []string{"a", "b"} {
		res := agg.ByName[name].(*value.Object)
		body, _ := res.Get("body")
		uri, _ := body.(*value.Object).Get("uri")
		assert.Contains(t, string(uri.(value.String)), "peer=", "sibling reference renders empty")
		assert.NotContains(t, string(uri.(value.String)), "200")
	}
}

func TestRun_SequentialPreservesDeclaredOrder(t *testing.T) {
	stub := newStubClient(echoResult)
	stub.delay = 5 * time.Millisecond

	spec := &config.Route{
		Method:        "GET",
		Path:          "/x",
		ExecutionMode: config.ModeSequential,
		Subrequests: []*config.Subrequest{
			httpSub("first", "/1"),
			httpSub("second", "/2"),
			httpSub("third", "/3"),
		},
	}

	_, err := run(t, stub, spec, interp.NewContext("GET"))
	require.NoError(t, err)

	assert.True(t, !stub.started["second"].Before(stub.finished["first"]))
	assert.True(t, !stub.started["third"].Before(stub.finished["second"]))
}

func TestRun_ConditionFalseRecordsSkipSentinel(t *testing.T) {
	stub := newStubClient(echoResult)

	spec := &config.Route{
		Method: "GET",
		Path:   "/x",
		Subrequests: []*config.Subrequest{
			httpSub("always", "/a"),
			func() *config.Subrequest {
				s := httpSub("gated", "/g")
				s.Condition = &condition.Spec{Type: "headerexists", Header: "X-Feature"}
				return s
			}(),
		},
	}

	agg, err := run(t, stub, spec, interp.NewContext("GET"))
	require.NoError(t, err)

	sentinel := agg.ByName["gated"].(*value.Object)
	skipped, _ := sentinel.Get("skipped")
	assert.Equal(t, value.Bool(true), skipped)

	// Skipped holds its position in the ordered aggregate.
	assert.Same(t, agg.Ordered[1].(*value.Object), sentinel)
}

func TestRun_SkipPropagatesAlongDependencies(t *testing.T) {
	stub := newStubClient(echoResult)

	// cache hit: fetch is gated off, cache_set depends on fetch.
	spec := &config.Route{
		Method:        "GET",
		Path:          "/x",
		ExecutionMode: config.ModeSequential,
		Subrequests: []*config.Subrequest{
			httpSub("cache_check", "/cache"),
			func() *config.Subrequest {
				s := httpSub("fetch", "/fetch")
				s.Condition = &condition.Spec{
					Type:   "fieldexists",
					Field:  "subrequest.cache_check.body.id",
					Negate: true,
				}
				return s
			}(),
			httpSub("cache_set", "/store", "fetch"),
		},
	}

	agg, err := run(t, stub, spec, interp.NewContext("GET"))
	require.NoError(t, err)

	for _, name := range []string{"fetch", "cache_set"} {
		res := agg.ByName[name].(*value.Object)
		skipped, _ := res.Get("skipped")
		assert.Equal(t, value.Bool(true), skipped, "%s should be skipped", name)
	}

	// References into a skipped result resolve to Null.
	ictx := interp.NewContext("GET")
	ictx.Results = agg.ByName
	v, err := ictx.Resolve("subrequest.fetch.body.id")
	require.NoError(t, err)
	assert.Equal(t, value.Null{}, v)
}

func TestRun_CacheMissRunsWholeChain(t *testing.T) {
	// cache_check returns a Null value, so the negated fieldexists condition
	// on subrequest.cache_check.value holds and the chain runs.
	stub := newStubClient(func(sub *config.Subrequest, ictx *interp.Context) (*value.Object, error) {
		if sub.Name == "cache_check" {
			return value.NewObject().
				Set("type", value.String("redis")).
				Set("value", value.Null{}), nil
		}
		return echoResult(sub, ictx)
	})

	spec := &config.Route{
		Method:        "GET",
		Path:          "/x",
		ExecutionMode: config.ModeSequential,
		Subrequests: []*config.Subrequest{
			httpSub("cache_check", "/cache"),
			func() *config.Subrequest {
				s := httpSub("fetch", "/fetch")
				s.Condition = &condition.Spec{
					Type:   "fieldexists",
					Field:  "subrequest.cache_check.value",
					Negate: true,
				}
				return s
			}(),
			httpSub("cache_set", "/store", "fetch"),
		},
	}

	agg, err := run(t, stub, spec, interp.NewContext("GET"))
	require.NoError(t, err)

	for _, name := range []string{"fetch", "cache_set"} {
		res := agg.ByName[name].(*value.Object)
		assert.False(t, res.Has("skipped"), "%s should have run", name)
	}
}

func TestRun_FirstErrorByDeclaredOrderAborts(t *testing.T) {
	stub := newStubClient(func(sub *config.Subrequest, ictx *interp.Context) (*value.Object, error) {
		switch sub.Name {
		case "bad_a":
			return nil, &client.Error{Kind: client.KindBackend, ClientID: "api", Message: "a exploded"}
		case "bad_b":
			return nil, &client.Error{Kind: client.KindBackend, ClientID: "api", Message: "b exploded"}
		}
		return echoResult(sub, ictx)
	})

	spec := &config.Route{
		Method: "GET",
		Path:   "/x",
		Subrequests: []*config.Subrequest{
			httpSub("ok", "/ok"),
			httpSub("bad_a", "/a"),
			httpSub("bad_b", "/b"),
		},
	}

	_, err := run(t, stub, spec, interp.NewContext("GET"))
	require.Error(t, err)

	var cerr *client.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "a exploded", cerr.Message)
	assert.Equal(t, "bad_a", cerr.Subrequest, "scheduler stamps the subrequest name")
}

func TestRun_SkippedIsNotFailed(t *testing.T) {
	stub := newStubClient(echoResult)

	spec := &config.Route{
		Method: "GET",
		Path:   "/x",
		Subrequests: []*config.Subrequest{
			func() *config.Subrequest {
				s := httpSub("gated", "/g")
				s.Condition = &condition.Spec{Type: "queryexists", Param: "missing"}
				return s
			}(),
		},
	}

	agg, err := run(t, stub, spec, interp.NewContext("GET"))
	require.NoError(t, err, "a skip must not abort the route")
	require.Len(t, agg.Ordered, 1)
}

func TestRun_EmptyRoute(t *testing.T) {
	stub := newStubClient(echoResult)
	agg, err := run(t, stub, &config.Route{Method: "GET", Path: "/x"}, interp.NewContext("GET"))
	require.NoError(t, err)

	assert.Equal(t, `{"subrequests":[],"count":0}`, value.EncodeString(agg.Body()))
}

func TestRun_CancelledContextStopsDispatch(t *testing.T) {
	stub := newStubClient(echoResult)
	sched := NewScheduler(stubSource{"api": stub}, logger.Discard())

	spec := &config.Route{
		Method:      "GET",
		Path:        "/x",
		Subrequests: []*config.Subrequest{httpSub("a", "/a")},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sched.Run(ctx, compile(t, spec), interp.NewContext("GET"))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, stub.started)
}

func TestRun_UnknownClientIsBackendError(t *testing.T) {
	sched := NewScheduler(stubSource{}, logger.Discard())

	spec := &config.Route{
		Method:      "GET",
		Path:        "/x",
		Subrequests: []*config.Subrequest{httpSub("a", "/a")},
	}

	_, err := sched.Run(context.Background(), compile(t, spec), interp.NewContext("GET"))
	var cerr *client.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, client.KindBackend, cerr.Kind)
}

func TestAggregate_TransformInput(t *testing.T) {
	agg := &Aggregate{
		Ordered: []value.Value{value.NewObject().Set("status", value.Integer(200))},
		ByName:  map[string]value.Value{"u": value.NewObject().Set("status", value.Integer(200))},
	}

	input := agg.TransformInput()
	assert.True(t, input.Has("subrequests"))
	assert.True(t, input.Has("subrequests_by_name"))
	count, _ := input.Get("count")
	assert.Equal(t, value.Integer(1), count)
}
