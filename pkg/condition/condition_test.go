package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantry/gantry/pkg/interp"
	"github.com/gantry/gantry/pkg/value"
)

func testContext() *interp.Context {
	ctx := interp.NewContext("GET")
	ctx.PathParams["id"] = "42"
	ctx.QueryParams["debug"] = "true"
	ctx.QueryParams["role"] = "admin"
	ctx.Headers["authorization"] = "Bearer token"
	ctx.Headers["x-role"] = "admin"
	return ctx
}

func evaluate(t *testing.T, spec *Spec, ctx *interp.Context) bool {
	t.Helper()
	cond, err := Compile(spec)
	require.NoError(t, err)
	return cond.Evaluate(ctx)
}

func TestCompile_Variants(t *testing.T) {
	ctx := testContext()

	tests := []struct {
		name string
		spec *Spec
		want bool
	}{
		{"always", &Spec{Type: "always"}, true},
		{"nil spec", nil, true},
		{"field exists in path", &Spec{Type: "fieldexists", Field: "id"}, true},
		{"field exists in query", &Spec{Type: "fieldexists", Field: "debug"}, true},
		{"field missing", &Spec{Type: "fieldexists", Field: "ghost"}, false},
		{"field equals", &Spec{Type: "fieldequals", Field: "id", Value: "42"}, true},
		{"field equals mismatch", &Spec{Type: "fieldequals", Field: "id", Value: "7"}, false},
		{"field equals missing", &Spec{Type: "fieldequals", Field: "ghost", Value: ""}, false},
		{"field matches", &Spec{Type: "fieldmatches", Field: "id", Pattern: `\d+`}, true},
		{"field matches is anchored", &Spec{Type: "fieldmatches", Field: "role", Pattern: "adm"}, false},
		{"header exists", &Spec{Type: "headerexists", Header: "Authorization"}, true},
		{"header missing", &Spec{Type: "headerexists", Header: "X-Missing"}, false},
		{"header equals case-insensitive name", &Spec{Type: "headerequals", Header: "X-Role", Value: "admin"}, true},
		{"query exists", &Spec{Type: "queryexists", Param: "debug"}, true},
		{"query equals", &Spec{Type: "queryequals", Param: "role", Value: "admin"}, true},
		{"query equals missing", &Spec{Type: "queryequals", Param: "ghost", Value: "x"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, evaluate(t, tt.spec, ctx))
		})
	}
}

func TestCompile_Combinators(t *testing.T) {
	ctx := testContext()

	authzAdminOrPremium := &Spec{
		Type: "and",
		Conditions: []*Spec{
			{Type: "headerexists", Header: "Authorization"},
			{
				Type: "or",
				Conditions: []*Spec{
					{Type: "headerequals", Header: "X-Role", Value: "admin"},
					{Type: "headerequals", Header: "X-Sub", Value: "premium"},
				},
			},
		},
	}
	assert.True(t, evaluate(t, authzAdminOrPremium, ctx))

	// Missing Authorization fails the conjunction regardless of role.
	noAuth := testContext()
	delete(noAuth.Headers, "authorization")
	assert.False(t, evaluate(t, authzAdminOrPremium, noAuth))

	notMissing := &Spec{
		Type:      "not",
		Condition: &Spec{Type: "headerexists", Header: "X-Missing"},
	}
	assert.True(t, evaluate(t, notMissing, ctx))
}

func TestCompile_NegateFlag(t *testing.T) {
	ctx := testContext()

	spec := &Spec{Type: "fieldexists", Field: "id", Negate: true}
	assert.False(t, evaluate(t, spec, ctx))

	// Double negation restores the original condition.
	doubled := &Spec{
		Type:      "not",
		Condition: &Spec{Type: "fieldexists", Field: "id", Negate: true},
	}
	assert.True(t, evaluate(t, doubled, ctx))
}

func TestCompile_SubrequestFieldPaths(t *testing.T) {
	ctx := testContext()
	ctx.AddResult("cache_check", value.NewObject().
		Set("type", value.String("redis")).
		Set("value", value.Null{}))

	cacheMiss := &Spec{Type: "fieldexists", Field: "subrequest.cache_check.value", Negate: true}
	assert.True(t, evaluate(t, cacheMiss, ctx), "null cache value counts as missing")

	ctx.AddResult("cache_check", value.NewObject().
		Set("type", value.String("redis")).
		Set("value", value.String(`{"id":1}`)))
	assert.False(t, evaluate(t, cacheMiss, ctx), "cache hit negates to false")
}

func TestCompile_Errors(t *testing.T) {
	specs := []*Spec{
		{Type: "unknown"},
		{Type: "fieldexists"},
		{Type: "fieldmatches", Field: "id", Pattern: "("},
		{Type: "headerequals"},
		{Type: "and"},
		{Type: "not"},
	}

	for _, spec := range specs {
		_, err := Compile(spec)
		require.Error(t, err, "spec %+v", spec)
		var cerr *CompileError
		assert.ErrorAs(t, err, &cerr)
	}
}
