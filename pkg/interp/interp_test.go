package interp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantry/gantry/pkg/value"
)

func testContext() *Context {
	ctx := NewContext("GET")
	ctx.PathParams["id"] = "42"
	ctx.QueryParams["filter"] = "active"
	ctx.Headers["authorization"] = "Bearer token123"
	ctx.Headers["x-api-key"] = "secret"
	ctx.Body = value.NewObject().Set("name", value.String("alice"))
	return ctx
}

func TestRender_RequestRoots(t *testing.T) {
	ctx := testContext()

	tests := []struct {
		template string
		want     string
	}{
		{"/users/${request.path.id}", "/users/42"},
		{"status=${request.query.filter}", "status=active"},
		{"method is ${request.method}", "method is GET"},
		{"auth: ${request.headers[\"Authorization\"]}", "auth: Bearer token123"},
		{"auth: ${request.headers['authorization']}", "auth: Bearer token123"},
		{"name=${request.body.name}", "name=alice"},
		{"plain text", "plain text"},
		{"missing: [${request.path.nope}]", "missing: []"},
		{"price: $$5", "price: $5"},
		{"a $ sign", "a $ sign"},
	}

	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			got, err := ctx.Render(tt.template)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRender_HeaderLookupIsCaseInsensitive(t *testing.T) {
	ctx := testContext()

	upper, err := ctx.Render(`${request.headers["X-API-Key"]}`)
	require.NoError(t, err)
	lower, err := ctx.Render(`${request.headers["x-api-key"]}`)
	require.NoError(t, err)
	assert.Equal(t, "secret", upper)
	assert.Equal(t, upper, lower)
}

func TestRender_SubrequestResults(t *testing.T) {
	ctx := testContext()
	ctx.AddResult("user", value.NewObject().
		Set("status", value.Integer(200)).
		Set("body", value.NewObject().
			Set("id", value.Integer(7)).
			Set("tags", value.Array{value.String("a"), value.String("b")})))

	got, err := ctx.Render("id=${subrequest.user.body.id} tag=${subrequest.user.body.tags.1}")
	require.NoError(t, err)
	assert.Equal(t, "id=7 tag=b", got)
}

func TestRender_UnknownSubrequestResolvesEmpty(t *testing.T) {
	ctx := testContext()
	// Unknown subrequest names resolve to Null, which renders empty.
	got, err := ctx.Render("[${subrequest.ghost.body.id}]")
	require.NoError(t, err)
	assert.Equal(t, "[]", got)
}

func TestEval_SoleExpressionPreservesType(t *testing.T) {
	ctx := testContext()
	ctx.AddResult("u", value.NewObject().
		Set("count", value.Integer(3)).
		Set("ok", value.Bool(true)).
		Set("body", value.NewObject().Set("id", value.Integer(9))))

	count, err := ctx.Eval("${subrequest.u.count}")
	require.NoError(t, err)
	assert.Equal(t, value.Integer(3), count)

	ok, err := ctx.Eval("${subrequest.u.ok}")
	require.NoError(t, err)
	assert.Equal(t, value.Bool(true), ok)

	body, err := ctx.Eval("${subrequest.u.body}")
	require.NoError(t, err)
	assert.Equal(t, value.KindObject, body.Kind())

	// Splicing around the expression demotes the result to String.
	spliced, err := ctx.Eval("count=${subrequest.u.count}")
	require.NoError(t, err)
	assert.Equal(t, value.String("count=3"), spliced)

	missing, err := ctx.Eval("${subrequest.u.nope}")
	require.NoError(t, err)
	assert.Equal(t, value.Null{}, missing)
}

func TestRender_MalformedExpressions(t *testing.T) {
	ctx := testContext()

	for _, template := range []string{
		"${request.path.id",
		"${}",
		"${request..id}",
		"${request.headers[unquoted]}",
		"${request.headers[\"open}",
	} {
		_, err := ctx.Render(template)
		require.Error(t, err, "template %q", template)
		var ierr *Error
		assert.ErrorAs(t, err, &ierr)
	}
}

func TestRender_IsPure(t *testing.T) {
	ctx := testContext()
	ctx.AddResult("r", value.NewObject().Set("n", value.Integer(1)))

	first, err := ctx.Render("${subrequest.r.n}-${request.path.id}")
	require.NoError(t, err)
	second, err := ctx.Render("${subrequest.r.n}-${request.path.id}")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestWithResults_PinsSnapshot(t *testing.T) {
	ctx := testContext()
	snapshot := map[string]value.Value{}
	pinned := ctx.WithResults(snapshot)

	ctx.AddResult("late", value.NewObject().Set("x", value.Integer(1)))

	got, err := pinned.Render("[${subrequest.late.x}]")
	require.NoError(t, err)
	assert.Equal(t, "[]", got)
}

func TestLookup(t *testing.T) {
	root := value.NewObject().
		Set("data", value.NewObject().
			Set("users", value.Array{
				value.NewObject().Set("name", value.String("alice")),
			}).
			Set("nothing", value.Null{}))

	users, ok, err := Lookup(root, "data.users")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, value.KindArray, users.Kind())

	name, ok, err := Lookup(root, "data.users.0.name")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, value.String("alice"), name)

	// Present-but-null resolves, missing does not.
	_, ok, err = Lookup(root, "data.nothing")
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = Lookup(root, "data.ghost")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = Lookup(root, "data..users")
	assert.Error(t, err)
}
