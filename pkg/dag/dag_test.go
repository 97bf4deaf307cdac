package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func build(t *testing.T, names []string, deps [][]string) *Graph {
	t.Helper()
	g, err := Build(names, deps)
	require.NoError(t, err)
	return g
}

func TestBuild_Linear(t *testing.T) {
	g := build(t,
		[]string{"a", "b", "c"},
		[][]string{{}, {"a"}, {"b"}},
	)

	order, err := g.Toposort()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, order)
	assert.Equal(t, [][]int{{0}, {1}, {2}}, g.Waves())
}

func TestBuild_Diamond(t *testing.T) {
	// user -> posts, user -> friends, both -> merged
	g := build(t,
		[]string{"user", "posts", "friends", "merged"},
		[][]string{{}, {"user"}, {"user"}, {"posts", "friends"}},
	)

	assert.Equal(t, [][]int{{0}, {1, 2}, {3}}, g.Waves())
	assert.Equal(t, []int{1, 2}, g.Dependents(0))

	idx, ok := g.IndexOf("friends")
	require.True(t, ok)
	assert.Equal(t, 2, idx)
}

func TestBuild_UnnamedNodesParticipate(t *testing.T) {
	g := build(t,
		[]string{"", "user", ""},
		[][]string{{}, {}, {"user"}},
	)

	assert.Equal(t, 3, g.Len())
	assert.Equal(t, [][]int{{0, 1}, {2}}, g.Waves())

	_, ok := g.IndexOf("")
	assert.False(t, ok)
}

func TestBuild_ForwardReferenceRejected(t *testing.T) {
	_, err := Build(
		[]string{"a", "b"},
		[][]string{{"b"}, {}},
	)
	require.Error(t, err)
	var depErr *UnknownDependencyError
	assert.ErrorAs(t, err, &depErr)
	assert.Equal(t, "b", depErr.Dep)
}

func TestBuild_SelfReferenceRejected(t *testing.T) {
	_, err := Build([]string{"a"}, [][]string{{"a"}})
	var depErr *UnknownDependencyError
	assert.ErrorAs(t, err, &depErr)
}

func TestBuild_DuplicateNameRejected(t *testing.T) {
	_, err := Build([]string{"a", "a"}, [][]string{{}, {}})
	var dupErr *DuplicateNameError
	assert.ErrorAs(t, err, &dupErr)
}

func TestBuild_DependencyOnUnnamedRejected(t *testing.T) {
	_, err := Build([]string{"", "b"}, [][]string{{}, {"anything"}})
	var depErr *UnknownDependencyError
	assert.ErrorAs(t, err, &depErr)
}

func TestWaves_Empty(t *testing.T) {
	g := build(t, nil, nil)
	assert.Nil(t, g.Waves())
	order, err := g.Toposort()
	require.NoError(t, err)
	assert.Empty(t, order)
}

func TestWaves_DeclarationOrderWithinWave(t *testing.T) {
	g := build(t,
		[]string{"z", "a", "m"},
		[][]string{{}, {}, {}},
	)
	assert.Equal(t, [][]int{{0, 1, 2}}, g.Waves())
}
