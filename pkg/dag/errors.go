package dag

import (
	"fmt"
	"strings"
)

// UnknownDependencyError is returned when depends_on names something that is
// not an earlier named subrequest. Forward references and references to
// unnamed subrequests both land here.
type UnknownDependencyError struct {
	Node string
	Dep  string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("subrequest %s depends on %q, which is not an earlier named subrequest", e.Node, e.Dep)
}

// DuplicateNameError is returned when two subrequests share a name.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("duplicate subrequest name %q", e.Name)
}

// CyclicDependencyError is returned when the graph has no topological order.
type CyclicDependencyError struct {
	Nodes []string
}

func (e *CyclicDependencyError) Error() string {
	if len(e.Nodes) == 0 {
		return "cyclic dependency detected"
	}
	return fmt.Sprintf("cyclic dependency detected among: %s", strings.Join(e.Nodes, ", "))
}
