// Package ideal builds the proxy graph ("ideal graph") of an already-resolved
// dependency tree and derives content hashes for its external subtrees.
//
// The proxy graph is deliberately small: a root, the workspaces, and one
// ExternalProxy per distinct resolved node. Structurally shared subtrees in
// the resolved tree are shared objects in the proxy graph.
package ideal

import "github.com/acheong08/spr-isolate/pkg/models"

// Kind distinguishes the three proxy variants
type Kind int

const (
	KindRoot Kind = iota
	KindWorkspace
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindWorkspace:
		return "workspace"
	case KindExternal:
		return "external"
	}
	return "unknown"
}

// ProxyNode is an immutable-after-build stand-in for a resolved node
type ProxyNode struct {
	// ID is unique within a graph. Nested shrinkwrap builds are spliced in
	// with "<parent id>=><child id>".
	ID   string
	Kind Kind

	Name     string
	Version  string
	Resolved string
	Optional bool

	// Location is the resolved-tree location the proxy was built from.
	Location string
	// LocalLocation and LocalPath are set for the root and workspaces.
	LocalLocation string
	LocalPath     string

	Package          *models.Manifest
	HasInstallScript bool
	// Nested is set on externals spliced in from a shrinkwrap sub-build;
	// their Location is relative to the shrinkwrapped package, not the root.
	Nested bool

	LocalDeps    []*ProxyNode
	ExternalDeps []*ProxyNode
	OptionalDeps []*ProxyNode

	Root *ProxyNode
}

// Dependencies returns external, local, then optional dependencies. The
// order is fixed so hashing and wiring never depend on map iteration.
func (p *ProxyNode) Dependencies() []*ProxyNode {
	deps := make([]*ProxyNode, 0, len(p.ExternalDeps)+len(p.LocalDeps)+len(p.OptionalDeps))
	deps = append(deps, p.ExternalDeps...)
	deps = append(deps, p.LocalDeps...)
	deps = append(deps, p.OptionalDeps...)
	return deps
}

// IsProjectRoot reports whether this is the graph's root proxy
func (p *ProxyNode) IsProjectRoot() bool {
	return p.Kind == KindRoot
}

// IsWorkspace reports whether this proxy is a workspace member
func (p *ProxyNode) IsWorkspace() bool {
	return p.Kind == KindWorkspace
}

// Graph is the result of one build: the root proxy plus the flattened
// workspace and external lists.
type Graph struct {
	Root       *ProxyNode
	Workspaces []*ProxyNode
	External   []*ProxyNode
}
