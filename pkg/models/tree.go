package models

// Node is one entry of an already-resolved dependency tree. Nodes are owned
// by whoever resolved the tree; the planner only reads them and uses the
// pointer as the node's identity.
type Node struct {
	Package
	Location  string    `json:"location"` // "node_modules/foo", "packages/a", "" for the root
	Path      string    `json:"path"`     // absolute path on disk
	Resolved  string    `json:"resolved"`
	Integrity string    `json:"integrity,omitempty"`
	Manifest  *Manifest `json:"package"`

	Optional         bool `json:"optional,omitempty"`
	Dev              bool `json:"dev,omitempty"`
	HasShrinkwrap    bool `json:"hasShrinkwrap,omitempty"`
	HasInstallScript bool `json:"hasInstallScript,omitempty"`
	IsProjectRoot    bool `json:"isProjectRoot,omitempty"`
	IsWorkspace      bool `json:"isWorkspace,omitempty"`
	IsLink           bool `json:"isLink,omitempty"`

	// Target is the real node behind a link.
	Target *Node `json:"-"`

	EdgesOut []*Edge `json:"-"`
	// FsChildren holds workspace members of a project root.
	FsChildren []*Node `json:"-"`
}

// Edge is a dependency relation between two resolved nodes. To is nil when
// the dependency could not be resolved.
type Edge struct {
	Name     string
	From     *Node
	To       *Node
	Optional bool
}

// NewNode creates a resolved node with an empty manifest
func NewNode(name, version, location string) *Node {
	return &Node{
		Package:  NewPackage(name, version),
		Location: location,
		Manifest: &Manifest{Name: name, Version: version},
	}
}

// Real returns the node a link points at, or the node itself
func (n *Node) Real() *Node {
	if n == nil {
		return nil
	}
	if n.IsLink && n.Target != nil {
		return n.Target
	}
	return n
}

// AddEdge appends a dependency edge and returns it
func (n *Node) AddEdge(name string, to *Node, optional bool) *Edge {
	e := &Edge{Name: name, From: n, To: to, Optional: optional}
	n.EdgesOut = append(n.EdgesOut, e)
	return e
}

// AddWorkspace registers a workspace member under a project root
func (n *Node) AddWorkspace(ws *Node) {
	ws.IsWorkspace = true
	n.FsChildren = append(n.FsChildren, ws)
}

// Bundles reports whether this node declares name as a bundled dependency
func (n *Node) Bundles(name string) bool {
	return n.Manifest.Bundles(name)
}

// Target returns the resolved destination of the edge, following links
func (e *Edge) Target() *Node {
	return e.To.Real()
}

// Local reports whether the edge points at a workspace member
func (e *Edge) Local() bool {
	t := e.Target()
	return t != nil && t.IsWorkspace
}

// Valid reports whether the edge should be followed by the regular graph:
// it must resolve, and it must not be one of the source's bundled deps.
func (e *Edge) Valid() bool {
	t := e.Target()
	if t == nil {
		return false
	}
	return !e.From.Bundles(t.Name)
}
