package isolate

import "github.com/acheong08/spr-isolate/pkg/models"

// NodeKind identifies the variant of a physical tree node
type NodeKind int

const (
	NodeRoot NodeKind = iota
	NodeWorkspace
	NodeStore
	NodeBundled
	NodeLink
)

func (k NodeKind) String() string {
	switch k {
	case NodeRoot:
		return "root"
	case NodeWorkspace:
		return "workspace"
	case NodeStore:
		return "store"
	case NodeBundled:
		return "bundled"
	case NodeLink:
		return "link"
	}
	return "unknown"
}

// TreeNode is one node of the physical tree handed to the file-system writer
type TreeNode struct {
	Kind     NodeKind
	Name     string
	Version  string
	Location string // relative to the project root, "/" separated
	Path     string
	Realpath string
	// StoreKey is set for store entries and for links pointing at them.
	StoreKey string

	Package          *models.Manifest
	Resolved         string
	Optional         bool
	IsLink           bool
	IsInStore        bool
	HasInstallScript bool
	// BinPaths are the bin-shim locations of every consumer of this node.
	BinPaths []string

	// EdgesIn has set semantics: every edge appears once.
	EdgesIn  []*TreeEdge
	EdgesOut map[string]*TreeEdge

	// Target is the node itself, or the node a link points at.
	Target *TreeNode
	Parent *TreeNode
	Root   *TreeNode

	// Root only
	Children   []*TreeNode
	FsChildren []*TreeNode
	Inventory  *Inventory
}

// TreeEdge is a wired dependency between two physical nodes
type TreeEdge struct {
	Name     string
	From     *TreeNode
	To       *TreeNode
	Optional bool
}

func newTreeNode(kind NodeKind) *TreeNode {
	n := &TreeNode{
		Kind:     kind,
		EdgesOut: make(map[string]*TreeEdge),
	}
	n.Target = n
	return n
}

// IsProjectRoot reports whether n is the root of the physical tree
func (n *TreeNode) IsProjectRoot() bool {
	return n.Kind == NodeRoot
}

// connect wires from -> to under name
func connect(from, to *TreeNode, name string, optional bool) *TreeEdge {
	e := &TreeEdge{Name: name, From: from, To: to, Optional: optional}
	from.EdgesOut[name] = e
	to.EdgesIn = append(to.EdgesIn, e)
	return e
}

// Inventory indexes every node of a tree below the root by location
type Inventory struct {
	nodes map[string]*TreeNode
	order []string
}

// NewInventory creates an empty inventory
func NewInventory() *Inventory {
	return &Inventory{nodes: make(map[string]*TreeNode)}
}

// Get returns the node at location
func (inv *Inventory) Get(location string) (*TreeNode, bool) {
	n, ok := inv.nodes[location]
	return n, ok
}

// Set indexes n at location, replacing any previous node there
func (inv *Inventory) Set(location string, n *TreeNode) {
	if _, ok := inv.nodes[location]; !ok {
		inv.order = append(inv.order, location)
	}
	inv.nodes[location] = n
}

// Delete removes the node at location
func (inv *Inventory) Delete(location string) {
	if _, ok := inv.nodes[location]; !ok {
		return
	}
	delete(inv.nodes, location)
	for i, loc := range inv.order {
		if loc == location {
			inv.order = append(inv.order[:i], inv.order[i+1:]...)
			break
		}
	}
}

// Has reports whether a node is indexed at location
func (inv *Inventory) Has(location string) bool {
	_, ok := inv.nodes[location]
	return ok
}

// Len returns the number of indexed nodes
func (inv *Inventory) Len() int {
	return len(inv.nodes)
}

// Locations returns all indexed locations in insertion order
func (inv *Inventory) Locations() []string {
	out := make([]string, len(inv.order))
	copy(out, inv.order)
	return out
}

// Query returns the nodes whose key equals value. Supported keys are
// "name", "resolved", "storeKey" and "kind"; anything else matches nothing.
func (inv *Inventory) Query(key, value string) []*TreeNode {
	var field func(*TreeNode) string
	switch key {
	case "name":
		field = func(n *TreeNode) string { return n.Name }
	case "resolved":
		field = func(n *TreeNode) string { return n.Resolved }
	case "storeKey":
		field = func(n *TreeNode) string { return n.StoreKey }
	case "kind":
		field = func(n *TreeNode) string { return n.Kind.String() }
	default:
		return nil
	}

	var out []*TreeNode
	for _, loc := range inv.order {
		if n := inv.nodes[loc]; field(n) == value {
			out = append(out, n)
		}
	}
	return out
}
