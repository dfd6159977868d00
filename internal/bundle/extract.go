// Package bundle extracts the bundled-dependency subgraph of a resolved tree.
//
// Bundled dependencies ship inside their owner's tarball. They bypass normal
// resolution, are never content-addressed and always stay nested under the
// package that bundles them. Once inside a bundle, every transitive
// dependency is part of it.
package bundle

import (
	"github.com/acheong08/spr-isolate/internal/logging"
	"github.com/acheong08/spr-isolate/pkg/models"
)

// RootLocation is the From value of edges owned by the project root
const RootLocation = "root"

// Entry is a flattened bundled package. A package reached from the bundles
// of several owners appears once per owner.
type Entry struct {
	// Owner is the location of the package whose bundle this entry belongs
	// to, or RootLocation.
	Owner    string
	Location string
	Name     string
	Version  string
	Resolved string
	Optional bool
	Package  *models.Manifest
}

// Edge connects an owner (RootLocation or a location) or a bundled entry to
// a bundled entry of the same owner
type Edge struct {
	Owner string
	Name  string
	From  string
	To    string
}

// Graph is the bundled subgraph, in processing order
type Graph struct {
	Nodes []*Entry
	Edges []Edge
	// Owners lists the locations of non-root, non-workspace packages that
	// declare bundles. Their entries live wherever the package itself is
	// placed, so the assembler needs to know them.
	Owners []string

	byLocation map[string]*Entry
	byOwner    map[string]*Entry
}

// Get returns the first entry recorded at location, or nil
func (g *Graph) Get(location string) *Entry {
	return g.byLocation[location]
}

// Lookup returns the entry at location within owner's bundle, or nil
func (g *Graph) Lookup(owner, location string) *Entry {
	return g.byOwner[owner+"=>"+location]
}

type pending struct {
	owner *models.Node
	from  *models.Node
	to    *models.Node
}

// Extract walks every bundled-dependency edge reachable from tree. It never
// follows regular edges out of the owners themselves, only everything below
// a bundled package. Each entry is tagged with the owner whose bundle it was
// reached from, whether or not its lockfile location is inside that owner.
func Extract(tree *models.Node) *Graph {
	logger := logging.GetLogger("bundle")
	g := &Graph{
		byLocation: make(map[string]*Entry),
		byOwner:    make(map[string]*Entry),
	}
	if tree == nil {
		return g
	}

	var stack []pending
	seed := func(owner *models.Node) {
		for _, e := range owner.EdgesOut {
			if t := e.Target(); t != nil && owner.Bundles(t.Name) {
				stack = append(stack, pending{owner: owner, from: owner, to: t})
			}
		}
	}

	seed(tree)
	for _, ws := range tree.FsChildren {
		seed(ws)
	}
	for _, owner := range externalOwners(tree) {
		g.Owners = append(g.Owners, owner.Location)
		seed(owner)
	}

	locationOf := func(n *models.Node) string {
		if n == tree {
			return RootLocation
		}
		return n.Location
	}

	processed := make(map[string]struct{})
	for len(stack) > 0 {
		next := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		owner := locationOf(next.owner)
		key := owner + "|" + next.from.Location + "=>" + next.to.Location
		if _, ok := processed[key]; ok {
			// duplicated or cyclic bundle declaration
			continue
		}
		processed[key] = struct{}{}

		to := next.to
		if g.Lookup(owner, to.Location) == nil {
			entry := &Entry{
				Owner:    owner,
				Location: to.Location,
				Name:     to.Name,
				Version:  to.Version,
				Resolved: to.Resolved,
				Optional: to.Optional,
				Package:  to.Manifest.WithoutBundles(),
			}
			g.byOwner[owner+"=>"+to.Location] = entry
			if _, ok := g.byLocation[to.Location]; !ok {
				g.byLocation[to.Location] = entry
			}
			g.Nodes = append(g.Nodes, entry)
		}

		g.Edges = append(g.Edges, Edge{Owner: owner, Name: to.Name, From: locationOf(next.from), To: to.Location})

		for _, e := range to.EdgesOut {
			t := e.Target()
			// an edge back to the owner resolves to the owner itself
			if t == nil || t == tree || t.IsProjectRoot || t.IsWorkspace || t == next.owner {
				continue
			}
			stack = append(stack, pending{owner: next.owner, from: to, to: t})
		}
	}

	logger.Debug().Int("nodes", len(g.Nodes)).Int("edges", len(g.Edges)).Msg("Bundled subgraph extracted")
	return g
}

// externalOwners enumerates the regular (non-bundled) graph and returns the
// external packages that declare bundleDependencies, in discovery order.
func externalOwners(tree *models.Node) []*models.Node {
	var owners []*models.Node
	processed := make(map[*models.Node]struct{})
	queue := append([]*models.Node{tree}, tree.FsChildren...)

	for len(queue) > 0 {
		next := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		if _, ok := processed[next]; ok {
			continue
		}
		processed[next] = struct{}{}

		for _, e := range next.EdgesOut {
			if e.Valid() {
				queue = append(queue, e.Target())
			}
		}

		if next == tree || next.IsProjectRoot || next.IsWorkspace {
			continue
		}
		if next.Manifest != nil && len(next.Manifest.BundleDependencies) > 0 {
			owners = append(owners, next)
		}
	}
	return owners
}
