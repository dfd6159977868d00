package bundle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acheong08/spr-isolate/pkg/models"
)

func newRoot() *models.Node {
	root := models.NewNode("app", "1.0.0", "")
	root.IsProjectRoot = true
	return root
}

func pkgAt(name, version, location string) *models.Node {
	n := models.NewNode(name, version, location)
	n.Resolved = "https://registry.npmjs.org/" + name + "/-/" + name + "-" + version + ".tgz"
	return n
}

func locations(g *Graph) []string {
	var out []string
	for _, n := range g.Nodes {
		out = append(out, n.Location)
	}
	return out
}

func TestExtractWithoutBundlesIsEmpty(t *testing.T) {
	root := newRoot()
	root.AddEdge("a", pkgAt("a", "1.0.0", "node_modules/a"), false)

	g := Extract(root)
	assert.Empty(t, g.Nodes)
	assert.Empty(t, g.Edges)
	assert.Empty(t, g.Owners)
}

func TestExtractRootBundleIsTransitive(t *testing.T) {
	root := newRoot()
	root.Manifest.BundleDependencies = []string{"d"}
	d := pkgAt("d", "1.0.0", "node_modules/d")
	e := pkgAt("e", "2.0.0", "node_modules/d/node_modules/e")
	d.Manifest.BundleDependencies = []string{"ignored"}
	root.AddEdge("d", d, false)
	root.AddEdge("other", pkgAt("other", "1.0.0", "node_modules/other"), false)
	d.AddEdge("e", e, false)
	d.AddEdge("missing", nil, true)

	g := Extract(root)

	assert.Equal(t, []string{"node_modules/d", "node_modules/d/node_modules/e"}, locations(g))
	assert.Equal(t, []Edge{
		{Owner: RootLocation, Name: "d", From: RootLocation, To: "node_modules/d"},
		{Owner: RootLocation, Name: "e", From: "node_modules/d", To: "node_modules/d/node_modules/e"},
	}, g.Edges)

	entry := g.Get("node_modules/d")
	require.NotNil(t, entry)
	assert.Equal(t, "d", entry.Name)
	assert.Equal(t, d.Resolved, entry.Resolved)
	assert.Empty(t, entry.Package.BundleDependencies)
	assert.Nil(t, g.Get("node_modules/other"))
}

func TestExtractDuplicateAndCyclicDeclarations(t *testing.T) {
	root := newRoot()
	root.Manifest.BundleDependencies = []string{"d"}
	d := pkgAt("d", "1.0.0", "node_modules/d")
	e := pkgAt("e", "1.0.0", "node_modules/e")
	root.AddEdge("d", d, false)
	root.AddEdge("d", d, false)
	d.AddEdge("e", e, false)
	e.AddEdge("d", d, false)

	g := Extract(root)

	assert.Len(t, g.Nodes, 2)
	assert.Len(t, g.Edges, 3) // root->d, d->e, e->d
}

func TestExtractWorkspaceBundle(t *testing.T) {
	root := newRoot()
	ws := models.NewNode("web", "0.0.0", "packages/web")
	ws.Manifest.BundleDependencies = []string{"d"}
	root.AddWorkspace(ws)
	d := pkgAt("d", "1.0.0", "packages/web/node_modules/d")
	ws.AddEdge("d", d, false)

	g := Extract(root)

	require.Len(t, g.Edges, 1)
	assert.Equal(t, Edge{Owner: "packages/web", Name: "d", From: "packages/web", To: "packages/web/node_modules/d"}, g.Edges[0])
	assert.Empty(t, g.Owners)
}

func TestExtractExternalOwner(t *testing.T) {
	root := newRoot()
	a := pkgAt("a", "1.0.0", "node_modules/a")
	a.Manifest.BundleDependencies = []string{"d"}
	d := pkgAt("d", "1.0.0", "node_modules/a/node_modules/d")
	root.AddEdge("a", a, false)
	a.AddEdge("d", d, false)

	g := Extract(root)

	assert.Equal(t, []string{"node_modules/a"}, g.Owners)
	assert.Equal(t, []string{"node_modules/a/node_modules/d"}, locations(g))
	assert.Equal(t, []Edge{{Owner: "node_modules/a", Name: "d", From: "node_modules/a", To: "node_modules/a/node_modules/d"}}, g.Edges)
	// the owner itself is not a bundled entry
	assert.Nil(t, g.Get("node_modules/a"))
}

func TestExtractTagsHoistedDependenciesWithOwner(t *testing.T) {
	root := newRoot()
	a := pkgAt("a", "1.0.0", "node_modules/a")
	a.Manifest.BundleDependencies = []string{"d"}
	d := pkgAt("d", "1.0.0", "node_modules/a/node_modules/d")
	x := pkgAt("x", "1.0.0", "node_modules/x")
	root.AddEdge("a", a, false)
	a.AddEdge("d", d, false)
	d.AddEdge("x", x, false)
	d.AddEdge("a", a, false)

	g := Extract(root)

	assert.Equal(t, []string{"node_modules/a/node_modules/d", "node_modules/x"}, locations(g))
	entry := g.Lookup("node_modules/a", "node_modules/x")
	require.NotNil(t, entry)
	assert.Equal(t, "node_modules/a", entry.Owner)
	assert.Nil(t, g.Lookup(RootLocation, "node_modules/x"))
	// d -> a points back at the owner and is not part of the bundle
	assert.Len(t, g.Edges, 2)
}

func TestExtractSharedHoistedDependencyPerOwner(t *testing.T) {
	root := newRoot()
	root.Manifest.BundleDependencies = []string{"d"}
	a := pkgAt("a", "1.0.0", "node_modules/a")
	a.Manifest.BundleDependencies = []string{"e"}
	d := pkgAt("d", "1.0.0", "node_modules/d")
	e := pkgAt("e", "1.0.0", "node_modules/a/node_modules/e")
	x := pkgAt("x", "1.0.0", "node_modules/x")
	root.AddEdge("d", d, false)
	root.AddEdge("a", a, false)
	a.AddEdge("e", e, false)
	d.AddEdge("x", x, false)
	e.AddEdge("x", x, false)

	g := Extract(root)

	require.NotNil(t, g.Lookup(RootLocation, "node_modules/x"))
	require.NotNil(t, g.Lookup("node_modules/a", "node_modules/x"))
	assert.NotSame(t, g.Lookup(RootLocation, "node_modules/x"), g.Lookup("node_modules/a", "node_modules/x"))
	assert.Len(t, g.Nodes, 4)
}

func TestExtractNeverEntersWorkspaces(t *testing.T) {
	root := newRoot()
	root.Manifest.BundleDependencies = []string{"d"}
	ws := models.NewNode("lib", "0.0.0", "packages/lib")
	root.AddWorkspace(ws)
	link := models.NewNode("lib", "0.0.0", "node_modules/lib")
	link.IsLink = true
	link.Target = ws

	d := pkgAt("d", "1.0.0", "node_modules/d")
	root.AddEdge("d", d, false)
	d.AddEdge("lib", link, false)

	g := Extract(root)
	assert.Equal(t, []string{"node_modules/d"}, locations(g))
}

func TestExtractNilTree(t *testing.T) {
	g := Extract(nil)
	assert.Empty(t, g.Nodes)
	assert.Nil(t, g.Get("anything"))
}
