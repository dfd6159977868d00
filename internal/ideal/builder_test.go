package ideal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acheong08/spr-isolate/pkg/models"
)

func newRoot(t *testing.T) *models.Node {
	root := models.NewNode("app", "1.0.0", "")
	root.IsProjectRoot = true
	root.Path = t.TempDir()
	return root
}

func pkg(name, version string) *models.Node {
	n := models.NewNode(name, version, "node_modules/"+name)
	n.Resolved = "https://registry.npmjs.org/" + name + "/-/" + name + "-" + version + ".tgz"
	return n
}

func workspace(root *models.Node, name string) *models.Node {
	ws := models.NewNode(name, "0.0.0", "packages/"+name)
	ws.Path = filepath.Join(root.Path, "packages", name)
	root.AddWorkspace(ws)

	link := models.NewNode(name, "0.0.0", "node_modules/"+name)
	link.IsLink = true
	link.Target = ws
	return link
}

func externalByName(g *Graph, name string) []*ProxyNode {
	var out []*ProxyNode
	for _, e := range g.External {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func TestBuildDiamondConvertsSharedNodeOnce(t *testing.T) {
	root := newRoot(t)
	a, b, c := pkg("a", "1.0.0"), pkg("b", "1.0.0"), pkg("c", "1.0.0")
	root.AddEdge("a", a, false)
	root.AddEdge("b", b, false)
	a.AddEdge("c", c, false)
	b.AddEdge("c", c, false)

	graph, err := NewBuilder(nil, nil).Build(context.Background(), root)
	require.NoError(t, err)

	require.Len(t, graph.External, 3)
	pa := externalByName(graph, "a")[0]
	pb := externalByName(graph, "b")[0]
	require.Len(t, pa.ExternalDeps, 1)
	require.Len(t, pb.ExternalDeps, 1)
	assert.Same(t, pa.ExternalDeps[0], pb.ExternalDeps[0])
	assert.Same(t, externalByName(graph, "c")[0], pa.ExternalDeps[0])

	assert.Equal(t, []*ProxyNode{pa, pb}, graph.Root.ExternalDeps)
}

func TestBuildMemoizesWithinOneBuildOnly(t *testing.T) {
	root := newRoot(t)
	root.AddEdge("a", pkg("a", "1.0.0"), false)

	builder := NewBuilder(nil, nil)
	first, err := builder.Build(context.Background(), root)
	require.NoError(t, err)
	second, err := builder.Build(context.Background(), root)
	require.NoError(t, err)

	assert.NotSame(t, first.External[0], second.External[0])
	assert.Equal(t, first.External[0].ID, second.External[0].ID)
}

func TestBuildAssignsUniqueIDsAndRoot(t *testing.T) {
	root := newRoot(t)
	a, b := pkg("a", "1.0.0"), pkg("b", "1.0.0")
	root.AddEdge("a", a, false)
	a.AddEdge("b", b, false)
	wsLink := workspace(root, "web")
	root.AddEdge("web", wsLink, false)

	graph, err := NewBuilder(nil, nil).Build(context.Background(), root)
	require.NoError(t, err)

	seen := map[string]bool{graph.Root.ID: true}
	for _, p := range append(graph.Workspaces, graph.External...) {
		assert.False(t, seen[p.ID], "duplicate id %s", p.ID)
		seen[p.ID] = true
		assert.Same(t, graph.Root, p.Root)
	}
	assert.Same(t, graph.Root, graph.Root.Root)
	assert.Equal(t, KindRoot, graph.Root.Kind)
}

func TestBuildWorkspacesAreLocalDependencies(t *testing.T) {
	root := newRoot(t)
	webLink := workspace(root, "web")
	libLink := workspace(root, "lib")
	web := webLink.Target
	lodash := pkg("lodash", "4.17.21")

	root.AddEdge("web", webLink, false)
	web.AddEdge("lib", libLink, false)
	web.AddEdge("lodash", lodash, false)

	graph, err := NewBuilder(nil, nil).Build(context.Background(), root)
	require.NoError(t, err)

	require.Len(t, graph.Workspaces, 2)
	pweb, plib := graph.Workspaces[0], graph.Workspaces[1]
	assert.Equal(t, KindWorkspace, pweb.Kind)
	assert.Equal(t, "packages/web", pweb.LocalLocation)
	assert.Equal(t, web.Path, pweb.LocalPath)

	assert.Equal(t, []*ProxyNode{plib}, pweb.LocalDeps)
	require.Len(t, pweb.ExternalDeps, 1)
	assert.Equal(t, "lodash", pweb.ExternalDeps[0].Name)
	assert.Equal(t, []*ProxyNode{pweb}, graph.Root.LocalDeps)

	// Workspaces are never part of the external list
	require.Len(t, graph.External, 1)
	assert.Equal(t, "lodash", graph.External[0].Name)
}

func TestBuildPartitionsOptionalDependencies(t *testing.T) {
	root := newRoot(t)
	a, opt := pkg("a", "1.0.0"), pkg("fsevents", "2.3.3")
	opt.Optional = true
	root.AddEdge("a", a, false)
	root.AddEdge("fsevents", opt, true)

	graph, err := NewBuilder(nil, nil).Build(context.Background(), root)
	require.NoError(t, err)

	require.Len(t, graph.Root.ExternalDeps, 1)
	require.Len(t, graph.Root.OptionalDeps, 1)
	assert.Equal(t, "a", graph.Root.ExternalDeps[0].Name)
	assert.Equal(t, "fsevents", graph.Root.OptionalDeps[0].Name)
	assert.True(t, graph.Root.OptionalDeps[0].Optional)

	deps := graph.Root.Dependencies()
	require.Len(t, deps, 2)
	assert.Equal(t, "a", deps[0].Name)
	assert.Equal(t, "fsevents", deps[1].Name)
}

func TestBuildSkipsUnresolvedOptionalEdge(t *testing.T) {
	root := newRoot(t)
	a := pkg("a", "1.0.0")
	root.AddEdge("a", a, false)
	a.AddEdge("fsevents", nil, true)

	graph, err := NewBuilder(nil, nil).Build(context.Background(), root)
	require.NoError(t, err)

	require.Len(t, graph.External, 1)
	assert.Empty(t, graph.External[0].Dependencies())
}

func TestBuildSkipsBundledDependencies(t *testing.T) {
	root := newRoot(t)
	a, d := pkg("a", "1.0.0"), pkg("d", "1.0.0")
	d.Location = "node_modules/a/node_modules/d"
	a.Manifest.BundleDependencies = []string{"d"}
	root.AddEdge("a", a, false)
	a.AddEdge("d", d, false)

	graph, err := NewBuilder(nil, nil).Build(context.Background(), root)
	require.NoError(t, err)

	require.Len(t, graph.External, 1)
	assert.Equal(t, "a", graph.External[0].Name)
	assert.Empty(t, graph.External[0].ExternalDeps)
	assert.Empty(t, graph.External[0].Package.BundleDependencies)
	// the resolved tree itself is untouched
	assert.Equal(t, []string{"d"}, a.Manifest.BundleDependencies)
}

func TestBuildToleratesCycles(t *testing.T) {
	root := newRoot(t)
	a, b := pkg("a", "1.0.0"), pkg("b", "1.0.0")
	root.AddEdge("a", a, false)
	a.AddEdge("b", b, false)
	b.AddEdge("a", a, false)

	graph, err := NewBuilder(nil, nil).Build(context.Background(), root)
	require.NoError(t, err)

	require.Len(t, graph.External, 2)
	pa := externalByName(graph, "a")[0]
	pb := externalByName(graph, "b")[0]
	assert.Same(t, pb, pa.ExternalDeps[0])
	assert.Same(t, pa, pb.ExternalDeps[0])
	assert.NotEmpty(t, StoreKey(pa))
}

func TestBuildHonorsCancellation(t *testing.T) {
	root := newRoot(t)
	root.AddEdge("a", pkg("a", "1.0.0"), false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewBuilder(nil, nil).Build(ctx, root)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildRejectsNilTree(t *testing.T) {
	_, err := NewBuilder(nil, nil).Build(context.Background(), nil)
	assert.Error(t, err)
}

type fakeExtractor struct {
	calls []string
	err   error
}

func (f *fakeExtractor) Extract(_ context.Context, locator, dest, integrity string) error {
	f.calls = append(f.calls, locator+" -> "+dest+" ("+integrity+")")
	if f.err != nil {
		return f.err
	}
	if _, err := os.Stat(dest); err != nil {
		return err
	}
	return nil
}

type fakeLoader struct {
	trees map[string]*models.Node
}

func (f *fakeLoader) LoadTree(dir string) (*models.Node, error) {
	tree, ok := f.trees[dir]
	if !ok {
		return nil, errors.New("no lockfile in " + dir)
	}
	return tree, nil
}

func TestBuildSplicesShrinkwrapClosure(t *testing.T) {
	root := newRoot(t)
	sw := pkg("sw", "1.0.0")
	sw.HasShrinkwrap = true
	sw.Integrity = "sha512-abc"
	root.AddEdge("sw", sw, false)

	dir := filepath.Join(root.Path, "node_modules", ".store", "sw@1.0.0")
	nested := models.NewNode("sw", "1.0.0", "")
	nested.IsProjectRoot = true
	nested.Path = dir
	x, y := pkg("x", "1.0.0"), pkg("y", "2.0.0")
	nested.AddEdge("x", x, false)
	nested.AddEdge("y", y, true)

	extractor := &fakeExtractor{}
	loader := &fakeLoader{trees: map[string]*models.Node{dir: nested}}

	graph, err := NewBuilder(extractor, loader).Build(context.Background(), root)
	require.NoError(t, err)

	require.Len(t, extractor.calls, 1)
	assert.Equal(t, sw.Resolved+" -> "+dir+" (sha512-abc)", extractor.calls[0])

	psw := externalByName(graph, "sw")[0]
	px := externalByName(graph, "x")
	py := externalByName(graph, "y")
	require.Len(t, px, 1)
	require.Len(t, py, 1)

	assert.True(t, strings.HasPrefix(px[0].ID, psw.ID+"=>"), "id %s", px[0].ID)
	assert.True(t, strings.HasPrefix(py[0].ID, psw.ID+"=>"), "id %s", py[0].ID)
	assert.Same(t, graph.Root, px[0].Root)
	assert.Equal(t, []*ProxyNode{px[0]}, psw.ExternalDeps)
	assert.Equal(t, []*ProxyNode{py[0]}, psw.OptionalDeps)
	assert.Empty(t, psw.LocalDeps)
}

func TestBuildPropagatesExtractionFailure(t *testing.T) {
	root := newRoot(t)
	sw := pkg("sw", "1.0.0")
	sw.HasShrinkwrap = true
	root.AddEdge("sw", sw, false)

	cause := errors.New("integrity mismatch")
	_, err := NewBuilder(&fakeExtractor{err: cause}, &fakeLoader{}).Build(context.Background(), root)
	require.Error(t, err)

	var extractErr *ExtractionError
	require.ErrorAs(t, err, &extractErr)
	assert.Equal(t, "sw@1.0.0", extractErr.Package)
	assert.Equal(t, sw.Resolved, extractErr.Locator)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "sw@1.0.0")
}

func TestBuildShrinkwrapWithoutExtractorFails(t *testing.T) {
	root := newRoot(t)
	sw := pkg("sw", "1.0.0")
	sw.HasShrinkwrap = true
	root.AddEdge("sw", sw, false)

	_, err := NewBuilder(nil, nil).Build(context.Background(), root)

	var extractErr *ExtractionError
	assert.ErrorAs(t, err, &extractErr)
}
