package ideal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/acheong08/spr-isolate/internal/logging"
	"github.com/acheong08/spr-isolate/pkg/models"
)

// maxNestedDepth bounds shrinkwrap-inside-shrinkwrap recursion
const maxNestedDepth = 16

// Extractor materializes a package tarball into a directory. locator is the
// resolved URL, or "name@version" when the lockfile recorded none.
type Extractor interface {
	Extract(ctx context.Context, locator, dest, integrity string) error
}

// TreeLoader reads the resolved tree of a package directory that carries its
// own lockfile (npm-shrinkwrap.json)
type TreeLoader interface {
	LoadTree(dir string) (*models.Node, error)
}

// Builder converts resolved trees into proxy graphs
type Builder struct {
	extractor Extractor
	loader    TreeLoader
	logger    zerolog.Logger
}

// Option configures a Builder
type Option func(*Builder)

// WithLogger overrides the default component logger
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Builder) {
		b.logger = logger
	}
}

// NewBuilder creates a builder. extractor and loader are only consulted for
// packages that carry their own shrinkwrap and may be nil otherwise.
func NewBuilder(extractor Extractor, loader TreeLoader, opts ...Option) *Builder {
	b := &Builder{
		extractor: extractor,
		loader:    loader,
		logger:    logging.GetLogger("ideal"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build converts the resolved tree rooted at tree into a proxy graph. Every
// call uses its own caches; nothing is shared between builds.
func (b *Builder) Build(ctx context.Context, tree *models.Node) (*Graph, error) {
	return b.build(ctx, tree, 0)
}

func (b *Builder) build(ctx context.Context, tree *models.Node, depth int) (*Graph, error) {
	if tree == nil {
		return nil, errors.New("resolved tree is nil")
	}

	s := &session{
		builder:    b,
		tree:       tree,
		depth:      depth,
		externals:  make(map[*models.Node]*ProxyNode),
		workspaces: make(map[*models.Node]*ProxyNode),
	}

	root := s.allocate(KindRoot, tree)
	root.Root = root
	root.LocalLocation = tree.Location
	root.LocalPath = tree.Path
	s.graph = &Graph{Root: root}

	for _, child := range tree.FsChildren {
		ws, err := s.workspace(ctx, child)
		if err != nil {
			return nil, err
		}
		s.graph.Workspaces = append(s.graph.Workspaces, ws)
	}

	// Work queue instead of recursion: the resolved tree can be deep and cyclic.
	processed := make(map[*models.Node]struct{})
	queue := make([]*models.Node, 0, 1+len(tree.FsChildren))
	queue = append(queue, tree)
	queue = append(queue, tree.FsChildren...)

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

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

		ext, err := s.external(ctx, next)
		if err != nil {
			return nil, err
		}
		s.graph.External = append(s.graph.External, ext)
	}

	if err := s.populate(ctx, tree, root); err != nil {
		return nil, err
	}

	b.logger.Debug().
		Int("depth", depth).
		Int("workspaces", len(s.graph.Workspaces)).
		Int("external", len(s.graph.External)).
		Msg("Proxy graph built")

	return s.graph, nil
}

// session holds the caches of one build invocation
type session struct {
	builder *Builder
	tree    *models.Node
	graph   *Graph
	depth   int
	counter int

	externals  map[*models.Node]*ProxyNode
	workspaces map[*models.Node]*ProxyNode
}

// allocate creates the handle for n and assigns its id. Dependencies are
// filled in afterwards by populate.
func (s *session) allocate(kind Kind, n *models.Node) *ProxyNode {
	p := &ProxyNode{
		ID:               strconv.Itoa(s.counter),
		Kind:             kind,
		Name:             n.Name,
		Version:          n.Version,
		Resolved:         n.Resolved,
		Optional:         n.Optional,
		Location:         n.Location,
		Package:          n.Manifest.WithoutBundles(),
		HasInstallScript: n.HasInstallScript,
	}
	if s.graph != nil {
		p.Root = s.graph.Root
	}
	s.counter++
	return p
}

func (s *session) external(ctx context.Context, n *models.Node) (*ProxyNode, error) {
	if p, ok := s.externals[n]; ok {
		return p, nil
	}

	p := s.allocate(KindExternal, n)
	s.externals[n] = p

	if err := s.populate(ctx, n, p); err != nil {
		return nil, err
	}

	if n.HasShrinkwrap {
		if err := s.spliceShrinkwrap(ctx, n, p); err != nil {
			return nil, err
		}
	}

	return p, nil
}

func (s *session) workspace(ctx context.Context, n *models.Node) (*ProxyNode, error) {
	if p, ok := s.workspaces[n]; ok {
		return p, nil
	}

	p := s.allocate(KindWorkspace, n)
	p.LocalLocation = n.Location
	p.LocalPath = n.Path
	s.workspaces[n] = p

	if err := s.populate(ctx, n, p); err != nil {
		return nil, err
	}
	return p, nil
}

// populate partitions the valid edges of n into the three dependency lists of p
func (s *session) populate(ctx context.Context, n *models.Node, p *ProxyNode) error {
	logger := s.builder.logger

	for _, e := range n.EdgesOut {
		if !e.Valid() {
			logger.Trace().Str("from", n.Location).Str("dep", e.Name).Msg("Skipping unresolved or bundled edge")
			continue
		}

		target := e.Target()
		if target == s.tree || target.IsProjectRoot {
			logger.Debug().Str("from", n.Location).Str("dep", e.Name).Msg("Skipping edge back to the project root")
			continue
		}

		switch {
		case target.IsWorkspace:
			dep, err := s.workspace(ctx, target)
			if err != nil {
				return err
			}
			p.LocalDeps = append(p.LocalDeps, dep)
		case e.Optional:
			dep, err := s.external(ctx, target)
			if err != nil {
				return err
			}
			p.OptionalDeps = append(p.OptionalDeps, dep)
		default:
			dep, err := s.external(ctx, target)
			if err != nil {
				return err
			}
			p.ExternalDeps = append(p.ExternalDeps, dep)
		}
	}
	return nil
}

// spliceShrinkwrap extracts a package that ships its own lockfile, builds its
// closure in an independent session and merges the result into this graph.
func (s *session) spliceShrinkwrap(ctx context.Context, n *models.Node, p *ProxyNode) error {
	b := s.builder

	if s.depth >= maxNestedDepth {
		return &ExtractionError{
			Package: n.ID,
			Locator: n.Resolved,
			Err:     fmt.Errorf("shrinkwrap nesting deeper than %d levels", maxNestedDepth),
		}
	}
	if b.extractor == nil || b.loader == nil {
		return &ExtractionError{Package: n.ID, Locator: n.Resolved, Err: errors.New("no extractor configured")}
	}

	dir := filepath.Join(s.graph.Root.LocalPath, "node_modules", ".store", n.Name+"@"+n.Version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &ExtractionError{Package: n.ID, Locator: n.Resolved, Err: err}
	}

	b.logger.Debug().Str("package", n.ID).Str("dir", dir).Msg("Extracting shrinkwrapped package")

	locator := n.Resolved
	if locator == "" {
		locator = n.ID
	}
	if err := b.extractor.Extract(ctx, locator, dir, n.Integrity); err != nil {
		return &ExtractionError{Package: n.ID, Locator: n.Resolved, Err: err}
	}

	subTree, err := b.loader.LoadTree(dir)
	if err != nil {
		return &ExtractionError{Package: n.ID, Locator: n.Resolved, Err: fmt.Errorf("failed to load shrinkwrap: %w", err)}
	}

	sub, err := b.build(ctx, subTree, s.depth+1)
	if err != nil {
		return err
	}

	for _, e := range sub.External {
		e.Root = s.graph.Root
		e.ID = p.ID + "=>" + e.ID
		e.Nested = true
	}
	s.graph.External = append(s.graph.External, sub.External...)

	p.LocalDeps = nil
	p.ExternalDeps = sub.Root.ExternalDeps
	p.OptionalDeps = sub.Root.OptionalDeps

	b.logger.Debug().Str("package", n.ID).Int("spliced", len(sub.External)).Msg("Spliced shrinkwrap closure")
	return nil
}
