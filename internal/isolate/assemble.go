// Package isolate assembles the physical tree of an isolated install: one
// store entry per distinct external subtree, links from every consumer into
// the store, workspaces in place and bundles nested under their owners.
package isolate

import (
	"errors"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/acheong08/spr-isolate/internal/bundle"
	"github.com/acheong08/spr-isolate/internal/ideal"
	"github.com/acheong08/spr-isolate/internal/logging"
	"github.com/acheong08/spr-isolate/pkg/models"
)

// StoreDir is the store area, relative to the project root
const StoreDir = "node_modules/.store"

// StoreLocation is where the store entry for key lives
func StoreLocation(key, name string) string {
	return path.Join(StoreDir, key, "node_modules", name)
}

// Assembler turns a proxy graph and a bundled subgraph into a physical tree
type Assembler struct {
	logger zerolog.Logger
}

// NewAssembler creates an assembler logging through the "isolate" component
func NewAssembler() *Assembler {
	return &Assembler{logger: logging.GetLogger("isolate")}
}

// WithLogger returns a copy of the assembler using logger
func (a *Assembler) WithLogger(logger zerolog.Logger) *Assembler {
	return &Assembler{logger: logger}
}

// assembly is the state of one Assemble call
type assembly struct {
	logger   zerolog.Logger
	root     *TreeNode
	rootPath string
	keys     map[*ideal.ProxyNode]string
	wired    map[string]struct{}
}

// Assemble builds the physical tree. It fails with a StructuralError when an
// edge references a node that was never placed, or when two different nodes
// would share a location.
func (a *Assembler) Assemble(graph *ideal.Graph, bundled *bundle.Graph) (*TreeNode, error) {
	if graph == nil || graph.Root == nil {
		return nil, errors.New("proxy graph has no root")
	}
	if bundled == nil {
		bundled = &bundle.Graph{}
	}

	proot := graph.Root
	root := newTreeNode(NodeRoot)
	root.Name = proot.Name
	root.Version = proot.Version
	root.Location = proot.LocalLocation
	root.Path = proot.LocalPath
	root.Realpath = proot.LocalPath
	root.Package = proot.Package
	root.Resolved = proot.Resolved
	root.HasInstallScript = proot.HasInstallScript
	root.Inventory = NewInventory()
	root.Root = root

	as := &assembly{
		logger:   a.logger,
		root:     root,
		rootPath: proot.LocalPath,
		keys:     make(map[*ideal.ProxyNode]string),
		wired:    make(map[string]struct{}),
	}

	for _, ws := range graph.Workspaces {
		node := newTreeNode(NodeWorkspace)
		node.Name = ws.Name
		node.Version = ws.Version
		node.Location = ws.LocalLocation
		node.Path = ws.LocalPath
		node.Realpath = ws.LocalPath
		node.Package = ws.Package
		node.Resolved = ws.Resolved
		node.HasInstallScript = ws.HasInstallScript
		root.FsChildren = append(root.FsChildren, node)
		root.Inventory.Set(node.Location, node)
	}

	// Store entries: one per distinct store key.
	owners := make(map[string]*TreeNode)
	for _, ext := range graph.External {
		key := as.key(ext)
		location := StoreLocation(key, ext.Name)

		node, exists := root.Inventory.Get(location)
		if exists {
			as.logger.Trace().Str("key", key).Str("id", ext.ID).Msg("Reusing store entry")
		} else {
			node = as.place(NodeStore, location, ext.Name, ext.Version, ext.Resolved, ext.Optional, ext.Package)
			node.StoreKey = key
			node.IsInStore = true
			node.HasInstallScript = ext.HasInstallScript
		}
		if !ext.Nested {
			owners[ext.Location] = node
		}
	}

	if err := as.placeBundles(bundled, owners); err != nil {
		return nil, err
	}

	if err := as.wire(proot, false); err != nil {
		return nil, err
	}
	for _, ws := range graph.Workspaces {
		if err := as.wire(ws, false); err != nil {
			return nil, err
		}
	}
	as.prune()

	for _, child := range root.Children {
		child.Parent = root
		child.Root = root
	}
	for _, ws := range root.FsChildren {
		ws.Root = root
	}

	a.logger.Debug().
		Int("external", len(graph.External)).
		Int("inventory", root.Inventory.Len()).
		Int("children", len(root.Children)).
		Msg("Isolated tree assembled")

	return root, nil
}

func (as *assembly) key(p *ideal.ProxyNode) string {
	if key, ok := as.keys[p]; ok {
		return key
	}
	key := ideal.StoreKey(p)
	as.keys[p] = key
	return key
}

// place creates a non-link root child and indexes it
func (as *assembly) place(kind NodeKind, location, name, version, resolved string, optional bool, pkg *models.Manifest) *TreeNode {
	node := newTreeNode(kind)
	node.Name = name
	node.Version = version
	node.Location = location
	node.Path = filepath.Join(as.rootPath, filepath.FromSlash(location))
	node.Realpath = node.Path
	node.Resolved = resolved
	node.Optional = optional
	node.Package = pkg
	as.root.Children = append(as.root.Children, node)
	as.root.Inventory.Set(location, node)
	return node
}

// placeBundles materializes bundled entries. Bundles of the root and of
// workspaces keep their natural location; an external owner's bundle is
// placed under that owner's store entry, hoisted members included.
func (as *assembly) placeBundles(bundled *bundle.Graph, owners map[string]*TreeNode) error {
	placed := make(map[string]*TreeNode)

	for _, entry := range bundled.Nodes {
		owner, external, err := as.bundleOwner(entry.Owner, entry.Name, owners)
		if err != nil {
			return err
		}

		location := entry.Location
		if external {
			location = ownedLocation(entry.Owner, owner.Location, entry.Location)
		}

		node, ok := as.root.Inventory.Get(location)
		switch {
		case !ok:
			node = as.place(NodeBundled, location, entry.Name, entry.Version, entry.Resolved, entry.Optional, entry.Package)
		case node.Kind != NodeBundled || node.Name != entry.Name || node.Version != entry.Version:
			return &StructuralError{
				Package:  entry.Name + "@" + entry.Version,
				Location: location,
				Reason:   "bundled dependency collides with " + node.Kind.String() + " " + node.Name + "@" + node.Version,
			}
		}
		placed[entry.Owner+"=>"+entry.Location] = node
	}

	for _, e := range bundled.Edges {
		var from *TreeNode
		if e.From == e.Owner {
			owner, _, err := as.bundleOwner(e.Owner, e.Name, owners)
			if err != nil {
				return err
			}
			from = owner
		} else if from = placed[e.Owner+"=>"+e.From]; from == nil {
			return &StructuralError{Package: e.Name, Location: e.From, Reason: "bundle owner was never placed"}
		}

		to := placed[e.Owner+"=>"+e.To]
		if to == nil {
			return &StructuralError{Package: e.Name, Location: e.To, Reason: "bundled dependency was never placed"}
		}

		if existing, ok := from.EdgesOut[e.Name]; ok && existing.To == to {
			continue
		}
		connect(from, to, e.Name, false)
	}
	return nil
}

// bundleOwner returns the placed node of a bundle owner and whether it is
// an external package
func (as *assembly) bundleOwner(location, pkg string, owners map[string]*TreeNode) (*TreeNode, bool, error) {
	if location == bundle.RootLocation {
		return as.root, false, nil
	}
	if n, ok := owners[location]; ok {
		return n, true, nil
	}
	if n, ok := as.root.Inventory.Get(location); ok && n.Kind == NodeWorkspace {
		return n, false, nil
	}
	return nil, false, &StructuralError{Package: pkg, Location: location, Reason: "bundle owner was never placed"}
}

// ownedLocation maps the lockfile location of a package in the bundle of the
// owner at ownerLocation to a location under placedOwner. Packages nested
// in the owner keep their relative path; packages hoisted into an ancestor's
// node_modules move into the owner's own node_modules, where node's lookup
// from inside the owner still finds them.
func ownedLocation(ownerLocation, placedOwner, location string) string {
	for base := ownerLocation; ; base = parentDir(base) {
		if strings.HasPrefix(location, path.Join(base, "node_modules")+"/") {
			return path.Join(placedOwner, location[len(base):])
		}
		if base == "" {
			break
		}
	}
	return path.Join(placedOwner, "node_modules", path.Base(location))
}

func parentDir(location string) string {
	if dir := path.Dir(location); dir != "." {
		return dir
	}
	return ""
}

// wire links every dependency of node, recursing into each dependency first.
// Each (node, context) pair is wired once.
func (as *assembly) wire(node *ideal.ProxyNode, external bool) error {
	var memoKey, nmFolder string
	var from *TreeNode

	if external {
		key := as.key(node)
		memoKey = "external:" + key
		location := StoreLocation(key, node.Name)
		from, _ = as.root.Inventory.Get(location)
		nmFolder = path.Join(StoreDir, key, "node_modules")
	} else {
		memoKey = "local:" + node.LocalLocation
		if node.IsProjectRoot() {
			from = as.root
		} else {
			from, _ = as.root.Inventory.Get(node.LocalLocation)
		}
		nmFolder = path.Join(node.LocalLocation, "node_modules")
	}

	if _, ok := as.wired[memoKey]; ok {
		return nil
	}
	as.wired[memoKey] = struct{}{}

	if from == nil {
		return &StructuralError{
			Package:  node.Name + "@" + node.Version,
			Location: nmFolder,
			Reason:   "dependent was never placed",
		}
	}

	for _, dep := range node.LocalDeps {
		if err := as.wireDep(from, nmFolder, dep, false, false); err != nil {
			return err
		}
	}
	for _, dep := range node.ExternalDeps {
		if err := as.wireDep(from, nmFolder, dep, false, true); err != nil {
			return err
		}
	}
	for _, dep := range node.OptionalDeps {
		if err := as.wireDep(from, nmFolder, dep, true, true); err != nil {
			return err
		}
	}
	return nil
}

// wireDep satisfies one dependency of from. A bundled copy already sitting
// at the link location is used as is; otherwise dep is wired and linked.
func (as *assembly) wireDep(from *TreeNode, nmFolder string, dep *ideal.ProxyNode, optional, external bool) error {
	location := path.Join(nmFolder, dep.Name)
	if occupant, ok := as.root.Inventory.Get(location); ok && occupant.Kind == NodeBundled {
		return as.useBundled(from, occupant, dep, optional)
	}

	if err := as.wire(dep, external); err != nil {
		return err
	}
	return as.link(from, nmFolder, dep, optional, external)
}

// useBundled connects from to the bundled node occupying dep's link location
func (as *assembly) useBundled(from, bundled *TreeNode, dep *ideal.ProxyNode, optional bool) error {
	if bundled.Name != dep.Name || bundled.Version != dep.Version {
		return &StructuralError{
			Package:  dep.Name + "@" + dep.Version,
			Location: bundled.Location,
			Reason:   "link location holds bundled " + bundled.Name + "@" + bundled.Version,
		}
	}
	if existing, ok := from.EdgesOut[dep.Name]; ok && existing.To == bundled {
		return nil
	}

	as.logger.Debug().Str("location", bundled.Location).Msg("Dependency satisfied by bundled copy")
	for _, bin := range dep.Package.BinNames() {
		bundled.BinPaths = append(bundled.BinPaths, filepath.Join(from.Realpath, "node_modules", ".bin", bin))
	}
	connect(from, bundled, dep.Name, optional)
	return nil
}

// prune drops store entries nothing links to, along with the bundles placed
// under them. They only occur when every consumer was satisfied by a bundled
// copy, in which case the entry was never wired either.
func (as *assembly) prune() {
	var dropped []string
	for _, child := range as.root.Children {
		if child.Kind == NodeStore && len(child.EdgesIn) == 0 {
			dropped = append(dropped, child.Location)
		}
	}
	if len(dropped) == 0 {
		return
	}

	under := func(location string) bool {
		for _, d := range dropped {
			if location == d || strings.HasPrefix(location, d+"/") {
				return true
			}
		}
		return false
	}

	kept := as.root.Children[:0]
	for _, child := range as.root.Children {
		if under(child.Location) {
			as.root.Inventory.Delete(child.Location)
			as.logger.Trace().Str("location", child.Location).Msg("Dropping unreferenced store entry")
			continue
		}
		kept = append(kept, child)
	}
	as.root.Children = kept
}

// link places a link at <nmFolder>/<dep.Name> pointing at dep's physical node
func (as *assembly) link(from *TreeNode, nmFolder string, dep *ideal.ProxyNode, optional, external bool) error {
	location := path.Join(nmFolder, dep.Name)

	var target *TreeNode
	var storeKey string
	if external {
		storeKey = as.key(dep)
		target, _ = as.root.Inventory.Get(StoreLocation(storeKey, dep.Name))
	} else {
		target, _ = as.root.Inventory.Get(dep.LocalLocation)
	}
	if target == nil {
		return &StructuralError{
			Package:  dep.Name + "@" + dep.Version,
			Location: location,
			Reason:   "dependency was never placed",
		}
	}

	if location == from.Location {
		// a package depending on itself already sits at this path
		as.logger.Debug().Str("location", location).Msg("Skipping self link")
		return nil
	}
	if existing, ok := from.EdgesOut[dep.Name]; ok && existing.To.Target == target {
		return nil
	}
	if occupant, ok := as.root.Inventory.Get(location); ok {
		return &StructuralError{
			Package:  dep.Name + "@" + dep.Version,
			Location: location,
			Reason:   "link location already holds " + occupant.Kind.String() + " " + occupant.Name,
		}
	}

	for _, bin := range dep.Package.BinNames() {
		target.BinPaths = append(target.BinPaths, filepath.Join(from.Realpath, "node_modules", ".bin", bin))
	}

	link := newTreeNode(NodeLink)
	link.Name = dep.Name
	link.Version = dep.Version
	link.Location = location
	link.Path = filepath.Join(as.rootPath, filepath.FromSlash(location))
	link.Realpath = target.Path
	link.StoreKey = storeKey
	link.Resolved = dep.Resolved
	link.Optional = optional
	link.IsLink = true
	link.Target = target
	link.Package = &models.Manifest{
		Name:    dep.Name,
		Version: dep.Version,
		Bin:     target.Package.Bin,
		Scripts: dep.Package.Scripts,
	}

	connect(from, link, dep.Name, optional)
	connect(link, target, dep.Name, false)
	as.root.Children = append(as.root.Children, link)
	as.root.Inventory.Set(location, link)
	return nil
}
