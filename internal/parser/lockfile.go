package parser

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"

	"github.com/acheong08/spr-isolate/internal/logging"
	"github.com/acheong08/spr-isolate/pkg/models"
)

// Lockfile names, in lookup order. A shrinkwrap wins over a package-lock.
const (
	ShrinkwrapFile  = "npm-shrinkwrap.json"
	PackageLockFile = "package-lock.json"
)

// PackageLockV3 represents package-lock.json version 3 structure
type PackageLockV3 struct {
	Name            string                        `json:"name"`
	Version         string                        `json:"version"`
	LockfileVersion int                           `json:"lockfileVersion"`
	Packages        map[string]PackageLockPackage `json:"packages"`
}

// PackageLockPackage represents a single package entry in lockfile
type PackageLockPackage struct {
	Name                 string              `json:"name"`
	Version              string              `json:"version"`
	Resolved             string              `json:"resolved"`
	Integrity            string              `json:"integrity"`
	Link                 bool                `json:"link"`
	Dev                  bool                `json:"dev"`
	Optional             bool                `json:"optional"`
	DevOptional          bool                `json:"devOptional"`
	Peer                 bool                `json:"peer"`
	InBundle             bool                `json:"inBundle"`
	HasInstallScript     bool                `json:"hasInstallScript"`
	HasShrinkwrap        bool                `json:"hasShrinkwrap"`
	Bin                  json.RawMessage     `json:"bin"`
	Dependencies         map[string]string   `json:"dependencies"`
	OptionalDependencies map[string]string   `json:"optionalDependencies"`
	DevDependencies      map[string]string   `json:"devDependencies"`
	PeerDependencies     map[string]string   `json:"peerDependencies"`
	PeerDependenciesMeta map[string]peerMeta `json:"peerDependenciesMeta"`
	BundleDependencies   json.RawMessage     `json:"bundleDependencies"`
	Workspaces           json.RawMessage     `json:"workspaces"`
}

type peerMeta struct {
	Optional bool `json:"optional"`
}

// Options control which dependency kinds end up in the tree
type Options struct {
	// Omit lists "dev", "optional" and/or "peer"
	Omit []string
}

func (o Options) omits(kind string) bool {
	for _, k := range o.Omit {
		if k == kind {
			return true
		}
	}
	return false
}

// LockfileManager handles generation and parsing of lockfiles
type LockfileManager struct {
	TempDir string
	Options Options
	logger  zerolog.Logger
}

// NewLockfileManager creates a new lockfile manager
func NewLockfileManager(opts Options) *LockfileManager {
	return &LockfileManager{
		Options: opts,
		logger:  logging.GetLogger("parser"),
	}
}

// GenerateLockfile creates a package-lock.json from package.json in a temp directory
// Returns the path to the generated lockfile
func (lm *LockfileManager) GenerateLockfile(packageJSONPath string) (string, error) {
	if _, err := exec.LookPath("npm"); err != nil {
		return "", fmt.Errorf("npm not found in PATH: %w", err)
	}

	tempDir, err := os.MkdirTemp("", "spr-lockfile-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}
	lm.TempDir = tempDir

	data, err := os.ReadFile(packageJSONPath)
	if err != nil {
		os.RemoveAll(tempDir)
		return "", fmt.Errorf("failed to read package.json: %w", err)
	}

	destPath := filepath.Join(tempDir, "package.json")
	if err := os.WriteFile(destPath, data, 0644); err != nil {
		os.RemoveAll(tempDir)
		return "", fmt.Errorf("failed to write package.json to temp: %w", err)
	}

	lm.logger.Info().Str("dir", tempDir).Msg("Generating lockfile with npm")

	cmd := exec.Command("npm", "install", "--package-lock-only", "--ignore-scripts", "--silent")
	cmd.Dir = tempDir
	if err := cmd.Run(); err != nil {
		os.RemoveAll(tempDir)
		return "", fmt.Errorf("npm install --package-lock-only failed: %w", err)
	}

	lockfilePath := filepath.Join(tempDir, PackageLockFile)
	if _, err := os.Stat(lockfilePath); os.IsNotExist(err) {
		os.RemoveAll(tempDir)
		return "", fmt.Errorf("package-lock.json was not generated")
	}

	return lockfilePath, nil
}

// ReadLockfile reads and validates a lockfile
func ReadLockfile(lockfilePath string) (*PackageLockV3, error) {
	data, err := os.ReadFile(lockfilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read lockfile: %w", err)
	}
	return DecodeLockfile(data)
}

// DecodeLockfile parses lockfile bytes. Versions 2 and 3 carry the flat
// "packages" section the tree is built from.
func DecodeLockfile(data []byte) (*PackageLockV3, error) {
	var lockfile PackageLockV3
	if err := json.Unmarshal(data, &lockfile); err != nil {
		return nil, fmt.Errorf("failed to parse lockfile: %w", err)
	}

	if lockfile.LockfileVersion != 2 && lockfile.LockfileVersion != 3 {
		return nil, fmt.Errorf("unsupported lockfile version: %d (expected 2 or 3)", lockfile.LockfileVersion)
	}
	if _, ok := lockfile.Packages[""]; !ok {
		return nil, fmt.Errorf("root package not found in lockfile")
	}

	return &lockfile, nil
}

// ParseLockfile reads the lockfile at lockfilePath and builds the resolved
// tree of the project in dir
func (lm *LockfileManager) ParseLockfile(lockfilePath, dir string) (*models.Node, error) {
	lockfile, err := ReadLockfile(lockfilePath)
	if err != nil {
		return nil, err
	}
	return lm.BuildTree(lockfile, dir)
}

// LoadTree reads npm-shrinkwrap.json, falling back to package-lock.json, from
// dir and builds its resolved tree
func (lm *LockfileManager) LoadTree(dir string) (*models.Node, error) {
	for _, name := range []string{ShrinkwrapFile, PackageLockFile} {
		lockfilePath := filepath.Join(dir, name)
		if _, err := os.Stat(lockfilePath); err != nil {
			continue
		}
		return lm.ParseLockfile(lockfilePath, dir)
	}
	return nil, fmt.Errorf("no %s or %s in %s", ShrinkwrapFile, PackageLockFile, dir)
}

// BuildTree converts the flat "packages" section into a linked tree of
// models.Node. Locations inside node_modules are packages; any other
// non-root location is a workspace member. Dependencies are resolved the
// way node does: nearest node_modules folder first, walking up to the root.
func (lm *LockfileManager) BuildTree(lockfile *PackageLockV3, dir string) (*models.Node, error) {
	rootEntry, ok := lockfile.Packages[""]
	if !ok {
		return nil, fmt.Errorf("root package not found in lockfile")
	}

	rootName := rootEntry.Name
	if rootName == "" {
		rootName = lockfile.Name
	}
	rootVersion := rootEntry.Version
	if rootVersion == "" {
		rootVersion = lockfile.Version
	}

	root := models.NewNode(rootName, rootVersion, "")
	root.Path = dir
	root.IsProjectRoot = true
	root.Manifest = lm.manifest(rootName, rootVersion, rootEntry)
	root.HasInstallScript = rootEntry.HasInstallScript

	locations := make([]string, 0, len(lockfile.Packages))
	for location := range lockfile.Packages {
		if location != "" {
			locations = append(locations, location)
		}
	}
	sort.Strings(locations)

	nodes := map[string]*models.Node{"": root}
	entries := map[string]PackageLockPackage{"": rootEntry}
	var links []string

	for _, location := range locations {
		entry := lockfile.Packages[location]
		if lm.omitted(entry) {
			lm.logger.Trace().Str("location", location).Msg("Omitting package")
			continue
		}

		name := entry.Name
		if name == "" {
			name = extractPackageName(location)
		}
		if name == "" {
			name = filepath.Base(location)
		}

		node := models.NewNode(name, entry.Version, location)
		node.Path = filepath.Join(dir, filepath.FromSlash(location))
		node.Resolved = entry.Resolved
		node.Integrity = entry.Integrity
		node.Optional = entry.Optional
		node.Dev = entry.Dev
		node.HasInstallScript = entry.HasInstallScript
		node.HasShrinkwrap = entry.HasShrinkwrap
		node.Manifest = lm.manifest(name, entry.Version, entry)

		switch {
		case entry.Link:
			node.IsLink = true
			links = append(links, location)
		case !isNodeModulesPath(location):
			root.AddWorkspace(node)
		default:
			if _, err := semver.NewVersion(entry.Version); err != nil {
				lm.logger.Warn().Str("location", location).Str("version", entry.Version).Msg("Package version is not valid semver")
			}
		}

		nodes[location] = node
		entries[location] = entry
	}

	for _, location := range links {
		link := nodes[location]
		target, ok := nodes[entries[location].Resolved]
		if !ok || target.IsLink {
			lm.logger.Warn().Str("location", location).Str("target", entries[location].Resolved).Msg("Dropping link with no target")
			delete(nodes, location)
			continue
		}
		link.Target = target
		link.Version = target.Version
		link.ID = target.ID
	}

	// Links have no edges of their own; their target carries them.
	edgeOwners := append([]string{""}, locations...)
	for _, location := range edgeOwners {
		node, ok := nodes[location]
		if !ok || node.IsLink {
			continue
		}
		lm.addEdges(node, entries[location], nodes)
	}

	// The root depends on each workspace through its top-level link
	for _, ws := range root.FsChildren {
		if hasEdge(root, ws.Name) {
			continue
		}
		target := resolveDependency("", ws.Name, nodes)
		if target == nil || target.Real() != ws {
			target = ws
		}
		root.AddEdge(ws.Name, target, false)
	}

	lm.logger.Debug().
		Int("packages", len(nodes)).
		Int("workspaces", len(root.FsChildren)).
		Msg("Lockfile tree built")

	return root, nil
}

// omitted reports whether an entry is excluded by the omit options. A
// devOptional package is only left out when both kinds are omitted.
func (lm *LockfileManager) omitted(entry PackageLockPackage) bool {
	opts := lm.Options
	switch {
	case entry.DevOptional:
		return opts.omits("dev") && opts.omits("optional")
	case entry.Dev:
		return opts.omits("dev")
	case entry.Optional:
		return opts.omits("optional")
	case entry.Peer:
		return opts.omits("peer")
	}
	return false
}

// addEdges wires node's declared dependencies. Optional dependencies are
// recorded even when they did not resolve; the edge then has no target.
func (lm *LockfileManager) addEdges(node *models.Node, entry PackageLockPackage, nodes map[string]*models.Node) {
	type dep struct {
		name     string
		optional bool
	}
	var deps []dep
	seen := make(map[string]bool)
	add := func(m map[string]string, optional bool) {
		names := make([]string, 0, len(m))
		for name := range m {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if !seen[name] {
				seen[name] = true
				deps = append(deps, dep{name: name, optional: optional})
			}
		}
	}

	add(entry.OptionalDependencies, true)
	add(entry.Dependencies, false)
	if (node.IsProjectRoot || node.IsWorkspace) && !lm.Options.omits("dev") {
		add(entry.DevDependencies, false)
	}
	if !lm.Options.omits("peer") {
		peers := make(map[string]string, len(entry.PeerDependencies))
		optionalPeers := make(map[string]string)
		for name, spec := range entry.PeerDependencies {
			if entry.PeerDependenciesMeta[name].Optional {
				optionalPeers[name] = spec
			} else {
				peers[name] = spec
			}
		}
		add(peers, false)
		add(optionalPeers, true)
	}

	for _, d := range deps {
		target := resolveDependency(node.Location, d.name, nodes)
		if target == nil {
			if d.optional {
				lm.logger.Trace().Str("from", node.Location).Str("dep", d.name).Msg("Dependency not in lockfile")
			} else {
				lm.logger.Warn().Str("from", node.Location).Str("dep", d.name).Msg("Dependency not in lockfile")
			}
		}
		node.AddEdge(d.name, target, d.optional)
	}
}

func hasEdge(n *models.Node, name string) bool {
	for _, e := range n.EdgesOut {
		if e.Name == name {
			return true
		}
	}
	return false
}

// resolveDependency finds name from location by checking each enclosing
// node_modules folder, nearest first
func resolveDependency(location, name string, nodes map[string]*models.Node) *models.Node {
	for {
		candidate := "node_modules/" + name
		if location != "" {
			candidate = location + "/node_modules/" + name
		}
		if n, ok := nodes[candidate]; ok {
			return n
		}
		if location == "" {
			return nil
		}
		location = parentLocation(location)
	}
}

// parentLocation returns the location whose node_modules folder holds
// location, or "" for top-level packages and workspaces
func parentLocation(location string) string {
	if idx := strings.LastIndex(location, "/node_modules/"); idx != -1 {
		return location[:idx]
	}
	return ""
}

func isNodeModulesPath(location string) bool {
	return strings.HasPrefix(location, "node_modules/") || strings.Contains(location, "/node_modules/")
}

// manifest converts a lockfile entry into the metadata the planner reads
func (lm *LockfileManager) manifest(name, version string, entry PackageLockPackage) *models.Manifest {
	m := &models.Manifest{
		Name:                 name,
		Version:              version,
		Bin:                  normalizeBinField(entry.Bin, name),
		Dependencies:         entry.Dependencies,
		OptionalDependencies: entry.OptionalDependencies,
		DevDependencies:      entry.DevDependencies,
		PeerDependencies:     entry.PeerDependencies,
		Workspaces:           parseWorkspaces(entry.Workspaces),
	}
	m.BundleDependencies = parseBundleDependencies(entry.BundleDependencies, m)
	return m
}

// normalizeBinField ensures the bin field is in object format.
// npm allows bin to be a string (e.g. "bin": "./cli.js"), which is keyed by
// the unscoped package name.
func normalizeBinField(raw json.RawMessage, pkgName string) map[string]string {
	if len(raw) == 0 {
		return nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return nil
		}
		unscopedName := pkgName
		if strings.HasPrefix(pkgName, "@") {
			parts := strings.SplitN(pkgName, "/", 2)
			if len(parts) == 2 {
				unscopedName = parts[1]
			}
		}
		return map[string]string{unscopedName: single}
	}

	var bins map[string]string
	if err := json.Unmarshal(raw, &bins); err == nil && len(bins) > 0 {
		return bins
	}
	return nil
}

// parseBundleDependencies accepts the array form and the boolean form, where
// true bundles every regular dependency
func parseBundleDependencies(raw json.RawMessage, m *models.Manifest) []string {
	if len(raw) == 0 {
		return nil
	}

	var names []string
	if err := json.Unmarshal(raw, &names); err == nil {
		return names
	}

	var all bool
	if err := json.Unmarshal(raw, &all); err == nil && all {
		for name := range m.Dependencies {
			names = append(names, name)
		}
		sort.Strings(names)
		return names
	}
	return nil
}

// parseWorkspaces accepts both the array form and {"packages": [...]}
func parseWorkspaces(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var globs []string
	if err := json.Unmarshal(raw, &globs); err == nil {
		return globs
	}

	var obj struct {
		Packages []string `json:"packages"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Packages
	}
	return nil
}

// Cleanup removes the temporary directory
func (lm *LockfileManager) Cleanup() error {
	if lm.TempDir != "" {
		return os.RemoveAll(lm.TempDir)
	}
	return nil
}

// extractPackageName extracts the package name from a node_modules path
func extractPackageName(path string) string {
	parts := strings.Split(path, "node_modules/")
	if len(parts) < 2 {
		return ""
	}

	name := parts[len(parts)-1]

	if idx := strings.Index(name, "/node_modules/"); idx != -1 {
		name = name[:idx]
	}

	return name
}

// BuildTreeFromPackageJSON parses package.json and the lockfile next to it,
// generating one with npm when none exists
func BuildTreeFromPackageJSON(packageJSONPath string, opts Options) (*models.Node, error) {
	pkg, err := ParsePackageJSON(packageJSONPath)
	if err != nil {
		return nil, err
	}

	dir, err := filepath.Abs(filepath.Dir(packageJSONPath))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory: %w", err)
	}

	lm := NewLockfileManager(opts)
	defer lm.Cleanup()

	lockfilePath := ""
	for _, name := range []string{ShrinkwrapFile, PackageLockFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			lockfilePath = filepath.Join(dir, name)
			break
		}
	}
	if lockfilePath == "" {
		lockfilePath, err = lm.GenerateLockfile(packageJSONPath)
		if err != nil {
			return nil, fmt.Errorf("failed to generate lockfile: %w", err)
		}
	}

	tree, err := lm.ParseLockfile(lockfilePath, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to parse lockfile: %w", err)
	}
	ApplyManifest(tree, pkg)
	return tree, nil
}
