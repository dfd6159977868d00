package models

import "slices"

// Package represents a single npm package with version
type Package struct {
	ID      string `json:"id"`      // "lodash@4.17.21"
	Name    string `json:"name"`    // "lodash"
	Version string `json:"version"` // "4.17.21"
}

// NewPackage builds the name@version identity for a package
func NewPackage(name, version string) Package {
	return Package{
		ID:      name + "@" + version,
		Name:    name,
		Version: version,
	}
}

// Manifest is the subset of package.json metadata the planner reads
type Manifest struct {
	Name                 string            `json:"name" yaml:"name"`
	Version              string            `json:"version" yaml:"version"`
	Bin                  map[string]string `json:"bin,omitempty" yaml:"bin,omitempty"`
	Scripts              map[string]string `json:"scripts,omitempty" yaml:"scripts,omitempty"`
	Dependencies         map[string]string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	OptionalDependencies map[string]string `json:"optionalDependencies,omitempty" yaml:"optionalDependencies,omitempty"`
	DevDependencies      map[string]string `json:"devDependencies,omitempty" yaml:"devDependencies,omitempty"`
	PeerDependencies     map[string]string `json:"peerDependencies,omitempty" yaml:"peerDependencies,omitempty"`
	BundleDependencies   []string          `json:"bundleDependencies,omitempty" yaml:"bundleDependencies,omitempty"`
	Workspaces           []string          `json:"workspaces,omitempty" yaml:"workspaces,omitempty"`
}

// Bundles reports whether name is listed in bundleDependencies
func (m *Manifest) Bundles(name string) bool {
	if m == nil {
		return false
	}
	return slices.Contains(m.BundleDependencies, name)
}

// WithoutBundles returns a shallow copy with bundleDependencies cleared, so
// the copy can never be expanded into a bundle again.
func (m *Manifest) WithoutBundles() *Manifest {
	if m == nil {
		return &Manifest{}
	}
	c := *m
	c.BundleDependencies = nil
	return &c
}

// BinNames returns the declared executable names in sorted order
func (m *Manifest) BinNames() []string {
	if m == nil || len(m.Bin) == 0 {
		return nil
	}
	names := make([]string, 0, len(m.Bin))
	for name := range m.Bin {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
