package isolate

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// Snapshot is the serializable form of an assembled tree
type Snapshot struct {
	Root  NodeSnapshot   `json:"root" yaml:"root"`
	Nodes []NodeSnapshot `json:"nodes" yaml:"nodes"`
}

// NodeSnapshot is one physical node
type NodeSnapshot struct {
	Kind     string         `json:"kind" yaml:"kind"`
	Name     string         `json:"name" yaml:"name"`
	Version  string         `json:"version,omitempty" yaml:"version,omitempty"`
	Location string         `json:"location" yaml:"location"`
	Path     string         `json:"path" yaml:"path"`
	Realpath string         `json:"realpath" yaml:"realpath"`
	StoreKey string         `json:"storeKey,omitempty" yaml:"storeKey,omitempty"`
	Resolved string         `json:"resolved,omitempty" yaml:"resolved,omitempty"`
	Optional bool           `json:"optional,omitempty" yaml:"optional,omitempty"`
	IsLink   bool           `json:"isLink,omitempty" yaml:"isLink,omitempty"`
	BinPaths []string       `json:"binPaths,omitempty" yaml:"binPaths,omitempty"`
	Edges    []EdgeSnapshot `json:"edges,omitempty" yaml:"edges,omitempty"`
}

// EdgeSnapshot is an outgoing edge, identified by the target location
type EdgeSnapshot struct {
	Name     string `json:"name" yaml:"name"`
	To       string `json:"to" yaml:"to"`
	Optional bool   `json:"optional,omitempty" yaml:"optional,omitempty"`
}

// Snap captures root and every child, workspaces first
func Snap(root *TreeNode) *Snapshot {
	s := &Snapshot{Root: snapNode(root)}
	for _, ws := range root.FsChildren {
		s.Nodes = append(s.Nodes, snapNode(ws))
	}
	for _, child := range root.Children {
		s.Nodes = append(s.Nodes, snapNode(child))
	}
	return s
}

func snapNode(n *TreeNode) NodeSnapshot {
	ns := NodeSnapshot{
		Kind:     n.Kind.String(),
		Name:     n.Name,
		Version:  n.Version,
		Location: n.Location,
		Path:     n.Path,
		Realpath: n.Realpath,
		StoreKey: n.StoreKey,
		Resolved: n.Resolved,
		Optional: n.Optional,
		IsLink:   n.IsLink,
		BinPaths: n.BinPaths,
	}
	for name, e := range n.EdgesOut {
		ns.Edges = append(ns.Edges, EdgeSnapshot{Name: name, To: e.To.Location, Optional: e.Optional})
	}
	sort.Slice(ns.Edges, func(i, j int) bool { return ns.Edges[i].Name < ns.Edges[j].Name })
	return ns
}

// Write renders the snapshot as "json" or "yaml"
func (s *Snapshot) Write(w io.Writer, format string) error {
	return Render(w, format, s)
}

// Render encodes v as indented "json" (the default) or "yaml"
func Render(w io.Writer, format string, v interface{}) error {
	switch format {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// Summary counts the nodes of an assembled tree
type Summary struct {
	Workspaces   int              `json:"workspaces" yaml:"workspaces"`
	StoreEntries int              `json:"storeEntries" yaml:"storeEntries"`
	Bundled      int              `json:"bundled" yaml:"bundled"`
	Links        int              `json:"links" yaml:"links"`
	Packages     []PackageSummary `json:"packages" yaml:"packages"`
}

// PackageSummary lists the versions of one package present in the store
type PackageSummary struct {
	Name     string   `json:"name" yaml:"name"`
	Versions []string `json:"versions" yaml:"versions"`
}

// Summarize counts root's children by kind and groups store entries by
// package name, with versions in ascending semver order.
func Summarize(root *TreeNode) *Summary {
	s := &Summary{Workspaces: len(root.FsChildren)}
	versions := make(map[string]map[string]struct{})

	for _, child := range root.Children {
		switch child.Kind {
		case NodeStore:
			s.StoreEntries++
			if versions[child.Name] == nil {
				versions[child.Name] = make(map[string]struct{})
			}
			versions[child.Name][child.Version] = struct{}{}
		case NodeBundled:
			s.Bundled++
		case NodeLink:
			s.Links++
		}
	}

	for name, set := range versions {
		ps := PackageSummary{Name: name}
		for v := range set {
			ps.Versions = append(ps.Versions, v)
		}
		sortVersions(ps.Versions)
		s.Packages = append(s.Packages, ps)
	}
	sort.Slice(s.Packages, func(i, j int) bool { return s.Packages[i].Name < s.Packages[j].Name })
	return s
}

// sortVersions orders valid semver ascending; unparsable versions sort after
// them lexically.
func sortVersions(vs []string) {
	sort.SliceStable(vs, func(i, j int) bool {
		a, errA := semver.NewVersion(vs[i])
		b, errB := semver.NewVersion(vs[j])
		switch {
		case errA == nil && errB == nil:
			return a.LessThan(b)
		case errA == nil:
			return true
		case errB == nil:
			return false
		}
		return vs[i] < vs[j]
	})
}
