package parser

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/acheong08/spr-isolate/pkg/models"
)

// PackageJSON represents the structure of package.json
type PackageJSON struct {
	Name                 string            `json:"name"`
	Version              string            `json:"version"`
	Bin                  json.RawMessage   `json:"bin"`
	Scripts              map[string]string `json:"scripts"`
	Dependencies         map[string]string `json:"dependencies"`
	DevDependencies      map[string]string `json:"devDependencies"`
	OptionalDependencies map[string]string `json:"optionalDependencies"`
	PeerDependencies     map[string]string `json:"peerDependencies"`
	BundleDependencies   json.RawMessage   `json:"bundleDependencies"`
	BundledDependencies  json.RawMessage   `json:"bundledDependencies"`
	Workspaces           json.RawMessage   `json:"workspaces"`
}

// ParsePackageJSON reads and parses a package.json file
func ParsePackageJSON(path string) (*PackageJSON, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read package.json: %w", err)
	}
	return DecodePackageJSON(data)
}

// DecodePackageJSON parses package.json bytes
func DecodePackageJSON(data []byte) (*PackageJSON, error) {
	var pkg PackageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("failed to parse package.json: %w", err)
	}
	return &pkg, nil
}

// ToPackage converts PackageJSON to models.Package
func (p *PackageJSON) ToPackage() models.Package {
	return models.NewPackage(p.Name, p.Version)
}

// ToManifest converts PackageJSON to the metadata the planner reads. Both
// spellings of bundleDependencies are accepted.
func (p *PackageJSON) ToManifest() *models.Manifest {
	m := &models.Manifest{
		Name:                 p.Name,
		Version:              p.Version,
		Bin:                  normalizeBinField(p.Bin, p.Name),
		Scripts:              p.Scripts,
		Dependencies:         p.Dependencies,
		OptionalDependencies: p.OptionalDependencies,
		DevDependencies:      p.DevDependencies,
		PeerDependencies:     p.PeerDependencies,
		Workspaces:           parseWorkspaces(p.Workspaces),
	}
	bundles := p.BundleDependencies
	if len(bundles) == 0 {
		bundles = p.BundledDependencies
	}
	m.BundleDependencies = parseBundleDependencies(bundles, m)
	return m
}

// ValidatePackageJSON checks if a package.json file exists and is valid
func ValidatePackageJSON(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("package.json not found at %s", path)
	}

	pkg, err := ParsePackageJSON(path)
	if err != nil {
		return err
	}

	if pkg.Name == "" {
		return fmt.Errorf("package.json missing 'name' field")
	}

	return nil
}

// FindPackageJSON searches for package.json in the given directory
func FindPackageJSON(dir string) (string, error) {
	path := filepath.Join(dir, "package.json")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", fmt.Errorf("package.json not found in %s", dir)
	}
	return path, nil
}

// ApplyManifest merges package.json metadata the lockfile does not carry
// (scripts, and the bundle declaration) into the root of tree
func ApplyManifest(tree *models.Node, pkg *PackageJSON) {
	m := pkg.ToManifest()
	if tree.Manifest == nil {
		tree.Manifest = m
		return
	}
	if tree.Manifest.Scripts == nil {
		tree.Manifest.Scripts = m.Scripts
	}
	if len(tree.Manifest.BundleDependencies) == 0 {
		tree.Manifest.BundleDependencies = m.BundleDependencies
	}
	if len(tree.Manifest.Bin) == 0 {
		tree.Manifest.Bin = m.Bin
	}
}
