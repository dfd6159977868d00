package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/acheong08/spr-isolate/internal/logging"
)

// DefaultRegistry is used for packages whose lockfile entry has no resolved URL
const DefaultRegistry = "https://registry.npmjs.org"

// ErrUnsupportedLocator is returned for sources that are not tarballs
var ErrUnsupportedLocator = errors.New("unsupported package locator")

// LogCallback is an optional function for forwarding log messages (e.g. to WebSocket).
type LogCallback func(message, level string)

// Fetcher downloads package tarballs and unpacks them
type Fetcher struct {
	RegistryURL string
	HTTPClient  *http.Client
	// BaseDir is the project directory relative "file:" locators resolve
	// against. "file:" locators are refused while it is empty.
	BaseDir string
	logger  zerolog.Logger
	logCb   LogCallback
}

// NewFetcher creates a fetcher against the public npm registry
func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		RegistryURL: DefaultRegistry,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		logger: logging.GetLogger("registry"),
	}
}

// SetLogCallback sets an optional callback for forwarding log messages.
func (f *Fetcher) SetLogCallback(cb LogCallback) {
	f.logCb = cb
}

func (f *Fetcher) logMsg(message, level string) {
	switch level {
	case "error":
		f.logger.Error().Msg(message)
	case "debug":
		f.logger.Debug().Msg(message)
	default:
		f.logger.Info().Msg(message)
	}
	if f.logCb != nil {
		f.logCb(message, level)
	}
}

// Extract downloads the package at locator, verifies it against integrity
// (when given) and unpacks it into dest. locator is a tarball URL, a
// "file:" path (relative to BaseDir), or a "name@version" spec resolved
// against RegistryURL.
func (f *Fetcher) Extract(ctx context.Context, locator, dest, integrity string) error {
	tarball, err := f.fetch(ctx, locator)
	if err != nil {
		return err
	}

	if err := VerifyIntegrity(tarball, integrity); err != nil {
		var integrityErr *IntegrityError
		if errors.As(err, &integrityErr) {
			integrityErr.Locator = locator
		}
		return err
	}

	files, err := Untar(tarball, dest)
	if err != nil {
		return fmt.Errorf("failed to unpack %s: %w", locator, err)
	}

	f.logMsg(fmt.Sprintf("Extracted %s (%d files)", locator, files), "debug")
	return nil
}

func (f *Fetcher) fetch(ctx context.Context, locator string) ([]byte, error) {
	if isGitLocator(locator) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLocator, locator)
	}

	if path, ok := strings.CutPrefix(locator, "file:"); ok {
		if f.BaseDir == "" {
			return nil, fmt.Errorf("%w: local files are disabled: %s", ErrUnsupportedLocator, locator)
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(f.BaseDir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read tarball: %w", err)
		}
		return data, nil
	}

	url := locator
	if !strings.HasPrefix(locator, "http://") && !strings.HasPrefix(locator, "https://") {
		name, version, ok := splitSpec(locator)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedLocator, locator)
		}
		url = constructTarballURL(f.RegistryURL, name, version)
	}

	f.logMsg("Downloading "+url, "debug")
	return f.DownloadTarball(ctx, url)
}

// DownloadTarball downloads a package tarball
func (f *Fetcher) DownloadTarball(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download tarball: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download tarball: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read tarball: %w", err)
	}

	return data, nil
}

// isGitLocator checks if a locator points at a git repository
func isGitLocator(locator string) bool {
	return strings.HasPrefix(locator, "git+") ||
		strings.HasPrefix(locator, "git://") ||
		strings.HasPrefix(locator, "github:") ||
		strings.HasPrefix(locator, "gitlab:") ||
		strings.HasPrefix(locator, "bitbucket:") ||
		strings.HasPrefix(locator, "gist:")
}

// splitSpec splits "name@version", keeping the scope of "@scope/name@version"
func splitSpec(spec string) (name, version string, ok bool) {
	idx := strings.LastIndex(spec, "@")
	if idx <= 0 || idx == len(spec)-1 {
		return "", "", false
	}
	return spec[:idx], spec[idx+1:], true
}

// constructTarballURL constructs the registry tarball URL for a package
// Format: <registry>/@scope/name/-/name-{version}.tgz
//
//	<registry>/name/-/name-{version}.tgz
func constructTarballURL(registry, name, version string) string {
	// Extract the unscoped name for the tarball filename
	tarballName := name
	if strings.HasPrefix(name, "@") {
		parts := strings.SplitN(name, "/", 2)
		if len(parts) == 2 {
			tarballName = parts[1]
		}
	}

	// The path uses the full name, tarball uses unscoped name
	return fmt.Sprintf("%s/%s/-/%s-%s.tgz", strings.TrimSuffix(registry, "/"), name, tarballName, version)
}
