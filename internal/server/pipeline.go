package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/acheong08/spr-isolate/internal/ideal"
	"github.com/acheong08/spr-isolate/internal/isolate"
	"github.com/acheong08/spr-isolate/internal/logging"
	"github.com/acheong08/spr-isolate/internal/parser"
	"github.com/acheong08/spr-isolate/internal/registry"
	"github.com/acheong08/spr-isolate/pkg/models"
)

// stageProgress is the percentage reported when each planning stage starts
// and finishes
var stageProgress = map[string][2]int{
	isolate.StageGraph:    {20, 60},
	isolate.StageBundle:   {60, 70},
	isolate.StageAssemble: {70, 95},
}

// ProgressSender interface for sending progress updates
type ProgressSender interface {
	SendMessage(msg Message)
	SendLog(message, level string)
	SendProgress(percent int, stage, message string)
	SendError(message string, err error)
}

// Pipeline wraps the planning logic for WebSocket use
type Pipeline struct {
	extractor ideal.Extractor
	omit      []string
	metrics   *Metrics
	sender    ProgressSender
	logger    zerolog.Logger
}

// NewPipeline creates a new pipeline instance. Shrinkwrapped packages are
// fetched through extractor, which the pipeline takes over: a registry
// fetcher starts forwarding its logs to sender and refuses "file:"
// locators, since lockfiles come from clients. metrics may be nil.
func NewPipeline(extractor ideal.Extractor, omit []string, metrics *Metrics, sender ProgressSender) *Pipeline {
	if fetcher, ok := extractor.(*registry.Fetcher); ok && fetcher != nil {
		fetcher.SetLogCallback(sender.SendLog)
		fetcher.BaseDir = ""
	}
	return &Pipeline{
		extractor: extractor,
		omit:      omit,
		metrics:   metrics,
		sender:    sender,
		logger:    logging.GetLogger("pipeline"),
	}
}

// log sends a log message both to the WebSocket client and to the console
func (p *Pipeline) log(message, level string) {
	p.sender.SendLog(message, level)

	switch level {
	case "warning":
		p.logger.Warn().Msg(message)
	case "error":
		p.logger.Error().Msg(message)
	default:
		p.logger.Info().Msg(message)
	}
}

// logf is a formatted version of log
func (p *Pipeline) logf(format string, args ...interface{}) {
	p.log(fmt.Sprintf(format, args...), "info")
}

// Run plans the isolated tree for payload and sends it to the client
func (p *Pipeline) Run(ctx context.Context, payload *PlanPayload) (*isolate.TreeNode, error) {
	start := time.Now()
	root, err := p.run(ctx, payload)
	p.metrics.observe(root, err, time.Since(start))
	return root, err
}

func (p *Pipeline) run(ctx context.Context, payload *PlanPayload) (*isolate.TreeNode, error) {
	tempDir, err := os.MkdirTemp("", "spr-plan-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	p.log("Starting plan...", "info")

	p.sender.SendProgress(0, "parse", "Reading lockfile...")
	tree, err := p.loadTree(payload, tempDir)
	if err != nil {
		return nil, err
	}
	p.sender.SendProgress(20, "parse", fmt.Sprintf("Resolved tree loaded: %d workspaces", len(tree.FsChildren)))

	lm := parser.NewLockfileManager(parser.Options{Omit: p.omit})
	builder := ideal.NewBuilder(p.extractor, lm)

	root, err := isolate.PlanWithProgress(ctx, builder, isolate.NewAssembler(), tree, func(stage string, done bool, message string) {
		percent := stageProgress[stage][0]
		if done {
			percent = stageProgress[stage][1]
		}
		p.sender.SendProgress(percent, stage, message)
	})
	if err != nil {
		return nil, err
	}

	summary := isolate.Summarize(root)
	p.sender.SendMessage(NewTreeMessage(summary, isolate.Snap(root)))
	p.sender.SendProgress(100, isolate.StageAssemble, "Plan ready")

	p.log(fmt.Sprintf("Plan complete: %d store entries, %d links, %d bundled", summary.StoreEntries, summary.Links, summary.Bundled), "success")
	return root, nil
}

// loadTree writes the payload documents into dir and parses them. Without
// a lockfile, one is generated from package.json with npm.
func (p *Pipeline) loadTree(payload *PlanPayload, dir string) (*models.Node, error) {
	opts := parser.Options{Omit: p.omit}
	if len(payload.Omit) > 0 {
		opts.Omit = payload.Omit
	}

	var pkgJSON *parser.PackageJSON
	if payload.PackageJSON != "" {
		pkgPath := filepath.Join(dir, "package.json")
		if err := os.WriteFile(pkgPath, []byte(payload.PackageJSON), 0o644); err != nil {
			return nil, fmt.Errorf("failed to write package.json: %w", err)
		}
		if err := parser.ValidatePackageJSON(pkgPath); err != nil {
			return nil, fmt.Errorf("invalid package.json: %w", err)
		}

		var err error
		if pkgJSON, err = parser.ParsePackageJSON(pkgPath); err != nil {
			return nil, err
		}
		p.logf("Planning: %s@%s", pkgJSON.Name, pkgJSON.Version)
	}

	if payload.PackageLock == "" {
		p.log("Generating lockfile...", "info")
		return parser.BuildTreeFromPackageJSON(filepath.Join(dir, "package.json"), opts)
	}

	lockfile, err := parser.DecodeLockfile([]byte(payload.PackageLock))
	if err != nil {
		return nil, err
	}

	tree, err := parser.NewLockfileManager(opts).BuildTree(lockfile, dir)
	if err != nil {
		return nil, err
	}
	if pkgJSON != nil {
		parser.ApplyManifest(tree, pkgJSON)
	}
	return tree, nil
}

// errorCode classifies pipeline failures for the client
func errorCode(err error) string {
	var extractErr *ideal.ExtractionError
	var integrityErr *registry.IntegrityError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, isolate.ErrStructural):
		return "structural"
	case errors.As(err, &integrityErr):
		return "integrity"
	case errors.As(err, &extractErr):
		return "extraction"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}
	return ""
}
