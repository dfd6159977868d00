package isolate

import (
	"context"
	"fmt"

	"github.com/acheong08/spr-isolate/internal/bundle"
	"github.com/acheong08/spr-isolate/internal/ideal"
	"github.com/acheong08/spr-isolate/pkg/models"
)

// Stages reported by PlanWithProgress, in order
const (
	StageGraph    = "graph"
	StageBundle   = "bundle"
	StageAssemble = "assemble"
)

// ProgressFunc is told when a stage starts (done == false) and when it has
// finished, with a short human-readable message
type ProgressFunc func(stage string, done bool, message string)

// Plan runs the whole pipeline on a resolved tree: proxy graph, bundled
// subgraph, then assembly. Nothing is returned on failure.
func Plan(ctx context.Context, builder *ideal.Builder, assembler *Assembler, tree *models.Node) (*TreeNode, error) {
	return PlanWithProgress(ctx, builder, assembler, tree, nil)
}

// PlanWithProgress is Plan reporting each stage to progress, which may be nil
func PlanWithProgress(ctx context.Context, builder *ideal.Builder, assembler *Assembler, tree *models.Node, progress ProgressFunc) (*TreeNode, error) {
	if progress == nil {
		progress = func(string, bool, string) {}
	}

	progress(StageGraph, false, "Building proxy graph...")
	graph, err := builder.Build(ctx, tree)
	if err != nil {
		return nil, fmt.Errorf("failed to build proxy graph: %w", err)
	}
	progress(StageGraph, true, fmt.Sprintf("Proxy graph built: %d external packages", len(graph.External)))

	progress(StageBundle, false, "Extracting bundled dependencies...")
	bundled := bundle.Extract(tree)
	progress(StageBundle, true, fmt.Sprintf("%d bundled packages", len(bundled.Nodes)))

	progress(StageAssemble, false, "Assembling isolated tree...")
	root, err := assembler.Assemble(graph, bundled)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble isolated tree: %w", err)
	}
	progress(StageAssemble, true, "Isolated tree assembled")
	return root, nil
}
