package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/acheong08/spr-isolate/internal/isolate"
	"github.com/acheong08/spr-isolate/internal/logging"
)

func newPlanCmd(opts *options) *cobra.Command {
	var (
		format  string
		output  string
		summary bool
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Compute the isolated tree and print it",
		Example: `  spr plan
  spr plan --lockfile package-lock.json --format yaml
  spr plan --package app/package.json --omit dev --summary`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.GetLogger("plan")

			tree, err := opts.loadTree()
			if err != nil {
				return err
			}

			builder := opts.newBuilder(tree)
			root, err := isolate.Plan(cmd.Context(), builder, isolate.NewAssembler(), tree)
			if err != nil {
				return err
			}

			var out io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", output, err)
				}
				defer f.Close()
				out = f
			}

			s := isolate.Summarize(root)
			logger.Info().
				Int("store_entries", s.StoreEntries).
				Int("links", s.Links).
				Int("bundled", s.Bundled).
				Msg("Plan complete")

			if summary {
				return isolate.Render(out, format, s)
			}
			return isolate.Snap(root).Write(out, format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format: json or yaml")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to a file instead of stdout")
	cmd.Flags().BoolVar(&summary, "summary", false, "Print per-package counts instead of the full tree")

	return cmd
}
