package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/acheong08/spr-isolate/internal/config"
	"github.com/acheong08/spr-isolate/internal/ideal"
	"github.com/acheong08/spr-isolate/internal/logging"
	"github.com/acheong08/spr-isolate/internal/parser"
	"github.com/acheong08/spr-isolate/internal/registry"
	"github.com/acheong08/spr-isolate/pkg/models"
)

// options shared by every subcommand
type options struct {
	verbosity int
	lockfile  string
	pkgJSON   string
	omit      []string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "spr",
		Short: "Plan isolated node_modules layouts from npm lockfiles",
		Long: `spr reads a resolved npm dependency tree (package-lock.json or
npm-shrinkwrap.json) and computes the isolated install layout: one
content-addressed store entry per distinct package subtree under
node_modules/.store, plus the links that connect consumers to them.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if opts.verbosity > 0 {
				cfg.Verbosity = opts.verbosity
			}
			if cmd.Flags().Changed("omit") {
				cfg.Omit = opts.omit
			}
			opts.cfg = cfg

			logging.SetupLogger(cfg.Verbosity)
			log.Debug().Str("command", cmd.Name()).Msg("Command started")
			return nil
		},
	}

	rootCmd.PersistentFlags().CountVarP(&opts.verbosity, "verbose", "v", "Increase verbosity (-v, -vv, -vvv)")
	rootCmd.PersistentFlags().StringVarP(&opts.lockfile, "lockfile", "l", "", "Path to package-lock.json or npm-shrinkwrap.json")
	rootCmd.PersistentFlags().StringVarP(&opts.pkgJSON, "package", "p", "", "Path to package.json")
	rootCmd.PersistentFlags().StringSliceVar(&opts.omit, "omit", nil, "Dependency kinds to leave out: dev, optional, peer")

	rootCmd.AddCommand(newPlanCmd(opts))
	rootCmd.AddCommand(newHashCmd(opts))

	return rootCmd
}

// loadTree resolves the project to plan. An explicit lockfile wins, then an
// explicit package.json, then whatever the working directory holds.
func (o *options) loadTree() (*models.Node, error) {
	popts := parser.Options{Omit: o.cfg.Omit}

	if o.lockfile != "" {
		dir, err := filepath.Abs(filepath.Dir(o.lockfile))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve project directory: %w", err)
		}
		tree, err := parser.NewLockfileManager(popts).ParseLockfile(o.lockfile, dir)
		if err != nil {
			return nil, err
		}
		if o.pkgJSON != "" {
			pkg, err := parser.ParsePackageJSON(o.pkgJSON)
			if err != nil {
				return nil, err
			}
			parser.ApplyManifest(tree, pkg)
		}
		return tree, nil
	}

	if o.pkgJSON != "" {
		return parser.BuildTreeFromPackageJSON(o.pkgJSON, popts)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	if pkgPath, err := parser.FindPackageJSON(cwd); err == nil {
		return parser.BuildTreeFromPackageJSON(pkgPath, popts)
	}
	return parser.NewLockfileManager(popts).LoadTree(cwd)
}

// newBuilder creates a proxy graph builder whose "file:" tarballs resolve
// against the project directory of tree
func (o *options) newBuilder(tree *models.Node) *ideal.Builder {
	fetcher := registry.NewFetcher(o.cfg.FetchTimeout)
	fetcher.BaseDir = tree.Path
	return ideal.NewBuilder(fetcher, parser.NewLockfileManager(parser.Options{Omit: o.cfg.Omit}))
}
