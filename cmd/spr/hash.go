package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/acheong08/spr-isolate/internal/ideal"
)

func newHashCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "hash",
		Short: "Print the store key of every external package",
		Long: `hash builds the proxy graph and prints one line per external package:
its lockfile location, then the store key "<name>@<version>-<subtree hash>".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, err := opts.loadTree()
			if err != nil {
				return err
			}

			builder := opts.newBuilder(tree)
			graph, err := builder.Build(cmd.Context(), tree)
			if err != nil {
				return err
			}

			externals := append([]*ideal.ProxyNode(nil), graph.External...)
			sort.SliceStable(externals, func(i, j int) bool {
				if externals[i].Nested != externals[j].Nested {
					return !externals[i].Nested
				}
				return externals[i].Location < externals[j].Location
			})

			out := cmd.OutOrStdout()
			for _, ext := range externals {
				location := ext.Location
				if ext.Nested {
					location = "(shrinkwrap) " + location
				}
				fmt.Fprintf(out, "%s\t%s\n", location, ideal.StoreKey(ext))
			}
			return nil
		},
	}
}
