package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/engine-watch/internal/source"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the enabled marketplaces",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := source.NewDefaultRegistry(cfg.Sources)
		if err != nil {
			return err
		}
		for _, s := range reg.All() {
			fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", s.Name(), s.URL())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}
