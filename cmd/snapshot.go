package main

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/engine-watch/internal/export"
	"github.com/sells-group/engine-watch/internal/model"
	"github.com/sells-group/engine-watch/internal/store"
)

var (
	snapshotSource string
	snapshotFormat string
	snapshotOut    string
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Inspect the stored listing snapshot",
}

var snapshotShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the listings in the stored snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		listings, err := loadSnapshot(cmd)
		if err != nil {
			return err
		}
		return printSnapshot(cmd.OutOrStdout(), listings)
	},
}

var snapshotExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the stored snapshot to a CSV or XLSX file",
	RunE: func(cmd *cobra.Command, args []string) error {
		listings, err := loadSnapshot(cmd)
		if err != nil {
			return err
		}
		if err := export.Write(snapshotFormat, snapshotOut, listings); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d listings to %s\n", len(listings), snapshotOut)
		return nil
	},
}

// loadSnapshot returns the stored listings, filtered by --source, in
// reporting order.
func loadSnapshot(cmd *cobra.Command) ([]model.Listing, error) {
	var filter model.Source
	if snapshotSource != "" {
		src, err := model.ParseSource(snapshotSource)
		if err != nil {
			return nil, err
		}
		filter = src
	}

	st, err := store.Open(cmd.Context(), cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: open store")
	}
	defer st.Close()

	snap, err := st.Load(cmd.Context())
	if err != nil {
		return nil, err
	}

	listings := make([]model.Listing, 0, len(snap))
	for _, l := range snap {
		if filter != "" && l.Source != filter {
			continue
		}
		listings = append(listings, l)
	}
	sortListings(listings)
	return listings, nil
}

func sortListings(listings []model.Listing) {
	rank := make(map[model.Source]int, len(model.AllSources))
	for i, s := range model.AllSources {
		rank[s] = i
	}
	slices.SortFunc(listings, func(a, b model.Listing) int {
		return cmp.Or(
			cmp.Compare(rank[a.Source], rank[b.Source]),
			cmp.Compare(a.EngineModel, b.EngineModel),
			cmp.Compare(a.Identity(), b.Identity()),
		)
	})
}

func printSnapshot(w io.Writer, listings []model.Listing) error {
	bySource := make(map[model.Source]int)
	for _, l := range listings {
		bySource[l.Source]++
	}

	fmt.Fprintf(w, "%d listings\n", len(listings))
	for _, src := range model.AllSources {
		if n := bySource[src]; n > 0 {
			fmt.Fprintf(w, "  %s: %d\n", src, n)
		}
	}
	if len(listings) == 0 {
		return nil
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tENGINE MODEL\tESN\tCONDITION\tLOCATION\tPRICE\tDATE FOUND")
	for _, l := range listings {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			l.Source, l.EngineModel, l.SerialNumber, l.Condition, l.Location, l.Price, l.DateFound)
	}
	return tw.Flush()
}

func init() {
	snapshotCmd.PersistentFlags().StringVar(&snapshotSource, "source", "", "only listings from this source")
	snapshotExportCmd.Flags().StringVar(&snapshotFormat, "format", "csv", "output format (csv or xlsx)")
	snapshotExportCmd.Flags().StringVar(&snapshotOut, "out", "", "output file")
	_ = snapshotExportCmd.MarkFlagRequired("out")

	snapshotCmd.AddCommand(snapshotShowCmd, snapshotExportCmd)
	rootCmd.AddCommand(snapshotCmd)
}
