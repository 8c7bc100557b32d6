package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alem-hub/edu-progress/config"
	"github.com/alem-hub/edu-progress/internal/domain/progress"
)

// catalogView is the printable form of a loaded catalog.
type catalogView struct {
	Thresholds []int       `json:"thresholds"`
	Badges     []badgeView `json:"badges"`
}

type badgeView struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Requirement string `json:"requirement"`
	XPReward    int    `json:"xp_reward"`
}

// NewCatalogCommand creates the catalog command, which validates and prints
// the badge catalog and mastery thresholds.
func NewCatalogCommand(_ *RootOptions) *cobra.Command {
	var (
		file   string
		format string
	)

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Validate and print the badge catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				cfg, _, err := setup()
				if err != nil {
					return err
				}
				file = cfg.Progress.CatalogFile
			}

			catalog, err := config.LoadCatalog(file)
			if err != nil {
				return err
			}
			return printCatalog(cmd.OutOrStdout(), catalog, format)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "catalog file (.toml, .yaml); defaults to PROGRESS_CATALOG_FILE")
	cmd.Flags().StringVar(&format, "format", "text", "output format (json|text)")
	return cmd
}

func printCatalog(w io.Writer, c config.Catalog, format string) error {
	view := catalogView{Thresholds: c.Mastery.Thresholds()}
	for _, b := range c.Badges.Badges() {
		view.Badges = append(view.Badges, badgeView{
			ID:          b.ID,
			DisplayName: b.DisplayName,
			Requirement: progress.Describe(b.Rule),
			XPReward:    b.XPReward,
		})
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	case "text":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tREQUIREMENT\tXP")
		for _, b := range view.Badges {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", b.ID, b.DisplayName, b.Requirement, b.XPReward)
		}
		fmt.Fprintf(tw, "\nmastery thresholds: %v\n", view.Thresholds)
		return tw.Flush()
	default:
		return fmt.Errorf("invalid format %q: must be one of [text json]", format)
	}
}
