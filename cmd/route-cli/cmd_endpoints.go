package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var endpointsCmd = &cobra.Command{
	Use:   "endpoints",
	Short: "List catalog endpoints and whether the dataset directory holds their data",
	Args:  cobra.NoArgs,
	RunE:  runEndpoints,
}

type endpointRow struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Family      string `json:"family"`
	Field       string `json:"primary_score_field"`
	Available   bool   `json:"available"`
}

func runEndpoints(cmd *cobra.Command, _ []string) error {
	d, err := loadDeps()
	if err != nil {
		return err
	}
	have, err := d.store.Endpoints(cmd.Context())
	if err != nil {
		return fmt.Errorf("list datasets: %w", err)
	}
	avail := make(map[string]bool, len(have))
	for _, ep := range have {
		avail[ep] = true
	}
	rows := make([]endpointRow, 0, len(d.cat.Endpoints))
	for _, e := range d.cat.Endpoints {
		rows = append(rows, endpointRow{ID: e.ID, DisplayName: e.DisplayName, Family: e.Family, Field: e.PrimaryScoreField, Available: avail[e.ID]})
	}
	out := cmd.OutOrStdout()
	if rootFlags.jsonOut {
		return printJSON(out, rows)
	}
	for _, r := range rows {
		mark := " "
		if r.Available {
			mark = "*"
		}
		fmt.Fprintf(out, "%s %-24s %-12s %-32s %s\n", mark, r.ID, r.Family, r.Field, r.DisplayName)
	}
	fmt.Fprintf(out, "(* dataset present in %s)\n", d.cfg.DataDir)
	return nil
}
