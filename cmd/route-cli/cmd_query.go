package main

import (
	"fmt"
	"io"
	"strings"

	"georoute/internal/router"

	"github.com/spf13/cobra"
)

var queryFlags struct {
	clusters int
	context  string
	top      int
}

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Route a question and print the decision, reasoning and results",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQuery,
}

func init() {
	f := queryCmd.Flags()
	f.IntVar(&queryFlags.clusters, "clusters", 0, "explicit cluster count")
	f.StringVar(&queryFlags.context, "context", "", "conversation context carried with the request")
	f.IntVar(&queryFlags.top, "top", 10, "number of ranked rows to print")
}

func runQuery(cmd *cobra.Command, args []string) error {
	d, err := loadDeps()
	if err != nil {
		return err
	}
	svc := router.New(d.cfg, d.cat, d.store, d.ref, nil)
	res, routeErr := svc.Route(cmd.Context(), router.Request{
		Query:        strings.Join(args, " "),
		Context:      queryFlags.context,
		ClusterCount: queryFlags.clusters,
	})
	out := cmd.OutOrStdout()
	if rootFlags.jsonOut {
		if err := printJSON(out, res); err != nil {
			return err
		}
		return routeErr
	}

	dec := res.Decision
	if !dec.Accepted {
		fmt.Fprintf(out, "Rejected: %s\n", dec.RejectionMessage)
	} else {
		fmt.Fprintf(out, "Endpoints:  %s\n", strings.Join(dec.Endpoints, ", "))
		fmt.Fprintf(out, "Multi:      %v\n", dec.IsMulti)
		fmt.Fprintf(out, "Confidence: %.2f\n", dec.Confidence)
		if len(dec.Signals) > 0 {
			fmt.Fprintf(out, "Signals:    %s\n", strings.Join(dec.Signals, ", "))
		}
	}
	fmt.Fprintf(out, "Reasoning:\n")
	for _, r := range dec.Reasoning {
		fmt.Fprintf(out, "  %s\n", r)
	}
	printRows(out, res, queryFlags.top)
	if len(res.Clusters) > 0 {
		fmt.Fprintf(out, "Clusters (%s):\n", res.ClusterField)
		for _, c := range res.Clusters {
			fmt.Fprintf(out, "  %s  n=%d mean=%.2f [%s]\n", c.ID, c.Stats.Count, c.Stats.Mean, strings.Join(c.MemberAreaIDs, " "))
		}
	}
	return routeErr
}

func printRows(out io.Writer, res *router.Result, top int) {
	if len(res.Records) > 0 {
		fmt.Fprintf(out, "Ranked by %s:\n", res.DisplayField)
		for i, r := range res.Records {
			if i == top {
				fmt.Fprintf(out, "  ... %d more\n", len(res.Records)-top)
				break
			}
			fmt.Fprintf(out, "  %3d  %-8s %10.2f  %s\n", r.Rank, r.Record.AreaID, r.DisplayValue, r.Record.AreaName)
		}
	}
	if len(res.Composite) > 0 {
		fmt.Fprintf(out, "Composite (%s):\n", res.AnalysisType)
		for i, c := range res.Composite {
			if i == top {
				fmt.Fprintf(out, "  ... %d more\n", len(res.Composite)-top)
				break
			}
			val := "-"
			if c.HasDisplay {
				val = fmt.Sprintf("%.2f", c.DisplayValue)
			}
			fmt.Fprintf(out, "  %-8s %10s  %s\n", c.AreaID, val, strings.Join(c.Contributors, "+"))
		}
	}
}
