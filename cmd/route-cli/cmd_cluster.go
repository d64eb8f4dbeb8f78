package main

import (
	"fmt"
	"strings"

	"georoute/internal/cluster"
	"georoute/internal/logger"

	"github.com/spf13/cobra"
)

var clusterFlags struct {
	k     int
	field string
}

var clusterCmd = &cobra.Command{
	Use:   "cluster <endpoint>",
	Short: "Group an endpoint's areas into contiguous territories",
	Args:  cobra.ExactArgs(1),
	RunE:  runCluster,
}

func init() {
	f := clusterCmd.Flags()
	f.IntVar(&clusterFlags.k, "k", 0, "number of territories (default CLUSTER_DEFAULT_COUNT)")
	f.StringVar(&clusterFlags.field, "field", "", "numeric field to cluster on (default the endpoint's primary score)")
}

func runCluster(cmd *cobra.Command, args []string) error {
	d, err := loadDeps()
	if err != nil {
		return err
	}
	ep := args[0]
	field := clusterFlags.field
	if field == "" {
		desc, ok := d.cat.Endpoint(ep)
		if !ok {
			return fmt.Errorf("unknown endpoint %q; pass --field", ep)
		}
		field = desc.PrimaryScoreField
	}
	k := clusterFlags.k
	if k <= 0 {
		k = d.cfg.ClusterDefaultCount
	}
	recs, err := d.store.Fetch(cmd.Context(), ep)
	if err != nil {
		return err
	}
	// 数据集缺少几何时使用参考边界
	for i := range recs {
		if recs[i].Geometry.Empty() {
			if g, ok := d.ref.BoundaryFor(recs[i].AreaID); ok {
				recs[i].Geometry = g
			}
		}
		if recs[i].Centroid == nil {
			if pt, ok := d.ref.CentroidFor(recs[i].AreaID); ok {
				recs[i].Centroid = &pt
			}
		}
	}
	c := cluster.New(cluster.Options{TouchTolerance: d.cfg.ClusterTouchTolerance, KNN: d.cfg.ClusterKNN}, logger.L())
	res := c.Cluster(recs, k, field)

	out := cmd.OutOrStdout()
	if rootFlags.jsonOut {
		return printJSON(out, res)
	}
	fmt.Fprintf(out, "%d areas, requested %d, produced %d (field %s)\n", len(recs), res.RequestedCount, res.EffectiveCount, field)
	for _, r := range res.Reasons {
		fmt.Fprintf(out, "  note: %s\n", r)
	}
	for _, cl := range res.Clusters {
		fmt.Fprintf(out, "%s  n=%d mean=%.2f min=%.2f max=%.2f adjacent=%v\n", cl.ID, cl.Stats.Count, cl.Stats.Mean, cl.Stats.Min, cl.Stats.Max, cl.AdjacencySatisfied)
		fmt.Fprintf(out, "    %s\n", strings.Join(cl.MemberAreaIDs, " "))
	}
	return nil
}
