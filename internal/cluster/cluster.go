// 包 cluster：按邻接关系把记录分组为连续片区（种子区域生长）
package cluster

import (
	"container/heap"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"georoute/internal/georef"
	"georoute/internal/metrics"
	"georoute/internal/model"
)

// Options：聚类参数；零值取默认
type Options struct {
	TouchTolerance float64
	KNN            int
}

// Result：聚类结果；Assignments 为区域编码到片区 ID
type Result struct {
	Clusters       []model.Cluster
	Assignments    map[string]string
	RequestedCount int
	EffectiveCount int
	Reasons        []string
}

// 文档注释：区域生长聚类器
// 背景：种子取最大值与最小值记录，其余按“数值差 + 地理距离”的最远点贪心选取；
// 生长时每次从所有片区的边界候选中取与片区均值差最小者（同差取较小片区），片区均值变化后候选键惰性重算。
// 约束：结果是输入的划分，任何记录都不丢弃；目标数超过有效记录数时收紧并说明；不连通部分形成额外片区。
type Clusterer struct {
	opts Options
	log  *slog.Logger
}

func New(opts Options, log *slog.Logger) *Clusterer {
	if opts.TouchTolerance <= 0 {
		opts.TouchTolerance = 0.0005
	}
	if opts.KNN <= 0 {
		opts.KNN = 4
	}
	return &Clusterer{opts: opts, log: log}
}

type state struct {
	records []model.AnalysisRecord
	values  []float64
	valued  []bool
	sites   []site
	g       graph
	assign  []int
	sum     []float64
	size    []int
}

// Cluster：按 field 数值将记录分为约 k 个连续片区
func (c *Clusterer) Cluster(records []model.AnalysisRecord, k int, field string) Result {
	res := Result{RequestedCount: k, Assignments: make(map[string]string, len(records))}
	if len(records) == 0 {
		res.Reasons = append(res.Reasons, "no records to cluster")
		return res
	}
	st := &state{
		records: records,
		values:  make([]float64, len(records)),
		valued:  make([]bool, len(records)),
		assign:  make([]int, len(records)),
	}
	var valuedIdx []int
	for i, r := range records {
		st.assign[i] = -1
		if v, ok := r.Number(field); ok {
			st.values[i] = v
			st.valued[i] = true
			valuedIdx = append(valuedIdx, i)
		}
	}
	if missing := len(records) - len(valuedIdx); missing > 0 {
		res.Reasons = append(res.Reasons, fmt.Sprintf("%d records lack a numeric %q and form singleton clusters", missing, field))
	}

	if k < 1 {
		k = 1
	}
	if k > len(valuedIdx) {
		res.Reasons = append(res.Reasons, fmt.Sprintf("target cluster count %d exceeds %d valued records; clamped (%v)", k, len(valuedIdx), model.ErrClusteringDegenerate))
		if c.log != nil {
			c.log.Warn("cluster_count_clamped", "requested", k, "valued", len(valuedIdx), "err", model.ErrClusteringDegenerate)
		}
		k = len(valuedIdx)
	}

	st.sites = sitesOf(records)
	st.g = buildGraph(st.sites, c.opts.TouchTolerance, c.opts.KNN)

	if k > 0 {
		seeds := c.seeds(st, valuedIdx, k)
		if len(seeds) < k {
			res.Reasons = append(res.Reasons, fmt.Sprintf("only %d distinct seeds available for %d clusters (%v)", len(seeds), k, model.ErrClusteringDegenerate))
		}
		for _, s := range seeds {
			st.newCluster(s)
		}
		st.grow()
	}

	// 未被任何种子到达的有值记录：每个连通分量形成额外片区
	extra := 0
	for _, i := range valuedIdx {
		if st.assign[i] >= 0 {
			continue
		}
		st.newCluster(i)
		st.grow()
		extra++
	}
	if extra > 0 {
		res.Reasons = append(res.Reasons, fmt.Sprintf("adjacency graph is disconnected; %d extra clusters for unreached areas", extra))
	}
	for i := range records {
		if st.assign[i] < 0 {
			st.assign[i] = len(st.size)
			st.size = append(st.size, 1)
			st.sum = append(st.sum, 0)
		}
	}

	res.Clusters = st.collect()
	for ci, cl := range res.Clusters {
		for _, id := range cl.MemberAreaIDs {
			res.Assignments[id] = res.Clusters[ci].ID
		}
	}
	res.EffectiveCount = len(res.Clusters)
	res.Reasons = append(res.Reasons, fmt.Sprintf("%d records grouped into %d clusters by %s", len(records), len(res.Clusters), field))
	metrics.ClustersBuilt.Observe(float64(len(res.Clusters)))
	return res
}

func (st *state) newCluster(i int) {
	ci := len(st.size)
	st.assign[i] = ci
	st.size = append(st.size, 1)
	st.sum = append(st.sum, st.values[i])
}

// 文档注释：种子选取
// 背景：先取最大值记录，再取最小值记录，其后每次取到已选种子综合距离最小值最大的记录。
// 综合距离 = 0.5 × 数值差/值域 + 0.5 × 地理距离/最大地理距离；缺少质心时只用数值项。
// 约束：同分按下标；所有候选综合距离都为 0 时提前停止（数值与位置完全重合）。
func (c *Clusterer) seeds(st *state, valuedIdx []int, k int) []int {
	lo, hi := valuedIdx[0], valuedIdx[0]
	for _, i := range valuedIdx {
		if st.values[i] > st.values[hi] {
			hi = i
		}
		if st.values[i] < st.values[lo] {
			lo = i
		}
	}
	seeds := []int{hi}
	if k >= 2 && lo != hi {
		seeds = append(seeds, lo)
	}
	rng := st.values[hi] - st.values[lo]
	maxGeo := 0.0
	for a := 0; a < len(valuedIdx); a++ {
		for b := a + 1; b < len(valuedIdx); b++ {
			if d, ok := st.geo(valuedIdx[a], valuedIdx[b]); ok && d > maxGeo {
				maxGeo = d
			}
		}
	}
	dist := func(a, b int) float64 {
		d := 0.0
		if rng > 0 {
			d += 0.5 * math.Abs(st.values[a]-st.values[b]) / rng
		}
		if g, ok := st.geo(a, b); ok && maxGeo > 0 {
			d += 0.5 * g / maxGeo
		}
		return d
	}
	isSeed := map[int]bool{}
	for _, s := range seeds {
		isSeed[s] = true
	}
	for len(seeds) < k {
		best, bestD := -1, 0.0
		for _, i := range valuedIdx {
			if isSeed[i] {
				continue
			}
			m := math.Inf(1)
			for _, s := range seeds {
				m = math.Min(m, dist(i, s))
			}
			if m > bestD {
				best, bestD = i, m
			}
		}
		if best < 0 {
			break
		}
		seeds = append(seeds, best)
		isSeed[best] = true
	}
	return seeds
}

func (st *state) geo(a, b int) (float64, bool) {
	ca, cb := st.sites[a].centroid, st.sites[b].centroid
	if ca == nil || cb == nil {
		return 0, false
	}
	return georef.Haversine(*ca, *cb), true
}

type cand struct {
	diff    float64
	size    int
	cluster int
	areaID  string
	rec     int
}

func less(a, b cand) bool {
	if a.diff != b.diff {
		return a.diff < b.diff
	}
	if a.size != b.size {
		return a.size < b.size
	}
	if a.cluster != b.cluster {
		return a.cluster < b.cluster
	}
	return a.areaID < b.areaID
}

type frontier []cand

func (f frontier) Len() int           { return len(f) }
func (f frontier) Less(i, j int) bool { return less(f[i], f[j]) }
func (f frontier) Swap(i, j int)      { f[i], f[j] = f[j], f[i] }
func (f *frontier) Push(x any)        { *f = append(*f, x.(cand)) }
func (f *frontier) Pop() any {
	old := *f
	n := len(old)
	it := old[n-1]
	*f = old[:n-1]
	return it
}

func (st *state) key(rec, ci int) cand {
	mean := st.sum[ci] / float64(st.size[ci])
	return cand{diff: math.Abs(st.values[rec] - mean), size: st.size[ci], cluster: ci, areaID: st.records[rec].AreaID, rec: rec}
}

// 文档注释：最优优先生长
// 背景：候选键在入堆时计算；出堆时按片区当前均值与大小重算，键变化则以新键重新入堆，保证每次分配的都是当前最优候选。
// 约束：只扩展到有值且未分配的邻居；无值记录不参与生长。
func (st *state) grow() {
	f := &frontier{}
	for i, ci := range st.assign {
		if ci < 0 {
			continue
		}
		for _, n := range st.g[i] {
			if st.assign[n] < 0 && st.valued[n] {
				heap.Push(f, st.key(n, ci))
			}
		}
	}
	for f.Len() > 0 {
		c := heap.Pop(f).(cand)
		if st.assign[c.rec] >= 0 {
			continue
		}
		if now := st.key(c.rec, c.cluster); now != c {
			heap.Push(f, now)
			continue
		}
		st.assign[c.rec] = c.cluster
		st.sum[c.cluster] += st.values[c.rec]
		st.size[c.cluster]++
		for _, n := range st.g[c.rec] {
			if st.assign[n] < 0 && st.valued[n] {
				heap.Push(f, st.key(n, c.cluster))
			}
		}
	}
}

func (st *state) collect() []model.Cluster {
	members := make([][]int, len(st.size))
	for i, ci := range st.assign {
		members[ci] = append(members[ci], i)
	}
	out := make([]model.Cluster, 0, len(members))
	for _, ms := range members {
		if len(ms) == 0 {
			continue
		}
		cl := model.Cluster{ID: fmt.Sprintf("cluster-%d", len(out)+1), AdjacencySatisfied: connected(st.g, ms)}
		stats := model.ClusterStats{Min: math.Inf(1), Max: math.Inf(-1)}
		var sum float64
		for _, i := range ms {
			cl.MemberAreaIDs = append(cl.MemberAreaIDs, st.records[i].AreaID)
			if st.valued[i] {
				sum += st.values[i]
				stats.Count++
				stats.Min = math.Min(stats.Min, st.values[i])
				stats.Max = math.Max(stats.Max, st.values[i])
			}
		}
		if stats.Count > 0 {
			stats.Mean = sum / float64(stats.Count)
		} else {
			stats.Min, stats.Max = 0, 0
		}
		sort.Strings(cl.MemberAreaIDs)
		cl.Stats = stats
		out = append(out, cl)
	}
	return out
}
