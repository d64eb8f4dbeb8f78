package cluster

import (
	"sort"

	"georoute/internal/georef"
	"georoute/internal/model"
)

// 邻接图：邻居下标升序，无自环
type graph [][]int

func (g graph) addEdge(a, b int) {
	if a == b {
		return
	}
	for _, x := range g[a] {
		if x == b {
			return
		}
	}
	g[a] = append(g[a], b)
	g[b] = append(g[b], a)
}

func (g graph) sortAdj() {
	for i := range g {
		sort.Ints(g[i])
	}
}

type site struct {
	geom     *model.Geometry
	bbox     [4]float64
	hasPoly  bool
	centroid *model.Point
}

func sitesOf(records []model.AnalysisRecord) []site {
	out := make([]site, len(records))
	for i, r := range records {
		s := site{geom: r.Geometry}
		if r.Geometry != nil && len(r.Geometry.Polys) > 0 {
			s.hasPoly = true
			s.bbox, _ = georef.Bounds(r.Geometry)
		}
		switch {
		case r.Centroid != nil:
			c := *r.Centroid
			s.centroid = &c
		case !r.Geometry.Empty():
			if c, ok := georef.Centroid(r.Geometry); ok {
				s.centroid = &c
			}
		}
		out[i] = s
	}
	return out
}

// 文档注释：构建邻接图
// 背景：双方都有多边形时按容差相接判定（按包围盒左边界排序的扫描线预筛）；
// 任一方缺少多边形时按质心互为 k 近邻判定。
// 约束：既无多边形又无质心的记录为孤立点。
func buildGraph(sites []site, tol float64, knn int) graph {
	g := make(graph, len(sites))

	var polys []int
	for i, s := range sites {
		if s.hasPoly {
			polys = append(polys, i)
		}
	}
	sort.Slice(polys, func(a, b int) bool {
		if sites[polys[a]].bbox[0] != sites[polys[b]].bbox[0] {
			return sites[polys[a]].bbox[0] < sites[polys[b]].bbox[0]
		}
		return polys[a] < polys[b]
	})
	for x := 0; x < len(polys); x++ {
		a := sites[polys[x]]
		for y := x + 1; y < len(polys); y++ {
			b := sites[polys[y]]
			if b.bbox[0]-tol > a.bbox[2] {
				break
			}
			if georef.Touches(a.geom, b.geom, tol) {
				g.addEdge(polys[x], polys[y])
			}
		}
	}

	if knn > 0 {
		var idx []int
		var pts []model.Point
		for i, s := range sites {
			if s.centroid != nil {
				idx = append(idx, i)
				pts = append(pts, *s.centroid)
			}
		}
		tree := georef.NewKDTree(pts)
		near := make([]map[int]bool, len(idx))
		for k, p := range pts {
			near[k] = map[int]bool{}
			for _, n := range tree.KNearest(p, knn, k) {
				near[k][n.Index] = true
			}
		}
		for a := range idx {
			for b := range near[a] {
				if b <= a || !near[b][a] {
					continue
				}
				if sites[idx[a]].hasPoly && sites[idx[b]].hasPoly {
					continue
				}
				g.addEdge(idx[a], idx[b])
			}
		}
	}
	g.sortAdj()
	return g
}

// 子集内是否连通（BFS）
func connected(g graph, members []int) bool {
	if len(members) <= 1 {
		return true
	}
	in := make(map[int]bool, len(members))
	for _, m := range members {
		in[m] = true
	}
	seen := map[int]bool{members[0]: true}
	queue := []int{members[0]}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range g[cur] {
			if in[n] && !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}
	return len(seen) == len(members)
}
