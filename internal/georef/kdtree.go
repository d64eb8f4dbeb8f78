package georef

import (
	"math"
	"sort"

	"georoute/internal/model"
)

// 文档注释：KD-Tree k 近邻（二维经纬）
// 背景：用于质心最近邻兜底与缺少多边形时的互为近邻邻接；点先投影到等距圆柱平面（经度乘以平均纬度余弦），
// 使分割平面剪枝在投影空间内精确成立。
// 约束：适用于城市到州级范围的数据；跨越日期变更线的数据不做处理。
type KDTree struct {
	root  *kdNode
	cos   float64
	sites []model.Point
}

// Neighbor：近邻结果，Index 为构建时的下标，Km 为球面距离
type Neighbor struct {
	Index int
	Km    float64
}

type kdNode struct {
	idx  int
	x, y float64
	ax   int // 0:x(lon),1:y(lat)
	l, r *kdNode
}

type kdItem struct {
	idx  int
	x, y float64
}

// NewKDTree：按点集合构建；空集合返回可用的空树
func NewKDTree(pts []model.Point) *KDTree {
	t := &KDTree{cos: 1, sites: append([]model.Point(nil), pts...)}
	if len(pts) == 0 {
		return t
	}
	var lat float64
	for _, p := range pts {
		lat += p.Lat
	}
	t.cos = math.Cos(lat / float64(len(pts)) * math.Pi / 180)
	items := make([]kdItem, len(pts))
	for i, p := range pts {
		items[i] = kdItem{idx: i, x: p.Lon * t.cos, y: p.Lat}
	}
	t.root = buildKD(items, 0)
	return t
}

// Len：点数
func (t *KDTree) Len() int { return len(t.sites) }

func buildKD(items []kdItem, depth int) *kdNode {
	if len(items) == 0 {
		return nil
	}
	ax := depth % 2
	mid := len(items) / 2
	selectNth(items, mid, ax)
	it := items[mid]
	node := &kdNode{idx: it.idx, x: it.x, y: it.y, ax: ax}
	node.l = buildKD(items[:mid], depth+1)
	node.r = buildKD(items[mid+1:], depth+1)
	return node
}

// 原地 nth 元素选择
func selectNth(a []kdItem, n int, ax int) {
	lo, hi := 0, len(a)-1
	for lo < hi {
		p := partition(a, lo, hi, (lo+hi)/2, ax)
		if p == n {
			return
		}
		if n < p {
			hi = p - 1
		} else {
			lo = p + 1
		}
	}
}

func partition(a []kdItem, lo, hi, pivot, ax int) int {
	pv := a[pivot]
	a[pivot], a[hi] = a[hi], a[pivot]
	i := lo
	for j := lo; j < hi; j++ {
		if lessItem(a[j], pv, ax) {
			a[i], a[j] = a[j], a[i]
			i++
		}
	}
	a[i], a[hi] = a[hi], a[i]
	return i
}

func lessItem(x, y kdItem, ax int) bool {
	if ax == 0 {
		if x.x != y.x {
			return x.x < y.x
		}
	} else if x.y != y.y {
		return x.y < y.y
	}
	return x.idx < y.idx
}

// 文档注释：k 近邻查询
// 返回：按距离升序（同距按下标）；skip 为被排除的下标（查询点自身），传 -1 表示不排除。
func (t *KDTree) KNearest(pt model.Point, k int, skip int) []Neighbor {
	if t.root == nil || k <= 0 {
		return nil
	}
	qx, qy := pt.Lon*t.cos, pt.Lat
	type cand struct {
		idx int
		d2  float64
	}
	best := make([]cand, 0, k+1)
	worse := func(a, b cand) bool {
		if a.d2 != b.d2 {
			return a.d2 > b.d2
		}
		return a.idx > b.idx
	}
	var dfs func(n *kdNode)
	dfs = func(n *kdNode) {
		if n == nil {
			return
		}
		if n.idx != skip {
			dx, dy := n.x-qx, n.y-qy
			c := cand{idx: n.idx, d2: dx*dx + dy*dy}
			if len(best) < k || worse(best[len(best)-1], c) {
				pos := sort.Search(len(best), func(i int) bool { return worse(best[i], c) })
				best = append(best, cand{})
				copy(best[pos+1:], best[pos:])
				best[pos] = c
				if len(best) > k {
					best = best[:k]
				}
			}
		}
		key, q := qx, n.x
		if n.ax == 1 {
			key, q = qy, n.y
		}
		first, second := n.l, n.r
		if key > q {
			first, second = n.r, n.l
		}
		dfs(first)
		// 仅当分割平面距离不超过当前第 k 个距离时才遍历另一侧
		gap := key - q
		if len(best) < k || gap*gap <= best[len(best)-1].d2 {
			dfs(second)
		}
	}
	dfs(t.root)
	out := make([]Neighbor, len(best))
	for i, c := range best {
		out[i] = Neighbor{Index: c.idx, Km: Haversine(pt, t.sites[c.idx])}
	}
	return out
}

// Nearest：单个最近点；空树 ok=false
func (t *KDTree) Nearest(pt model.Point) (Neighbor, bool) {
	n := t.KNearest(pt, 1, -1)
	if len(n) == 0 {
		return Neighbor{}, false
	}
	return n[0], true
}
