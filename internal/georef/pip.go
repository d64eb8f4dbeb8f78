package georef

import (
	"math"

	"georoute/internal/model"
)

// 文档注释：点入多边形判定（Even-Odd）
// 背景：支持洞与多面结构；外环命中且不在任何洞内视为命中。
// 约束：射线算法在边界临界值时易受数值误差影响；边界附近由最近邻兜底。
func PointInPoly(pt model.Point, poly model.Polygon) bool {
	if len(poly.Rings) == 0 {
		return false
	}
	if !inBBox(pt, poly.BBox) || !pointInRing(pt, poly.Rings[0]) {
		return false
	}
	for i := 1; i < len(poly.Rings); i++ {
		if pointInRing(pt, poly.Rings[i]) {
			return false
		}
	}
	return true
}

// Contains：点是否落在几何任一多边形内
func Contains(g *model.Geometry, pt model.Point) bool {
	if g == nil {
		return false
	}
	for _, p := range g.Polys {
		if PointInPoly(pt, p) {
			return true
		}
	}
	return false
}

// 射线法判定点是否在环内
func pointInRing(pt model.Point, ring []model.Point) bool {
	n := len(ring)
	if n < 3 {
		return false
	}
	inside := false
	x, y := pt.Lon, pt.Lat
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i].Lon, ring[i].Lat
		xj, yj := ring[j].Lon, ring[j].Lat
		if ((yi > y) != (yj > y)) && (x < (xj-xi)*(y-yi)/(yj-yi+1e-12)+xi) {
			inside = !inside
		}
	}
	return inside
}

// 快速包围盒过滤
func inBBox(pt model.Point, b [4]float64) bool {
	return pt.Lon >= b[0] && pt.Lon <= b[2] && pt.Lat >= b[1] && pt.Lat <= b[3]
}

// 包围盒外扩 tol 后是否相交
func bboxOverlap(a, b [4]float64, tol float64) bool {
	return a[0]-tol <= b[2] && b[0]-tol <= a[2] && a[1]-tol <= b[3] && b[1]-tol <= a[3]
}

// 文档注释：两几何在容差内是否相接
// 背景：邮编多边形来自不同数据源，公共边常有微小缝隙或重叠；以平面度数距离近似判定。
// 约束：先做包围盒过滤；任一顶点到对方边的距离不超过 tol，或顶点落入对方内部，即视为相接。
func Touches(a, b *model.Geometry, tol float64) bool {
	if a == nil || b == nil || len(a.Polys) == 0 || len(b.Polys) == 0 {
		return false
	}
	for _, pa := range a.Polys {
		for _, pb := range b.Polys {
			if !bboxOverlap(pa.BBox, pb.BBox, tol) {
				continue
			}
			if polysTouch(pa, pb, tol) || polysTouch(pb, pa, tol) {
				return true
			}
		}
	}
	return false
}

func polysTouch(a, b model.Polygon, tol float64) bool {
	outer := b.Rings[0]
	for _, pt := range a.Rings[0] {
		if !inBBox(pt, [4]float64{b.BBox[0] - tol, b.BBox[1] - tol, b.BBox[2] + tol, b.BBox[3] + tol}) {
			continue
		}
		if PointInPoly(pt, b) {
			return true
		}
		for i, j := 0, len(outer)-1; i < len(outer); j, i = i, i+1 {
			if segDist(pt, outer[j], outer[i]) <= tol {
				return true
			}
		}
	}
	return false
}

// 点到线段的平面距离（度）
func segDist(p, a, b model.Point) float64 {
	dx, dy := b.Lon-a.Lon, b.Lat-a.Lat
	l2 := dx*dx + dy*dy
	if l2 == 0 {
		return math.Hypot(p.Lon-a.Lon, p.Lat-a.Lat)
	}
	t := ((p.Lon-a.Lon)*dx + (p.Lat-a.Lat)*dy) / l2
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(p.Lon-(a.Lon+t*dx), p.Lat-(a.Lat+t*dy))
}
