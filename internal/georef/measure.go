package georef

import (
	"math"

	"georoute/internal/model"
)

// 文档注释：几何质心
// 背景：记录未提供质心时，由多边形按面积加权（鞋带公式，洞为负面积）计算；退化多边形取顶点均值。
// 约束：无多边形时返回点几何；均为空时 ok=false。
func Centroid(g *model.Geometry) (model.Point, bool) {
	if g.Empty() {
		return model.Point{}, false
	}
	var sumA, sumX, sumY float64
	var n int
	var avgX, avgY float64
	for _, p := range g.Polys {
		for ri, ring := range p.Rings {
			a, cx, cy := ringMoments(ring)
			w := math.Abs(a)
			if ri > 0 {
				w = -w
			}
			sumA += w
			sumX += w * cx
			sumY += w * cy
			if ri == 0 {
				for _, pt := range ring {
					avgX += pt.Lon
					avgY += pt.Lat
					n++
				}
			}
		}
	}
	if sumA > 1e-15 {
		return model.Point{Lon: sumX / sumA, Lat: sumY / sumA}, true
	}
	if n > 0 {
		return model.Point{Lon: avgX / float64(n), Lat: avgY / float64(n)}, true
	}
	if g.Point != nil {
		return *g.Point, true
	}
	return model.Point{}, false
}

// 环的有向面积与质心
func ringMoments(ring []model.Point) (area, cx, cy float64) {
	n := len(ring)
	if n < 3 {
		return 0, 0, 0
	}
	// 以首点为原点计算，避免大坐标值相减的精度损失
	ox, oy := ring[0].Lon, ring[0].Lat
	var a, x, y float64
	for i := 0; i < n; i++ {
		px, py := ring[i].Lon-ox, ring[i].Lat-oy
		qx, qy := ring[(i+1)%n].Lon-ox, ring[(i+1)%n].Lat-oy
		cross := px*qy - qx*py
		a += cross
		x += (px + qx) * cross
		y += (py + qy) * cross
	}
	a /= 2
	if a == 0 {
		return 0, 0, 0
	}
	return a, ox + x/(6*a), oy + y/(6*a)
}

// 球面距离（Haversine），返回千米
func Haversine(a, b model.Point) float64 {
	const R = 6371.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return R * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
