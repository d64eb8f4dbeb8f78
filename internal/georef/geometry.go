package georef

import (
	"fmt"
	"strings"

	"georoute/internal/model"
)

// 文档注释：解析 GeoJSON geometry 对象
// 背景：边界文件与数据集记录都可能内嵌 geometry；统一转为 model.Geometry，环坐标按 [lon, lat] 顺序。
// 约束：支持 Polygon/MultiPolygon/Point；其他类型返回错误；少于 3 个点的环丢弃。
func ParseGeometry(g map[string]any) (*model.Geometry, error) {
	if g == nil {
		return nil, nil
	}
	out := &model.Geometry{}
	switch strings.ToLower(getStr(g, "type")) {
	case "polygon":
		coords, _ := g["coordinates"].([]any)
		if p, ok := parsePolygon(coords); ok {
			out.Polys = append(out.Polys, p)
		}
	case "multipolygon":
		coords, _ := g["coordinates"].([]any)
		for _, part := range coords {
			rings, _ := part.([]any)
			if p, ok := parsePolygon(rings); ok {
				out.Polys = append(out.Polys, p)
			}
		}
	case "point":
		vv, _ := g["coordinates"].([]any)
		if len(vv) < 2 {
			return nil, fmt.Errorf("point without coordinates")
		}
		out.Point = &model.Point{Lon: toFloat(vv[0]), Lat: toFloat(vv[1])}
	default:
		return nil, fmt.Errorf("unsupported geometry type %q", getStr(g, "type"))
	}
	if out.Point == nil && len(out.Polys) == 0 {
		return nil, fmt.Errorf("%s without valid rings", getStr(g, "type"))
	}
	return out, nil
}

func parsePolygon(rings []any) (model.Polygon, bool) {
	var poly model.Polygon
	for _, ring := range rings {
		arr, ok := ring.([]any)
		if !ok {
			continue
		}
		var rr []model.Point
		for _, p := range arr {
			if vv, ok := p.([]any); ok && len(vv) >= 2 {
				rr = append(rr, model.Point{Lon: toFloat(vv[0]), Lat: toFloat(vv[1])})
			}
		}
		if len(rr) >= 3 {
			poly.Rings = append(poly.Rings, rr)
		}
	}
	if len(poly.Rings) == 0 {
		return poly, false
	}
	poly.BBox = computeBBox(poly)
	return poly, true
}

func computeBBox(p model.Polygon) [4]float64 {
	b := [4]float64{180, 90, -180, -90}
	for _, r := range p.Rings {
		for _, pt := range r {
			if pt.Lon < b[0] {
				b[0] = pt.Lon
			}
			if pt.Lat < b[1] {
				b[1] = pt.Lat
			}
			if pt.Lon > b[2] {
				b[2] = pt.Lon
			}
			if pt.Lat > b[3] {
				b[3] = pt.Lat
			}
		}
	}
	return b
}

// Bounds：几何整体包围盒；无几何时 ok=false
func Bounds(g *model.Geometry) (b [4]float64, ok bool) {
	if g.Empty() {
		return b, false
	}
	b = [4]float64{180, 90, -180, -90}
	for _, p := range g.Polys {
		b[0] = min(b[0], p.BBox[0])
		b[1] = min(b[1], p.BBox[1])
		b[2] = max(b[2], p.BBox[2])
		b[3] = max(b[3], p.BBox[3])
	}
	if g.Point != nil {
		b[0] = min(b[0], g.Point.Lon)
		b[1] = min(b[1], g.Point.Lat)
		b[2] = max(b[2], g.Point.Lon)
		b[3] = max(b[3], g.Point.Lat)
	}
	return b, true
}

func getStr(m map[string]any, k string) string {
	if v, ok := m[k].(string); ok {
		return v
	}
	return ""
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	default:
		return 0
	}
}
