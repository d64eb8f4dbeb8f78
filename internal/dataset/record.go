package dataset

import (
	"errors"
	"fmt"
	"strconv"

	"georoute/internal/georef"
	"georoute/internal/model"
)

var errNoAreaID = errors.New("record without area_id")

// 保留键：不进入开放字段表
var reservedKeys = map[string]bool{
	"area_id": true, "zip": true, "zip_code": true, "area_name": true,
	"geometry": true, "centroid": true,
}

// 文档注释：平铺 JSON 对象转分析记录
// 背景：数据集文件与数据库导入共用此格式：area_id（字符串或数字，别名 zip/zip_code）、area_name、
// geometry（GeoJSON）、centroid {lat, lon}，其余键都是开放字段。
// 约束：布尔/对象/数组值不属于字段值，静默跳过；缺少区域编码返回错误。
func DecodeRecord(endpointID string, raw map[string]any, width int) (model.AnalysisRecord, error) {
	rec := model.AnalysisRecord{SourceEndpoint: endpointID, Fields: map[string]model.Value{}}
	for _, k := range []string{"area_id", "zip", "zip_code"} {
		if id := idString(raw[k]); id != "" {
			rec.AreaID = model.NormalizeAreaID(id, width)
			break
		}
	}
	if rec.AreaID == "" {
		return rec, errNoAreaID
	}
	if s, ok := raw["area_name"].(string); ok {
		rec.AreaName = s
	}
	if g, ok := raw["geometry"].(map[string]any); ok {
		geom, err := georef.ParseGeometry(g)
		if err != nil {
			return rec, fmt.Errorf("area %s: %w", rec.AreaID, err)
		}
		rec.Geometry = geom
	}
	if c, ok := raw["centroid"].(map[string]any); ok {
		lat, okLat := c["lat"].(float64)
		lon, okLon := c["lon"].(float64)
		if okLat && okLon {
			rec.Centroid = &model.Point{Lat: lat, Lon: lon}
		}
	}
	for k, v := range raw {
		if reservedKeys[k] {
			continue
		}
		if val, ok := model.ValueOf(v); ok {
			rec.Fields[k] = val
		}
	}
	return rec, nil
}

// EncodeRecord：DecodeRecord 的逆过程，几何以 Point/MultiPolygon 写出
func EncodeRecord(rec model.AnalysisRecord) map[string]any {
	out := make(map[string]any, len(rec.Fields)+4)
	for k, v := range rec.Fields {
		switch v.Kind {
		case model.KindNumber:
			out[k] = v.Num
		case model.KindString:
			out[k] = v.Str
		}
	}
	out["area_id"] = rec.AreaID
	if rec.AreaName != "" {
		out["area_name"] = rec.AreaName
	}
	if rec.Centroid != nil {
		out["centroid"] = map[string]any{"lat": rec.Centroid.Lat, "lon": rec.Centroid.Lon}
	}
	if g := geometryJSON(rec.Geometry); g != nil {
		out["geometry"] = g
	}
	return out
}

func geometryJSON(g *model.Geometry) map[string]any {
	if g.Empty() {
		return nil
	}
	if len(g.Polys) == 0 {
		return map[string]any{"type": "Point", "coordinates": []any{g.Point.Lon, g.Point.Lat}}
	}
	polys := make([]any, 0, len(g.Polys))
	for _, p := range g.Polys {
		rings := make([]any, 0, len(p.Rings))
		for _, r := range p.Rings {
			pts := make([]any, 0, len(r))
			for _, pt := range r {
				pts = append(pts, []any{pt.Lon, pt.Lat})
			}
			rings = append(rings, pts)
		}
		polys = append(polys, rings)
	}
	return map[string]any{"type": "MultiPolygon", "coordinates": polys}
}

func idString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}
