package georef

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"georoute/internal/logger"
	"georoute/internal/model"
)

// Area：一个区域编码的边界与质心
type Area struct {
	ID       string
	Name     string
	Geometry *model.Geometry
	Centroid *model.Point
}

// 加载结果快照：只读引用，供查询期共享
type Snapshot struct {
	Areas   []Area
	BuiltAt time.Time
	byID    map[string]int
}

// 区域编码属性名（按优先级）；兼容人口普查 ZCTA 文件
var areaIDKeys = []string{"area_id", "zip", "zipcode", "postal_code", "ZCTA5CE20", "ZCTA5CE10", "GEOID20", "GEOID10"}
var areaNameKeys = []string{"area_name", "name", "NAME"}

// NewSnapshot：由区域列表构建快照；同编码后出现者覆盖先出现者
func NewSnapshot(areas []Area, width int) *Snapshot {
	s := &Snapshot{BuiltAt: time.Now(), byID: make(map[string]int, len(areas))}
	for _, a := range areas {
		a.ID = model.NormalizeAreaID(a.ID, width)
		if a.ID == "" {
			continue
		}
		if a.Centroid == nil && !a.Geometry.Empty() {
			if c, ok := Centroid(a.Geometry); ok {
				a.Centroid = &c
			}
		}
		if i, ok := s.byID[a.ID]; ok {
			prev := s.Areas[i]
			if a.Geometry.Empty() {
				a.Geometry = prev.Geometry
			}
			if a.Name == "" {
				a.Name = prev.Name
			}
			s.Areas[i] = a
			continue
		}
		s.byID[a.ID] = len(s.Areas)
		s.Areas = append(s.Areas, a)
	}
	return s
}

// Area：按编码查找
func (s *Snapshot) Area(id string) (Area, bool) {
	if s == nil {
		return Area{}, false
	}
	i, ok := s.byID[id]
	if !ok {
		return Area{}, false
	}
	return s.Areas[i], true
}

// 文档注释：从数据目录加载边界与质心快照
// 背景：*.geojson 为区域边界（FeatureCollection/Feature），centroids.json 为质心表 [{area_id, area_name, lat, lon}]。
// 约束：目录不存在时返回空快照；单个文件解析失败记录告警后跳过，不影响其他文件。质心表在边界之后合并，显式质心优先。
func LoadSnapshot(dir string, width int) (*Snapshot, error) {
	var areas []Area
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.L().Warn("boundary_dir_missing", "dir", dir)
			return NewSnapshot(nil, width), nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, ent := range entries {
		names = append(names, ent.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		if !strings.HasSuffix(strings.ToLower(name), ".geojson") {
			continue
		}
		fp := filepath.Join(dir, name)
		b, err := os.ReadFile(fp)
		if err != nil {
			logger.L().Warn("boundary_read_error", "file", fp, "err", err)
			continue
		}
		var gj map[string]any
		if err := json.Unmarshal(b, &gj); err != nil {
			logger.L().Warn("boundary_parse_error", "file", fp, "err", err)
			continue
		}
		areas = append(areas, areasFromGeoJSON(gj)...)
	}
	centPath := filepath.Join(dir, "centroids.json")
	if b, err := os.ReadFile(centPath); err == nil {
		var cents []struct {
			AreaID   json.RawMessage `json:"area_id"`
			AreaName string          `json:"area_name"`
			Lat      float64         `json:"lat"`
			Lon      float64         `json:"lon"`
		}
		if err := json.Unmarshal(b, &cents); err != nil {
			logger.L().Warn("centroid_parse_error", "file", centPath, "err", err)
		}
		for _, c := range cents {
			var raw any
			_ = json.Unmarshal(c.AreaID, &raw)
			pt := model.Point{Lat: c.Lat, Lon: c.Lon}
			areas = append(areas, Area{ID: idString(raw), Name: c.AreaName, Centroid: &pt})
		}
	}
	snap := NewSnapshot(areas, width)
	logger.L().Info("boundary_snapshot_loaded", "dir", dir, "areas", len(snap.Areas))
	return snap, nil
}

// 解析 GeoJSON FeatureCollection/Feature
func areasFromGeoJSON(gj map[string]any) []Area {
	switch strings.ToLower(getStr(gj, "type")) {
	case "featurecollection":
		var out []Area
		arr, _ := gj["features"].([]any)
		for _, it := range arr {
			if f, ok := it.(map[string]any); ok {
				if a, ok := areaFromFeature(f); ok {
					out = append(out, a)
				}
			}
		}
		return out
	case "feature":
		if a, ok := areaFromFeature(gj); ok {
			return []Area{a}
		}
	}
	return nil
}

func areaFromFeature(f map[string]any) (Area, bool) {
	var a Area
	p, _ := f["properties"].(map[string]any)
	for _, k := range areaIDKeys {
		if v, ok := p[k]; ok {
			a.ID = idString(v)
			break
		}
	}
	if a.ID == "" {
		return a, false
	}
	for _, k := range areaNameKeys {
		if v := getStr(p, k); v != "" {
			a.Name = v
			break
		}
	}
	if g, ok := f["geometry"].(map[string]any); ok {
		geo, err := ParseGeometry(g)
		if err != nil {
			logger.L().Debug("boundary_geometry_skipped", "area_id", a.ID, "err", err)
		} else {
			a.Geometry = geo
		}
	}
	return a, true
}

// 编码可能以数字存储（前导零已丢失），统一转为十进制字符串，由归一化补零
func idString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	}
	return ""
}
