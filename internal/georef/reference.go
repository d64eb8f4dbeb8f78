// 包 georef：地理参考服务（地名解析、区域边界/质心、点到区域判定与空间索引）
package georef

import (
	"time"

	"georoute/internal/logger"
	"georoute/internal/metrics"
	"georoute/internal/model"
)

// Service：路由编排依赖的地理参考能力
type Service interface {
	ResolveEntities(query string) []model.GeoEntity
	BoundaryFor(areaID string) (*model.Geometry, bool)
}

// Options：参考服务参数；零值取默认
type Options struct {
	Width       int
	CacheSize   int
	CacheTTL    time.Duration
	MaxRadiusKm float64
}

// AreaHit：点到区域判定结果；Approx 表示由最近质心兜底而非多边形命中
type AreaHit struct {
	AreaID     string  `json:"area_id"`
	AreaName   string  `json:"area_name,omitempty"`
	Approx     bool    `json:"approx"`
	DistanceKm float64 `json:"distance_km,omitempty"`
}

// 文档注释：参考服务实现（包围盒候选 → PIP 命中 → 质心最近邻兜底）
// 背景：快照启动时加载后只读；点查询结果按 geohash 缓存。
// 约束：最近邻兜底限制最大半径，避免水域或远离数据覆盖范围的点误归属。
type Reference struct {
	matcher     *Matcher
	snap        *Snapshot
	kd          *KDTree
	kdIDs       []string
	cache       *LRU[AreaHit]
	maxRadiusKm float64
	width       int
}

var _ Service = (*Reference)(nil)

func NewReference(entities []model.GeoEntity, snap *Snapshot, opts Options) *Reference {
	if opts.Width <= 0 {
		opts.Width = 5
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 4096
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	if opts.MaxRadiusKm <= 0 {
		opts.MaxRadiusKm = 50
	}
	if snap == nil {
		snap = NewSnapshot(nil, opts.Width)
	}
	r := &Reference{
		matcher:     NewMatcher(entities),
		snap:        snap,
		cache:       NewLRU[AreaHit](opts.CacheSize, opts.CacheTTL),
		maxRadiusKm: opts.MaxRadiusKm,
		width:       opts.Width,
	}
	var pts []model.Point
	for _, a := range snap.Areas {
		if a.Centroid != nil {
			pts = append(pts, *a.Centroid)
			r.kdIDs = append(r.kdIDs, a.ID)
		}
	}
	r.kd = NewKDTree(pts)
	return r
}

// ResolveEntities：查询中出现的地理实体
func (r *Reference) ResolveEntities(query string) []model.GeoEntity {
	return r.matcher.Match(query)
}

// BoundaryFor：区域边界；仅有质心时返回点几何
func (r *Reference) BoundaryFor(areaID string) (*model.Geometry, bool) {
	a, ok := r.snap.Area(model.NormalizeAreaID(areaID, r.width))
	if !ok {
		return nil, false
	}
	if !a.Geometry.Empty() {
		return a.Geometry, true
	}
	if a.Centroid != nil {
		pt := *a.Centroid
		return &model.Geometry{Point: &pt}, true
	}
	return nil, false
}

// CentroidFor：区域质心
func (r *Reference) CentroidFor(areaID string) (model.Point, bool) {
	a, ok := r.snap.Area(model.NormalizeAreaID(areaID, r.width))
	if !ok || a.Centroid == nil {
		return model.Point{}, false
	}
	return *a.Centroid, true
}

// 文档注释：点到区域判定
// 返回：命中区域；未命中且最近质心超出半径时 ok=false。
func (r *Reference) AreaAt(pt model.Point) (AreaHit, bool) {
	key := encodeGeohash(pt.Lat, pt.Lon, 7)
	if v, ok := r.cache.Get(key); ok {
		metrics.GeoLookups.WithLabelValues("cache").Inc()
		return v, true
	}
	for _, a := range r.snap.Areas {
		if Contains(a.Geometry, pt) {
			hit := AreaHit{AreaID: a.ID, AreaName: a.Name}
			r.cache.Set(key, hit)
			metrics.GeoLookups.WithLabelValues("polygon").Inc()
			return hit, true
		}
	}
	if n, ok := r.kd.Nearest(pt); ok && n.Km <= r.maxRadiusKm {
		a, _ := r.snap.Area(r.kdIDs[n.Index])
		hit := AreaHit{AreaID: a.ID, AreaName: a.Name, Approx: true, DistanceKm: n.Km}
		r.cache.Set(key, hit)
		metrics.GeoLookups.WithLabelValues("nearest").Inc()
		return hit, true
	}
	metrics.GeoLookups.WithLabelValues("miss").Inc()
	logger.L().Debug("area_at_miss", "lat", pt.Lat, "lon", pt.Lon)
	return AreaHit{}, false
}
