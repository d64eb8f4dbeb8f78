// 包 model：路由、融合与聚类共用的数据结构；参考表在启动时只读加载，记录创建后不再原地修改
package model

// 文档注释：端点描述（预计算分析数据集）
// 背景：分类器按关键词权重打分；Family 用于多端点判定时区分“独立信号族”。
// 约束：启动时加载后只读，跨请求共享不加锁；ID 全局唯一。
type EndpointDescriptor struct {
	ID                 string
	DisplayName        string
	Family             string
	Keywords           map[string]float64
	RequiredFieldNames []string
	PrimaryScoreField  string
	// Comparative：端点本身即对比型分析（品牌差异/竞争），对比类问题无需再拼接第二个端点
	Comparative bool
	// Clusterable：模板默认请求空间聚类
	Clusterable bool
}

// HasKeyword：关键词是否属于该端点（小写比较由加载方保证）
func (d EndpointDescriptor) HasKeyword(k string) bool {
	_, ok := d.Keywords[k]
	return ok
}

// 点坐标（WGS84）
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Polygon：按 GeoJSON 约定的环集合，第一环是外环，其后为洞
type Polygon struct {
	Rings [][]Point
	BBox  [4]float64 // minLon, minLat, maxLon, maxLat
}

// Geometry：记录几何；多面或单点，二者可同时为空
type Geometry struct {
	Polys []Polygon
	Point *Point
}

// Empty：无任何几何信息
func (g *Geometry) Empty() bool {
	return g == nil || (len(g.Polys) == 0 && g.Point == nil)
}

// 文档注释：分析记录（单端点数据集中的一行）
// 背景：字段为开放模式，按字段名索引；SourceEndpoint 记录来源，融合阶段据此保留出处。
// 约束：同一端点内 AreaID 唯一；过滤/融合均产出新记录，不修改原记录。
type AnalysisRecord struct {
	AreaID         string           `json:"area_id"`
	AreaName       string           `json:"area_name,omitempty"`
	Geometry       *Geometry        `json:"-"`
	Centroid       *Point           `json:"centroid,omitempty"`
	Fields         map[string]Value `json:"fields"`
	SourceEndpoint string           `json:"source_endpoint"`
	// GeoTags：地理过滤时命中该记录的实体名，供对比类问题事后分组
	GeoTags []string `json:"geo_tags,omitempty"`
}

// Number：读取数值字段；缺失、字符串或非有限数均返回 false，不做 0 兜底
func (r AnalysisRecord) Number(field string) (float64, bool) {
	v, ok := r.Fields[field]
	if !ok {
		return 0, false
	}
	return v.Float()
}

// WithTags：返回带新标签的副本；字段表共享但不会被修改
func (r AnalysisRecord) WithTags(tags []string) AnalysisRecord {
	out := r
	out.GeoTags = append([]string(nil), tags...)
	return out
}

type EntityKind string

const (
	KindCity      EntityKind = "city"
	KindRegion    EntityKind = "region"
	KindAdminArea EntityKind = "admin-area"
)

// Valid：是否为已知实体类型
func (k EntityKind) Valid() bool {
	return k == KindCity || k == KindRegion || k == KindAdminArea
}

// 文档注释：地理实体（静态参考数据）
// 背景：Prefixes 为区域编码前缀集合；Exclude 显式列出被同级实体占用的编码前缀。
// 约束：排除表必须是数据而非过滤时推断；同级实体的重叠前缀若未显式划分则视为歧义。
type GeoEntity struct {
	Name     string
	Kind     EntityKind
	Aliases  []string
	Prefixes []string
	Exclude  []string
}

// 文档注释：路由决策
// 背景：Reasoning 按阶段顺序拼接，用于解释与排查；拒绝时携带模板化提示。
type RoutingDecision struct {
	Accepted         bool     `json:"accepted"`
	Endpoints        []string `json:"endpoints"`
	IsMulti          bool     `json:"is_multi"`
	Confidence       float64  `json:"confidence"`
	Signals          []string `json:"signals,omitempty"`
	Reasoning        []string `json:"reasoning"`
	RejectionMessage string   `json:"rejection_message,omitempty"`
}

// SourcedValue：带出处的字段值
type SourcedValue struct {
	Value          Value  `json:"value"`
	SourceEndpoint string `json:"source_endpoint"`
	Field          string `json:"field"`
}

// 文档注释：融合记录
// 背景：MergedFields 以 "endpoint:field" 为键，任何端点都不会覆盖其他端点的同名字段。
// 约束：Contributors 至少一个；HasScore 为 false 时 CompositeScore 无意义，不参与排序。
type CompositeRecord struct {
	AreaID         string                  `json:"area_id"`
	AreaName       string                  `json:"area_name,omitempty"`
	MergedFields   map[string]SourcedValue `json:"merged_fields"`
	Contributors   []string                `json:"contributors"`
	CompositeScore float64                 `json:"composite_score"`
	HasScore       bool                    `json:"has_score"`
	DisplayField   string                  `json:"display_field,omitempty"`
	DisplayValue   float64                 `json:"display_value"`
	HasDisplay     bool                    `json:"has_display"`
	GeoTags        []string                `json:"geo_tags,omitempty"`
}

// QualifiedKey：出处限定键
func QualifiedKey(endpoint, field string) string { return endpoint + ":" + field }

// ClusterStats：聚类统计；Count 为带有效数值的成员数
type ClusterStats struct {
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
}

// Cluster：连续片区
type Cluster struct {
	ID                 string       `json:"id"`
	MemberAreaIDs      []string     `json:"member_area_ids"`
	Stats              ClusterStats `json:"aggregate_stats"`
	AdjacencySatisfied bool         `json:"adjacency_satisfied"`
}
