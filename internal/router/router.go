// 包 router：路由编排（分类 → 拒绝/地理过滤 → 单端点排名或多端点融合 → 可选聚类 → 汇总）
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"georoute/internal/catalog"
	"georoute/internal/classify"
	"georoute/internal/cluster"
	"georoute/internal/compose"
	"georoute/internal/config"
	"georoute/internal/dataset"
	"georoute/internal/geofilter"
	"georoute/internal/georef"
	"georoute/internal/logger"
	"georoute/internal/metrics"
	"georoute/internal/model"

	"github.com/google/uuid"
)

// 仅有质心能力的参考服务（可选）
type centroidSource interface {
	CentroidFor(areaID string) (model.Point, bool)
}

// 文档注释：路由服务对象
// 背景：启动时构建一次并传入请求处理；持有的参考表与组件均只读，可被并发请求共享。
// 约束：除数据集不可用（单端点）与上下文取消外，所有异常情况都转为推理说明，不返回错误。
type Service struct {
	cfg      config.Config
	cat      *catalog.Catalog
	store    dataset.Store
	geo      georef.Service
	cls      *classify.Classifier
	det      *compose.Detector
	composer *compose.Composer
	filter   *geofilter.Resolver
	cluster  *cluster.Clusterer
	width    int
	log      *slog.Logger
}

func New(cfg config.Config, cat *catalog.Catalog, store dataset.Store, geo georef.Service, log *slog.Logger) *Service {
	log = logger.Component(log, "router")
	width := cfg.AreaIDWidth
	if width <= 0 {
		width = cat.AreaIDWidth
	}
	return &Service{
		cfg:      cfg,
		cat:      cat,
		store:    store,
		geo:      geo,
		cls:      classify.New(cat),
		det:      compose.NewDetector(cat, cfg.FamilyFloor, cfg.MaxEndpoints),
		composer: compose.NewComposer(cat, width, log),
		filter:   geofilter.NewResolver(geo, geofilter.NewPrefixTable(cat.Entities, width, log), log),
		cluster:  cluster.New(cluster.Options{TouchTolerance: cfg.ClusterTouchTolerance, KNN: cfg.ClusterKNN}, log),
		width:    width,
		log:      log,
	}
}

// Catalog：只读参考表
func (s *Service) Catalog() *catalog.Catalog { return s.cat }

// 请求内推理轨迹：按阶段前缀拼接
type trace struct {
	res   *Result
	stage Stage
	start time.Time
}

func (t *trace) enter(st Stage) {
	if !t.start.IsZero() {
		metrics.StageDurationMs.WithLabelValues(string(t.stage)).Observe(float64(time.Since(t.start).Microseconds()) / 1000)
	}
	t.stage = st
	t.start = time.Now()
	t.res.States = append(t.res.States, st)
}

func (t *trace) add(format string, args ...any) {
	t.res.Decision.Reasoning = append(t.res.Decision.Reasoning, fmt.Sprintf("[%s] ", t.stage)+fmt.Sprintf(format, args...))
}

func (t *trace) addAll(lines []string) {
	for _, l := range lines {
		t.add("%s", l)
	}
}

// 文档注释：路由一次查询
// 背景：拒绝属于正常结果（Accepted=false 且带提示）；多端点缺失部分数据集时降级融合并说明。
// 返回：Result 总是非 nil；单端点数据集不可用或上下文取消时同时返回错误。
func (s *Service) Route(ctx context.Context, req Request) (*Result, error) {
	begin := time.Now()
	metrics.RequestsTotal.Inc()
	defer func() { metrics.RequestDurationMs.Observe(float64(time.Since(begin).Microseconds()) / 1000) }()

	res := &Result{RequestID: uuid.NewString(), Query: req.Query, Context: req.Context}
	tr := &trace{res: res}
	tr.enter(StageReceived)
	query := strings.TrimSpace(req.Query)
	tr.add("query of %d characters", len(query))

	tr.enter(StageClassified)
	cls := s.cls.Classify(query)
	res.Scores = cls.Ranked
	tr.addAll(cls.Reasons)
	for i, sc := range cls.Ranked {
		if i == 3 {
			break
		}
		tr.add("%s scored %.2f: %s", sc.Endpoint, sc.Score, strings.Join(sc.Reasons, "; "))
	}
	entities := s.geo.ResolveEntities(query)
	for _, e := range entities {
		res.Entities = append(res.Entities, e.Name)
	}
	if len(entities) > 0 {
		tr.add("geographic entities: %s", strings.Join(res.Entities, ", "))
	}
	det := s.det.Detect(query, cls)
	tr.addAll(det.Reasons)

	top, _ := cls.Top()
	keyword := cls.HasKeywordSignal() && top.Score >= s.cfg.MinScore
	signals := signalsOf(cls, keyword, len(entities) > 0, det)
	res.Decision.Signals = signals
	if !keyword && len(entities) == 0 && !det.PatternMatched {
		return s.reject(tr, cls), nil
	}

	endpoints := det.Endpoints
	if len(endpoints) == 0 {
		endpoints = []string{s.cfg.DefaultEndpoint}
		tr.add("no analytical endpoint scored; routed to default %s", s.cfg.DefaultEndpoint)
	}
	res.Decision.Accepted = true
	res.Decision.Endpoints = endpoints
	res.Decision.IsMulti = len(endpoints) > 1
	res.Decision.Confidence = confidence(signals, det.Confidence)
	for _, ep := range endpoints {
		metrics.EndpointSelectedTotal.WithLabelValues(ep).Inc()
	}
	metrics.RouteConfidence.Observe(res.Decision.Confidence)

	fctx := ctx
	if s.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, s.cfg.FetchTimeout)
		defer cancel()
	}

	var (
		clusterInput []model.AnalysisRecord
		clusterField string
		clusterable  bool
	)
	if res.Decision.IsMulti {
		recs, err := s.multi(fctx, tr, entities, endpoints, det.Template)
		if err != nil {
			return s.fail(tr, err)
		}
		clusterInput, clusterField = recs, compose.CompositeDisplay
		if tpl, ok := s.cat.Template(res.AnalysisType); ok {
			clusterable = tpl.Clusterable
		}
	} else {
		recs, field, err := s.single(fctx, tr, entities, endpoints[0])
		if err != nil {
			return s.fail(tr, err)
		}
		clusterInput, clusterField = recs, field
		if d, ok := s.cat.Endpoint(endpoints[0]); ok {
			clusterable = d.Clusterable
		}
	}

	if k, want := s.clusterRequest(query, req.ClusterCount, clusterable); want {
		tr.enter(StageClustered)
		s.clusterRecords(tr, clusterInput, clusterField, k)
	}

	tr.enter(StageFinalized)
	outcome := "single"
	if res.Decision.IsMulti {
		outcome = "multi"
	}
	metrics.RoutesTotal.WithLabelValues(outcome).Inc()
	tr.add("routed to %s with confidence %.2f", strings.Join(endpoints, ", "), res.Decision.Confidence)
	s.log.Info("route_accepted", "request_id", res.RequestID, "endpoints", strings.Join(endpoints, ","), "multi", res.Decision.IsMulti, "confidence", res.Decision.Confidence)
	return res, nil
}

func (s *Service) reject(tr *trace, cls classify.Classification) *Result {
	tr.enter(StageRejected)
	res := tr.res
	res.Decision.Accepted = false
	res.Decision.Confidence = 0
	res.Decision.RejectionMessage = s.helpMessage()
	tr.add("%v: no endpoint keyword, geographic entity or multi-endpoint phrasing", model.ErrOutOfScope)
	if top, ok := cls.Top(); ok {
		tr.add("best candidate %s scored %.2f below the acceptance floor %.2f", top.Endpoint, top.Score, s.cfg.MinScore)
	}
	tr.enter(StageFinalized)
	metrics.RoutesTotal.WithLabelValues("rejected").Inc()
	s.log.Info("route_rejected", "request_id", res.RequestID, "err", model.ErrOutOfScope)
	return res
}

func (s *Service) fail(tr *trace, err error) (*Result, error) {
	tr.add("%v", err)
	tr.enter(StageFinalized)
	metrics.RoutesTotal.WithLabelValues("error").Inc()
	s.log.Warn("route_failed", "request_id", tr.res.RequestID, "err", err)
	return tr.res, err
}

// 拒绝提示：列出可回答的分析类型
func (s *Service) helpMessage() string {
	names := make([]string, 0, len(s.cat.Endpoints))
	for _, e := range s.cat.Endpoints {
		names = append(names, strings.ToLower(e.DisplayName))
	}
	return fmt.Sprintf("I could not match this question to an available market analysis. Try asking about one of: %s. You can also name a place, for example \"in Miami\".", strings.Join(names, ", "))
}

func signalsOf(cls classify.Classification, keyword, entity bool, det compose.Detection) []string {
	var out []string
	if keyword {
		out = append(out, "keyword")
	}
	if cls.HasRuleSignal() || det.PatternMatched {
		out = append(out, "pattern")
	}
	if entity {
		out = append(out, "geo-entity")
	}
	if det.Comparative {
		out = append(out, "comparison")
	}
	return out
}

// 文档注释：置信度
// 背景：(独立信号数 + 判定置信度) / 4；独立信号为关键词、句式、地理实体三类，对比信号不单独计数。
func confidence(signals []string, detector float64) float64 {
	n := 0
	for _, s := range signals {
		if s != "comparison" {
			n++
		}
	}
	c := (float64(n) + detector) / 4
	return math.Round(math.Min(c, 1)*100) / 100
}

// 文档注释：单端点路径
// 背景：拉取 → 地理过滤 → 按展示字段降序排名；展示字段缺失或非数值的记录不参与排名并列出。
func (s *Service) single(ctx context.Context, tr *trace, entities []model.GeoEntity, endpoint string) ([]model.AnalysisRecord, string, error) {
	res := tr.res
	recs, err := s.store.Fetch(ctx, endpoint)
	if err != nil {
		return nil, "", fmt.Errorf("route %s: %w", endpoint, err)
	}

	tr.enter(StageGeoFiltered)
	fr := s.filter.Apply(entities, recs)
	res.GeoFilter = &fr.Stats
	tr.addAll(fr.Reasons)

	tr.enter(StageSingleRouted)
	res.AnalysisType = endpoint
	field, ok := s.cat.DisplayField(endpoint)
	if !ok {
		if d, ok := s.cat.Endpoint(endpoint); ok {
			field = d.PrimaryScoreField
		}
		tr.add("no display rule for %s; using primary score field %s", endpoint, field)
	}
	res.DisplayField = field

	for _, r := range fr.Records {
		v, ok := r.Number(field)
		if !ok {
			res.Unranked = append(res.Unranked, r.AreaID)
			continue
		}
		res.Records = append(res.Records, RankedRecord{DisplayValue: v, Record: r})
	}
	sort.SliceStable(res.Records, func(i, j int) bool {
		a, b := res.Records[i], res.Records[j]
		if a.DisplayValue != b.DisplayValue {
			return a.DisplayValue > b.DisplayValue
		}
		return a.Record.AreaID < b.Record.AreaID
	})
	for i := range res.Records {
		res.Records[i].Rank = i + 1
	}
	sort.Strings(res.Unranked)
	tr.add("%d records ranked by %s", len(res.Records), field)
	if len(res.Unranked) > 0 {
		tr.add("%d records lack a numeric %s and are excluded from ranking: %s", len(res.Unranked), field, strings.Join(res.Unranked, ", "))
	}

	if len(entities) > 1 {
		for _, p := range geofilter.PartitionByEntity(entities, fr.Records) {
			sum := EntitySummary{Entity: p.Entity, Count: len(p.Records)}
			var total float64
			for _, r := range p.Records {
				if v, ok := r.Number(field); ok {
					total += v
					sum.Ranked++
				}
			}
			if sum.Ranked > 0 {
				sum.Mean = total / float64(sum.Ranked)
				tr.add("%s: %d areas, mean %s %.2f", p.Entity, sum.Count, field, sum.Mean)
			} else {
				tr.add("%s: %d areas, no numeric %s", p.Entity, sum.Count, field)
			}
			res.Partitions = append(res.Partitions, sum)
		}
	}
	return fr.Records, field, nil
}

// 文档注释：多端点路径
// 背景：并行拉取；缺失的数据集写入说明后从其余数据集融合；全部缺失时按数据集不可用返回错误。
// 返回：供聚类使用的记录（字段 composite 为融合分，几何取自贡献记录）。
func (s *Service) multi(ctx context.Context, tr *trace, entities []model.GeoEntity, endpoints []string, template string) ([]model.AnalysisRecord, error) {
	res := tr.res
	fetched, err := dataset.FetchAll(ctx, s.store, endpoints)
	if err != nil {
		return nil, err
	}

	tr.enter(StageGeoFiltered)
	var datasets []compose.Dataset
	var unavailable []error
	geom := map[string]model.AnalysisRecord{}
	for _, f := range fetched {
		if f.Err != nil {
			unavailable = append(unavailable, f.Err)
			tr.add("%s skipped: %v", f.Endpoint, f.Err)
			continue
		}
		fr := s.filter.Apply(entities, f.Records)
		if res.GeoFilter == nil {
			st := fr.Stats
			res.GeoFilter = &st
		}
		for _, line := range fr.Reasons {
			tr.add("%s: %s", f.Endpoint, line)
		}
		for _, r := range fr.Records {
			id := model.NormalizeAreaID(r.AreaID, s.width)
			if _, ok := geom[id]; !ok && (!r.Geometry.Empty() || r.Centroid != nil) {
				geom[id] = r
			}
		}
		datasets = append(datasets, compose.Dataset{Endpoint: f.Endpoint, Records: fr.Records})
	}
	if len(datasets) == 0 {
		return nil, fmt.Errorf("route %s: %w", strings.Join(endpoints, "+"), errors.Join(unavailable...))
	}

	tr.enter(StageMultiComposed)
	comp := s.composer.Merge(datasets, template)
	res.AnalysisType = comp.AnalysisType
	res.DisplayField = comp.DisplayField
	tr.addAll(comp.Reasons)

	ranked := append([]model.CompositeRecord(nil), comp.Records...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.HasDisplay != b.HasDisplay {
			return a.HasDisplay
		}
		if a.HasDisplay && a.DisplayValue != b.DisplayValue {
			return a.DisplayValue > b.DisplayValue
		}
		return a.AreaID < b.AreaID
	})
	res.Composite = ranked
	var noScore []string
	for _, r := range comp.Records {
		if !r.HasDisplay {
			noScore = append(noScore, r.AreaID)
		}
	}
	tr.add("%d composite records from %d datasets (%s)", len(comp.Records), len(datasets), comp.AnalysisType)
	if len(noScore) > 0 {
		tr.add("%d records have no %s value and are excluded from ranking: %s", len(noScore), comp.DisplayField, strings.Join(noScore, ", "))
	}

	out := make([]model.AnalysisRecord, 0, len(comp.Records))
	for _, r := range comp.Records {
		rec := model.AnalysisRecord{AreaID: r.AreaID, AreaName: r.AreaName, Fields: map[string]model.Value{}, GeoTags: r.GeoTags}
		if r.HasScore {
			rec.Fields[compose.CompositeDisplay] = model.Number(r.CompositeScore)
		}
		if g, ok := geom[r.AreaID]; ok {
			rec.Geometry, rec.Centroid = g.Geometry, g.Centroid
		}
		out = append(out, rec)
	}
	return out, nil
}

// 文档注释：是否聚类及目标片区数
// 背景：查询命中聚类句式、端点/模板默认聚类或请求显式给出片区数时聚类；
// 片区数优先取请求参数，其次取查询中的数字（如 "into 3 territories"），否则取配置默认值。
func (s *Service) clusterRequest(query string, explicit int, clusterable bool) (int, bool) {
	want := clusterable || explicit > 0
	for _, re := range s.cat.ClusterPatterns {
		if re.MatchString(query) {
			want = true
			break
		}
	}
	if !want {
		return 0, false
	}
	if explicit > 0 {
		return explicit, true
	}
	if s.cat.ClusterCountPattern != nil {
		if m := s.cat.ClusterCountPattern.FindStringSubmatch(query); len(m) > 1 {
			if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
				return n, true
			}
		}
	}
	return s.cfg.ClusterDefaultCount, true
}

// 聚类前补全几何：记录自身无几何时向参考服务取边界与质心
func (s *Service) clusterRecords(tr *trace, records []model.AnalysisRecord, field string, k int) {
	res := tr.res
	cs, _ := s.geo.(centroidSource)
	filled := 0
	in := make([]model.AnalysisRecord, len(records))
	for i, r := range records {
		if r.Geometry.Empty() {
			if g, ok := s.geo.BoundaryFor(r.AreaID); ok {
				r.Geometry = g
				filled++
			}
		}
		if r.Centroid == nil && cs != nil {
			if c, ok := cs.CentroidFor(r.AreaID); ok {
				r.Centroid = &c
			}
		}
		in[i] = r
	}
	if filled > 0 {
		tr.add("boundaries for %d areas taken from the geographic reference", filled)
	}
	cr := s.cluster.Cluster(in, k, field)
	res.Clusters = cr.Clusters
	res.ClusterField = field
	tr.addAll(cr.Reasons)
}
