// 包 geofilter：按查询中的地名过滤记录（前缀表、标记、分组）
package geofilter

import (
	"fmt"
	"log/slog"
	"strings"

	"georoute/internal/metrics"
	"georoute/internal/model"
)

const (
	MethodNone         = "none"
	MethodEntityPrefix = "entity-prefix"
)

// Stats：过滤统计
type Stats struct {
	FilterMethod      string         `json:"filter_method"`
	InputCount        int            `json:"input_count"`
	OutputCount       int            `json:"output_count"`
	PerEntity         map[string]int `json:"per_entity,omitempty"`
	ExcludedAmbiguous int            `json:"excluded_ambiguous"`
}

// Result：过滤结果；Records 为新切片，原记录不被修改
type Result struct {
	MatchedEntities []model.GeoEntity
	Records         []model.AnalysisRecord
	Stats           Stats
	Reasons         []string
}

// EntityResolver：从查询中识别地名（由地理参考服务提供）
type EntityResolver interface {
	ResolveEntities(query string) []model.GeoEntity
}

// 文档注释：地理实体过滤器
// 背景：实体识别委托给参考服务，归属判定使用启动时构建的不相交前缀表。
// 约束：多个实体取并集；记录编码按参考宽度补零后再做前缀比较。
type Resolver struct {
	entities EntityResolver
	table    *PrefixTable
	log      *slog.Logger
}

func NewResolver(entities EntityResolver, table *PrefixTable, log *slog.Logger) *Resolver {
	return &Resolver{entities: entities, table: table, log: log}
}

// Filter：识别查询中的实体并过滤记录
func (r *Resolver) Filter(query string, records []model.AnalysisRecord) Result {
	return r.Apply(r.entities.ResolveEntities(query), records)
}

// 文档注释：按给定实体过滤
// 背景：无实体时记录原样返回（仍为新切片），方法为 none；有实体时仅保留至少一个实体命中的记录并打标记。
// 约束：标记整体覆盖而非追加，重复过滤结果不变。
func (r *Resolver) Apply(entities []model.GeoEntity, records []model.AnalysisRecord) Result {
	res := Result{
		MatchedEntities: entities,
		Stats:           Stats{FilterMethod: MethodNone, InputCount: len(records)},
	}
	if len(entities) == 0 {
		res.Records = append([]model.AnalysisRecord(nil), records...)
		res.Stats.OutputCount = len(records)
		res.Reasons = append(res.Reasons, "no geographic entity in query; records unfiltered")
		return res
	}
	res.Stats.FilterMethod = MethodEntityPrefix
	res.Stats.PerEntity = make(map[string]int, len(entities))
	names := make([]string, 0, len(entities))
	for _, e := range entities {
		res.Stats.PerEntity[e.Name] = 0
		names = append(names, fmt.Sprintf("%s (%s)", e.Name, e.Kind))
	}
	for _, rec := range records {
		id := model.NormalizeAreaID(rec.AreaID, r.table.width)
		var tags []string
		ambiguous := false
		for _, e := range entities {
			switch r.table.match(e, id) {
			case matched:
				tags = append(tags, e.Name)
				res.Stats.PerEntity[e.Name]++
			case ambiguousExcluded:
				ambiguous = true
			}
		}
		if len(tags) == 0 {
			if ambiguous {
				res.Stats.ExcludedAmbiguous++
				if r.log != nil {
					r.log.Debug("geo_record_ambiguous", "area_id", id, "err", model.ErrAmbiguousGeoEntity)
				}
			}
			continue
		}
		out := rec.WithTags(tags)
		out.AreaID = id
		res.Records = append(res.Records, out)
	}
	res.Stats.OutputCount = len(res.Records)
	res.Reasons = append(res.Reasons, fmt.Sprintf("matched %s; kept %d of %d records", strings.Join(names, ", "), res.Stats.OutputCount, res.Stats.InputCount))
	if res.Stats.ExcludedAmbiguous > 0 {
		metrics.AmbiguousPrefixesTotal.Add(float64(res.Stats.ExcludedAmbiguous))
		res.Reasons = append(res.Reasons, fmt.Sprintf("%d records excluded: %v (area code claimed by sibling entities without an explicit split)", res.Stats.ExcludedAmbiguous, model.ErrAmbiguousGeoEntity))
	}
	return res
}

// Partition：单个实体的记录分组
type Partition struct {
	Entity  string
	Records []model.AnalysisRecord
}

// 文档注释：按实体标记分组（对比类地名问题事后拆分）
// 约束：按 entities 顺序输出；同时命中多个实体的记录出现在每个对应分组中；无记录的实体输出空分组。
func PartitionByEntity(entities []model.GeoEntity, records []model.AnalysisRecord) []Partition {
	out := make([]Partition, len(entities))
	idx := make(map[string]int, len(entities))
	for i, e := range entities {
		out[i].Entity = e.Name
		idx[e.Name] = i
	}
	for _, rec := range records {
		for _, tag := range rec.GeoTags {
			if i, ok := idx[tag]; ok {
				out[i].Records = append(out[i].Records, rec)
			}
		}
	}
	return out
}
