package compose

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"georoute/internal/catalog"
	"georoute/internal/model"
)

// CompositeDisplay：展示规则中表示“取融合分”的字段名
const CompositeDisplay = "composite"

// AdHoc：无模板融合的分析类型名
const AdHoc = "ad-hoc"

// Dataset：单端点数据集
type Dataset struct {
	Endpoint string
	Records  []model.AnalysisRecord
}

// Composition：融合结果
type Composition struct {
	Records      []model.CompositeRecord
	AnalysisType string
	DisplayField string
	Terms        []catalog.Term
	Reasons      []string
}

// 文档注释：多数据集融合器
// 背景：按归一化区域编码连接；每个字段以 "endpoint:field" 保存并保留出处，同名字段互不覆盖。
// 融合分为模板各项的加权平均：只对当前记录存在的项求和并按存在项权重归一（比例重分配），缺项不以 0 代入。
// 约束：输入记录不被修改；输出按区域编码升序。
type Composer struct {
	cat   *catalog.Catalog
	width int
	log   *slog.Logger
}

func NewComposer(cat *catalog.Catalog, width int, log *slog.Logger) *Composer {
	if width <= 0 {
		width = cat.AreaIDWidth
	}
	return &Composer{cat: cat, width: width, log: log}
}

// 文档注释：融合
// 背景：templateID 为空时按端点集合查找模板；仍无模板时各端点主分字段等权（ad-hoc）。
// 返回：每个至少出现在一个数据集中的区域一条记录。
func (c *Composer) Merge(datasets []Dataset, templateID string) Composition {
	var comp Composition
	endpoints := make([]string, 0, len(datasets))
	for _, ds := range datasets {
		endpoints = append(endpoints, ds.Endpoint)
	}

	var tpl catalog.Template
	found := false
	if templateID != "" {
		tpl, found = c.cat.Template(templateID)
	}
	if !found {
		tpl, found = c.cat.TemplateFor(endpoints)
	}
	if found {
		comp.AnalysisType = tpl.ID
		comp.Terms = presentTerms(tpl.Terms, endpoints)
		for _, t := range tpl.Terms {
			if !contains(endpoints, t.Endpoint) {
				comp.Reasons = append(comp.Reasons, fmt.Sprintf("template %s: %s absent, weight %.2f redistributed over present terms", tpl.ID, t.Endpoint, t.Weight))
			}
		}
	} else {
		comp.AnalysisType = AdHoc
		for _, ep := range endpoints {
			if d, ok := c.cat.Endpoint(ep); ok {
				comp.Terms = append(comp.Terms, catalog.Term{Endpoint: ep, Field: d.PrimaryScoreField, Weight: 1, Scale: 100})
			}
		}
		comp.Reasons = append(comp.Reasons, fmt.Sprintf("no composition template for %s; primary scores weighted equally", strings.Join(endpoints, "+")))
	}
	if f, ok := c.cat.DisplayField(comp.AnalysisType); ok {
		comp.DisplayField = f
	}

	groups := map[string]*model.CompositeRecord{}
	var order []string
	for _, ds := range datasets {
		seen := map[string]bool{}
		for _, r := range ds.Records {
			id := model.NormalizeAreaID(r.AreaID, c.width)
			if id == "" {
				continue
			}
			if seen[id] {
				comp.Reasons = append(comp.Reasons, fmt.Sprintf("%s: duplicate area %s ignored", ds.Endpoint, id))
				if c.log != nil {
					c.log.Warn("compose_duplicate_area", "endpoint", ds.Endpoint, "area_id", id)
				}
				continue
			}
			seen[id] = true
			g, ok := groups[id]
			if !ok {
				g = &model.CompositeRecord{AreaID: id, MergedFields: map[string]model.SourcedValue{}}
				groups[id] = g
				order = append(order, id)
			}
			if g.AreaName == "" {
				g.AreaName = r.AreaName
			}
			for f, v := range r.Fields {
				g.MergedFields[model.QualifiedKey(ds.Endpoint, f)] = model.SourcedValue{Value: v, SourceEndpoint: ds.Endpoint, Field: f}
			}
			for _, tag := range r.GeoTags {
				if !contains(g.GeoTags, tag) {
					g.GeoTags = append(g.GeoTags, tag)
				}
			}
			g.Contributors = append(g.Contributors, ds.Endpoint)
		}
	}

	sort.Strings(order)
	comp.Records = make([]model.CompositeRecord, 0, len(order))
	for _, id := range order {
		rec := *groups[id]
		rec.CompositeScore, rec.HasScore = CompositeScore(rec, comp.Terms)
		rec.DisplayField = comp.DisplayField
		rec.DisplayValue, rec.HasDisplay = displayValue(rec, comp.DisplayField)
		comp.Records = append(comp.Records, rec)
	}

	for _, cf := range c.cat.ConflictsAmong(endpoints) {
		var parts []string
		for _, ep := range endpoints {
			if m, ok := cf.Meanings[ep]; ok {
				parts = append(parts, fmt.Sprintf("%s=%s", ep, m))
			}
		}
		comp.Reasons = append(comp.Reasons, fmt.Sprintf("field %q has different meanings (%s); kept separately under qualified keys", cf.Field, strings.Join(parts, "; ")))
	}
	return comp
}

// 文档注释：融合分（存在项加权平均）
// 背景：值先按刻度换算到 0-100（v / scale × 100），反向项取 100 减去换算值。
// 返回：无任何存在项时 ok=false，不给默认分。
func CompositeScore(rec model.CompositeRecord, terms []catalog.Term) (float64, bool) {
	var sum, wsum float64
	for _, t := range terms {
		sv, ok := rec.MergedFields[model.QualifiedKey(t.Endpoint, t.Field)]
		if !ok {
			continue
		}
		v, ok := sv.Value.Float()
		if !ok {
			continue
		}
		scale := t.Scale
		if scale <= 0 {
			scale = 100
		}
		n := v / scale * 100
		if t.Invert {
			n = 100 - n
		}
		sum += t.Weight * n
		wsum += t.Weight
	}
	if wsum == 0 {
		return 0, false
	}
	return sum / wsum, true
}

// 展示值：composite 取融合分；限定键直接取值；裸字段名按贡献端点顺序取第一个数值
func displayValue(rec model.CompositeRecord, field string) (float64, bool) {
	switch {
	case field == "":
		return 0, false
	case field == CompositeDisplay:
		return rec.CompositeScore, rec.HasScore
	case strings.Contains(field, ":"):
		sv, ok := rec.MergedFields[field]
		if !ok {
			return 0, false
		}
		return sv.Value.Float()
	}
	for _, ep := range rec.Contributors {
		if sv, ok := rec.MergedFields[model.QualifiedKey(ep, field)]; ok {
			if v, ok := sv.Value.Float(); ok {
				return v, true
			}
		}
	}
	return 0, false
}

func presentTerms(terms []catalog.Term, endpoints []string) []catalog.Term {
	var out []catalog.Term
	for _, t := range terms {
		if contains(endpoints, t.Endpoint) {
			out = append(out, t)
		}
	}
	return out
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
