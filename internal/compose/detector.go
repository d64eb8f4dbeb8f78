// 包 compose：单/多端点判定与多数据集融合
package compose

import (
	"fmt"
	"strings"

	"georoute/internal/catalog"
	"georoute/internal/classify"
)

// Detection：多端点判定结果
type Detection struct {
	IsMulti    bool
	Confidence float64
	Endpoints  []string
	Template   string
	// Comparative：查询要求对比（两个不同品牌或对比句式）
	Comparative    bool
	PatternMatched bool
	Reasons        []string
}

// 文档注释：多端点判定器
// 背景：两条独立判据任一成立即为多端点：(a) 跨端点句式命中；(b) 至少两个不同端点族得分超过下限。
// 对比类问题若最高分端点本身是对比型分析则保持单端点，否则补入最佳对比型端点。
// 约束：端点数不超过上限；输出顺序为句式表顺序或排名顺序。
type Detector struct {
	cat          *catalog.Catalog
	familyFloor  float64
	maxEndpoints int
}

func NewDetector(cat *catalog.Catalog, familyFloor float64, maxEndpoints int) *Detector {
	if maxEndpoints < 2 {
		maxEndpoints = 2
	}
	return &Detector{cat: cat, familyFloor: familyFloor, maxEndpoints: maxEndpoints}
}

// Detect：根据查询与分类排名判定
func (d *Detector) Detect(query string, cls classify.Classification) Detection {
	det := Detection{Comparative: cls.Comparison || len(cls.Brands) >= 2}
	if det.Comparative {
		switch {
		case len(cls.Brands) >= 2:
			det.Reasons = append(det.Reasons, fmt.Sprintf("comparison detected: distinct brands %s", strings.Join(cls.Brands, ", ")))
		default:
			det.Reasons = append(det.Reasons, "comparison detected: comparison phrasing")
		}
	}

	for _, mp := range d.cat.MultiPatterns {
		if !mp.Re.MatchString(query) {
			continue
		}
		det.PatternMatched = true
		reason := mp.Reason
		if reason == "" {
			reason = mp.Pattern
		}
		eps := mp.Endpoints
		if len(eps) == 0 {
			eps = d.perFamily(cls.Ranked, 0)
		}
		eps = capped(eps, d.maxEndpoints)
		if len(eps) >= 2 {
			det.IsMulti = true
			det.Endpoints = eps
			det.Template = mp.Template
			det.Confidence = 0.9
			if len(mp.Endpoints) == 0 {
				det.Confidence = 0.7
			}
			det.Reasons = append(det.Reasons, fmt.Sprintf("multi-endpoint pattern: %s -> %s", reason, strings.Join(eps, ", ")))
			return det
		}
		det.Reasons = append(det.Reasons, fmt.Sprintf("multi-endpoint pattern %q matched but fewer than two endpoint families scored", reason))
		break
	}

	fams := d.perFamily(cls.Ranked, d.familyFloor)
	if len(fams) >= 2 {
		eps := capped(fams, d.maxEndpoints)
		det.IsMulti = true
		det.Endpoints = eps
		top := cls.Ranked[0].Score
		second := scoreOf(cls.Ranked, eps[1])
		det.Confidence = 0.5 + 0.4*second/top
		det.Reasons = append(det.Reasons, fmt.Sprintf("%d independent endpoint families scored above %.2f: %s", len(fams), d.familyFloor, strings.Join(eps, ", ")))
		return det
	}

	top, ok := cls.Top()
	if !ok {
		return det
	}
	det.Endpoints = []string{top.Endpoint}
	det.Confidence = 0.5
	if top.Score > 0 && len(cls.Ranked) > 1 {
		det.Confidence += 0.5 * (top.Score - cls.Ranked[1].Score) / top.Score
	} else {
		det.Confidence = 1
	}
	if !det.Comparative {
		return det
	}
	if desc, ok := d.cat.Endpoint(top.Endpoint); ok && desc.Comparative {
		det.Reasons = append(det.Reasons, fmt.Sprintf("%s is itself a comparative analysis; single endpoint", top.Endpoint))
		return det
	}
	if comp := d.bestComparative(cls.Ranked); comp != "" {
		det.IsMulti = true
		det.Endpoints = []string{top.Endpoint, comp}
		det.Reasons = append(det.Reasons, fmt.Sprintf("comparison requested but %s is not comparative; adding %s", top.Endpoint, comp))
	}
	return det
}

// 每个端点族取排名最高的端点（得分需达到下限）
func (d *Detector) perFamily(ranked []classify.EndpointScore, floor float64) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range ranked {
		if s.Score <= 0 || s.Score < floor {
			continue
		}
		desc, ok := d.cat.Endpoint(s.Endpoint)
		if !ok || seen[desc.Family] {
			continue
		}
		seen[desc.Family] = true
		out = append(out, s.Endpoint)
	}
	return out
}

// 排名中最高的对比型端点；排名中没有时取参考表中第一个对比型端点
func (d *Detector) bestComparative(ranked []classify.EndpointScore) string {
	for _, s := range ranked {
		if desc, ok := d.cat.Endpoint(s.Endpoint); ok && desc.Comparative {
			return s.Endpoint
		}
	}
	for _, e := range d.cat.Endpoints {
		if e.Comparative {
			return e.ID
		}
	}
	return ""
}

func scoreOf(ranked []classify.EndpointScore, id string) float64 {
	for _, s := range ranked {
		if s.Endpoint == id {
			return s.Score
		}
	}
	return 0
}

func capped(eps []string, n int) []string {
	if len(eps) > n {
		return append([]string(nil), eps[:n]...)
	}
	return append([]string(nil), eps...)
}
