package geofilter

import (
	"log/slog"
	"sort"
	"strings"

	"georoute/internal/model"
)

// Overlap：同级实体间未显式划分的重叠前缀
type Overlap struct {
	Code     string   `json:"code"`
	Entities []string `json:"entities"`
}

type rule struct {
	entity    model.GeoEntity
	include   []string
	exclude   []string
	ambiguous []string
}

// 文档注释：不相交前缀表
// 背景：同一层级（如两个城市）的前缀可能互相覆盖（Miami 的 330 覆盖 Miami Beach 的 33139）；
// 必须由被覆盖方的上级在 exclude 中显式让出，否则重叠编码对双方都视为歧义并排除。
// 约束：不同层级之间允许嵌套（州包含城市），不做歧义判定；表在启动时构建一次，只读共享。
type PrefixTable struct {
	rules    map[string]*rule
	overlaps []Overlap
	width    int
}

func NewPrefixTable(entities []model.GeoEntity, width int, log *slog.Logger) *PrefixTable {
	t := &PrefixTable{rules: make(map[string]*rule, len(entities)), width: width}
	for _, e := range entities {
		t.rules[key(e.Name)] = compile(e)
	}
	for i := 0; i < len(entities); i++ {
		for j := i + 1; j < len(entities); j++ {
			a, b := entities[i], entities[j]
			if a.Kind != b.Kind {
				continue
			}
			for _, pa := range a.Prefixes {
				for _, pb := range b.Prefixes {
					code, ok := overlapCode(pa, pb)
					if !ok || ceded(a, b, code) {
						continue
					}
					ra, rb := t.rules[key(a.Name)], t.rules[key(b.Name)]
					ra.ambiguous = appendUnique(ra.ambiguous, code)
					rb.ambiguous = appendUnique(rb.ambiguous, code)
					t.overlaps = append(t.overlaps, Overlap{Code: code, Entities: []string{a.Name, b.Name}})
					if log != nil {
						log.Warn("geo_prefix_ambiguous", "code", code, "a", a.Name, "b", b.Name, "err", model.ErrAmbiguousGeoEntity)
					}
				}
			}
		}
	}
	sort.Slice(t.overlaps, func(i, j int) bool { return t.overlaps[i].Code < t.overlaps[j].Code })
	return t
}

func key(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

func compile(e model.GeoEntity) *rule {
	r := &rule{entity: e}
	for _, p := range e.Prefixes {
		if p = strings.TrimSpace(p); p != "" {
			r.include = append(r.include, p)
		}
	}
	for _, x := range e.Exclude {
		if x = strings.TrimSpace(x); x != "" {
			r.exclude = append(r.exclude, x)
		}
	}
	return r
}

// 两前缀互为前缀时返回较长者（重叠区域）
func overlapCode(a, b string) (string, bool) {
	switch {
	case strings.HasPrefix(b, a):
		return b, true
	case strings.HasPrefix(a, b):
		return a, true
	}
	return "", false
}

// 任一方在 exclude 中覆盖了重叠区域，即视为已显式划分
func ceded(a, b model.GeoEntity, code string) bool {
	return covers(a.Exclude, code) || covers(b.Exclude, code)
}

func covers(prefixes []string, code string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(code, p) {
			return true
		}
	}
	return false
}

func appendUnique(s []string, v string) []string {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}

// Overlaps：构建时发现的歧义重叠
func (t *PrefixTable) Overlaps() []Overlap { return t.overlaps }

type verdict int

const (
	noMatch verdict = iota
	matched
	ambiguousExcluded
)

// 判定编码是否归属实体；表中未登记的实体按其自身前缀判定
func (t *PrefixTable) match(e model.GeoEntity, areaID string) verdict {
	r, ok := t.rules[key(e.Name)]
	if !ok {
		r = compile(e)
	}
	if !covers(r.include, areaID) || covers(r.exclude, areaID) {
		return noMatch
	}
	if covers(r.ambiguous, areaID) {
		return ambiguousExcluded
	}
	return matched
}
