package georef

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"georoute/internal/model"
)

type alias struct {
	text   string
	entity int
}

// 文档注释：地名匹配器（最长优先）
// 背景：“Miami Beach” 必须先于 “Miami” 命中；已命中的片段不再参与更短别名的匹配。
// 约束：大小写不敏感；别名两端必须是词边界；同一实体多次出现只返回一次，按首次出现位置排序。
type Matcher struct {
	entities []model.GeoEntity
	aliases  []alias
}

func NewMatcher(entities []model.GeoEntity) *Matcher {
	m := &Matcher{entities: entities}
	for i, e := range entities {
		seen := map[string]bool{}
		for _, s := range append([]string{e.Name}, e.Aliases...) {
			s = strings.ToLower(strings.TrimSpace(s))
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			m.aliases = append(m.aliases, alias{text: s, entity: i})
		}
	}
	sort.SliceStable(m.aliases, func(i, j int) bool {
		if len(m.aliases[i].text) != len(m.aliases[j].text) {
			return len(m.aliases[i].text) > len(m.aliases[j].text)
		}
		return m.aliases[i].text < m.aliases[j].text
	})
	return m
}

// Match：返回查询中出现的实体
func (m *Matcher) Match(query string) []model.GeoEntity {
	q := strings.ToLower(query)
	consumed := make([]bool, len(q))
	first := map[int]int{}
	for _, a := range m.aliases {
		from := 0
		for from < len(q) {
			i := strings.Index(q[from:], a.text)
			if i < 0 {
				break
			}
			start := from + i
			end := start + len(a.text)
			from = start + 1
			if !isBoundary(q, start, end) || spanTaken(consumed, start, end) {
				continue
			}
			for k := start; k < end; k++ {
				consumed[k] = true
			}
			if pos, ok := first[a.entity]; !ok || start < pos {
				first[a.entity] = start
			}
			from = end
		}
	}
	idx := make([]int, 0, len(first))
	for e := range first {
		idx = append(idx, e)
	}
	sort.Slice(idx, func(i, j int) bool {
		if first[idx[i]] != first[idx[j]] {
			return first[idx[i]] < first[idx[j]]
		}
		return idx[i] < idx[j]
	})
	out := make([]model.GeoEntity, len(idx))
	for i, e := range idx {
		out[i] = m.entities[e]
	}
	return out
}

func isBoundary(s string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(s[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(s) {
		r, _ := utf8.DecodeRuneInString(s[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }

func spanTaken(consumed []bool, start, end int) bool {
	for k := start; k < end; k++ {
		if consumed[k] {
			return true
		}
	}
	return false
}
