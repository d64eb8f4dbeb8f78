// 包 classify：按参考表对查询打分，输出端点排名与理由
package classify

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"georoute/internal/catalog"
)

// EndpointScore：单端点得分
type EndpointScore struct {
	Endpoint    string   `json:"endpoint"`
	Score       float64  `json:"score"`
	Reasons     []string `json:"reasons"`
	KeywordHits []string `json:"keyword_hits,omitempty"`
	RuleHits    int      `json:"rule_hits,omitempty"`
}

// Classification：完整分类结果
type Classification struct {
	Ranked []EndpointScore
	// Reasons：与具体端点无关的说明（如信号不足）
	Reasons      []string
	Insufficient bool
	Tokens       []string
	Brands       []string
	Comparison   bool
}

// HasKeywordSignal：是否存在领域词信号（端点关键词或达到共现阈值的品牌）
func (c Classification) HasKeywordSignal() bool {
	for _, s := range c.Ranked {
		if len(s.KeywordHits) > 0 {
			return true
		}
	}
	return len(c.Brands) >= 2
}

// HasRuleSignal：是否命中句式规则
func (c Classification) HasRuleSignal() bool {
	for _, s := range c.Ranked {
		if s.RuleHits > 0 {
			return true
		}
	}
	return false
}

// Top：最高分端点；无排名时 ok=false
func (c Classification) Top() (EndpointScore, bool) {
	if len(c.Ranked) == 0 {
		return EndpointScore{}, false
	}
	return c.Ranked[0], true
}

type keyword struct {
	text   string
	tokens []string
	stems  []string
	weight float64
}

// 文档注释：规则分类器
// 背景：关键词得分 = 表内权重 × 特异度（1 + ln(N/df)，df 为含该词的端点数），越少端点使用的词权重越高；
// 句式规则与品牌共现在此基础上累加。
// 约束：纯确定性计算；参考表只读共享，分类器本身无可变状态，可并发使用。
type Classifier struct {
	cat      *catalog.Catalog
	keywords map[string][]keyword
	sets     map[string]map[string]bool
	brands   [][]string
}

func New(cat *catalog.Catalog) *Classifier {
	c := &Classifier{
		cat:      cat,
		keywords: make(map[string][]keyword, len(cat.Endpoints)),
		sets:     make(map[string]map[string]bool, len(cat.Endpoints)),
	}
	df := map[string]int{}
	for _, e := range cat.Endpoints {
		for k := range e.Keywords {
			df[k]++
		}
	}
	n := float64(len(cat.Endpoints))
	for _, e := range cat.Endpoints {
		set := make(map[string]bool, len(e.Keywords))
		var kws []keyword
		for k, w := range e.Keywords {
			toks := tokenize(k)
			kws = append(kws, keyword{
				text:   k,
				tokens: toks,
				stems:  stemAll(toks),
				weight: w * (1 + math.Log(n/float64(df[k]))),
			})
			set[k] = true
		}
		sort.Slice(kws, func(i, j int) bool { return kws[i].text < kws[j].text })
		c.keywords[e.ID] = kws
		c.sets[e.ID] = set
	}
	for _, b := range cat.Brands {
		c.brands = append(c.brands, tokenize(b))
	}
	return c
}

// Score：端点排名（仅含得分大于 0 的端点）
func (c *Classifier) Score(query string) []EndpointScore {
	return c.Classify(query).Ranked
}

// 文档注释：分类查询
// 背景：空查询或只有停用词时返回空排名并标记信号不足，由编排层转为拒绝说明。
// 返回：完整排名（降序）；同分时关键词集合为另一端点真子集者靠后，其余按 ID 升序。
func (c *Classifier) Classify(query string) Classification {
	var out Classification
	tokens := tokenize(query)
	out.Tokens = tokens
	content := 0
	for _, t := range tokens {
		if !c.cat.StopWords[t] {
			content++
		}
	}
	if content == 0 {
		out.Insufficient = true
		out.Reasons = append(out.Reasons, "insufficient signal: query has no content words")
		return out
	}
	stems := stemAll(tokens)

	scores := map[string]*EndpointScore{}
	get := func(id string) *EndpointScore {
		s, ok := scores[id]
		if !ok {
			s = &EndpointScore{Endpoint: id}
			scores[id] = s
		}
		return s
	}

	// 先精确后词干；同一词干形式在一个端点内只计一次（opportunity 与 opportunities 不重复计分）
	for _, e := range c.cat.Endpoints {
		counted := map[string]bool{}
		for pass, how := range []string{"keyword", "stemmed keyword"} {
			for _, kw := range c.keywords[e.ID] {
				sk := strings.Join(kw.stems, " ")
				if counted[sk] {
					continue
				}
				if pass == 0 && !containsPhrase(tokens, kw.tokens) {
					continue
				}
				if pass == 1 && !containsPhrase(stems, kw.stems) {
					continue
				}
				counted[sk] = true
				s := get(e.ID)
				s.Score += kw.weight
				s.KeywordHits = append(s.KeywordHits, kw.text)
				s.Reasons = append(s.Reasons, fmt.Sprintf("%s %q (+%.2f)", how, kw.text, kw.weight))
			}
		}
	}

	for _, r := range c.cat.Rules {
		if !r.Re.MatchString(query) {
			continue
		}
		s := get(r.Endpoint)
		s.Score += r.Weight
		s.RuleHits++
		reason := r.Reason
		if reason == "" {
			reason = "pattern " + r.Pattern
		}
		s.Reasons = append(s.Reasons, fmt.Sprintf("rule: %s (+%.2f)", reason, r.Weight))
	}

	for i, b := range c.cat.Brands {
		if containsPhrase(tokens, c.brands[i]) {
			out.Brands = append(out.Brands, b)
		}
	}
	for _, co := range c.cat.Cooccurrence {
		found := distinctTerms(tokens, co.Terms)
		if len(found) < co.MinDistinct {
			continue
		}
		for _, id := range co.Endpoints {
			s := get(id)
			s.Score += co.Weight
			s.RuleHits++
			s.Reasons = append(s.Reasons, fmt.Sprintf("co-occurrence: %s [%s] (+%.2f)", co.Reason, strings.Join(found, ", "), co.Weight))
		}
	}

	if c.cat.ComparisonPattern != nil && c.cat.ComparisonPattern.MatchString(query) {
		out.Comparison = true
	}

	for _, s := range scores {
		if s.Score > 0 {
			out.Ranked = append(out.Ranked, *s)
		}
	}
	sort.SliceStable(out.Ranked, func(i, j int) bool {
		a, b := out.Ranked[i], out.Ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if properSubset(c.sets[b.Endpoint], c.sets[a.Endpoint]) {
			return true
		}
		if properSubset(c.sets[a.Endpoint], c.sets[b.Endpoint]) {
			return false
		}
		return a.Endpoint < b.Endpoint
	})
	if len(out.Ranked) == 0 {
		out.Reasons = append(out.Reasons, "no endpoint keyword or rule matched")
	}
	return out
}

func distinctTerms(tokens []string, terms []string) []string {
	var found []string
	for _, t := range terms {
		if containsPhrase(tokens, tokenize(t)) {
			found = append(found, t)
		}
	}
	return found
}

// a 是否为 b 的真子集
func properSubset(a, b map[string]bool) bool {
	if len(a) >= len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}
