// 包 catalog：路由参考表（端点、句式规则、多端点句式、融合模板、展示字段、地理实体）
// 背景：规则以数据形式维护，新增路由规则只需追加表项；默认表内嵌，可由目录覆盖同名文件。
package catalog

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"georoute/internal/logger"
	"georoute/internal/model"

	"gopkg.in/yaml.v3"
)

//go:embed defaults/*.yaml
var defaults embed.FS

var tableFiles = []string{"endpoints.yaml", "rules.yaml", "compositions.yaml", "geo_entities.yaml"}

// 单表大小上限，避免误配置的大文件占满内存
const maxTableSize = 1 << 20

// Rule：规范句式规则
type Rule struct {
	Pattern  string
	Endpoint string
	Weight   float64
	Reason   string
	Re       *regexp.Regexp
}

// CooccurrenceRule：领域词共现规则（如同时出现两个不同品牌）
type CooccurrenceRule struct {
	Terms       []string
	MinDistinct int
	Endpoints   []string
	Weight      float64
	Reason      string
}

// MultiPattern：跨端点句式；Endpoints 为空时取分类排名靠前的端点
type MultiPattern struct {
	Pattern   string
	Endpoints []string
	Template  string
	Reason    string
	Re        *regexp.Regexp
}

// Term：融合模板中的一项加权
type Term struct {
	Endpoint string
	Field    string
	Weight   float64
	Invert   bool
	Scale    float64
}

// Template：融合模板
type Template struct {
	ID          string
	Endpoints   []string
	Terms       []Term
	Clusterable bool
}

// FieldConflict：同名异义字段说明
type FieldConflict struct {
	Field    string
	Meanings map[string]string
}

// 文档注释：只读参考表集合
// 背景：进程启动时加载一次，随服务对象传递到各组件；加载后不再修改，跨请求共享无需加锁。
type Catalog struct {
	Endpoints           []model.EndpointDescriptor
	StopWords           map[string]bool
	Brands              []string
	Rules               []Rule
	Cooccurrence        []CooccurrenceRule
	ComparisonPattern   *regexp.Regexp
	MultiPatterns       []MultiPattern
	ClusterPatterns     []*regexp.Regexp
	ClusterCountPattern *regexp.Regexp
	Templates           []Template
	Conflicts           []FieldConflict
	Entities            []model.GeoEntity
	AreaIDWidth         int

	byID      map[string]int
	templates map[string]int
	display   map[string]string
}

// 文档注释：加载参考表
// 背景：dir 为空时仅用内嵌默认表；否则目录中存在的同名文件覆盖对应默认表。
// 返回：校验失败（未知端点、重复 ID、非法正则、非法实体类型）直接报错，不做部分加载。
func Load(dir string) (*Catalog, error) {
	files := make(map[string][]byte, len(tableFiles))
	for _, name := range tableFiles {
		b, err := defaults.ReadFile("defaults/" + name)
		if err != nil {
			return nil, fmt.Errorf("read embedded %s: %w", name, err)
		}
		files[name] = b
		if dir == "" {
			continue
		}
		p := filepath.Join(dir, name)
		fi, err := os.Stat(p)
		if err != nil {
			continue
		}
		if fi.Size() > maxTableSize {
			return nil, fmt.Errorf("%s too large: %d bytes", p, fi.Size())
		}
		ob, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		logger.L().Info("catalog_override", "file", p)
		files[name] = ob
	}
	return Parse(files)
}

// MustDefault：内嵌默认表（测试与命令行工具使用）
func MustDefault() *Catalog {
	c, err := Load("")
	if err != nil {
		panic(err)
	}
	return c
}

type endpointsYAML struct {
	Endpoints []struct {
		ID                string             `yaml:"id"`
		DisplayName       string             `yaml:"display_name"`
		Family            string             `yaml:"family"`
		PrimaryScoreField string             `yaml:"primary_score_field"`
		RequiredFields    []string           `yaml:"required_fields"`
		Comparative       bool               `yaml:"comparative"`
		Clusterable       bool               `yaml:"clusterable"`
		Keywords          map[string]float64 `yaml:"keywords"`
	} `yaml:"endpoints"`
}

type rulesYAML struct {
	StopWords []string `yaml:"stop_words"`
	Brands    []string `yaml:"brands"`
	Rules     []struct {
		Pattern  string  `yaml:"pattern"`
		Endpoint string  `yaml:"endpoint"`
		Weight   float64 `yaml:"weight"`
		Reason   string  `yaml:"reason"`
	} `yaml:"rules"`
	Cooccurrence []struct {
		Terms       string   `yaml:"terms"`
		MinDistinct int      `yaml:"min_distinct"`
		Endpoints   []string `yaml:"endpoints"`
		Weight      float64  `yaml:"weight"`
		Reason      string   `yaml:"reason"`
	} `yaml:"cooccurrence"`
	ComparisonPattern string `yaml:"comparison_pattern"`
	MultiPatterns     []struct {
		Pattern   string   `yaml:"pattern"`
		Endpoints []string `yaml:"endpoints"`
		Template  string   `yaml:"template"`
		Reason    string   `yaml:"reason"`
	} `yaml:"multi_patterns"`
	ClusterPatterns     []string `yaml:"cluster_patterns"`
	ClusterCountPattern string   `yaml:"cluster_count_pattern"`
}

type compositionsYAML struct {
	Templates []struct {
		ID          string   `yaml:"id"`
		Endpoints   []string `yaml:"endpoints"`
		Clusterable bool     `yaml:"clusterable"`
		Terms       []struct {
			Endpoint string  `yaml:"endpoint"`
			Field    string  `yaml:"field"`
			Weight   float64 `yaml:"weight"`
			Invert   bool    `yaml:"invert"`
			Scale    float64 `yaml:"scale"`
		} `yaml:"terms"`
	} `yaml:"templates"`
	DisplayRules []struct {
		AnalysisType string `yaml:"analysis_type"`
		Field        string `yaml:"field"`
	} `yaml:"display_rules"`
	Conflicts []struct {
		Field    string            `yaml:"field"`
		Meanings map[string]string `yaml:"meanings"`
	} `yaml:"conflicts"`
}

type entitiesYAML struct {
	Width    int `yaml:"width"`
	Entities []struct {
		Name     string   `yaml:"name"`
		Kind     string   `yaml:"kind"`
		Aliases  []string `yaml:"aliases"`
		Prefixes []string `yaml:"prefixes"`
		Exclude  []string `yaml:"exclude"`
	} `yaml:"entities"`
}

// Parse：从文件内容构建参考表（键为文件名）
func Parse(files map[string][]byte) (*Catalog, error) {
	c := &Catalog{
		StopWords: map[string]bool{},
		byID:      map[string]int{},
		templates: map[string]int{},
		display:   map[string]string{},
	}
	if err := c.parseEndpoints(files["endpoints.yaml"]); err != nil {
		return nil, err
	}
	if err := c.parseRules(files["rules.yaml"]); err != nil {
		return nil, err
	}
	if err := c.parseCompositions(files["compositions.yaml"]); err != nil {
		return nil, err
	}
	if err := c.parseEntities(files["geo_entities.yaml"]); err != nil {
		return nil, err
	}
	for _, mp := range c.MultiPatterns {
		if mp.Template == "" {
			continue
		}
		if _, ok := c.Template(mp.Template); !ok {
			return nil, fmt.Errorf("rules.yaml: multi_pattern references unknown template %q", mp.Template)
		}
	}
	logger.L().Debug("catalog_loaded",
		"endpoints", len(c.Endpoints),
		"rules", len(c.Rules),
		"multi_patterns", len(c.MultiPatterns),
		"templates", len(c.Templates),
		"entities", len(c.Entities),
	)
	return c, nil
}

func (c *Catalog) parseEndpoints(b []byte) error {
	var y endpointsYAML
	if err := yaml.Unmarshal(b, &y); err != nil {
		return fmt.Errorf("endpoints.yaml: %w", err)
	}
	if len(y.Endpoints) == 0 {
		return fmt.Errorf("endpoints.yaml: no endpoints")
	}
	for i, e := range y.Endpoints {
		if e.ID == "" {
			return fmt.Errorf("endpoints.yaml: endpoint at index %d has empty id", i)
		}
		if _, dup := c.byID[e.ID]; dup {
			return fmt.Errorf("endpoints.yaml: duplicate endpoint %q", e.ID)
		}
		if e.PrimaryScoreField == "" {
			return fmt.Errorf("endpoints.yaml: endpoint %q has no primary_score_field", e.ID)
		}
		if len(e.Keywords) == 0 {
			logger.L().Warn("catalog_endpoint_no_keywords", "endpoint", e.ID)
		}
		kw := make(map[string]float64, len(e.Keywords))
		for k, w := range e.Keywords {
			if w <= 0 {
				return fmt.Errorf("endpoints.yaml: endpoint %q keyword %q has non-positive weight", e.ID, k)
			}
			kw[strings.ToLower(strings.TrimSpace(k))] = w
		}
		fam := e.Family
		if fam == "" {
			fam = e.ID
		}
		c.byID[e.ID] = len(c.Endpoints)
		c.Endpoints = append(c.Endpoints, model.EndpointDescriptor{
			ID:                 e.ID,
			DisplayName:        e.DisplayName,
			Family:             fam,
			Keywords:           kw,
			RequiredFieldNames: e.RequiredFields,
			PrimaryScoreField:  e.PrimaryScoreField,
			Comparative:        e.Comparative,
			Clusterable:        e.Clusterable,
		})
	}
	return nil
}

func (c *Catalog) parseRules(b []byte) error {
	var y rulesYAML
	if err := yaml.Unmarshal(b, &y); err != nil {
		return fmt.Errorf("rules.yaml: %w", err)
	}
	for _, w := range y.StopWords {
		c.StopWords[strings.ToLower(w)] = true
	}
	for _, br := range y.Brands {
		c.Brands = append(c.Brands, strings.ToLower(br))
	}
	for i, r := range y.Rules {
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return fmt.Errorf("rules.yaml: rule %d: %w", i, err)
		}
		if _, ok := c.byID[r.Endpoint]; !ok {
			return fmt.Errorf("rules.yaml: rule %d targets unknown endpoint %q", i, r.Endpoint)
		}
		c.Rules = append(c.Rules, Rule{Pattern: r.Pattern, Endpoint: r.Endpoint, Weight: r.Weight, Reason: r.Reason, Re: re})
	}
	for i, co := range y.Cooccurrence {
		var terms []string
		switch co.Terms {
		case "brands":
			terms = c.Brands
		default:
			return fmt.Errorf("rules.yaml: cooccurrence %d: unknown term set %q", i, co.Terms)
		}
		if err := c.checkEndpoints("rules.yaml", co.Endpoints); err != nil {
			return err
		}
		minDistinct := co.MinDistinct
		if minDistinct <= 0 {
			minDistinct = 2
		}
		c.Cooccurrence = append(c.Cooccurrence, CooccurrenceRule{Terms: terms, MinDistinct: minDistinct, Endpoints: co.Endpoints, Weight: co.Weight, Reason: co.Reason})
	}
	if y.ComparisonPattern != "" {
		re, err := regexp.Compile("(?i)" + y.ComparisonPattern)
		if err != nil {
			return fmt.Errorf("rules.yaml: comparison_pattern: %w", err)
		}
		c.ComparisonPattern = re
	}
	for i, mp := range y.MultiPatterns {
		re, err := regexp.Compile("(?i)" + mp.Pattern)
		if err != nil {
			return fmt.Errorf("rules.yaml: multi_pattern %d: %w", i, err)
		}
		if err := c.checkEndpoints("rules.yaml", mp.Endpoints); err != nil {
			return err
		}
		c.MultiPatterns = append(c.MultiPatterns, MultiPattern{Pattern: mp.Pattern, Endpoints: mp.Endpoints, Template: mp.Template, Reason: mp.Reason, Re: re})
	}
	for i, p := range y.ClusterPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return fmt.Errorf("rules.yaml: cluster_pattern %d: %w", i, err)
		}
		c.ClusterPatterns = append(c.ClusterPatterns, re)
	}
	if y.ClusterCountPattern != "" {
		re, err := regexp.Compile("(?i)" + y.ClusterCountPattern)
		if err != nil {
			return fmt.Errorf("rules.yaml: cluster_count_pattern: %w", err)
		}
		c.ClusterCountPattern = re
	}
	return nil
}

func (c *Catalog) parseCompositions(b []byte) error {
	var y compositionsYAML
	if err := yaml.Unmarshal(b, &y); err != nil {
		return fmt.Errorf("compositions.yaml: %w", err)
	}
	for _, t := range y.Templates {
		if t.ID == "" {
			return fmt.Errorf("compositions.yaml: template with empty id")
		}
		if _, dup := c.templates[t.ID]; dup {
			return fmt.Errorf("compositions.yaml: duplicate template %q", t.ID)
		}
		if err := c.checkEndpoints("compositions.yaml", t.Endpoints); err != nil {
			return err
		}
		tpl := Template{ID: t.ID, Endpoints: t.Endpoints, Clusterable: t.Clusterable}
		for _, term := range t.Terms {
			d, ok := c.Endpoint(term.Endpoint)
			if !ok {
				return fmt.Errorf("compositions.yaml: template %q term for unknown endpoint %q", t.ID, term.Endpoint)
			}
			if term.Weight <= 0 {
				return fmt.Errorf("compositions.yaml: template %q term %q has non-positive weight", t.ID, term.Endpoint)
			}
			f := term.Field
			if f == "" {
				f = d.PrimaryScoreField
			}
			scale := term.Scale
			if scale <= 0 {
				scale = 100
			}
			tpl.Terms = append(tpl.Terms, Term{Endpoint: term.Endpoint, Field: f, Weight: term.Weight, Invert: term.Invert, Scale: scale})
		}
		c.templates[t.ID] = len(c.Templates)
		c.Templates = append(c.Templates, tpl)
	}
	for _, r := range y.DisplayRules {
		if _, dup := c.display[r.AnalysisType]; dup {
			return fmt.Errorf("compositions.yaml: analysis type %q has more than one display rule", r.AnalysisType)
		}
		c.display[r.AnalysisType] = r.Field
	}
	for _, cf := range y.Conflicts {
		c.Conflicts = append(c.Conflicts, FieldConflict{Field: cf.Field, Meanings: cf.Meanings})
	}
	return nil
}

func (c *Catalog) parseEntities(b []byte) error {
	var y entitiesYAML
	if err := yaml.Unmarshal(b, &y); err != nil {
		return fmt.Errorf("geo_entities.yaml: %w", err)
	}
	c.AreaIDWidth = y.Width
	if c.AreaIDWidth <= 0 {
		c.AreaIDWidth = 5
	}
	seen := map[string]bool{}
	for _, e := range y.Entities {
		k := model.EntityKind(e.Kind)
		if !k.Valid() {
			return fmt.Errorf("geo_entities.yaml: entity %q has invalid kind %q", e.Name, e.Kind)
		}
		if len(e.Prefixes) == 0 {
			return fmt.Errorf("geo_entities.yaml: entity %q has no prefixes", e.Name)
		}
		key := strings.ToLower(e.Name)
		if seen[key] {
			return fmt.Errorf("geo_entities.yaml: duplicate entity %q", e.Name)
		}
		seen[key] = true
		c.Entities = append(c.Entities, model.GeoEntity{Name: e.Name, Kind: k, Aliases: e.Aliases, Prefixes: e.Prefixes, Exclude: e.Exclude})
	}
	return nil
}

func (c *Catalog) checkEndpoints(file string, ids []string) error {
	for _, id := range ids {
		if _, ok := c.byID[id]; !ok {
			return fmt.Errorf("%s: unknown endpoint %q", file, id)
		}
	}
	return nil
}

// Endpoint：按 ID 查找端点
func (c *Catalog) Endpoint(id string) (model.EndpointDescriptor, bool) {
	i, ok := c.byID[id]
	if !ok {
		return model.EndpointDescriptor{}, false
	}
	return c.Endpoints[i], true
}

// Template：按 ID 查找融合模板
func (c *Catalog) Template(id string) (Template, bool) {
	i, ok := c.templates[id]
	if !ok {
		return Template{}, false
	}
	return c.Templates[i], true
}

// TemplateFor：查找端点集合完全一致的模板（与顺序无关）
func (c *Catalog) TemplateFor(endpoints []string) (Template, bool) {
	want := sortedCopy(endpoints)
	for _, t := range c.Templates {
		got := sortedCopy(t.Endpoints)
		if len(got) != len(want) {
			continue
		}
		same := true
		for i := range got {
			if got[i] != want[i] {
				same = false
				break
			}
		}
		if same {
			return t, true
		}
	}
	return Template{}, false
}

// DisplayField：分析类型对应的唯一展示字段
func (c *Catalog) DisplayField(analysisType string) (string, bool) {
	f, ok := c.display[analysisType]
	return f, ok
}

// ConflictsAmong：返回在给定端点中至少两个存在不同含义的字段
func (c *Catalog) ConflictsAmong(endpoints []string) []FieldConflict {
	var out []FieldConflict
	for _, cf := range c.Conflicts {
		n := 0
		for _, e := range endpoints {
			if _, ok := cf.Meanings[e]; ok {
				n++
			}
		}
		if n >= 2 {
			out = append(out, cf)
		}
	}
	return out
}

func sortedCopy(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}
