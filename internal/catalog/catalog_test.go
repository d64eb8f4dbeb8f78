package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"georoute/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	comp, ok := c.Endpoint("competitive-analysis")
	require.True(t, ok)
	assert.Equal(t, "competitive_advantage_score", comp.PrimaryScoreField)
	assert.True(t, comp.Comparative)
	assert.True(t, comp.HasKeyword("market position"))

	_, ok = c.Endpoint("nope")
	assert.False(t, ok)

	assert.True(t, c.StopWords["the"])
	assert.Contains(t, c.Brands, "nike")
	assert.NotEmpty(t, c.Rules)
	assert.NotNil(t, c.ComparisonPattern)
	assert.NotNil(t, c.ClusterCountPattern)
	assert.Equal(t, 5, c.AreaIDWidth)
}

func TestTemplates(t *testing.T) {
	c := MustDefault()
	tpl, ok := c.TemplateFor([]string{"risk-analysis", "market-opportunity"})
	require.True(t, ok)
	assert.Equal(t, "opportunity-risk", tpl.ID)
	require.Len(t, tpl.Terms, 2)
	assert.Equal(t, "opportunity_score", tpl.Terms[0].Field, "term field defaults to the endpoint primary score")
	assert.True(t, tpl.Terms[1].Invert)
	assert.Equal(t, 100.0, tpl.Terms[1].Scale)

	_, ok = c.TemplateFor([]string{"risk-analysis"})
	assert.False(t, ok)
}

func TestDisplayRulesAreUnique(t *testing.T) {
	c := MustDefault()
	for _, e := range c.Endpoints {
		f, ok := c.DisplayField(e.ID)
		require.True(t, ok, e.ID)
		assert.Equal(t, e.PrimaryScoreField, f, e.ID)
	}
	f, ok := c.DisplayField("opportunity-risk")
	require.True(t, ok)
	assert.Equal(t, "composite", f)
}

func TestConflictsAmong(t *testing.T) {
	c := MustDefault()
	got := c.ConflictsAmong([]string{"competitive-analysis", "brand-difference"})
	var fields []string
	for _, cf := range got {
		fields = append(fields, cf.Field)
	}
	assert.ElementsMatch(t, []string{"value", "market_share"}, fields)
	assert.Empty(t, c.ConflictsAmong([]string{"competitive-analysis"}))
}

func TestEntities(t *testing.T) {
	c := MustDefault()
	var miami model.GeoEntity
	for _, e := range c.Entities {
		if e.Name == "Miami" {
			miami = e
		}
	}
	assert.Equal(t, model.KindCity, miami.Kind)
	assert.Contains(t, miami.Exclude, "33139")
}

func TestParseValidation(t *testing.T) {
	base := func() map[string][]byte {
		files := map[string][]byte{}
		for _, n := range tableFiles {
			b, err := defaults.ReadFile("defaults/" + n)
			require.NoError(t, err)
			files[n] = b
		}
		return files
	}
	cases := map[string]struct {
		file    string
		content string
	}{
		"unknown rule endpoint": {"rules.yaml", "rules:\n  - pattern: 'x'\n    endpoint: ghost\n    weight: 1\n"},
		"bad regex":             {"rules.yaml", "rules:\n  - pattern: '('\n    endpoint: risk-analysis\n    weight: 1\n"},
		"duplicate endpoint":    {"endpoints.yaml", "endpoints:\n  - {id: a, primary_score_field: s}\n  - {id: a, primary_score_field: s}\n"},
		"missing primary field": {"endpoints.yaml", "endpoints:\n  - {id: a}\n"},
		"bad entity kind":       {"geo_entities.yaml", "entities:\n  - {name: X, kind: planet, prefixes: ['1']}\n"},
		"entity without prefix": {"geo_entities.yaml", "entities:\n  - {name: X, kind: city}\n"},
		"two display rules":     {"compositions.yaml", "display_rules:\n  - {analysis_type: a, field: x}\n  - {analysis_type: a, field: y}\n"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			files := base()
			files[tc.file] = []byte(tc.content)
			_, err := Parse(files)
			assert.Error(t, err)
		})
	}
}

func TestLoadOverrideDir(t *testing.T) {
	dir := t.TempDir()
	ents := "width: 6\nentities:\n  - {name: Springfield, kind: city, prefixes: ['627']}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "geo_entities.yaml"), []byte(ents), 0o644))
	c, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, c.Entities, 1)
	assert.Equal(t, "Springfield", c.Entities[0].Name)
	assert.Equal(t, 6, c.AreaIDWidth)
	// 其余表仍为默认
	_, ok := c.Endpoint("risk-analysis")
	assert.True(t, ok)
}
