package router

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"georoute/internal/catalog"
	"georoute/internal/classify"
	"georoute/internal/compose"
	"georoute/internal/config"
	"georoute/internal/dataset"
	"georoute/internal/georef"
	"georoute/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func num(v float64) model.Value { return model.Number(v) }

func rec(id string, fields map[string]model.Value) model.AnalysisRecord {
	return model.AnalysisRecord{AreaID: id, Fields: fields}
}

func square(x0, y0, size float64) *model.Geometry {
	ring := []model.Point{{Lon: x0, Lat: y0}, {Lon: x0 + size, Lat: y0}, {Lon: x0 + size, Lat: y0 + size}, {Lon: x0, Lat: y0 + size}, {Lon: x0, Lat: y0}}
	return &model.Geometry{Polys: []model.Polygon{{Rings: [][]model.Point{ring}, BBox: [4]float64{x0, y0, x0 + size, y0 + size}}}}
}

type fixture struct {
	svc   *Service
	store *dataset.MemoryStore
}

func newFixture(t *testing.T, cfg config.Config) fixture {
	t.Helper()
	cat := catalog.MustDefault()
	var areas []georef.Area
	for i := 0; i < 12; i++ {
		areas = append(areas, georef.Area{ID: fmt.Sprintf("%05d", 33010+i), Geometry: square(-80.3+float64(i)*0.01, 25.8, 0.01)})
	}
	geo := georef.NewReference(cat.Entities, georef.NewSnapshot(areas, 5), georef.Options{Width: 5})
	store := dataset.NewMemoryStore()
	return fixture{svc: New(cfg, cat, store, geo, nil), store: store}
}

func reasoning(res *Result) string { return strings.Join(res.Decision.Reasoning, "\n") }

func TestRouteCompareBrands(t *testing.T) {
	f := newFixture(t, config.Default())
	f.store.Put("competitive-analysis", []model.AnalysisRecord{
		rec("10003", map[string]model.Value{"competitive_advantage_score": num(8.8), "market_share": num(31.2), "value": num(8.8)}),
		rec("10001", map[string]model.Value{"competitive_advantage_score": num(6.5), "market_share": num(40)}),
		rec("10002", map[string]model.Value{"market_share": num(12)}),
	})

	res, err := f.svc.Route(context.Background(), Request{Query: "Compare Nike vs Adidas market position"})
	require.NoError(t, err)
	require.True(t, res.Decision.Accepted)
	assert.False(t, res.Decision.IsMulti)
	assert.Equal(t, []string{"competitive-analysis"}, res.Decision.Endpoints)
	assert.Contains(t, res.Decision.Signals, "comparison")
	assert.NotEmpty(t, res.RequestID)

	assert.Equal(t, "competitive_advantage_score", res.DisplayField)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "10003", res.Records[0].Record.AreaID)
	assert.Equal(t, 8.8, res.Records[0].DisplayValue)
	assert.Equal(t, 1, res.Records[0].Rank)
	assert.Equal(t, []string{"10002"}, res.Unranked)
	assert.Contains(t, reasoning(res), "excluded from ranking")
	assert.Greater(t, res.Decision.Confidence, 0.5)
	assert.LessOrEqual(t, res.Decision.Confidence, 1.0)
	assert.Equal(t, []Stage{StageReceived, StageClassified, StageGeoFiltered, StageSingleRouted, StageFinalized}, res.States)
}

func TestRouteCompareBrandsTargetValue(t *testing.T) {
	f := newFixture(t, config.Default())
	f.store.Put("competitive-analysis", []model.AnalysisRecord{
		rec("10001", map[string]model.Value{"competitive_advantage_score": num(8.6), "market_share": num(22.4)}),
		rec("10003", map[string]model.Value{"competitive_advantage_score": num(8.8), "market_share": num(31.2)}),
		rec("10002", map[string]model.Value{"competitive_advantage_score": num(5.9), "market_share": num(12.0)}),
	})

	res, err := f.svc.Route(context.Background(), Request{Query: "Compare Nike vs Adidas market position"})
	require.NoError(t, err)
	assert.False(t, res.Decision.IsMulti)
	assert.Equal(t, []string{"competitive-analysis"}, res.Decision.Endpoints)
	require.Len(t, res.Records, 3)
	assert.Empty(t, res.Unranked)

	var ids []string
	for _, r := range res.Records {
		ids = append(ids, r.Record.AreaID)
	}
	assert.Equal(t, []string{"10003", "10001", "10002"}, ids)
	assert.Equal(t, 8.8, res.Records[0].DisplayValue)
	assert.NotEqual(t, 31.2, res.Records[0].DisplayValue)
}

func TestConfidenceGrowsWithSignals(t *testing.T) {
	rule := classify.Classification{Ranked: []classify.EndpointScore{{RuleHits: 1}}}
	steps := []struct {
		name    string
		cls     classify.Classification
		keyword bool
		entity  bool
		want    []string
	}{
		{name: "keyword", keyword: true, want: []string{"keyword"}},
		{name: "keyword+pattern", cls: rule, keyword: true, want: []string{"keyword", "pattern"}},
		{name: "keyword+pattern+geo", cls: rule, keyword: true, entity: true, want: []string{"keyword", "pattern", "geo-entity"}},
	}
	for _, det := range []float64{0, 0.5, 1} {
		prev := -1.0
		for _, st := range steps {
			signals := signalsOf(st.cls, st.keyword, st.entity, compose.Detection{Confidence: det})
			require.Equal(t, st.want, signals, st.name)
			c := confidence(signals, det)
			assert.Greater(t, c, prev, "%s detector=%.1f", st.name, det)
			assert.GreaterOrEqual(t, c, 0.0)
			assert.LessOrEqual(t, c, 1.0)
			prev = c
		}
	}

	// 对比信号不计入独立信号数
	withCmp := signalsOf(classify.Classification{}, true, false, compose.Detection{Comparative: true})
	assert.Equal(t, []string{"keyword", "comparison"}, withCmp)
	assert.Equal(t, confidence([]string{"keyword"}, 0.5), confidence(withCmp, 0.5))
	assert.Equal(t, 1.0, confidence([]string{"keyword", "pattern", "geo-entity"}, 1))
	assert.Equal(t, []string{"pattern"}, signalsOf(classify.Classification{}, false, false, compose.Detection{PatternMatched: true}))
}

func TestRouteOpportunityRisk(t *testing.T) {
	f := newFixture(t, config.Default())
	f.store.Put("market-opportunity", []model.AnalysisRecord{
		rec("33101", map[string]model.Value{"opportunity_score": num(80)}),
		rec("33102", map[string]model.Value{"opportunity_score": num(60)}),
	})
	f.store.Put("risk-analysis", []model.AnalysisRecord{
		rec("33101", map[string]model.Value{"risk_score": num(20)}),
		rec("33103", map[string]model.Value{"risk_score": num(10)}),
	})

	res, err := f.svc.Route(context.Background(), Request{Query: "show me high-opportunity, low-risk markets"})
	require.NoError(t, err)
	assert.True(t, res.Decision.IsMulti)
	assert.Equal(t, []string{"market-opportunity", "risk-analysis"}, res.Decision.Endpoints)
	assert.Equal(t, "opportunity-risk", res.AnalysisType)
	require.Len(t, res.Composite, 3)
	for _, r := range res.Composite {
		assert.True(t, r.HasScore, r.AreaID)
	}
	// 33103：仅风险 10 → 反向 90；33101：0.6×80 + 0.4×80 = 80；33102：60
	assert.Equal(t, "33103", res.Composite[0].AreaID)
	assert.InDelta(t, 90, res.Composite[0].DisplayValue, 1e-9)
	assert.Equal(t, "33102", res.Composite[2].AreaID)
	assert.True(t, res.State(StageMultiComposed))
	assert.False(t, res.State(StageClustered))
}

func TestRouteRejectsOffTopic(t *testing.T) {
	f := newFixture(t, config.Default())
	queries := []string{
		"",
		"   ",
		"tell me a joke",
		"how do I bake bread",
		"what's the weather like tomorrow",
	}
	rng := rand.New(rand.NewSource(17))
	const letters = "bcdghkmpqtvwxz"
	for i := 0; i < 50; i++ {
		var words []string
		for w := 0; w < 1+rng.Intn(6); w++ {
			b := make([]byte, 2+rng.Intn(6))
			for j := range b {
				b[j] = letters[rng.Intn(len(letters))]
			}
			words = append(words, string(b))
		}
		queries = append(queries, strings.Join(words, " "))
	}
	for _, q := range queries {
		res, err := f.svc.Route(context.Background(), Request{Query: q})
		require.NoError(t, err, q)
		assert.False(t, res.Decision.Accepted, q)
		assert.NotEmpty(t, res.Decision.RejectionMessage, q)
		assert.Empty(t, res.Decision.Endpoints, q)
		assert.True(t, res.State(StageRejected), q)
		assert.Contains(t, reasoning(res), model.ErrOutOfScope.Error(), q)
	}
}

func TestRouteGeoOnlyUsesDefaultEndpoint(t *testing.T) {
	f := newFixture(t, config.Default())
	f.store.Put("strategic-analysis", []model.AnalysisRecord{
		rec("33101", map[string]model.Value{"strategic_value_score": num(70)}),
		rec("10001", map[string]model.Value{"strategic_value_score": num(90)}),
	})
	res, err := f.svc.Route(context.Background(), Request{Query: "Miami"})
	require.NoError(t, err)
	assert.True(t, res.Decision.Accepted)
	assert.Equal(t, []string{"strategic-analysis"}, res.Decision.Endpoints)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "33101", res.Records[0].Record.AreaID)
	assert.Equal(t, []string{"Miami"}, res.Records[0].Record.GeoTags)
	require.NotNil(t, res.GeoFilter)
	assert.Equal(t, 2, res.GeoFilter.InputCount)
}

func TestRouteClustersTerritories(t *testing.T) {
	f := newFixture(t, config.Default())
	values := []float64{10, 12, 14, 16, 48, 50, 52, 54, 84, 86, 88, 90}
	var recs []model.AnalysisRecord
	for i, v := range values {
		recs = append(recs, rec(fmt.Sprintf("%05d", 33010+i), map[string]model.Value{"cluster_performance_score": num(v)}))
	}
	recs = append(recs, rec("33601", map[string]model.Value{"cluster_performance_score": num(40)}))
	f.store.Put("spatial-clusters", recs)

	res, err := f.svc.Route(context.Background(), Request{Query: "group the areas in Miami into 3 territories"})
	require.NoError(t, err)
	assert.Equal(t, []string{"spatial-clusters"}, res.Decision.Endpoints)
	require.True(t, res.State(StageClustered))
	require.Len(t, res.Clusters, 3)
	assert.Equal(t, "cluster_performance_score", res.ClusterField)

	seen := map[string]bool{}
	for _, cl := range res.Clusters {
		assert.True(t, cl.AdjacencySatisfied)
		assert.Len(t, cl.MemberAreaIDs, 4)
		for _, id := range cl.MemberAreaIDs {
			assert.False(t, seen[id], id)
			seen[id] = true
		}
	}
	assert.Len(t, seen, 12)
	assert.False(t, seen["33601"])
	assert.Contains(t, reasoning(res), "boundaries for 12 areas")
}

func TestRouteExplicitClusterCount(t *testing.T) {
	f := newFixture(t, config.Default())
	var recs []model.AnalysisRecord
	for i := 0; i < 12; i++ {
		recs = append(recs, rec(fmt.Sprintf("%05d", 33010+i), map[string]model.Value{"strategic_value_score": num(float64(i * 10))}))
	}
	f.store.Put("strategic-analysis", recs)
	res, err := f.svc.Route(context.Background(), Request{Query: "strategic expansion in Miami", ClusterCount: 2})
	require.NoError(t, err)
	require.True(t, res.State(StageClustered))
	assert.Len(t, res.Clusters, 2)
}

func TestRouteSingleDatasetUnavailable(t *testing.T) {
	f := newFixture(t, config.Default())
	res, err := f.svc.Route(context.Background(), Request{Query: "what are the biggest risks"})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrDatasetUnavailable)
	require.NotNil(t, res)
	assert.Equal(t, []string{"risk-analysis"}, res.Decision.Endpoints)
	assert.Contains(t, reasoning(res), "risk-analysis")
	assert.True(t, res.State(StageFinalized))
}

func TestRouteMultiWithMissingDataset(t *testing.T) {
	f := newFixture(t, config.Default())
	f.store.Put("market-opportunity", []model.AnalysisRecord{
		rec("33101", map[string]model.Value{"opportunity_score": num(80)}),
	})
	res, err := f.svc.Route(context.Background(), Request{Query: "show me high-opportunity, low-risk markets"})
	require.NoError(t, err)
	assert.True(t, res.Decision.IsMulti)
	require.Len(t, res.Composite, 1)
	assert.InDelta(t, 80, res.Composite[0].CompositeScore, 1e-9)
	out := reasoning(res)
	assert.Contains(t, out, "risk-analysis skipped")
	assert.Contains(t, out, "redistributed")
}

func TestRouteAllMultiDatasetsMissing(t *testing.T) {
	f := newFixture(t, config.Default())
	res, err := f.svc.Route(context.Background(), Request{Query: "show me high-opportunity, low-risk markets"})
	assert.ErrorIs(t, err, model.ErrDatasetUnavailable)
	require.NotNil(t, res)
	assert.Empty(t, res.Composite)
}

func TestRoutePartitionsByEntity(t *testing.T) {
	f := newFixture(t, config.Default())
	f.store.Put("risk-analysis", []model.AnalysisRecord{
		rec("33101", map[string]model.Value{"risk_score": num(20)}),
		rec("33102", map[string]model.Value{"risk_score": num(40)}),
		rec("33601", map[string]model.Value{"risk_score": num(70)}),
		rec("33602", map[string]model.Value{"population": num(7)}),
	})
	res, err := f.svc.Route(context.Background(), Request{Query: "risk in Miami and Tampa"})
	require.NoError(t, err)
	assert.False(t, res.Decision.IsMulti)
	require.Len(t, res.Partitions, 2)
	assert.Equal(t, EntitySummary{Entity: "Miami", Count: 2, Mean: 30, Ranked: 2}, res.Partitions[0])
	assert.Equal(t, EntitySummary{Entity: "Tampa", Count: 2, Mean: 70, Ranked: 1}, res.Partitions[1])
}

func TestRouteCarriesContext(t *testing.T) {
	f := newFixture(t, config.Default())
	res, err := f.svc.Route(context.Background(), Request{Query: "tell me a joke", Context: "previous: risk in Miami"})
	require.NoError(t, err)
	assert.Equal(t, "previous: risk in Miami", res.Context)
	assert.False(t, res.Decision.Accepted)
}

func TestClusterRequest(t *testing.T) {
	f := newFixture(t, config.Default())
	cases := []struct {
		query       string
		explicit    int
		clusterable bool
		k           int
		want        bool
	}{
		{"risk by zip", 0, false, 0, false},
		{"split Miami into 4 territories", 0, false, 4, true},
		{"show contiguous areas", 0, false, 5, true},
		{"risk by zip", 0, true, 5, true},
		{"into 4 clusters", 7, false, 7, true},
	}
	for _, c := range cases {
		t.Run(c.query, func(t *testing.T) {
			k, want := f.svc.clusterRequest(c.query, c.explicit, c.clusterable)
			assert.Equal(t, c.want, want)
			assert.Equal(t, c.k, k)
		})
	}
}
