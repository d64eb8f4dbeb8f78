package geofilter

import (
	"fmt"
	"math/rand"
	"testing"

	"georoute/internal/catalog"
	"georoute/internal/georef"
	"georoute/internal/model"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(id string, score float64) model.AnalysisRecord {
	return model.AnalysisRecord{
		AreaID:         id,
		Fields:         map[string]model.Value{"score": model.Number(score)},
		SourceEndpoint: "strategic-analysis",
	}
}

func defaultResolver() *Resolver {
	c := catalog.MustDefault()
	ref := georef.NewReference(c.Entities, nil, georef.Options{Width: c.AreaIDWidth})
	return NewResolver(ref, NewPrefixTable(c.Entities, c.AreaIDWidth, nil), nil)
}

func ids(rs []model.AnalysisRecord) []string {
	var out []string
	for _, r := range rs {
		out = append(out, r.AreaID)
	}
	return out
}

func TestFilterNoEntity(t *testing.T) {
	r := defaultResolver()
	in := []model.AnalysisRecord{rec("33101", 1), rec("10001", 2)}
	res := r.Filter("top strategic markets", in)
	assert.Equal(t, MethodNone, res.Stats.FilterMethod)
	assert.Empty(t, res.MatchedEntities)
	assert.Equal(t, in, res.Records)
	assert.Equal(t, 2, res.Stats.OutputCount)
}

func TestFilterMiamiBeachVsMiami(t *testing.T) {
	r := defaultResolver()
	in := []model.AnalysisRecord{rec("33101", 1), rec("33139", 2), rec("33140", 3), rec("33301", 4), rec("10001", 5)}

	res := r.Filter("top areas in Miami Beach", in)
	assert.Equal(t, MethodEntityPrefix, res.Stats.FilterMethod)
	assert.Equal(t, []string{"33139", "33140"}, ids(res.Records))

	res = r.Filter("top areas in Miami", in)
	assert.Equal(t, []string{"33101"}, ids(res.Records), "Miami Beach codes are excluded from Miami")

	res = r.Filter("compare Miami vs Miami Beach", in)
	assert.Equal(t, []string{"33101", "33139", "33140"}, ids(res.Records))
	assert.Equal(t, map[string]int{"Miami": 1, "Miami Beach": 2}, res.Stats.PerEntity)
	assert.Equal(t, []string{"Miami"}, res.Records[0].GeoTags)
	assert.Equal(t, []string{"Miami Beach"}, res.Records[1].GeoTags)

	parts := PartitionByEntity(res.MatchedEntities, res.Records)
	require.Len(t, parts, 2)
	assert.Equal(t, "Miami", parts[0].Entity)
	assert.Len(t, parts[0].Records, 1)
	assert.Len(t, parts[1].Records, 2)
}

func TestFilterPadsAreaIDs(t *testing.T) {
	r := defaultResolver()
	res := r.Filter("demographics in Newark", []model.AnalysisRecord{rec("7102", 1), rec("7302", 2)})
	assert.Equal(t, []string{"07102"}, ids(res.Records))
}

func TestFilterUnionOfNestedEntities(t *testing.T) {
	r := defaultResolver()
	in := []model.AnalysisRecord{rec("33101", 1), rec("32801", 2), rec("10001", 3)}
	res := r.Filter("Miami and the rest of Florida", in)
	assert.Equal(t, []string{"33101", "32801"}, ids(res.Records))
	assert.Equal(t, []string{"Miami", "Florida"}, res.Records[0].GeoTags)
	assert.Equal(t, []string{"Florida"}, res.Records[1].GeoTags)
}

func TestFilterIdempotent(t *testing.T) {
	r := defaultResolver()
	rng := rand.New(rand.NewSource(42))
	prefixes := []string{"330", "331", "3313", "333", "100", "112", "071", "073", "327", "606"}
	queries := []string{"Miami", "Miami Beach and Tampa", "NYC vs Brooklyn", "anything", "Newark, Jersey City", "Florida"}
	for round := 0; round < 20; round++ {
		var in []model.AnalysisRecord
		for i := 0; i < 50; i++ {
			p := prefixes[rng.Intn(len(prefixes))]
			id := fmt.Sprintf("%s%0*d", p, 5-len(p), rng.Intn(100))
			in = append(in, rec(id[:5], rng.Float64()*100))
		}
		q := queries[round%len(queries)]
		once := r.Filter(q, in)
		twice := r.Filter(q, once.Records)
		if diff := cmp.Diff(once.Records, twice.Records); diff != "" {
			t.Fatalf("query %q not idempotent (-once +twice):\n%s", q, diff)
		}
		assert.Equal(t, once.Stats.OutputCount, twice.Stats.InputCount)
	}
}

func TestAmbiguousSiblingPrefixes(t *testing.T) {
	entities := []model.GeoEntity{
		{Name: "Alpha", Kind: model.KindCity, Prefixes: []string{"900"}},
		{Name: "Beta", Kind: model.KindCity, Prefixes: []string{"9001"}},
		{Name: "Gamma", Kind: model.KindCity, Prefixes: []string{"901"}, Exclude: []string{"9015"}},
		{Name: "Delta", Kind: model.KindCity, Prefixes: []string{"9015"}},
		{Name: "West", Kind: model.KindRegion, Prefixes: []string{"90"}},
	}
	table := NewPrefixTable(entities, 5, nil)
	require.Len(t, table.Overlaps(), 1)
	assert.Equal(t, Overlap{Code: "9001", Entities: []string{"Alpha", "Beta"}}, table.Overlaps()[0])

	r := NewResolver(georef.NewReference(entities, nil, georef.Options{Width: 5}), table, nil)
	in := []model.AnalysisRecord{rec("90012", 1), rec("90020", 2), rec("90150", 3), rec("90110", 4)}

	res := r.Filter("Alpha", in)
	assert.Equal(t, []string{"90020"}, ids(res.Records))
	assert.Equal(t, 1, res.Stats.ExcludedAmbiguous)

	res = r.Filter("Beta", in)
	assert.Empty(t, res.Records, "ambiguous code excluded from both siblings")
	assert.Equal(t, 1, res.Stats.ExcludedAmbiguous)

	res = r.Filter("Gamma vs Delta", in)
	assert.Equal(t, []string{"90150", "90110"}, ids(res.Records))
	assert.Zero(t, res.Stats.ExcludedAmbiguous)

	res = r.Filter("West", in)
	assert.Len(t, res.Records, 4, "nesting across kinds is not ambiguous")
}

func TestFilterDoesNotMutateInput(t *testing.T) {
	r := defaultResolver()
	in := []model.AnalysisRecord{rec("3101", 1)}
	in[0].GeoTags = []string{"stale"}
	_ = r.Filter("Brooklyn", []model.AnalysisRecord{rec("11201", 1)})
	res := r.Filter("Newark", in)
	assert.Empty(t, res.Records)
	assert.Equal(t, "3101", in[0].AreaID)
	assert.Equal(t, []string{"stale"}, in[0].GeoTags)
}
