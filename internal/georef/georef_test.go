package georef

import (
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"georoute/internal/catalog"
	"georoute/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(x0, y0, size float64) []any {
	return []any{
		[]any{x0, y0}, []any{x0 + size, y0}, []any{x0 + size, y0 + size}, []any{x0, y0 + size}, []any{x0, y0},
	}
}

func squareGeom(t *testing.T, x0, y0, size float64) *model.Geometry {
	t.Helper()
	g, err := ParseGeometry(map[string]any{"type": "Polygon", "coordinates": []any{square(x0, y0, size)}})
	require.NoError(t, err)
	return g
}

func TestParseGeometry(t *testing.T) {
	g := squareGeom(t, -80.2, 25.7, 0.1)
	require.Len(t, g.Polys, 1)
	assert.InDeltaSlice(t, []float64{-80.2, 25.7, -80.1, 25.8}, g.Polys[0].BBox[:], 1e-9)

	mp, err := ParseGeometry(map[string]any{"type": "MultiPolygon", "coordinates": []any{
		[]any{square(0, 0, 1)}, []any{square(5, 5, 1)},
	}})
	require.NoError(t, err)
	assert.Len(t, mp.Polys, 2)

	pt, err := ParseGeometry(map[string]any{"type": "Point", "coordinates": []any{-73.99, 40.73}})
	require.NoError(t, err)
	assert.Equal(t, &model.Point{Lat: 40.73, Lon: -73.99}, pt.Point)

	_, err = ParseGeometry(map[string]any{"type": "LineString", "coordinates": []any{}})
	assert.Error(t, err)

	// 无有效环的面与空点一样报错
	for _, g := range []map[string]any{
		{"type": "Polygon", "coordinates": []any{}},
		{"type": "Polygon", "coordinates": []any{[]any{[]any{0.0, 0.0}, []any{1.0, 1.0}}}},
		{"type": "MultiPolygon", "coordinates": []any{[]any{}, []any{[]any{"bad"}}}},
		{"type": "Polygon"},
		{"type": "Point", "coordinates": []any{}},
	} {
		geo, err := ParseGeometry(g)
		assert.Error(t, err, "%v", g)
		assert.Nil(t, geo)
	}
}

func TestPointInPolyWithHole(t *testing.T) {
	g, err := ParseGeometry(map[string]any{"type": "Polygon", "coordinates": []any{square(0, 0, 4), square(1, 1, 2)}})
	require.NoError(t, err)
	assert.True(t, Contains(g, model.Point{Lon: 0.5, Lat: 0.5}))
	assert.False(t, Contains(g, model.Point{Lon: 2, Lat: 2}), "inside the hole")
	assert.False(t, Contains(g, model.Point{Lon: 5, Lat: 5}))
}

func TestCentroid(t *testing.T) {
	c, ok := Centroid(squareGeom(t, 0, 0, 2))
	require.True(t, ok)
	assert.InDelta(t, 1.0, c.Lon, 1e-9)
	assert.InDelta(t, 1.0, c.Lat, 1e-9)

	holed, err := ParseGeometry(map[string]any{"type": "Polygon", "coordinates": []any{square(0, 0, 4), square(0, 0, 2)}})
	require.NoError(t, err)
	c, ok = Centroid(holed)
	require.True(t, ok)
	// L 形区域质心偏离左下角
	assert.Greater(t, c.Lon, 2.0)
	assert.Greater(t, c.Lat, 2.0)

	c, ok = Centroid(&model.Geometry{Point: &model.Point{Lat: 1, Lon: 2}})
	require.True(t, ok)
	assert.Equal(t, model.Point{Lat: 1, Lon: 2}, c)

	_, ok = Centroid(nil)
	assert.False(t, ok)
}

func TestTouches(t *testing.T) {
	a := squareGeom(t, 0, 0, 1)
	b := squareGeom(t, 1, 0, 1)
	c := squareGeom(t, 1.0003, 0, 1)
	d := squareGeom(t, 1.01, 0, 1)
	assert.True(t, Touches(a, b, 0.0005))
	assert.True(t, Touches(a, c, 0.0005), "gap within tolerance")
	assert.False(t, Touches(a, d, 0.0005))
	assert.False(t, Touches(a, &model.Geometry{Point: &model.Point{}}, 1))
}

func TestHaversine(t *testing.T) {
	nyc := model.Point{Lat: 40.7128, Lon: -74.0060}
	mia := model.Point{Lat: 25.7617, Lon: -80.1918}
	assert.InDelta(t, 1757, Haversine(nyc, mia), 15)
	assert.Zero(t, Haversine(nyc, nyc))
}

func TestKNearestMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pts := make([]model.Point, 300)
	for i := range pts {
		pts[i] = model.Point{Lat: 25 + rng.Float64()*5, Lon: -82 + rng.Float64()*4}
	}
	tree := NewKDTree(pts)
	for q := 0; q < 40; q++ {
		self := rng.Intn(len(pts))
		got := tree.KNearest(pts[self], 5, self)
		require.Len(t, got, 5)

		type pair struct {
			i int
			d float64
		}
		var all []pair
		for i, p := range pts {
			if i == self {
				continue
			}
			dx := (p.Lon - pts[self].Lon) * tree.cos
			dy := p.Lat - pts[self].Lat
			all = append(all, pair{i, math.Hypot(dx, dy)})
		}
		sort.Slice(all, func(a, b int) bool {
			if all[a].d != all[b].d {
				return all[a].d < all[b].d
			}
			return all[a].i < all[b].i
		})
		for k := 0; k < 5; k++ {
			assert.Equal(t, all[k].i, got[k].Index)
		}
	}
	_, ok := NewKDTree(nil).Nearest(model.Point{})
	assert.False(t, ok)
}

func TestLRUExpiryAndEviction(t *testing.T) {
	c := NewLRU[int](2, time.Minute)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }
	c.Set("a", 1)
	c.Set("b", 2)
	_, _ = c.Get("a")
	c.Set("c", 3)
	_, ok := c.Get("b")
	assert.False(t, ok, "least recently used evicted")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok, "expired")
}

func TestMatcherLongestFirst(t *testing.T) {
	m := NewMatcher(catalog.MustDefault().Entities)
	names := func(es []model.GeoEntity) []string {
		var out []string
		for _, e := range es {
			out = append(out, e.Name)
		}
		return out
	}
	cases := map[string][]string{
		"top markets in Miami Beach":            {"Miami Beach"},
		"Compare Miami vs Miami Beach":          {"Miami", "Miami Beach"},
		"opportunity in new york city":          {"New York City"},
		"NYC and Brooklyn trends":               {"New York City", "Brooklyn"},
		"risk across Florida":                   {"Florida"},
		"tampax sales":                          nil,
		"Compare Nike vs Adidas market position": nil,
		"Miami, miami and MIAMI":                {"Miami"},
	}
	for q, want := range cases {
		t.Run(q, func(t *testing.T) {
			assert.Equal(t, want, names(m.Match(q)))
		})
	}
}

const boundaries = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"zip": 2108, "name": "Beacon Hill"},
     "geometry": {"type": "Polygon", "coordinates": [[[-71.07,42.35],[-71.06,42.35],[-71.06,42.36],[-71.07,42.36],[-71.07,42.35]]]}},
    {"type": "Feature", "properties": {"area_id": "02109"},
     "geometry": {"type": "Polygon", "coordinates": [[[-71.06,42.35],[-71.05,42.35],[-71.05,42.36],[-71.06,42.36],[-71.06,42.35]]]}},
    {"type": "Feature", "properties": {"other": "x"}, "geometry": null}
  ]
}`

const centroids = `[{"area_id": "02110", "area_name": "Downtown", "lat": 42.357, "lon": -71.045}]`

func TestReferenceFromSnapshot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ma.geojson"), []byte(boundaries), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "centroids.json"), []byte(centroids), 0o644))
	snap, err := LoadSnapshot(dir, 5)
	require.NoError(t, err)
	require.Len(t, snap.Areas, 3)

	ref := NewReference(nil, snap, Options{Width: 5})
	g, ok := ref.BoundaryFor("2108")
	require.True(t, ok)
	assert.Len(t, g.Polys, 1)

	g, ok = ref.BoundaryFor("02110")
	require.True(t, ok)
	assert.NotNil(t, g.Point)

	_, ok = ref.BoundaryFor("99999")
	assert.False(t, ok)

	c, ok := ref.CentroidFor("02108")
	require.True(t, ok)
	assert.InDelta(t, 42.355, c.Lat, 1e-9)

	hit, ok := ref.AreaAt(model.Point{Lat: 42.355, Lon: -71.065})
	require.True(t, ok)
	assert.Equal(t, "02108", hit.AreaID)
	assert.Equal(t, "Beacon Hill", hit.AreaName)
	assert.False(t, hit.Approx)

	hit, ok = ref.AreaAt(model.Point{Lat: 42.358, Lon: -71.04})
	require.True(t, ok)
	assert.Equal(t, "02110", hit.AreaID)
	assert.True(t, hit.Approx)

	_, ok = ref.AreaAt(model.Point{Lat: 10, Lon: 10})
	assert.False(t, ok)
}

func TestLoadSnapshotMissingDir(t *testing.T) {
	snap, err := LoadSnapshot(filepath.Join(t.TempDir(), "nope"), 5)
	require.NoError(t, err)
	assert.Empty(t, snap.Areas)
}
