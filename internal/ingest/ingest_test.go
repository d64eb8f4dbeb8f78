package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"testing"
	"time"

	"georoute/internal/dataset"
	"georoute/internal/migrate"
	"georoute/internal/model"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextDailyAt(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	cases := []struct {
		name string
		now  time.Time
		hour int
		want time.Time
	}{
		{"later today", time.Date(2024, 3, 10, 1, 30, 0, 0, loc), 3, time.Date(2024, 3, 10, 3, 0, 0, 0, loc)},
		{"already passed", time.Date(2024, 3, 10, 4, 0, 0, 0, loc), 3, time.Date(2024, 3, 11, 3, 0, 0, 0, loc)},
		{"exactly on the hour", time.Date(2024, 3, 10, 3, 0, 0, 0, loc), 3, time.Date(2024, 3, 11, 3, 0, 0, 0, loc)},
		{"month end", time.Date(2024, 2, 29, 23, 0, 0, 0, loc), 0, time.Date(2024, 3, 1, 0, 0, 0, 0, loc)},
		{"other zone input", time.Date(2024, 3, 10, 18, 0, 0, 0, time.UTC), 3, time.Date(2024, 3, 11, 3, 0, 0, 0, loc)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, tc.want.Equal(nextDailyAt(tc.now, loc, tc.hour)), nextDailyAt(tc.now, loc, tc.hour))
		})
	}
}

func TestRowOf(t *testing.T) {
	r := model.AnalysisRecord{
		AreaID:   "33101",
		AreaName: "Downtown",
		Fields:   map[string]model.Value{"risk_score": model.Number(20), "tier": model.String("b")},
		Centroid: &model.Point{Lat: 25.77, Lon: -80.19},
		Geometry: &model.Geometry{Point: &model.Point{Lat: 25.77, Lon: -80.19}},
	}
	row, err := rowOf(r)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal([]byte(row.fields), &fields))
	assert.Equal(t, map[string]any{"risk_score": 20.0, "tier": "b"}, fields)
	assert.JSONEq(t, `{"type":"Point","coordinates":[-80.19,25.77]}`, row.geometry.(string))
	assert.Equal(t, sql.NullFloat64{Float64: 25.77, Valid: true}, row.lat)

	row, err = rowOf(model.AnalysisRecord{AreaID: "33102"})
	require.NoError(t, err)
	assert.Equal(t, "{}", row.fields)
	assert.Nil(t, row.geometry)
	assert.False(t, row.lon.Valid)
}

type invalidations []string

func (i *invalidations) Invalidate(_ context.Context, ep string) { *i = append(*i, ep) }

// 需要真实数据库：PG_TEST_DSN 未设置时跳过
func TestImportRoundTrip(t *testing.T) {
	dsn := os.Getenv("PG_TEST_DSN")
	if dsn == "" {
		t.Skip("PG_TEST_DSN not set")
	}
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()
	require.NoError(t, migrate.EnsureSchema(ctx, db))
	_, err = db.ExecContext(ctx, `DELETE FROM _geo_analysis_records WHERE endpoint LIKE 'test-%'`)
	require.NoError(t, err)

	src := dataset.NewMemoryStore()
	src.Put("test-risk", []model.AnalysisRecord{
		{AreaID: "33101", Fields: map[string]model.Value{"risk_score": model.Number(20)}},
		{AreaID: "33102", Fields: map[string]model.Value{"risk_score": model.Number(35)}, Centroid: &model.Point{Lat: 25.7, Lon: -80.2}},
		{AreaID: "33103", Fields: map[string]model.Value{"risk_score": model.Number(10)}},
	})
	var inv invalidations
	reports, err := RunOnce(ctx, NewImporter(db, 2), src, "memory", &inv)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.NoError(t, reports[0].Err)
	assert.Equal(t, 3, reports[0].Records)
	assert.Equal(t, invalidations{"test-risk"}, inv)

	recs, err := dataset.AttachPG(db, 5).Fetch(ctx, "test-risk")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	v, ok := recs[1].Number("risk_score")
	require.True(t, ok)
	assert.Equal(t, 35.0, v)
	require.NotNil(t, recs[1].Centroid)
}
