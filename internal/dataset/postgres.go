package dataset

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"georoute/internal/georef"
	"georoute/internal/logger"
	"georoute/internal/model"

	_ "github.com/lib/pq"
)

// PGStore：PostgreSQL 数据源，表结构见 internal/migrate
type PGStore struct {
	db    *sql.DB
	width int
}

func AttachPG(db *sql.DB, width int) *PGStore { return &PGStore{db: db, width: width} }

func (s *PGStore) DB() *sql.DB { return s.db }

// 文档注释：读取端点全部记录
// 背景：fields/geometry 以 JSONB 存储；质心拆为两列以便按范围筛选。
// 约束：端点没有任何记录时视为数据集不可用；上下文取消时返回原始上下文错误。
func (s *PGStore) Fetch(ctx context.Context, endpointID string) ([]model.AnalysisRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT area_id, area_name, fields, geometry, centroid_lat, centroid_lon
		FROM _geo_analysis_records WHERE endpoint=$1 ORDER BY area_id`, endpointID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.L().Error("dataset_pg_query_error", "endpoint", endpointID, "err", err)
		return nil, model.Unavailable(endpointID, err)
	}
	defer rows.Close()

	var out []model.AnalysisRecord
	for rows.Next() {
		var (
			id, name     string
			fields, geom []byte
			cLat, cLon   sql.NullFloat64
		)
		if err := rows.Scan(&id, &name, &fields, &geom, &cLat, &cLon); err != nil {
			return nil, model.Unavailable(endpointID, err)
		}
		rec := model.AnalysisRecord{
			AreaID:         model.NormalizeAreaID(id, s.width),
			AreaName:       name,
			SourceEndpoint: endpointID,
			Fields:         map[string]model.Value{},
		}
		var raw map[string]any
		if err := json.Unmarshal(fields, &raw); err != nil {
			return nil, model.Unavailable(endpointID, fmt.Errorf("area %s fields: %w", id, err))
		}
		for k, v := range raw {
			if val, ok := model.ValueOf(v); ok {
				rec.Fields[k] = val
			}
		}
		if len(geom) > 0 {
			var g map[string]any
			if err := json.Unmarshal(geom, &g); err == nil {
				if parsed, err := georef.ParseGeometry(g); err == nil {
					rec.Geometry = parsed
				} else {
					logger.L().Warn("dataset_pg_geometry_skip", "endpoint", endpointID, "area_id", id, "err", err)
				}
			}
		}
		if cLat.Valid && cLon.Valid {
			rec.Centroid = &model.Point{Lat: cLat.Float64, Lon: cLon.Float64}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, model.Unavailable(endpointID, err)
	}
	if len(out) == 0 {
		return nil, model.Unavailable(endpointID, fmt.Errorf("no records"))
	}
	logger.L().Debug("dataset_pg_loaded", "endpoint", endpointID, "records", len(out))
	return out, nil
}

func (s *PGStore) Endpoints(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT endpoint FROM _geo_analysis_records ORDER BY endpoint`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var ep string
		if err := rows.Scan(&ep); err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}
