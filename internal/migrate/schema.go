// 包 migrate：PostgreSQL 数据集存储的表结构
package migrate

import (
	"context"
	"database/sql"

	"georoute/internal/logger"
)

// 文档注释：确保数据集表存在
// 背景：首次运行自动创建分析记录表与导入批次表，供 dataset.PGStore 读取、ingest 写入。
// 约束：仅使用 IF NOT EXISTS，不修改既有结构；fields/geometry 为 JSONB，质心拆两列。
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _geo_analysis_records (
			endpoint TEXT NOT NULL,
			area_id TEXT NOT NULL,
			area_name TEXT NOT NULL DEFAULT '',
			fields JSONB NOT NULL DEFAULT '{}'::jsonb,
			geometry JSONB,
			centroid_lat DOUBLE PRECISION,
			centroid_lon DOUBLE PRECISION,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (endpoint, area_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_geo_records_area ON _geo_analysis_records(area_id)`,
		`CREATE TABLE IF NOT EXISTS _geo_ingest_runs (
			id BIGSERIAL PRIMARY KEY,
			endpoint TEXT NOT NULL,
			source TEXT NOT NULL,
			record_count INT NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_geo_ingest_runs_endpoint ON _geo_ingest_runs(endpoint, finished_at DESC)`,
	}
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
