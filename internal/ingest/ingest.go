// 包 ingest：把 JSON 端点数据集批量导入 PostgreSQL，作为离线数据通道
package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"georoute/internal/dataset"
	"georoute/internal/logger"
	"georoute/internal/model"
)

// 单批提交的记录数
const defaultBatch = 2000

const upsertSQL = `INSERT INTO _geo_analysis_records(endpoint, area_id, area_name, fields, geometry, centroid_lat, centroid_lon, updated_at)
	VALUES($1,$2,$3,$4,$5,$6,$7,now())
	ON CONFLICT (endpoint, area_id) DO UPDATE SET area_name=EXCLUDED.area_name, fields=EXCLUDED.fields,
	geometry=EXCLUDED.geometry, centroid_lat=EXCLUDED.centroid_lat, centroid_lon=EXCLUDED.centroid_lon, updated_at=now()`

// Report：单端点导入结果
type Report struct {
	Endpoint string
	Records  int
	Err      error
}

// Importer：源数据集 → PostgreSQL
type Importer struct {
	db    *sql.DB
	batch int
}

func NewImporter(db *sql.DB, batch int) *Importer {
	if batch <= 0 {
		batch = defaultBatch
	}
	return &Importer{db: db, batch: batch}
}

// Source：可列举端点的数据集
type Source interface {
	dataset.Store
	dataset.Lister
}

// 文档注释：导入源中的全部端点
// 背景：逐端点导入，单个端点失败记录在报告中并继续下一个端点。
// 返回：上下文取消时立即返回错误。
func (im *Importer) ImportAll(ctx context.Context, src Source, source string) ([]Report, error) {
	eps, err := src.Endpoints(ctx)
	if err != nil {
		return nil, err
	}
	var out []Report
	for _, ep := range eps {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		recs, err := src.Fetch(ctx, ep)
		if err != nil {
			logger.L().Error("ingest_fetch_error", "endpoint", ep, "err", err)
			out = append(out, Report{Endpoint: ep, Err: err})
			continue
		}
		n, err := im.Import(ctx, ep, source, recs)
		out = append(out, Report{Endpoint: ep, Records: n, Err: err})
	}
	return out, nil
}

// 文档注释：写入单个端点
// 背景：按批次提交，降低锁持有时间与 WAL 压力；批内使用预编译语句 UPSERT。
// 异常：数据库错误直接返回，已提交批次保留（UPSERT 可重复执行）。
func (im *Importer) Import(ctx context.Context, endpoint, source string, records []model.AnalysisRecord) (int, error) {
	logger.L().Info("ingest_start", "endpoint", endpoint, "records", len(records))
	count := 0
	for start := 0; start < len(records); start += im.batch {
		end := min(start+im.batch, len(records))
		if err := im.writeBatch(ctx, endpoint, records[start:end]); err != nil {
			return count, fmt.Errorf("ingest %s batch at %d: %w", endpoint, start, err)
		}
		count = end
		logger.L().Info("ingest_progress", "endpoint", endpoint, "count", count)
	}
	if _, err := im.db.ExecContext(ctx, `INSERT INTO _geo_ingest_runs(endpoint, source, record_count) VALUES($1,$2,$3)`, endpoint, source, count); err != nil {
		return count, err
	}
	logger.L().Info("ingest_done", "endpoint", endpoint, "count", count)
	return count, nil
}

func (im *Importer) writeBatch(ctx context.Context, endpoint string, records []model.AnalysisRecord) error {
	tx, err := im.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range records {
		row, err := rowOf(r)
		if err != nil {
			return fmt.Errorf("area %s: %w", r.AreaID, err)
		}
		if _, err := stmt.ExecContext(ctx, endpoint, r.AreaID, r.AreaName, row.fields, row.geometry, row.lat, row.lon); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// JSONB 参数以文本传入（[]byte 会被驱动按 bytea 编码）
type row struct {
	fields   string
	geometry any
	lat, lon sql.NullFloat64
}

// 记录转列值：开放字段与几何沿用数据集文件的 JSON 形式
func rowOf(r model.AnalysisRecord) (row, error) {
	var out row
	enc := dataset.EncodeRecord(r)
	fields := make(map[string]any, len(r.Fields))
	for k := range r.Fields {
		fields[k] = enc[k]
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return out, err
	}
	out.fields = string(b)
	if g, ok := enc["geometry"]; ok {
		gb, err := json.Marshal(g)
		if err != nil {
			return out, err
		}
		out.geometry = string(gb)
	}
	if r.Centroid != nil {
		out.lat = sql.NullFloat64{Float64: r.Centroid.Lat, Valid: true}
		out.lon = sql.NullFloat64{Float64: r.Centroid.Lon, Valid: true}
	}
	return out, nil
}
