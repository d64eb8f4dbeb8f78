package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"georoute/internal/georef"
	"georoute/internal/logger"
	"georoute/internal/model"
)

// 文档注释：JSON 目录数据源
// 背景：每个端点一个文件 <dir>/<endpoint>.json，内容为记录数组或 {"results": [...]}。
// 约束：端点名不得包含路径分隔符；同一文件内重复区域编码保留第一条并记录告警。
type FileStore struct {
	dir    string
	width  int
	locate Locator
}

// Locator：点到区域判定，用于只带质心的记录补全区域编码
type Locator interface {
	AreaAt(pt model.Point) (georef.AreaHit, bool)
}

func NewFileStore(dir string, width int) *FileStore {
	return &FileStore{dir: dir, width: width}
}

// WithLocator：缺少区域编码但带质心的记录按质心所在区域补全
func (s *FileStore) WithLocator(l Locator) *FileStore {
	s.locate = l
	return s
}

func (s *FileStore) Fetch(ctx context.Context, endpointID string) ([]model.AnalysisRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if endpointID == "" || strings.ContainsAny(endpointID, `/\`) || strings.Contains(endpointID, "..") {
		return nil, model.Unavailable(endpointID, fmt.Errorf("invalid endpoint id"))
	}
	b, err := os.ReadFile(filepath.Join(s.dir, endpointID+".json"))
	if err != nil {
		return nil, model.Unavailable(endpointID, err)
	}
	rows, err := decodeRows(b)
	if err != nil {
		return nil, model.Unavailable(endpointID, fmt.Errorf("parse %s.json: %w", endpointID, err))
	}
	out := make([]model.AnalysisRecord, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for i, raw := range rows {
		rec, err := DecodeRecord(endpointID, raw, s.width)
		if errors.Is(err, errNoAreaID) && s.locate != nil {
			rec, err = s.label(endpointID, raw)
		}
		if err != nil {
			logger.L().Warn("dataset_record_skip", "endpoint", endpointID, "row", i, "err", err)
			continue
		}
		if seen[rec.AreaID] {
			logger.L().Warn("dataset_duplicate_area", "endpoint", endpointID, "area_id", rec.AreaID)
			continue
		}
		seen[rec.AreaID] = true
		out = append(out, rec)
	}
	logger.L().Debug("dataset_file_loaded", "endpoint", endpointID, "records", len(out))
	return out, nil
}

// 文档注释：按质心定位区域后重新解析
// 约束：不修改原始行；原行已有 area_name 时保留。
func (s *FileStore) label(endpointID string, raw map[string]any) (model.AnalysisRecord, error) {
	c, _ := raw["centroid"].(map[string]any)
	lat, okLat := c["lat"].(float64)
	lon, okLon := c["lon"].(float64)
	if !okLat || !okLon {
		return model.AnalysisRecord{}, errNoAreaID
	}
	hit, ok := s.locate.AreaAt(model.Point{Lat: lat, Lon: lon})
	if !ok {
		return model.AnalysisRecord{}, fmt.Errorf("%w: no area near %.4f,%.4f", errNoAreaID, lat, lon)
	}
	cp := make(map[string]any, len(raw)+2)
	for k, v := range raw {
		cp[k] = v
	}
	cp["area_id"] = hit.AreaID
	if _, ok := cp["area_name"]; !ok && hit.AreaName != "" {
		cp["area_name"] = hit.AreaName
	}
	logger.L().Debug("dataset_record_located", "endpoint", endpointID, "area_id", hit.AreaID, "approx", hit.Approx)
	return DecodeRecord(endpointID, cp, s.width)
}

// Endpoints：目录中所有 *.json 文件名（去扩展名）
func (s *FileStore) Endpoints(ctx context.Context) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, strings.TrimSuffix(filepath.Base(f), ".json"))
	}
	sort.Strings(out)
	return out, nil
}

func decodeRows(b []byte) ([]map[string]any, error) {
	var rows []map[string]any
	if err := json.Unmarshal(b, &rows); err == nil {
		return rows, nil
	}
	var wrapped struct {
		Results []map[string]any `json:"results"`
	}
	if err := json.Unmarshal(b, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Results == nil {
		return nil, errors.New(`expected an array or an object with "results"`)
	}
	return wrapped.Results, nil
}
