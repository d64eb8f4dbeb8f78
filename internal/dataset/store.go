// 包 dataset：端点数据集的读取、缓存与并行拉取
// 约束：所有实现对“数据集不存在/不可读”返回 model.ErrDatasetUnavailable 类错误；上下文取消原样返回。
package dataset

import (
	"context"
	"sort"
	"sync"

	"georoute/internal/model"
)

// Store：按端点 ID 拉取完整数据集
type Store interface {
	Fetch(ctx context.Context, endpointID string) ([]model.AnalysisRecord, error)
}

// Lister：可列出已有端点的存储
type Lister interface {
	Endpoints(ctx context.Context) ([]string, error)
}

// MemoryStore：进程内数据集，供测试与 memory 数据源使用
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]model.AnalysisRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string][]model.AnalysisRecord{}}
}

// Put：写入（覆盖）端点数据集；记录的 SourceEndpoint 统一设为该端点
func (m *MemoryStore) Put(endpointID string, records []model.AnalysisRecord) {
	cp := make([]model.AnalysisRecord, len(records))
	for i, r := range records {
		r.SourceEndpoint = endpointID
		cp[i] = r
	}
	m.mu.Lock()
	m.data[endpointID] = cp
	m.mu.Unlock()
}

func (m *MemoryStore) Fetch(ctx context.Context, endpointID string) ([]model.AnalysisRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	recs, ok := m.data[endpointID]
	m.mu.RUnlock()
	if !ok {
		return nil, model.Unavailable(endpointID, nil)
	}
	return append([]model.AnalysisRecord(nil), recs...), nil
}

func (m *MemoryStore) Endpoints(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.data))
	for k := range m.data {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}
