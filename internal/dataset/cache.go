package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"georoute/internal/logger"
	"georoute/internal/metrics"
	"georoute/internal/model"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	redisKeyPrefix     = "georoute:dataset:"
	defaultLoadTimeout = 30 * time.Second
)

type cacheEntry struct {
	records []model.AnalysisRecord
	expires time.Time
}

// 文档注释：读穿透数据集缓存
// 背景：一级为进程内 TTL 表；可选二级为 Redis（JSON 序列化，带几何）；未命中时回源。
// 约束：同一端点任一时刻至多一个在途加载（singleflight）；加载失败不缓存；返回切片由调用方只读使用。
// 在途加载不随任一调用方取消，仅受 loadTimeout 约束；调用方各自按自身 ctx 放弃等待。
type CachedStore struct {
	next        Store
	ttl         time.Duration
	loadTimeout time.Duration
	rdb         *redis.Client
	log         *slog.Logger

	mu      sync.RWMutex
	entries map[string]cacheEntry
	group   singleflight.Group
	now     func() time.Time
}

// NewCachedStore：rdb 为 nil 时只用进程内缓存
func NewCachedStore(next Store, ttl time.Duration, rdb *redis.Client, log *slog.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedStore{
		next:        next,
		ttl:         ttl,
		loadTimeout: defaultLoadTimeout,
		rdb:         rdb,
		log:         logger.Component(log, "dataset_cache"),
		entries:     map[string]cacheEntry{},
		now:         time.Now,
	}
}

func (c *CachedStore) Fetch(ctx context.Context, endpointID string) ([]model.AnalysisRecord, error) {
	if recs, ok := c.lookup(endpointID); ok {
		metrics.DatasetCacheTotal.WithLabelValues("hit").Inc()
		return recs, nil
	}
	ch := c.group.DoChan(endpointID, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()
		if recs, ok := c.lookup(endpointID); ok {
			metrics.DatasetCacheTotal.WithLabelValues("hit").Inc()
			return recs, nil
		}
		if recs, ok := c.fromRedis(ctx, endpointID); ok {
			metrics.DatasetCacheTotal.WithLabelValues("redis_hit").Inc()
			c.put(endpointID, recs)
			return recs, nil
		}
		metrics.DatasetCacheTotal.WithLabelValues("miss").Inc()
		start := time.Now()
		recs, err := c.next.Fetch(ctx, endpointID)
		metrics.DatasetLoadDurationMs.WithLabelValues(endpointID).Observe(float64(time.Since(start).Microseconds()) / 1000)
		if err != nil {
			metrics.DatasetLoadsTotal.WithLabelValues(endpointID, "error").Inc()
			c.log.Warn("dataset_load_error", "endpoint", endpointID, "err", err)
			return nil, err
		}
		metrics.DatasetLoadsTotal.WithLabelValues(endpointID, "ok").Inc()
		c.put(endpointID, recs)
		c.toRedis(ctx, endpointID, recs)
		c.log.Debug("dataset_loaded", "endpoint", endpointID, "records", len(recs))
		return recs, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		if r.Shared {
			c.log.Debug("dataset_load_shared", "endpoint", endpointID)
		}
		return r.Val.([]model.AnalysisRecord), nil
	}
}

// Invalidate：丢弃一级与二级缓存中的端点数据
func (c *CachedStore) Invalidate(ctx context.Context, endpointID string) {
	c.mu.Lock()
	delete(c.entries, endpointID)
	c.mu.Unlock()
	if c.rdb != nil {
		if err := c.rdb.Del(ctx, redisKeyPrefix+endpointID).Err(); err != nil {
			c.log.Warn("dataset_redis_del_error", "endpoint", endpointID, "err", err)
		}
	}
}

func (c *CachedStore) lookup(endpointID string) ([]model.AnalysisRecord, bool) {
	c.mu.RLock()
	e, ok := c.entries[endpointID]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expires) {
		return nil, false
	}
	return e.records, true
}

func (c *CachedStore) put(endpointID string, recs []model.AnalysisRecord) {
	c.mu.Lock()
	c.entries[endpointID] = cacheEntry{records: recs, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// 二级缓存的序列化形式：记录本身不序列化几何，这里显式带上
type redisRecord struct {
	model.AnalysisRecord
	Geometry *model.Geometry `json:"geometry,omitempty"`
}

func (c *CachedStore) fromRedis(ctx context.Context, endpointID string) ([]model.AnalysisRecord, bool) {
	if c.rdb == nil {
		return nil, false
	}
	b, err := c.rdb.Get(ctx, redisKeyPrefix+endpointID).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("dataset_redis_get_error", "endpoint", endpointID, "err", err)
		}
		return nil, false
	}
	var rows []redisRecord
	if err := json.Unmarshal(b, &rows); err != nil {
		c.log.Warn("dataset_redis_decode_error", "endpoint", endpointID, "err", err)
		return nil, false
	}
	out := make([]model.AnalysisRecord, len(rows))
	for i, r := range rows {
		out[i] = r.AnalysisRecord
		out[i].Geometry = r.Geometry
	}
	return out, true
}

func (c *CachedStore) toRedis(ctx context.Context, endpointID string, recs []model.AnalysisRecord) {
	if c.rdb == nil {
		return
	}
	rows := make([]redisRecord, len(recs))
	for i, r := range recs {
		rows[i] = redisRecord{AnalysisRecord: r, Geometry: r.Geometry}
	}
	b, err := json.Marshal(rows)
	if err != nil {
		c.log.Warn("dataset_redis_encode_error", "endpoint", endpointID, "err", err)
		return
	}
	if err := c.rdb.Set(ctx, redisKeyPrefix+endpointID, b, c.ttl).Err(); err != nil {
		c.log.Warn("dataset_redis_set_error", "endpoint", endpointID, "err", err)
	}
}
