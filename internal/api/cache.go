package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	"georoute/internal/logger"

	"github.com/redis/go-redis/v9"
)

const routeKeyPrefix = "route:"

// 文档注释：计算路由响应缓存键
// 背景：查询文本可能较长，使用 FNV64a 摘要作为键；聚类数参与哈希，避免不同 k 的结果串用。
// 约束：查询先做首尾空白裁剪与小写化，大小写不同的同一问题共享缓存。
func routeKey(query, convo string, clusters int) string {
	h := fnv.New64a()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(query))))
	h.Write([]byte{0})
	h.Write([]byte(convo))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(clusters)))
	return routeKeyPrefix + hex.EncodeToString(h.Sum(nil))
}

// 坐标缓存键：保留三位小数（约百米），相邻请求共享
func areaKey(lat, lon float64) string {
	return "area:" + formatCoord(lat) + ":" + formatCoord(lon)
}

func formatCoord(v float64) string { return strconv.FormatFloat(v, 'f', 3, 64) }

// 文档注释：读取缓存的 JSON 值
// 返回：rc 为 nil、未命中或反序列化失败均视为未命中，不阻断主流程。
func cacheGet(ctx context.Context, rc *redis.Client, key string, out any) bool {
	if rc == nil {
		return false
	}
	s, err := rc.Get(ctx, key).Result()
	if err != nil || s == "" {
		return false
	}
	return json.Unmarshal([]byte(s), out) == nil
}

func cacheSet(ctx context.Context, rc *redis.Client, key string, v any, ttl time.Duration) {
	if rc == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if err := rc.Set(ctx, key, string(b), ttl).Err(); err != nil {
		logger.L().Warn("route_cache_set_error", "key", key, "err", err)
	}
}

// 文档注释：清空路由响应缓存
// 背景：键为查询摘要，无法按端点定位，数据集更新后整体清除 route:* 键。
// 返回：删除的键数；rc 为 nil 时为 0。
func PurgeRouteCache(ctx context.Context, rc *redis.Client) (int, error) {
	if rc == nil {
		return 0, nil
	}
	n := 0
	iter := rc.Scan(ctx, 0, routeKeyPrefix+"*", 500).Iterator()
	batch := make([]string, 0, 500)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := rc.Del(ctx, batch...).Err(); err != nil {
			return err
		}
		n += len(batch)
		batch = batch[:0]
		return nil
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return n, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return n, err
	}
	return n, flush()
}

// Invalidator：失效数据集缓存后一并清空路由响应缓存
type Invalidator struct {
	Next interface {
		Invalidate(ctx context.Context, endpointID string)
	}
	RC *redis.Client
}

func (i Invalidator) Invalidate(ctx context.Context, endpointID string) {
	if i.Next != nil {
		i.Next.Invalidate(ctx, endpointID)
	}
	n, err := PurgeRouteCache(ctx, i.RC)
	if err != nil {
		logger.L().Warn("route_cache_purge_error", "endpoint", endpointID, "err", err)
		return
	}
	if n > 0 {
		logger.L().Info("route_cache_purged", "endpoint", endpointID, "keys", n)
	}
}
