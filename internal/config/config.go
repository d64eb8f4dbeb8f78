// 包 config：进程级配置，启动时从环境变量一次性读取
// 约束：解析失败回退默认值，不中断启动；读取后只读传递给各组件。
package config

import (
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// 文档注释：服务配置
// 背景：环境变量可由 .env 预加载（godotenv）；字段按使用方分组。
type Config struct {
	CatalogDir  string
	BoundaryDir string

	DatasetSource     string
	DataDir           string
	DatasetCacheTTL   time.Duration
	DatasetCacheRedis bool
	FetchTimeout      time.Duration

	MinScore        float64
	FamilyFloor     float64
	MaxEndpoints    int
	DefaultEndpoint string
	AreaIDWidth     int

	ClusterDefaultCount   int
	ClusterKNN            int
	ClusterTouchTolerance float64

	Addr             string
	APIBase          string
	RateLimitEnabled bool
	RateLimitQPS     float64
	ResponseCacheTTL time.Duration

	IngestDir  string
	IngestHour int
	IngestTZ   string
}

// Default：全部取默认值（测试使用）
func Default() Config {
	return FromLookup(func(string) (string, bool) { return "", false })
}

// FromEnv：读取进程环境变量
func FromEnv() Config {
	return FromLookup(os.LookupEnv)
}

// FromLookup：按给定查找函数构建配置
func FromLookup(lookup func(string) (string, bool)) Config {
	r := reader{lookup: lookup}
	return Config{
		CatalogDir:  r.str("CATALOG_DIR", ""),
		BoundaryDir: r.str("BOUNDARY_DIR", "data/boundaries"),

		DatasetSource:     strings.ToLower(r.str("DATASET_SOURCE", "file")),
		DataDir:           r.str("DATA_DIR", "data/endpoints"),
		DatasetCacheTTL:   time.Duration(r.int("DATASET_CACHE_TTL_S", 600)) * time.Second,
		DatasetCacheRedis: r.bool("DATASET_CACHE_REDIS", false),
		FetchTimeout:      time.Duration(r.int("FETCH_TIMEOUT_MS", 5000)) * time.Millisecond,

		MinScore:        r.float("ROUTER_MIN_SCORE", 1.0),
		FamilyFloor:     r.float("ROUTER_FAMILY_FLOOR", 1.5),
		MaxEndpoints:    r.int("ROUTER_MAX_ENDPOINTS", 4),
		DefaultEndpoint: r.str("ROUTER_DEFAULT_ENDPOINT", "strategic-analysis"),
		AreaIDWidth:     r.int("AREA_ID_WIDTH", 5),

		ClusterDefaultCount:   r.int("CLUSTER_DEFAULT_COUNT", 5),
		ClusterKNN:            r.int("CLUSTER_KNN", 4),
		ClusterTouchTolerance: r.float("CLUSTER_TOUCH_TOLERANCE", 0.0005),

		Addr:             r.str("ADDR", ":8080"),
		APIBase:          r.str("API_BASE", "/api"),
		RateLimitEnabled: r.bool("RATE_LIMIT_ENABLED", false),
		RateLimitQPS:     r.float("RATE_LIMIT_QPS", 50),
		ResponseCacheTTL: time.Duration(r.int("RESPONSE_CACHE_TTL_S", 300)) * time.Second,

		IngestDir:  r.str("INGEST_DIR", ""),
		IngestHour: r.hour("INGEST_HOUR", 3),
		IngestTZ:   r.str("INGEST_TZ", "UTC"),
	}
}

type reader struct {
	lookup func(string) (string, bool)
}

func (r reader) str(env, def string) string {
	v, ok := r.lookup(env)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return def
	}
	return v
}

// 非正整数视为未配置
func (r reader) int(env string, def int) int {
	n, err := strconv.Atoi(r.str(env, ""))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// 0-23 整点，越界视为未配置
func (r reader) hour(env string, def int) int {
	n, err := strconv.Atoi(r.str(env, ""))
	if err != nil || n < 0 || n > 23 {
		return def
	}
	return n
}

func (r reader) float(env string, def float64) float64 {
	s := r.str(env, "")
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return def
	}
	return f
}

func (r reader) bool(env string, def bool) bool {
	switch strings.ToLower(r.str(env, "")) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}
