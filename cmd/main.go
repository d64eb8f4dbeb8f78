// 程序入口：仅负责读取配置、初始化依赖并启动服务；API 注册在 internal/api 以便扩展
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"georoute/internal/api"
	"georoute/internal/catalog"
	"georoute/internal/config"
	"georoute/internal/dataset"
	"georoute/internal/georef"
	"georoute/internal/ingest"
	"georoute/internal/logger"
	"georoute/internal/metrics"
	"georoute/internal/middleware"
	"georoute/internal/migrate"
	"georoute/internal/router"
	"georoute/internal/utils"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	// 日志初始化
	l := logger.Setup()
	l.Debug("log_init_ok")
	cfg := config.FromEnv()
	l.Debug("config_api_base", "base", cfg.APIBase)
	l.Debug("config_dataset", "source", cfg.DatasetSource, "dir", cfg.DataDir, "ttl", cfg.DatasetCacheTTL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, err := catalog.Load(cfg.CatalogDir)
	if err != nil {
		l.Error("catalog_load_error", "err", err)
		os.Exit(1)
	}
	l.Info("catalog_loaded", "endpoints", len(cat.Endpoints), "entities", len(cat.Entities))

	// 背景：边界缺失不影响路由，仅聚类退化为质心邻接、/area 无结果
	snap, err := georef.LoadSnapshot(cfg.BoundaryDir, cfg.AreaIDWidth)
	if err != nil {
		l.Error("boundary_load_error", "err", err)
		snap = nil
	}
	ref := georef.NewReference(cat.Entities, snap, georef.Options{Width: cfg.AreaIDWidth})

	var db *sql.DB
	if cfg.DatasetSource == "postgres" {
		db, err = utils.OpenPostgresFromEnv()
		if err != nil {
			l.Error("db_open_error", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		l.Info("db_open_ok")
		if err := db.PingContext(ctx); err != nil {
			l.Error("db_ping_error", "err", err)
		} else {
			l.Info("db_ping_ok")
		}
		if err := migrate.EnsureSchema(ctx, db); err != nil {
			l.Error("schema_error", "err", err)
			os.Exit(1)
		}
	}

	rc := openRedis(ctx)

	base, err := dataset.Open(cfg, db, ref)
	if err != nil {
		l.Error("dataset_open_error", "err", err)
		os.Exit(1)
	}
	var l2 *redis.Client
	if cfg.DatasetCacheRedis {
		l2 = rc
	}
	store := dataset.NewCachedStore(base, cfg.DatasetCacheTTL, l2, l)

	// 文档注释：每日导入（仅 postgres 数据源）
	// 背景：INGEST_DIR 指向上游每日刷新的 JSON 目录；导入后失效读缓存，下一次请求读取新数据。
	if db != nil && cfg.IngestDir != "" {
		loc, err := time.LoadLocation(cfg.IngestTZ)
		if err != nil {
			l.Warn("ingest_tz_error", "tz", cfg.IngestTZ, "err", err)
			loc = time.UTC
		}
		src := dataset.NewFileStore(cfg.IngestDir, cfg.AreaIDWidth).WithLocator(ref)
		ingest.StartDaily(ctx, ingest.NewImporter(db, 0), src, "file:"+cfg.IngestDir, loc, cfg.IngestHour, api.Invalidator{Next: store, RC: rc})
	}

	svc := router.New(cfg, cat, store, ref, l)

	mux := http.NewServeMux()
	apiMux := api.BuildRoutes(svc, ref, rc, cfg.ResponseCacheTTL)
	mux.Handle(cfg.APIBase+"/", http.StripPrefix(cfg.APIBase, apiMux))
	mux.Handle(cfg.APIBase+"/metrics", metrics.Handler())

	handler := logger.AccessMiddleware(l)(mux)
	if cfg.RateLimitEnabled {
		handler = middleware.Wrap(handler, cfg.RateLimitQPS)
		l.Info("rate_limit_enabled", "qps", cfg.RateLimitQPS)
	}
	s := &http.Server{Addr: cfg.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(sctx)
	}()
	l.Info("listening", "addr", cfg.Addr)
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.Error("listen_error", "err", err)
		os.Exit(1)
	}
	l.Info("shutdown")
}

// Redis 可选：未配置主机或无法连通时禁用缓存
func openRedis(ctx context.Context) *redis.Client {
	l := logger.L()
	if os.Getenv("REDIS_HOST") == "" {
		l.Info("redis_disabled")
		return nil
	}
	rc := utils.OpenRedisFromEnv()
	if err := rc.Ping(ctx).Err(); err != nil {
		l.Error("redis_ping_error", "err", err)
		_ = rc.Close()
		return nil
	}
	l.Info("redis_ping_ok")
	return rc
}
