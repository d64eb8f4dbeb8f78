// 数据导入工具：把 JSON 端点数据集目录批量写入 PostgreSQL，并可选失效 Redis 中的数据集缓存与路由响应缓存
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"georoute/internal/api"
	"georoute/internal/catalog"
	"georoute/internal/config"
	"georoute/internal/dataset"
	"georoute/internal/georef"
	"georoute/internal/ingest"
	"georoute/internal/logger"
	"georoute/internal/migrate"
	"georoute/internal/utils"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var flags struct {
	dir      string
	batch    int
	only     []string
	evict    bool
	deadline time.Duration
}

var rootCmd = &cobra.Command{
	Use:          "dataset-ingest",
	Short:        "Import a JSON endpoint dataset directory into PostgreSQL",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flags.dir, "dir", "", "dataset directory (default DATA_DIR)")
	f.IntVar(&flags.batch, "batch", 0, "records per transaction")
	f.StringSliceVar(&flags.only, "endpoint", nil, "import only these endpoints")
	f.BoolVar(&flags.evict, "evict-cache", true, "drop imported endpoints from the Redis dataset cache and clear cached route responses")
	f.DurationVar(&flags.deadline, "timeout", 30*time.Minute, "overall deadline")
}

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	l := logger.Setup()
	cfg := config.FromEnv()
	dir := flags.dir
	if dir == "" {
		dir = cfg.DataDir
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), flags.deadline)
	defer cancel()

	db, err := utils.OpenPostgresFromEnv()
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()
	if err := migrate.EnsureSchema(ctx, db); err != nil {
		return fmt.Errorf("schema: %w", err)
	}

	// 只带质心的记录按边界快照补全区域编码
	cat, err := catalog.Load(cfg.CatalogDir)
	if err != nil {
		return err
	}
	snap, err := georef.LoadSnapshot(cfg.BoundaryDir, cfg.AreaIDWidth)
	if err != nil {
		return err
	}
	ref := georef.NewReference(cat.Entities, snap, georef.Options{Width: cfg.AreaIDWidth})
	var src ingest.Source = dataset.NewFileStore(dir, cfg.AreaIDWidth).WithLocator(ref)
	if len(flags.only) > 0 {
		src = subset{Source: src, endpoints: flags.only}
	}

	var inv ingest.Invalidator
	if flags.evict && os.Getenv("REDIS_HOST") != "" {
		rc := utils.OpenRedisFromEnv()
		defer rc.Close()
		inv = api.Invalidator{Next: dataset.NewCachedStore(nil, cfg.DatasetCacheTTL, rc, l), RC: rc}
	}

	reports, err := ingest.RunOnce(ctx, ingest.NewImporter(db, flags.batch), src, "file:"+dir, inv)
	failed := 0
	for _, r := range reports {
		if r.Err != nil {
			failed++
			fmt.Fprintf(cmd.OutOrStdout(), "%-24s FAILED %v\n", r.Endpoint, r.Err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%-24s imported %d\n", r.Endpoint, r.Records)
	}
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d endpoints failed", failed, len(reports))
	}
	return nil
}

// 限定端点子集
type subset struct {
	ingest.Source
	endpoints []string
}

func (s subset) Endpoints(context.Context) ([]string, error) { return s.endpoints, nil }
