// 命令行工具：对本地 JSON 数据集目录执行路由、列出端点与空间聚类，便于离线排查规则
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootFlags struct {
	dataDir     string
	catalogDir  string
	boundaryDir string
	jsonOut     bool
}

var rootCmd = &cobra.Command{
	Use:   "route-cli",
	Short: "Route market-analysis questions against a local dataset directory",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
}

func init() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))

	f := rootCmd.PersistentFlags()
	f.StringVar(&rootFlags.dataDir, "data", "", "JSON dataset directory (default DATA_DIR)")
	f.StringVar(&rootFlags.catalogDir, "catalog", "", "override catalog directory (default CATALOG_DIR)")
	f.StringVar(&rootFlags.boundaryDir, "boundaries", "", "boundary directory (default BOUNDARY_DIR)")
	f.BoolVar(&rootFlags.jsonOut, "json", false, "print JSON instead of text")

	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(endpointsCmd)
	rootCmd.AddCommand(clusterCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
