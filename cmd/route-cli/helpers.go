package main

import (
	"encoding/json"
	"io"

	"georoute/internal/catalog"
	"georoute/internal/config"
	"georoute/internal/dataset"
	"georoute/internal/georef"
	"georoute/internal/logger"
)

// 命令共用依赖
type deps struct {
	cfg   config.Config
	cat   *catalog.Catalog
	ref   *georef.Reference
	store *dataset.FileStore
}

// 环境变量打底，命令行参数覆盖
func loadDeps() (*deps, error) {
	cfg := config.FromEnv()
	cfg.DatasetSource = "file"
	if rootFlags.dataDir != "" {
		cfg.DataDir = rootFlags.dataDir
	}
	if rootFlags.catalogDir != "" {
		cfg.CatalogDir = rootFlags.catalogDir
	}
	if rootFlags.boundaryDir != "" {
		cfg.BoundaryDir = rootFlags.boundaryDir
	}
	logger.Setup()
	cat, err := catalog.Load(cfg.CatalogDir)
	if err != nil {
		return nil, err
	}
	snap, err := georef.LoadSnapshot(cfg.BoundaryDir, cfg.AreaIDWidth)
	if err != nil {
		return nil, err
	}
	ref := georef.NewReference(cat.Entities, snap, georef.Options{Width: cfg.AreaIDWidth})
	store := dataset.NewFileStore(cfg.DataDir, cfg.AreaIDWidth).WithLocator(ref)
	return &deps{cfg: cfg, cat: cat, ref: ref, store: store}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
