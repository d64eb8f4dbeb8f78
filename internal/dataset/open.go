package dataset

import (
	"database/sql"
	"fmt"

	"georoute/internal/config"
)

// 文档注释：按配置构建底层数据源
// 背景：file 读取 DATA_DIR 目录；postgres 读取 migrate 建立的记录表；memory 仅用于演示与测试。
// 约束：postgres 需要调用方传入已打开的连接；loc 为 nil 时文件源不做质心定位。
func Open(cfg config.Config, db *sql.DB, loc Locator) (Store, error) {
	width := cfg.AreaIDWidth
	switch cfg.DatasetSource {
	case "", "file":
		s := NewFileStore(cfg.DataDir, width)
		if loc != nil {
			s.WithLocator(loc)
		}
		return s, nil
	case "postgres":
		if db == nil {
			return nil, fmt.Errorf("dataset source postgres requires a database connection")
		}
		return AttachPG(db, width), nil
	case "memory":
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown dataset source %q", cfg.DatasetSource)
}
