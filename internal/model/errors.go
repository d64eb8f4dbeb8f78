package model

import (
	"errors"
	"fmt"
)

// 错误分类：除数据集不可用外，其余在路由层转换为推理说明而非异常
var (
	ErrOutOfScope           = errors.New("query out of scope")
	ErrDatasetUnavailable   = errors.New("dataset unavailable")
	ErrAmbiguousGeoEntity   = errors.New("ambiguous geo entity")
	ErrClusteringDegenerate = errors.New("clustering degenerate")
)

// 文档注释：数据集加载失败
// 背景：携带端点与底层原因；errors.Is(err, ErrDatasetUnavailable) 恒为真，便于多端点路径按类型降级。
type DatasetError struct {
	Endpoint string
	Err      error
}

func (e *DatasetError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("dataset %q unavailable", e.Endpoint)
	}
	return fmt.Sprintf("dataset %q unavailable: %v", e.Endpoint, e.Err)
}

func (e *DatasetError) Unwrap() error { return e.Err }

func (e *DatasetError) Is(target error) bool { return target == ErrDatasetUnavailable }

// Unavailable：构造数据集不可用错误
func Unavailable(endpoint string, cause error) error {
	return &DatasetError{Endpoint: endpoint, Err: cause}
}
