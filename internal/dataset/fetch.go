package dataset

import (
	"context"
	"errors"
	"fmt"

	"georoute/internal/model"

	"golang.org/x/sync/errgroup"
)

// Fetched：单端点拉取结果；Err 仅为数据集不可用类错误
type Fetched struct {
	Endpoint string
	Records  []model.AnalysisRecord
	Err      error
}

// 文档注释：并行拉取多个端点
// 背景：多端点融合允许部分数据集缺失，缺失端点带 Err 返回由调用方写入推理说明；
// 其他错误（上下文取消、存储故障）取消其余在途拉取并作为整体错误返回。
// 返回：结果顺序与 endpoints 一致。
func FetchAll(ctx context.Context, s Store, endpoints []string) ([]Fetched, error) {
	out := make([]Fetched, len(endpoints))
	g, gctx := errgroup.WithContext(ctx)
	for i, ep := range endpoints {
		out[i].Endpoint = ep
		g.Go(func() error {
			recs, err := s.Fetch(gctx, ep)
			switch {
			case err == nil:
				out[i].Records = recs
				return nil
			case errors.Is(err, model.ErrDatasetUnavailable) && !isContextErr(err):
				out[i].Err = err
				return nil
			}
			return fmt.Errorf("fetch %s: %w", ep, err)
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
