package ingest

import (
	"context"
	"time"

	"georoute/internal/logger"
)

// Invalidator：导入完成后失效读缓存
type Invalidator interface {
	Invalidate(ctx context.Context, endpointID string)
}

// nextDailyAt：下一次 loc 时区 hour 整点（当天已过则顺延一天）
func nextDailyAt(now time.Time, loc *time.Location, hour int) time.Time {
	now = now.In(loc)
	t := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, loc)
	if !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// 文档注释：每日定时重新导入
// 背景：数据集目录由上游离线任务每日刷新；在服务进程内后台协程导入数据库并失效对应缓存。
// 约束：ctx 取消后停止调度；错误仅记录日志，下一周期继续执行。
func StartDaily(ctx context.Context, im *Importer, src Source, source string, loc *time.Location, hour int, inv Invalidator) {
	l := logger.L()
	next := nextDailyAt(time.Now(), loc, hour)
	l.Info("ingest_scheduled", "next", next, "source", source)
	go func() {
		timer := time.NewTimer(time.Until(next))
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			_, _ = RunOnce(ctx, im, src, source, inv)
			next = nextDailyAt(time.Now(), loc, hour)
			l.Info("ingest_scheduled", "next", next, "source", source)
			timer.Reset(time.Until(next))
		}
	}()
}

// RunOnce：导入全部端点，成功的端点逐个失效缓存
func RunOnce(ctx context.Context, im *Importer, src Source, source string, inv Invalidator) ([]Report, error) {
	l := logger.L()
	reports, err := im.ImportAll(ctx, src, source)
	if err != nil {
		l.Error("ingest_error", "err", err)
	}
	for _, r := range reports {
		if r.Err != nil {
			l.Error("ingest_endpoint_error", "endpoint", r.Endpoint, "err", r.Err)
			continue
		}
		if inv != nil {
			inv.Invalidate(ctx, r.Endpoint)
		}
	}
	return reports, err
}
