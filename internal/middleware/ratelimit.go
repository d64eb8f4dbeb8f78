// 包 middleware：入口限流
package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"georoute/internal/logger"
	"georoute/internal/metrics"

	"golang.org/x/time/rate"
)

// 空闲超过该时长的访客限流器会被回收
const idleTTL = 10 * time.Minute

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

// 文档注释：按访客 IP 的令牌桶限流器
// 背景：路由请求涉及分类、数据集读取与聚类，单个访客突发请求会挤占其他访客；超限直接返回 429，不排队。
// 约束：访客表按 idleTTL 惰性清理；burst 取速率上取整且至少为 1。
type Limiter struct {
	qps   rate.Limit
	burst int
	mu    sync.Mutex
	byIP  map[string]*visitor
	last  time.Time
	now   func() time.Time
}

func NewLimiter(qps float64) *Limiter {
	burst := int(qps + 0.999)
	if burst < 1 {
		burst = 1
	}
	return &Limiter{qps: rate.Limit(qps), burst: burst, byIP: make(map[string]*visitor), now: time.Now}
}

// Allow：该访客当前是否放行
func (l *Limiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.last) > idleTTL {
		for k, v := range l.byIP {
			if now.Sub(v.seen) > idleTTL {
				delete(l.byIP, k)
			}
		}
		l.last = now
	}
	v, ok := l.byIP[ip]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(l.qps, l.burst)}
		l.byIP[ip] = v
	}
	v.seen = now
	return v.lim.AllowN(now, 1)
}

// Wrap：限流中间件；qps 非正数时原样返回
func Wrap(next http.Handler, qps float64) http.Handler {
	if qps <= 0 {
		return next
	}
	lim := NewLimiter(qps)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !lim.Allow(ip) {
			metrics.RateLimitedTotal.Inc()
			logger.L().Debug("rate_limited", "ip", ip, "path", r.URL.Path)
			w.Header().Set("retry-after", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// 文档注释：获取访客 IP
// 背景：多层代理环境下，按常见反向代理头顺序读取，最后回退远端地址。
// 约束：头部可被伪造；部署于未经信任的代理链路需配合网关过滤。
func clientIP(r *http.Request) string {
	h := r.Header
	if x := h.Get("x-forwarded-for"); x != "" {
		return strings.TrimSpace(strings.Split(x, ",")[0])
	}
	for _, k := range []string{"cf-connecting-ip", "x-real-ip", "x-client-ip"} {
		if x := h.Get(k); x != "" {
			return x
		}
	}
	if x := h.Get("forwarded"); x != "" {
		if i := strings.Index(strings.ToLower(x), "for="); i >= 0 {
			y := strings.Trim(x[i+4:], "\" ")
			if p := strings.IndexAny(y, ";,"); p >= 0 {
				y = y[:p]
			}
			return strings.Trim(y, "\" ")
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
