package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "georoute_requests_total",
		Help: "Total number of /route requests",
	})
	RequestDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "georoute_request_duration_ms",
		Help:    "Route request duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 5000},
	})
	RoutesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "georoute_routes_total",
		Help: "Routing outcomes by kind (rejected, single, multi)",
	}, []string{"outcome"})
	EndpointSelectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "georoute_endpoint_selected_total",
		Help: "Endpoints selected by the router",
	}, []string{"endpoint"})
	StageDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "georoute_stage_duration_ms",
		Help:    "Orchestrator stage duration in milliseconds",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 50, 100, 500, 1000},
	}, []string{"stage"})
	RouteConfidence = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "georoute_route_confidence",
		Help:    "Confidence of accepted routing decisions",
		Buckets: []float64{0.1, 0.25, 0.4, 0.5, 0.6, 0.75, 0.9, 1},
	})
	DatasetCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "georoute_dataset_cache_total",
		Help: "Dataset cache lookups by result (hit, redis_hit, miss)",
	}, []string{"result"})
	DatasetLoadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "georoute_dataset_loads_total",
		Help: "Dataset loads from the backing store by endpoint and status",
	}, []string{"endpoint", "status"})
	DatasetLoadDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "georoute_dataset_load_duration_ms",
		Help:    "Dataset load duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 5000},
	}, []string{"endpoint"})
	GeoLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "georoute_geo_lookups_total",
		Help: "Point to area lookups by resolution path",
	}, []string{"path"})
	AmbiguousPrefixesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "georoute_ambiguous_prefixes_total",
		Help: "Area codes excluded because sibling entities claim them without an explicit split",
	})
	ClustersBuilt = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "georoute_clusters_built",
		Help:    "Number of clusters produced per clustering run",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
	})
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "georoute_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	})
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDurationMs)
	prometheus.MustRegister(RoutesTotal)
	prometheus.MustRegister(EndpointSelectedTotal)
	prometheus.MustRegister(StageDurationMs)
	prometheus.MustRegister(RouteConfidence)
	prometheus.MustRegister(DatasetCacheTotal)
	prometheus.MustRegister(DatasetLoadsTotal)
	prometheus.MustRegister(DatasetLoadDurationMs)
	prometheus.MustRegister(GeoLookups)
	prometheus.MustRegister(AmbiguousPrefixesTotal)
	prometheus.MustRegister(ClustersBuilt)
	prometheus.MustRegister(RateLimitedTotal)
}

// 文档注释：返回 Prometheus 指标监听器
// 背景：统一暴露注册指标到 /metrics 路径，供 Prometheus 抓取；在主入口挂载。
func Handler() http.Handler { return promhttp.Handler() }
