// 包 api：集中注册 HTTP API 路由以解耦主入口，便于后续扩展与替换
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"georoute/internal/georef"
	"georoute/internal/logger"
	"georoute/internal/model"
	"georoute/internal/router"

	"github.com/redis/go-redis/v9"
)

// 请求体上限
const maxBody = 64 << 10

// AreaLocator：点到区域判定
type AreaLocator interface {
	AreaAt(pt model.Point) (georef.AreaHit, bool)
}

// 端点列表的对外结构
type endpointView struct {
	ID                string   `json:"id"`
	DisplayName       string   `json:"display_name"`
	Family            string   `json:"family"`
	PrimaryScoreField string   `json:"primary_score_field"`
	RequiredFields    []string `json:"required_fields"`
	Comparative       bool     `json:"comparative,omitempty"`
	Clusterable       bool     `json:"clusterable,omitempty"`
}

// 路由响应：出错时仍携带已完成阶段的结果，便于调用方展示推理过程
type routeResponse struct {
	*router.Result
	Error string `json:"error,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

// 文档注释：构建并返回 API 路由
// 背景：独立 ServeMux 便于在主入口挂载到 API_BASE 前缀；areas 为 nil 时不注册 /area。
// 约束：rc 可为 nil（禁用响应缓存）；ttl 为缓存有效期，非正数取一小时。
func BuildRoutes(svc *router.Service, areas AreaLocator, rc *redis.Client, ttl time.Duration) *http.ServeMux {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/route", func(w http.ResponseWriter, r *http.Request) {
		req, err := parseRouteRequest(w, r)
		if err != nil {
			status := http.StatusBadRequest
			if r.Method != http.MethodGet && r.Method != http.MethodPost {
				status = http.StatusMethodNotAllowed
			}
			writeJSON(w, status, errorBody{Error: err.Error()})
			return
		}
		ctx := r.Context()
		key := routeKey(req.Query, req.Context, req.ClusterCount)
		var cached router.Result
		if cacheGet(ctx, rc, key, &cached) {
			w.Header().Set("x-cache", "hit")
			writeJSON(w, http.StatusOK, routeResponse{Result: &cached})
			return
		}
		res, err := svc.Route(ctx, req)
		if err != nil {
			logger.L().Warn("route_error", "request_id", res.RequestID, "err", err)
			writeJSON(w, statusFor(err), routeResponse{Result: res, Error: err.Error()})
			return
		}
		cacheSet(ctx, rc, key, res, ttl)
		writeJSON(w, http.StatusOK, routeResponse{Result: res})
	})

	apiMux.HandleFunc("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		cat := svc.Catalog()
		out := make([]endpointView, 0, len(cat.Endpoints))
		for _, e := range cat.Endpoints {
			out = append(out, endpointView{
				ID:                e.ID,
				DisplayName:       e.DisplayName,
				Family:            e.Family,
				PrimaryScoreField: e.PrimaryScoreField,
				RequiredFields:    e.RequiredFieldNames,
				Comparative:       e.Comparative,
				Clusterable:       e.Clusterable,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"endpoints": out})
	})

	if areas != nil {
		apiMux.HandleFunc("/area", func(w http.ResponseWriter, r *http.Request) {
			pt, err := parsePoint(r)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
				return
			}
			ctx := r.Context()
			key := areaKey(pt.Lat, pt.Lon)
			var hit georef.AreaHit
			if cacheGet(ctx, rc, key, &hit) {
				w.Header().Set("x-cache", "hit")
				writeJSON(w, http.StatusOK, hit)
				return
			}
			hit, ok := areas.AreaAt(pt)
			if !ok {
				writeJSON(w, http.StatusNotFound, errorBody{Error: "no area near this point"})
				return
			}
			cacheSet(ctx, rc, key, hit, ttl)
			writeJSON(w, http.StatusOK, hit)
		})
	}
	return apiMux
}

// 文档注释：解析路由请求
// 背景：GET 读取 q/context/clusters 参数，POST 读取 JSON 请求体；查询为空视为参数错误。
func parseRouteRequest(w http.ResponseWriter, r *http.Request) (router.Request, error) {
	var req router.Request
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		req.Query = q.Get("q")
		req.Context = q.Get("context")
		if s := q.Get("clusters"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				return req, errors.New("clusters must be an integer")
			}
			req.ClusterCount = n
		}
	case http.MethodPost:
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
		if err := dec.Decode(&req); err != nil {
			return req, errors.New("invalid JSON body")
		}
	default:
		return req, errors.New("method not allowed")
	}
	if strings.TrimSpace(req.Query) == "" {
		return req, errors.New("missing query")
	}
	if req.ClusterCount < 0 {
		return req, errors.New("clusters must not be negative")
	}
	return req, nil
}

func parsePoint(r *http.Request) (model.Point, error) {
	q := r.URL.Query()
	lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
	lon, err2 := strconv.ParseFloat(q.Get("lon"), 64)
	if err1 != nil || err2 != nil {
		return model.Point{}, errors.New("lat and lon are required")
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return model.Point{}, errors.New("coordinates out of range")
	}
	return model.Point{Lat: lat, Lon: lon}, nil
}

// 错误到状态码：超时优先于数据集不可用（超时常被包装为不可用）
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, model.ErrDatasetUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
