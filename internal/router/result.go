package router

import (
	"georoute/internal/classify"
	"georoute/internal/geofilter"
	"georoute/internal/model"
)

// Stage：编排状态
type Stage string

const (
	StageReceived      Stage = "received"
	StageClassified    Stage = "classified"
	StageRejected      Stage = "rejected"
	StageGeoFiltered   Stage = "geo_filtered"
	StageSingleRouted  Stage = "single_routed"
	StageMultiComposed Stage = "multi_composed"
	StageClustered     Stage = "clustered"
	StageFinalized     Stage = "finalized"
)

// Request：单次路由请求；Context 为会话上下文，原样携带
type Request struct {
	Query        string `json:"query"`
	Context      string `json:"context,omitempty"`
	ClusterCount int    `json:"cluster_count,omitempty"`
}

// RankedRecord：单端点结果中的一条记录
type RankedRecord struct {
	Rank         int                  `json:"rank"`
	DisplayValue float64              `json:"display_value"`
	Record       model.AnalysisRecord `json:"record"`
}

// EntitySummary：对比类地名问题按实体汇总展示值
type EntitySummary struct {
	Entity string  `json:"entity"`
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Ranked int     `json:"ranked"`
}

// 文档注释：路由结果
// 背景：Decision 总是存在；单端点填 Records/Unranked，多端点填 Composite；请求聚类时填 Clusters。
type Result struct {
	RequestID    string                   `json:"request_id"`
	Query        string                   `json:"query"`
	Context      string                   `json:"context,omitempty"`
	Decision     model.RoutingDecision    `json:"decision"`
	States       []Stage                  `json:"states"`
	Scores       []classify.EndpointScore `json:"scores,omitempty"`
	Entities     []string                 `json:"entities,omitempty"`
	GeoFilter    *geofilter.Stats         `json:"geo_filter,omitempty"`
	AnalysisType string                   `json:"analysis_type,omitempty"`
	DisplayField string                   `json:"display_field,omitempty"`
	Records      []RankedRecord           `json:"records,omitempty"`
	Unranked     []string                 `json:"unranked,omitempty"`
	Composite    []model.CompositeRecord  `json:"composite,omitempty"`
	Partitions   []EntitySummary          `json:"partitions,omitempty"`
	Clusters     []model.Cluster          `json:"clusters,omitempty"`
	ClusterField string                   `json:"cluster_field,omitempty"`
}

// State：是否经过某状态
func (r *Result) State(s Stage) bool {
	for _, x := range r.States {
		if x == s {
			return true
		}
	}
	return false
}
