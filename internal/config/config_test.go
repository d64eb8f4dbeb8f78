package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	c := Default()
	assert.Equal(t, "file", c.DatasetSource)
	assert.Equal(t, 600*time.Second, c.DatasetCacheTTL)
	assert.Equal(t, 5*time.Second, c.FetchTimeout)
	assert.Equal(t, 1.0, c.MinScore)
	assert.Equal(t, "strategic-analysis", c.DefaultEndpoint)
	assert.Equal(t, 5, c.ClusterDefaultCount)
	assert.Equal(t, ":8080", c.Addr)
	assert.False(t, c.RateLimitEnabled)
	assert.Equal(t, 3, c.IngestHour)
	assert.Empty(t, c.IngestDir)
}

func TestFromLookupOverridesAndFallbacks(t *testing.T) {
	env := map[string]string{
		"DATASET_SOURCE":        "Postgres",
		"ROUTER_MIN_SCORE":      "2.5",
		"ROUTER_MAX_ENDPOINTS":  "abc",
		"CLUSTER_DEFAULT_COUNT": "-3",
		"RATE_LIMIT_ENABLED":    "on",
		"CLUSTER_KNN":           "6",
		"ROUTER_FAMILY_FLOOR":   "NaN",
		"INGEST_HOUR":           "0",
	}
	c := FromLookup(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	assert.Equal(t, "postgres", c.DatasetSource)
	assert.Equal(t, 2.5, c.MinScore)
	assert.Equal(t, 4, c.MaxEndpoints)
	assert.Equal(t, 5, c.ClusterDefaultCount)
	assert.True(t, c.RateLimitEnabled)
	assert.Equal(t, 6, c.ClusterKNN)
	assert.Equal(t, 1.5, c.FamilyFloor)
	assert.Equal(t, 0, c.IngestHour)
}
