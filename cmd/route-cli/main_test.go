package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	body := `[
		{"area_id": "10001", "competitive_advantage_score": 6.5, "centroid": {"lat": 40.75, "lon": -73.99}},
		{"area_id": "10002", "competitive_advantage_score": 6.9, "centroid": {"lat": 40.71, "lon": -73.98}},
		{"area_id": "10003", "competitive_advantage_score": 8.8, "centroid": {"lat": 40.73, "lon": -73.99}},
		{"area_id": "10004", "competitive_advantage_score": 9.1, "centroid": {"lat": 40.70, "lon": -74.01}}
	]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "competitive-analysis.json"), []byte(body), 0o644))
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestEndpointsCommand(t *testing.T) {
	dir := dataDir(t)
	out, err := execute(t, "endpoints", "--data", dir, "--boundaries", t.TempDir(), "--json=false")
	require.NoError(t, err)
	assert.Contains(t, out, "* competitive-analysis")
	assert.Contains(t, out, "  strategic-analysis")
}

func TestQueryCommandJSON(t *testing.T) {
	dir := dataDir(t)
	out, err := execute(t, "query", "--data", dir, "--boundaries", t.TempDir(), "--json", "Compare Nike vs Adidas market position")
	require.NoError(t, err)
	var res struct {
		Decision struct {
			Accepted  bool     `json:"accepted"`
			Endpoints []string `json:"endpoints"`
		} `json:"decision"`
		Records []struct {
			Rank int `json:"rank"`
		} `json:"records"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Decision.Accepted)
	assert.Equal(t, []string{"competitive-analysis"}, res.Decision.Endpoints)
	assert.Len(t, res.Records, 4)
}

func TestQueryCommandMissingDataset(t *testing.T) {
	out, err := execute(t, "query", "--data", t.TempDir(), "--boundaries", t.TempDir(), "--json=false", "what are the biggest risks")
	require.Error(t, err)
	assert.Contains(t, out, "risk-analysis")
}

func TestClusterCommand(t *testing.T) {
	dir := dataDir(t)
	out, err := execute(t, "cluster", "competitive-analysis", "--data", dir, "--boundaries", t.TempDir(), "--json=false", "--k", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "4 areas, requested 2")
	assert.Contains(t, out, "competitive_advantage_score")

	_, err = execute(t, "cluster", "no-such-endpoint", "--data", dir, "--boundaries", t.TempDir(), "--json=false", "--k", "2", "--field", "")
	assert.ErrorContains(t, err, "unknown endpoint")
}
