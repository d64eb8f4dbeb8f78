package model

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAreaID(t *testing.T) {
	cases := []struct {
		in    string
		width int
		want  string
	}{
		{"2108", 5, "02108"},
		{" 10001 ", 5, "10001"},
		{"123456", 5, "123456"},
		{"H2X", 5, "H2X"},
		{"", 5, ""},
		{"7", 0, "7"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, NormalizeAreaID(c.in, c.width), c.in)
	}
}

func TestValueJSON(t *testing.T) {
	var fields map[string]Value
	require.NoError(t, json.Unmarshal([]byte(`{"score": 8.8, "name": "Midtown", "missing": null}`), &fields))

	f, ok := fields["score"].Float()
	require.True(t, ok)
	assert.Equal(t, 8.8, f)

	_, ok = fields["name"].Float()
	assert.False(t, ok, "strings never convert to numbers")
	assert.Equal(t, "Midtown", fields["name"].String())
	assert.True(t, fields["missing"].IsZero())

	b, err := json.Marshal(fields["score"])
	require.NoError(t, err)
	assert.JSONEq(t, `8.8`, string(b))

	assert.Error(t, json.Unmarshal([]byte(`{"bad": true}`), &fields))
}

func TestValueNonFinite(t *testing.T) {
	_, ok := Number(math.NaN()).Float()
	assert.False(t, ok)
	b, err := json.Marshal(Number(math.Inf(1)))
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))
}

func TestRecordNumberNoDefault(t *testing.T) {
	r := AnalysisRecord{AreaID: "10001", Fields: map[string]Value{"a": Number(0), "b": String("3")}}
	v, ok := r.Number("a")
	assert.True(t, ok)
	assert.Equal(t, 0.0, v)
	_, ok = r.Number("b")
	assert.False(t, ok)
	_, ok = r.Number("c")
	assert.False(t, ok)
}

func TestWithTagsCopies(t *testing.T) {
	r := AnalysisRecord{AreaID: "33101", GeoTags: []string{"old"}}
	tags := []string{"Miami"}
	out := r.WithTags(tags)
	tags[0] = "changed"
	assert.Equal(t, []string{"Miami"}, out.GeoTags)
	assert.Equal(t, []string{"old"}, r.GeoTags)
}

func TestDatasetErrorIs(t *testing.T) {
	err := Unavailable("risk-analysis", io.EOF)
	assert.True(t, errors.Is(err, ErrDatasetUnavailable))
	assert.True(t, errors.Is(err, io.EOF))
	assert.Contains(t, err.Error(), "risk-analysis")

	var de *DatasetError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "risk-analysis", de.Endpoint)
}
