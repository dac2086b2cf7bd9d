package analyze

import (
	"errors"
	"testing"

	"github.com/hyperjump/memo/internal/filter"
	"github.com/hyperjump/memo/internal/meta"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseAll(t *testing.T, texts ...string) []*meta.Map {
	t.Helper()
	out := make([]*meta.Map, len(texts))
	for i, text := range texts {
		m, err := meta.ParseMap(text)
		require.NoError(t, err)
		out[i] = m
	}
	return out
}

func mustFilter(t *testing.T, text string) *filter.Expr {
	t.Helper()
	e, err := filter.Parse(text)
	require.NoError(t, err)
	return &e
}

func TestRun_Validation(t *testing.T) {
	md := parseAll(t, "{a: 1}")
	tests := []struct {
		name string
		q    Query
	}{
		{"no filter", Query{Limit: 10}},
		{"zero limit", Query{Filter: mustFilter(t, "{}"), Limit: 0}},
		{"negative offset", Query{Filter: mustFilter(t, "{}"), Limit: 1, Offset: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(md, tt.q)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidQuery))
		})
	}
}

func TestRun_SkipsRecordsWithoutMetadata(t *testing.T) {
	md := parseAll(t, "{a: 1}", "", "{}", "{a: 2}")
	md[2] = meta.NewMap()
	res, err := Run(md, Query{Filter: mustFilter(t, "{}"), Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Matched)
	assert.Equal(t, [][]string{{"0", "1"}, {"3", "2"}}, res.Table.Rows)
}

func TestRun_DefaultFields(t *testing.T) {
	md := parseAll(t,
		"{zeta: 1, alpha: x}",
		"{beta: [1, 2], gamma: {k: v}, alpha: y}",
	)
	res, err := Run(md, Query{Filter: mustFilter(t, "{}"), Limit: 10})
	require.NoError(t, err)
	require.NotNil(t, res.Table)
	assert.Equal(t, []string{"id", "alpha", "beta", "gamma"}, res.Table.Fields)
	assert.Equal(t, []string{"ID", "alpha", "beta", "gamma"}, res.Table.Headers)
	assert.Equal(t, [][]string{
		{"0", "x", "", ""},
		{"1", "y", "[1, 2]", "{k: v}"},
	}, res.Table.Rows)
}

func TestRun_ExplicitFieldsAndPaging(t *testing.T) {
	md := parseAll(t, "{n: 1, s: a}", "{n: 2, s: b}", "{n: 3, s: c}", "{n: 4}")
	res, err := Run(md, Query{
		Filter: mustFilter(t, "{n: {$gte: 2}}"),
		Fields: []string{"metadata.s", "id", "n", "metadata"},
		Limit:  2,
		Offset: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Matched)
	assert.Equal(t, []string{"metadata.s", "ID", "n", "metadata"}, res.Table.Headers)
	assert.Equal(t, [][]string{
		{"c", "2", "3", "{n: 3, s: c}"},
		{"", "3", "4", "{n: 4}"},
	}, res.Table.Rows)

	res, err = Run(md, Query{Filter: mustFilter(t, "{}"), Limit: 5, Offset: 10})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Matched)
	assert.Empty(t, res.Table.Rows)
}

func TestRun_NoMatchesDefaultsToID(t *testing.T) {
	res, err := Run(parseAll(t, "{a: 1}"), Query{Filter: mustFilter(t, "{a: 2}"), Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Matched)
	assert.Equal(t, []string{"ID"}, res.Table.Headers)
}

func TestStats_NumericStrings(t *testing.T) {
	md := parseAll(t, "{score: '3'}", "{score: '5'}", "{score: '5'}")
	res, err := Run(md, Query{Filter: mustFilter(t, "{}"), StatsKey: "score", Limit: 10})
	require.NoError(t, err)
	require.NotNil(t, res.Stats)
	assert.Nil(t, res.Table)

	s := res.Stats
	assert.Equal(t, 2, s.Cardinality)
	assert.Equal(t, []ValueCount{{"5", 2}, {"3", 1}}, s.Top)
	require.NotNil(t, s.Numeric)
	assert.Nil(t, s.Dates)
	assert.Equal(t, "3", FormatG(s.Numeric.Min))
	assert.Equal(t, "5", FormatG(s.Numeric.Max))
	assert.InDelta(t, 4.333, s.Numeric.Avg, 0.001)
}

func TestStats_OtherBucket(t *testing.T) {
	md := parseAll(t,
		"{c: a}", "{c: b}", "{c: b}", "{c: c}", "{c: d}",
		"{c: e}", "{c: e}", "{c: e}", "{c: f}", "{c: null}", "{x: 1}",
	)
	res, err := Run(md, Query{Filter: mustFilter(t, "{}"), StatsKey: "metadata.c", Limit: 1})
	require.NoError(t, err)
	s := res.Stats
	assert.Equal(t, "metadata.c", s.Key)
	assert.Equal(t, 6, s.Cardinality)
	assert.Equal(t, []ValueCount{{"e", 3}, {"b", 2}, {"a", 1}, {"c", 1}}, s.Top)
	assert.Equal(t, 2, s.OtherValues)
	assert.Equal(t, 2, s.OtherCount)
	assert.Nil(t, s.Numeric)
	assert.Nil(t, s.Dates)
}

func TestStats_DateRange(t *testing.T) {
	md := parseAll(t,
		"{when: 2024-03-01}",
		"{when: '2024-01-05T10:00:00Z'}",
		"{when: '2024-02-10 08:30:00+02:00'}",
	)
	res, err := Run(md, Query{Filter: mustFilter(t, "{}"), StatsKey: "when", Limit: 1})
	require.NoError(t, err)
	s := res.Stats
	assert.Nil(t, s.Numeric)
	require.NotNil(t, s.Dates)
	assert.Equal(t, "2024-01-05", FormatDate(s.Dates.Start))
	assert.Equal(t, "2024-03-01", FormatDate(s.Dates.End))
}

func TestStats_MixedHasNoRange(t *testing.T) {
	md := parseAll(t, "{v: 2024-03-01}", "{v: 7}", "{v: true}")
	res, err := Run(md, Query{Filter: mustFilter(t, "{}"), StatsKey: "v", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Stats.Cardinality)
	assert.Nil(t, res.Stats.Numeric)
	assert.Nil(t, res.Stats.Dates)
}

func TestStats_BoolsAreNotNumeric(t *testing.T) {
	md := parseAll(t, "{done: true}", "{done: false}")
	res, err := Run(md, Query{Filter: mustFilter(t, "{}"), StatsKey: "done", Limit: 1})
	require.NoError(t, err)
	assert.Nil(t, res.Stats.Numeric)
	assert.Equal(t, []ValueCount{{"true", 1}, {"false", 1}}, res.Stats.Top)
}

func TestStats_MissingKey(t *testing.T) {
	res, err := Run(parseAll(t, "{a: 1}"), Query{Filter: mustFilter(t, "{}"), StatsKey: "b", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Matched)
	assert.Equal(t, 0, res.Stats.Cardinality)
	assert.Empty(t, res.Stats.Top)
	assert.Nil(t, res.Stats.Numeric)
	assert.Nil(t, res.Stats.Dates)
}
