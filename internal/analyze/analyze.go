// Package analyze projects and summarizes the metadata of records that match
// a filter.
package analyze

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/memo/internal/filter"
	"github.com/hyperjump/memo/internal/meta"
)

// ErrInvalidQuery is returned for a query without a filter or with a bad page.
var ErrInvalidQuery = errors.New("invalid analyze query")

// topValues is how many values the stats block lists before the other bucket.
const topValues = 4

// defaultFieldCount is how many metadata keys the default projection shows.
const defaultFieldCount = 3

// Query selects records by Filter and either projects Fields (paged by
// Offset and Limit) or, when StatsKey is set, summarizes one field.
type Query struct {
	Filter   *filter.Expr
	Fields   []string
	StatsKey string
	Limit    int
	Offset   int
}

// Validate reports whether the query can run.
func (q Query) Validate() error {
	if q.Filter == nil {
		return fmt.Errorf("%w: a filter is required", ErrInvalidQuery)
	}
	if q.Limit < 1 {
		return fmt.Errorf("%w: limit must be >= 1", ErrInvalidQuery)
	}
	if q.Offset < 0 {
		return fmt.Errorf("%w: offset must be >= 0", ErrInvalidQuery)
	}
	return nil
}

// Result holds the match count and either a Table or Stats.
type Result struct {
	Matched int    `json:"matched"`
	Table   *Table `json:"table,omitempty"`
	Stats   *Stats `json:"stats,omitempty"`
}

// Table is a page of projected rows. Cells are display strings.
type Table struct {
	Fields  []string   `json:"fields"`
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// Stats summarizes one field over every match.
type Stats struct {
	Key         string        `json:"key"`
	Cardinality int           `json:"cardinality"`
	Top         []ValueCount  `json:"top"`
	OtherValues int           `json:"other_values,omitempty"`
	OtherCount  int           `json:"other_count,omitempty"`
	Numeric     *NumericRange `json:"numeric,omitempty"`
	Dates       *DateRange    `json:"dates,omitempty"`
}

// ValueCount is one rendered value and how often it occurs.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// NumericRange is reported when every value is numeric.
type NumericRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
}

// DateRange is reported when every value is an ISO-8601 date or datetime.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type match struct {
	id int
	md *meta.Map
}

// Run evaluates q over metadata, indexed by record id. Records without
// metadata never match.
func Run(metadata []*meta.Map, q Query) (*Result, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	var matches []match
	for id, md := range metadata {
		if md.Len() == 0 {
			continue
		}
		if q.Filter.Matches(md) {
			matches = append(matches, match{id: id, md: md})
		}
	}

	res := &Result{Matched: len(matches)}
	if q.StatsKey != "" {
		res.Stats = stats(matches, q.StatsKey)
		return res, nil
	}
	res.Table = project(matches, q)
	return res, nil
}

// resolve returns the value of field for one record: "id", "metadata", or a
// metadata key written as "metadata.<key>" or bare.
func resolve(m match, field string) (meta.Value, bool) {
	switch field {
	case "id":
		return meta.Int(int64(m.id)), true
	case "metadata":
		return meta.Nested(m.md), true
	}
	return m.md.Get(strings.TrimPrefix(field, "metadata."))
}

func cell(v meta.Value, ok bool) string {
	if !ok {
		return ""
	}
	return v.Render()
}

// defaultFields returns id plus the first three sorted metadata keys seen
// across matches.
func defaultFields(matches []match) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, m := range matches {
		for _, k := range m.md.Keys() {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	if len(keys) > defaultFieldCount {
		keys = keys[:defaultFieldCount]
	}
	return append([]string{"id"}, keys...)
}

func project(matches []match, q Query) *Table {
	fields := q.Fields
	if len(fields) == 0 {
		fields = defaultFields(matches)
	}
	headers := make([]string, len(fields))
	for i, f := range fields {
		headers[i] = f
		if f == "id" {
			headers[i] = "ID"
		}
	}

	t := &Table{Fields: fields, Headers: headers, Rows: [][]string{}}
	if q.Offset >= len(matches) {
		return t
	}
	end := q.Offset + q.Limit
	if end > len(matches) || end < 0 {
		end = len(matches)
	}
	for _, m := range matches[q.Offset:end] {
		row := make([]string, len(fields))
		for i, f := range fields {
			row[i] = cell(resolve(m, f))
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

func stats(matches []match, key string) *Stats {
	var values []meta.Value
	for _, m := range matches {
		v, ok := resolve(m, key)
		if ok && !v.IsNull() {
			values = append(values, v)
		}
	}

	counts := make(map[string]int)
	var order []string
	for _, v := range values {
		r := v.Render()
		if _, ok := counts[r]; !ok {
			order = append(order, r)
		}
		counts[r]++
	}
	top := make([]ValueCount, len(order))
	for i, r := range order {
		top[i] = ValueCount{Value: r, Count: counts[r]}
	}
	sort.SliceStable(top, func(i, j int) bool { return top[i].Count > top[j].Count })

	s := &Stats{Key: key, Cardinality: len(order), Top: top}
	if len(top) > topValues {
		for _, vc := range top[topValues:] {
			s.OtherCount += vc.Count
		}
		s.OtherValues = len(top) - topValues
		s.Top = top[:topValues]
	}
	if len(values) == 0 {
		return s
	}
	if r, ok := numericRange(values); ok {
		s.Numeric = r
		return s
	}
	if r, ok := dateRange(values); ok {
		s.Dates = r
	}
	return s
}

func numericRange(values []meta.Value) (*NumericRange, bool) {
	r := &NumericRange{Min: math.Inf(1), Max: math.Inf(-1)}
	var sum float64
	for _, v := range values {
		var f float64
		switch v.Kind {
		case meta.KindInt, meta.KindFloat:
			f = v.Number()
		case meta.KindString:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(v.S), 64)
			if err != nil {
				return nil, false
			}
			f = parsed
		default:
			return nil, false
		}
		r.Min = math.Min(r.Min, f)
		r.Max = math.Max(r.Max, f)
		sum += f
	}
	r.Avg = sum / float64(len(values))
	return r, true
}

func dateRange(values []meta.Value) (*DateRange, bool) {
	var r *DateRange
	for _, v := range values {
		if v.Kind != meta.KindString {
			return nil, false
		}
		t, ok := ParseDate(v.S)
		if !ok {
			return nil, false
		}
		if r == nil {
			r = &DateRange{Start: t, End: t}
			continue
		}
		if t.Before(r.Start) {
			r.Start = t
		}
		if t.After(r.End) {
			r.End = t
		}
	}
	return r, r != nil
}
