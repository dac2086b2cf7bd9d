package models

import (
	"errors"
	"strings"

	"github.com/hyperjump/memo/internal/meta"
)

// ErrEmptyQuery is returned by Normalize when the query is blank.
var ErrEmptyQuery = errors.New("recall requires <query>")

// RecallQuery is a similarity query with an optional filter given as YAML or
// JSON text. A nil K selects the default.
type RecallQuery struct {
	Query  string `json:"query"`
	K      *int   `json:"k,omitempty"`
	Filter string `json:"filter,omitempty"`
}

// Normalize trims the query, applies defaultK when K is unset and clamps K to
// [1, maxK]. K is always set afterwards.
func (q *RecallQuery) Normalize(defaultK, maxK int) error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return ErrEmptyQuery
	}
	k := defaultK
	if q.K != nil {
		k = *q.K
	}
	if maxK > 0 && k > maxK {
		k = maxK
	}
	if k < 1 {
		k = 1
	}
	q.K = &k
	return nil
}

// RecallResult is a single ranked record.
type RecallResult struct {
	Rank     int       `json:"rank"`
	ID       int       `json:"id"`
	Score    float64   `json:"score"`
	Body     string    `json:"body"`
	Metadata *meta.Map `json:"metadata,omitempty"`
}

// RecallResponse is the response for a recall query.
type RecallResponse struct {
	Query   string          `json:"query"`
	K       int             `json:"k"`
	Filter  string          `json:"filter,omitempty"`
	Results []*RecallResult `json:"results"`
}
