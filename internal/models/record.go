// Package models defines the request and response types shared by the store,
// the CLI writers and the HTTP API.
package models

import "github.com/hyperjump/memo/internal/meta"

// RecordInput is one entry of a save batch. A nil ID inserts a new record;
// a set ID overwrites that record.
type RecordInput struct {
	ID       *int64    `json:"id,omitempty" yaml:"id,omitempty"`
	Body     string    `json:"body" yaml:"body"`
	Metadata *meta.Map `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Memorized reports where one saved entry landed.
type Memorized struct {
	ID          int    `json:"id"`
	Body        string `json:"body"`
	Overwritten bool   `json:"overwritten"`
}

// SaveResponse is the response for a save batch.
type SaveResponse struct {
	Records []Memorized `json:"records"`
	Rebuilt bool        `json:"rebuilt"`
}
