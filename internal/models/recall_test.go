package models

import (
	"errors"
	"testing"
)

func intPtr(i int) *int { return &i }

func TestRecallQuery_Normalize(t *testing.T) {
	tests := []struct {
		name string
		k    *int
		want int
	}{
		{"unset uses default", nil, 2},
		{"explicit zero raised to one", intPtr(0), 1},
		{"kept in range", intPtr(5), 5},
		{"capped at max", intPtr(200), 100},
		{"negative raised to one", intPtr(-3), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &RecallQuery{Query: "x", K: tt.k}
			if err := q.Normalize(2, 100); err != nil {
				t.Fatal(err)
			}
			if q.K == nil || *q.K != tt.want {
				t.Errorf("K = %v, want %d", q.K, tt.want)
			}
		})
	}
}

func TestRecallQuery_NormalizeQuery(t *testing.T) {
	q := &RecallQuery{Query: "  buy milk \n"}
	if err := q.Normalize(2, 100); err != nil {
		t.Fatal(err)
	}
	if q.Query != "buy milk" {
		t.Errorf("Query = %q, want trimmed", q.Query)
	}

	for _, blank := range []string{"", " ", "\t\n"} {
		q := &RecallQuery{Query: blank}
		if err := q.Normalize(2, 100); !errors.Is(err, ErrEmptyQuery) {
			t.Errorf("Normalize(%q) = %v, want ErrEmptyQuery", blank, err)
		}
	}
}

func TestCleanResult_AlreadyEmpty(t *testing.T) {
	if !(&CleanResult{Paths: []string{"a"}}).AlreadyEmpty() {
		t.Error("nothing removed should report already empty")
	}
	if (&CleanResult{Removed: []string{"a"}}).AlreadyEmpty() {
		t.Error("removed files should not report already empty")
	}
}
