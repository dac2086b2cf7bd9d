// Package cli provides the output writers and input parsing of the memo CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/memo/internal/analyze"
	"github.com/hyperjump/memo/internal/models"
	"github.com/hyperjump/memo/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a format name. The empty string selects OutputText.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format: %s (supported: text, json)", s)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSaved writes one "Memorized" line per saved entry.
func WriteSaved(w io.Writer, resp *models.SaveResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	for _, m := range resp.Records {
		if _, err := fmt.Fprintf(w, "Memorized: '%s' (ID: %d)\n", m.Body, m.ID); err != nil {
			return err
		}
	}
	return nil
}

// WriteRecall writes ranked recall results. Body lines are indented under
// their score line; an empty body prints one empty indented line.
func WriteRecall(w io.Writer, resp *models.RecallResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Top %d results for '%s':\n", resp.K, resp.Query)
	for _, r := range resp.Results {
		fmt.Fprintf(&b, "  [%d] Score: %.4f |\n", r.Rank, r.Score)
		for _, line := range utils.SplitLines(r.Body) {
			fmt.Fprintf(&b, "      %s\n", line)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteClean reports whether anything was removed.
func WriteClean(w io.Writer, res *models.CleanResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	paths := strings.Join(res.Paths, ", ")
	if res.AlreadyEmpty() {
		_, err := fmt.Fprintf(w, "Database already empty (%s)\n", paths)
		return err
	}
	_, err := fmt.Fprintf(w, "Cleared memory database (%s)\n", paths)
	return err
}

// WriteMigrated reports a finished migration.
func WriteMigrated(w io.Writer, n int, paths []string, indexPath string) error {
	_, err := fmt.Fprintf(w, "Wrote %d records to %s\nVector index is preserved as-is (no change to %s)\n",
		n, strings.Join(paths, ", "), indexPath)
	return err
}

// WriteStatus writes a store status summary.
func WriteStatus(w io.Writer, st *models.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	consistent := "yes"
	if !st.Consistent {
		consistent = "no (rebuilt on next save)"
	}
	faiss := "not compiled in"
	if st.FAISSCompiled {
		faiss = "available"
	}
	_, err := fmt.Fprintf(w,
		"Store:      %s\nLayout:     %s\nFiles:      %s\nRecords:    %d\nIndex:      %s (%d vectors)\nConsistent: %s\nDisk usage: %s\nFAISS:      %s\n",
		st.Base, st.Layout, strings.Join(st.Paths, ", "), st.Records,
		st.IndexType, st.IndexSize, consistent, FormatBytes(st.DiskUsage), faiss)
	return err
}

// WriteAnalyze writes the match count followed by either the stats block or
// the projected table.
func WriteAnalyze(w io.Writer, res *analyze.Result, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Matched: %d\n", res.Matched)
	switch {
	case res.Stats != nil:
		writeStats(&b, res.Stats)
	case res.Table != nil:
		writeTable(&b, res.Table.Headers, res.Table.Rows)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func writeStats(b *strings.Builder, s *analyze.Stats) {
	fmt.Fprintf(b, "Key: %s\n", s.Key)
	fmt.Fprintf(b, "Cardinality (distinct values): %d\n", s.Cardinality)
	b.WriteString("Cardinality by value:\n")
	for _, vc := range s.Top {
		fmt.Fprintf(b, "  %s: %d\n", vc.Value, vc.Count)
	}
	if s.OtherValues > 0 {
		fmt.Fprintf(b, "  other (aggregate of %d additional values): %d\n", s.OtherValues, s.OtherCount)
	}
	switch {
	case s.Numeric != nil:
		b.WriteString("Range (numeric):\n")
		fmt.Fprintf(b, "  min: %s\n", analyze.FormatG(s.Numeric.Min))
		fmt.Fprintf(b, "  max: %s\n", analyze.FormatG(s.Numeric.Max))
		fmt.Fprintf(b, "  avg: %.2f\n", s.Numeric.Avg)
	case s.Dates != nil:
		b.WriteString("Range (date-like):\n")
		fmt.Fprintf(b, "  start: %s\n", analyze.FormatDate(s.Dates.Start))
		fmt.Fprintf(b, "  end:   %s\n", analyze.FormatDate(s.Dates.End))
	}
}

// writeTable left-justifies every cell to its column width and joins
// columns with two spaces.
func writeTable(b *strings.Builder, headers []string, rows [][]string) {
	if len(headers) == 0 {
		return
	}
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if n := utf8.RuneCountInString(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}
	writeRow := func(cells []string) {
		for i, cell := range cells {
			if i > 0 {
				b.WriteString("  ")
			}
			b.WriteString(cell)
			b.WriteString(strings.Repeat(" ", widths[i]-utf8.RuneCountInString(cell)))
		}
		b.WriteByte('\n')
	}
	writeRow(headers)
	for _, row := range rows {
		writeRow(row)
	}
}

// FormatBytes renders n with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
