package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/memo/internal/meta"
	"github.com/hyperjump/memo/internal/models"
)

// ErrInvalidInputFile is returned when a save input file is malformed.
var ErrInvalidInputFile = errors.New("invalid input file")

// ReadRecordInputs parses the save input file at path.
func ReadRecordInputs(path string) ([]models.RecordInput, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file '%s': %w", path, err)
	}
	defer f.Close()
	return ParseRecordInputs(f)
}

// ParseRecordInputs parses a multi-document YAML stream of records. Each
// document is a mapping with a non-blank string body, an optional mapping
// metadata and an optional non-negative integer id. Null documents are
// skipped; a stream without entries is an error.
func ParseRecordInputs(r io.Reader) ([]models.RecordInput, error) {
	dec := yaml.NewDecoder(r)
	var out []models.RecordInput
	for {
		var node yaml.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInputFile, err)
		}
		v, err := meta.FromNode(&node)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInputFile, err)
		}
		if v.IsNull() {
			continue
		}
		in, err := recordInput(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInputFile, err)
		}
		out = append(out, in)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: input YAML contains no entries", ErrInvalidInputFile)
	}
	return out, nil
}

func recordInput(v meta.Value) (models.RecordInput, error) {
	var in models.RecordInput
	if v.Kind != meta.KindMap {
		return in, errors.New("each YAML document must be a mapping")
	}
	body, ok := v.Map.Get("body")
	if !ok {
		return in, errors.New("each YAML document requires 'body'")
	}
	if body.Kind != meta.KindString || strings.TrimSpace(body.S) == "" {
		return in, errors.New("body must be a non-empty string")
	}
	in.Body = body.S

	if md, ok := v.Map.Get("metadata"); ok && !md.IsNull() {
		if md.Kind != meta.KindMap {
			return in, errors.New("metadata must be a mapping when provided")
		}
		in.Metadata = md.Map
	}
	if id, ok := v.Map.Get("id"); ok {
		if id.Kind != meta.KindInt || id.I < 0 {
			return in, errors.New("id must be a non-negative integer when provided")
		}
		n := id.I
		in.ID = &n
	}
	return in, nil
}
