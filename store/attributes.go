// Package store - Persistence of recognised attributes as JSON files and SQLite runs.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nvr-ai/go-par/attributes"
)

// AttributesFile is the name of the file WriteAttributes creates.
const AttributesFile = "attributes.json"

// record is the on-disk form of a prediction; attributes are a plain number array.
type record struct {
	Index      int    `json:"index"`
	Path       string `json:"path"`
	Attributes []int  `json:"attributes"`
	DurationNS int64  `json:"duration_ns"`
}

func toRecord(p attributes.Prediction) record {
	attrs := make([]int, len(p.Attributes))
	for i, a := range p.Attributes {
		attrs[i] = int(a)
	}
	return record{Index: p.Index, Path: p.Path, Attributes: attrs, DurationNS: int64(p.Duration)}
}

func (r record) prediction() (attributes.Prediction, error) {
	attrs := make([]uint8, len(r.Attributes))
	for i, a := range r.Attributes {
		if a != 0 && a != 1 {
			return attributes.Prediction{}, fmt.Errorf("image %d attribute %d has value %d", r.Index, i, a)
		}
		attrs[i] = uint8(a)
	}
	return attributes.Prediction{
		Index:      r.Index,
		Path:       r.Path,
		Attributes: attrs,
		Duration:   time.Duration(r.DurationNS),
	}, nil
}

// WriteAttributes writes the predictions, in evaluation order, to <dir>/attributes.json.
//
// Arguments:
//   - dir: The output directory, created if missing.
//   - preds: The predictions.
//
// Returns:
//   - string: The path written.
//   - error: An error if the file cannot be written.
func WriteAttributes(dir string, preds []attributes.Prediction) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	records := make([]record, len(preds))
	for i, p := range preds {
		records[i] = toRecord(p)
	}
	data, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("failed to encode attributes: %w", err)
	}

	path := filepath.Join(dir, AttributesFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write attributes: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("failed to move attributes into place: %w", err)
	}
	return path, nil
}

// ReadAttributes reads the predictions written by WriteAttributes.
//
// Arguments:
//   - dir: The directory holding attributes.json.
//
// Returns:
//   - []attributes.Prediction: The predictions.
//   - error: An error if the file cannot be read or decoded.
func ReadAttributes(dir string) ([]attributes.Prediction, error) {
	data, err := os.ReadFile(filepath.Join(dir, AttributesFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read attributes: %w", err)
	}

	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode attributes: %w", err)
	}

	preds := make([]attributes.Prediction, len(records))
	for i, r := range records {
		if preds[i], err = r.prediction(); err != nil {
			return nil, err
		}
	}
	return preds, nil
}
