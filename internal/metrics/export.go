package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Record is one evaluated input: machine-parsable and aggregable.
type Record struct {
	InputID    string             `json:"input_id"`
	Checkpoint string             `json:"checkpoint"`
	Values     map[string]float64 `json:"metrics"`
}

// WriteRecords writes the records as a JSON array, one record per evaluated
// input, creating parent directories as needed.
func WriteRecords(path string, records []Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}

// Aggregate averages each metric across records. Records missing a metric
// do not contribute to its mean.
func Aggregate(records []Record) map[string]float64 {
	sums := map[string]float64{}
	counts := map[string]int{}
	for _, r := range records {
		for name, v := range r.Values {
			sums[name] += v
			counts[name]++
		}
	}
	out := make(map[string]float64, len(sums))
	for name, sum := range sums {
		out[name] = sum / float64(counts[name])
	}
	return out
}
