// Package export formats a completed BatchResult for download
// (spec.md §6 "GET /scrape/download/{id}?format=json|csv"). This is the
// narrowest possible reference exporter — SPEC_FULL.md calls export writers
// an external collaborator the core engine only needs a thin default for.
// Stdlib encoding/json and encoding/csv only: flattening a dynamic
// map[string]any per record into rows is ordinary serialization with no
// ecosystem library better positioned than the standard ones for it.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/scrapeforge/harvester/internal/types"
)

// Format renders result in the requested format, returning the body and
// its MIME type.
func Format(result *types.BatchResult, format string) ([]byte, string, error) {
	switch format {
	case "", "json":
		body, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("marshal json result: %w", err)
		}
		return body, "application/json", nil
	case "csv":
		body, err := toCSV(result.Records)
		if err != nil {
			return nil, "", err
		}
		return body, "text/csv", nil
	default:
		return nil, "", fmt.Errorf("%w: unsupported format %q", types.ErrValidation, format)
	}
}

// toCSV flattens records into rows over the union of all field names,
// sorted for deterministic column order across calls.
func toCSV(records []*types.Record) ([]byte, error) {
	columns := map[string]struct{}{}
	for _, r := range records {
		for k := range r.Fields {
			columns[k] = struct{}{}
		}
	}
	header := make([]string, 0, len(columns)+2)
	header = append(header, "url", "extracted_at")
	fieldNames := make([]string, 0, len(columns))
	for k := range columns {
		fieldNames = append(fieldNames, k)
	}
	sort.Strings(fieldNames)
	header = append(header, fieldNames...)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range records {
		row := make([]string, 0, len(header))
		row = append(row, r.URL, r.ExtractedAt.Format("2006-01-02T15:04:05Z07:00"))
		for _, name := range fieldNames {
			row = append(row, fmt.Sprint(r.Fields[name]))
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
