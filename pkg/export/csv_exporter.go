package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// CSVExporter renders Dataset records into CSV bytes.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Render produces CSV encoded bytes for the dataset. Optional footer maps
// are appended as trailing rows, keyed by header; missing columns stay empty.
func (e *CSVExporter) Render(data Dataset, footers ...map[string]string) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("csv requires at least one header")
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(data.Headers); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	writeRow := func(row map[string]string) error {
		record := make([]string, len(data.Headers))
		for i, header := range data.Headers {
			record[i] = row[header]
		}
		return writer.Write(record)
	}
	for _, row := range data.Rows {
		if err := writeRow(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	for _, footer := range footers {
		if len(footer) == 0 {
			continue
		}
		if err := writeRow(footer); err != nil {
			return nil, fmt.Errorf("write csv footer: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
