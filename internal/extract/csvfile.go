package extract

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/clinicware/ledger-import/pkg/errors"
)

// CSVRows reads a clinic CSV export and returns one map per data row, keyed
// by the lower-cased header name. A UTF-8 BOM on the first header is
// stripped. Rows shorter than the header are padded with empty values.
func CSVRows(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, errors.NewUnsupportedFormat(err)
	}
	for i, h := range header {
		h = strings.TrimPrefix(h, "\uFEFF")
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}

	var rows []map[string]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.NewUnsupportedFormat(err)
		}
		vals := make(map[string]string, len(header))
		for i, name := range header {
			if name == "" {
				continue
			}
			if i < len(record) {
				vals[name] = strings.TrimSpace(record[i])
			} else {
				vals[name] = ""
			}
		}
		rows = append(rows, vals)
	}
	return rows, nil
}

// firstOf returns the first non-empty value among the synonym headers.
func firstOf(row map[string]string, keys ...string) string {
	for _, k := range keys {
		if v, ok := row[k]; ok && v != "" {
			return v
		}
	}
	return ""
}
