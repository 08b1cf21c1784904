// Package extract decodes legacy spreadsheet workbooks and clinic CSV
// exports into uniform payment records, independent of any storage concern.
package extract

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/clinicware/ledger-import/pkg/errors"
)

// PatientRecordsSheet is the required worksheet label for ledger workbooks.
// When it is absent we do not guess at a different sheet.
const PatientRecordsSheet = "patient records"

// WorkbookRows reads the named worksheet and returns one map per row, keyed
// by column letter ("A", "B", ...). Keying by column reference means an
// empty or missing cell never shifts the columns that follow it.
func WorkbookRows(path, sheetName string) ([]map[string]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.NewUnsupportedFormat(err)
	}
	defer f.Close()

	target := strings.ToLower(strings.TrimSpace(sheetName))
	var sheet string
	for _, name := range f.GetSheetList() {
		if strings.ToLower(strings.TrimSpace(name)) == target {
			sheet = name
			break
		}
	}
	if sheet == "" {
		return nil, errors.NewSheetNotFound(sheetName)
	}

	raw, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}

	rows := make([]map[string]string, 0, len(raw))
	for _, cells := range raw {
		vals := make(map[string]string)
		for i, cell := range cells {
			text := strings.TrimSpace(cell)
			if text == "" {
				continue
			}
			col, err := excelize.ColumnNumberToName(i + 1)
			if err != nil {
				continue
			}
			vals[col] = text
		}
		rows = append(rows, vals)
	}
	return rows, nil
}
