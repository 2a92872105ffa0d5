package fileparse

import (
	"bytes"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"
)

// ParseExcel reads the first sheet of an xlsx workbook into a table.
// All sheet names are reported so a caller can tell the user which sheet
// was used, and HasMerged flags workbooks whose first sheet contains
// merged cells, a common source of malformed survey exports.
func ParseExcel(data []byte) (Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return Table{}, eris.Wrap(err, "failed to open workbook")
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Table{}, eris.New("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return Table{}, eris.Wrapf(err, "failed to read sheet %s", sheets[0])
	}

	table := Table{SheetNames: sheets}
	if merges, err := f.GetMergeCells(sheets[0]); err == nil && len(merges) > 0 {
		table.HasMerged = true
	}

	if len(rows) == 0 {
		return table, nil
	}
	table.Headers = rows[0]

	// GetRows drops trailing empty cells, so a sheet's rows come back
	// ragged even when the grid is rectangular. Pad data rows up to the
	// header width; genuinely longer rows are left alone for the
	// row-length check to report.
	width := len(table.Headers)
	for _, row := range rows[1:] {
		if len(row) < width {
			padded := make([]string, width)
			copy(padded, row)
			row = padded
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}
