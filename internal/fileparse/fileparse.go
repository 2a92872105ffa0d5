// Package fileparse turns uploaded CSV and Excel files into the raw
// header/row snapshot the validation engine works on. Cells are kept as
// untouched strings; nothing here judges content.
package fileparse

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Table is a parsed upload: one header row plus data rows.
type Table struct {
	Headers    []string   `json:"headers"`
	Rows       [][]string `json:"rows"`
	SheetNames []string   `json:"sheet_names,omitempty"`
	HasMerged  bool       `json:"has_merged,omitempty"`
}

// Parse dispatches on the file extension.
func Parse(filename string, data []byte) (Table, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return ParseCSV(data)
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		return ParseExcel(data)
	default:
		return Table{}, eris.Errorf("unsupported file type %q", filepath.Ext(filename))
	}
}
