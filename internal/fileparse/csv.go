package fileparse

import (
	"bytes"
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"
)

var utf8BOM = []byte{0xef, 0xbb, 0xbf}

// ParseCSV reads a CSV file into a table. Records may have differing
// field counts; the validation engine reports those, so the reader must
// not reject them.
func ParseCSV(data []byte) (Table, error) {
	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	reader.FieldsPerRecord = -1

	var table Table
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Table{}, eris.Wrap(err, "failed to read csv")
		}
		if table.Headers == nil {
			table.Headers = record
			continue
		}
		table.Rows = append(table.Rows, record)
	}
	return table, nil
}
