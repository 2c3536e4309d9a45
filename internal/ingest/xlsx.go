package ingest

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// ReadXLSX reads the first sheet of a workbook into raw records. The first
// row is the header row.
func ReadXLSX(r io.Reader) ([]RawRecord, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("xlsx: workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("xlsx: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("xlsx: missing header row")
	}
	headers := rows[0]
	var records []RawRecord
	for _, cells := range rows[1:] {
		records = append(records, record(headers, cells))
	}
	return records, nil
}
