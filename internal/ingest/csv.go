package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
)

// ReadCSV reads a header row plus data rows into raw records. Rows may be
// ragged; missing trailing cells read as empty.
func ReadCSV(r io.Reader) ([]RawRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("csv: missing header row")
	}
	if err != nil {
		return nil, fmt.Errorf("csv: %w", err)
	}
	var records []RawRecord
	for {
		cells, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv: %w", err)
		}
		records = append(records, record(headers, cells))
	}
	return records, nil
}
