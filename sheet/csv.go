package sheet

import (
	"bufio"
	"encoding/csv"
	"errors"
	"io"

	"github.com/warp/collections/collection"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func parseCSV(r io.Reader) ([]collection.Row, error) {
	br := bufio.NewReader(r)
	if prefix, err := br.Peek(len(utf8BOM)); err == nil && string(prefix) == string(utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	head, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, malformed("file is empty")
	}
	if err != nil {
		return nil, malformed("reading header: %v", err)
	}
	h, err := parseHeader(head)
	if err != nil {
		return nil, err
	}

	var rows []collection.Row
	for n := 1; ; n++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			// The reader has consumed the bad line; report it and carry on.
			rows = append(rows, collection.Row{
				Number: n,
				Err:    &collection.ValidationError{Field: "row", Message: parseErr.Err.Error()},
			})
			continue
		}
		if err != nil {
			return nil, malformed("reading data row %d: %v", n, err)
		}
		if blankRow(record) {
			continue
		}
		rows = append(rows, h.row(n, func(col int) collection.Cell {
			if col >= len(record) {
				return collection.Cell{}
			}
			return collection.Text(record[col])
		}))
	}
	return rows, nil
}
