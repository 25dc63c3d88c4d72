package sheet

import (
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/warp/collections/collection"
)

// parseXLSX reads the first worksheet. Cells are read raw so that numbers
// keep full precision; a numeric Date cell is an Excel serial date.
func parseXLSX(r io.Reader) ([]collection.Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, malformed("cannot open workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, malformed("workbook has no sheets")
	}
	sheetName := sheets[0]

	grid, err := f.GetRows(sheetName, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, malformed("reading sheet %q: %v", sheetName, err)
	}
	if len(grid) == 0 {
		return nil, malformed("sheet %q is empty", sheetName)
	}

	h, err := parseHeader(grid[0])
	if err != nil {
		return nil, err
	}

	date1904 := false
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		date1904 = *props.Date1904
	}

	var rows []collection.Row
	for i, record := range grid[1:] {
		if blankRow(record) {
			continue
		}
		sheetRow := i + 2 // 1-based, after the header
		rows = append(rows, h.row(i+1, func(col int) collection.Cell {
			if col >= len(record) {
				return collection.Cell{}
			}
			return decodeCell(f, sheetName, col, sheetRow, record[col], col == h.date, date1904)
		}))
	}
	return rows, nil
}

// decodeCell types a raw cell value. String cells stay text even when they
// look numeric, so "0712345678" keeps its leading zero.
func decodeCell(f *excelize.File, sheetName string, col, row int, raw string, isDate, date1904 bool) collection.Cell {
	if strings.TrimSpace(raw) == "" {
		return collection.Cell{}
	}

	if axis, err := excelize.CoordinatesToCellName(col+1, row); err == nil {
		if typ, err := f.GetCellType(sheetName, axis); err == nil {
			switch typ {
			case excelize.CellTypeSharedString, excelize.CellTypeInlineString, excelize.CellTypeDate,
				excelize.CellTypeFormula, excelize.CellTypeBool, excelize.CellTypeError:
				return collection.Text(raw)
			}
		}
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return collection.Text(raw)
	}
	if isDate {
		t, err := excelize.ExcelDateToTime(v, date1904)
		if err != nil {
			return collection.Text(raw)
		}
		return collection.Timestamp(t)
	}
	return collection.Number(v)
}
