package sheet

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// SampleFileName is the suggested download name of the template workbook.
const SampleFileName = "sample_collections.xlsx"

type sampleRow struct {
	id                           int
	name, contact, date, collect string
}

// sampleRows hit every classification outcome, plus repeated ids and
// blank dates.
var sampleRows = []sampleRow{
	{1001, "John Doe", "0712345678", "2024-01-15", "Yes"},
	{1002, "Jane Smith", "0723456789", "2024-01-16", "Yes"},
	{1003, "Bob Johnson", "0734567890", "2024-01-17", "No"},
	{1004, "Alice Brown", "", "2024-01-18", "No"},
	{1005, "", "0745678901", "2024-01-19", "Yes"},
	{1006, "Charlie Wilson", "", "", "No"},
	{1001, "John Doe Updated", "0712345678", "2024-01-20", "Yes"},
	{1002, "Jane Smith Follow-up", "0723456789", "2024-01-21", "Yes"},
	{1007, "", "", "2024-01-22", "No"},
	{1008, "David Lee", "0756789012", "", "Yes"},
	{1009, "Eva Garcia", "0767890123", "2024-01-23", "No"},
}

// WriteSample writes the template workbook: the expected header and rows
// that exercise every import rule.
func WriteSample(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheetName = "Collections"
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := []any{ColumnID, ColumnName, ColumnContact, ColumnDate, ColumnCollected}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, r := range sampleRows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := []any{r.id, blankNil(r.name), blankNil(r.contact), blankNil(r.date), r.collect}
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// blankNil leaves the cell unset instead of writing an empty string.
func blankNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}
