/*
Package sheet turns uploaded spreadsheets into import rows.

FORMATS:
  .xlsx / .xlsm  first worksheet, read with excelize
  .csv           UTF-8, optional byte-order mark

HEADER:
  The first row names the columns. Matching is case-insensitive and
  ignores surrounding spaces.
    required: ID, Name, Contact
    optional: Date, Email, Collected (Collected is read and dropped)
  Other columns are ignored.

ROWS:
  Row.Number is the 1-based index of the data row (the header is not
  counted). Rows with every cell blank are skipped and still consume a
  number, so messages match what the user sees below the header.

ERRORS:
  Anything that stops the file being read as a whole (unknown extension,
  corrupt archive, missing required column) wraps
  collection.ErrMalformedUpload. Bad values inside a row are not errors
  here; the classifier reports them per row. A CSV line that cannot be
  tokenized (a stray quote, say) becomes a Row with Err set.

SEE ALSO:
  - collection/classify.go: what happens to each Row
  - sample.go: the downloadable template
*/
package sheet

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/warp/collections/collection"
)

// Column names as they appear in the header row.
const (
	ColumnID        = "ID"
	ColumnName      = "Name"
	ColumnContact   = "Contact"
	ColumnDate      = "Date"
	ColumnEmail     = "Email"
	ColumnCollected = "Collected"
)

var requiredColumns = []string{ColumnID, ColumnName, ColumnContact}

// Supported reports whether the file name has an extension Parse can read.
func Supported(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm", ".csv":
		return true
	default:
		return false
	}
}

// Parse reads every data row of the named upload.
func Parse(name string, r io.Reader) ([]collection.Row, error) {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".xlsx", ".xlsm":
		return parseXLSX(r)
	case ".csv":
		return parseCSV(r)
	case ".xls":
		return nil, malformed("legacy .xls workbooks are not supported; save as .xlsx")
	default:
		return nil, malformed("unsupported file type %q: expected .xlsx or .csv", ext)
	}
}

// Source adapts an upload to collection.RowSource. The content is read
// once, when the importer asks for rows.
func Source(name string, r io.Reader) collection.RowSource {
	return func(ctx context.Context) ([]collection.Row, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return Parse(name, r)
	}
}

// SourceBytes is Source over an in-memory upload.
func SourceBytes(name string, data []byte) collection.RowSource {
	return Source(name, bytes.NewReader(data))
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", collection.ErrMalformedUpload, fmt.Sprintf(format, args...))
}

// =============================================================================
// HEADER
// =============================================================================

// header maps the columns we read to their index; -1 means absent.
type header struct {
	id, name, contact, date, email int
}

func parseHeader(cells []string) (header, error) {
	h := header{id: -1, name: -1, contact: -1, date: -1, email: -1}
	for i, raw := range cells {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff"))) {
		case "id":
			setOnce(&h.id, i)
		case "name":
			setOnce(&h.name, i)
		case "contact":
			setOnce(&h.contact, i)
		case "date":
			setOnce(&h.date, i)
		case "email":
			setOnce(&h.email, i)
		}
	}

	var missing []string
	for _, col := range requiredColumns {
		if h.index(col) < 0 {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return h, malformed("missing required column(s): %s", strings.Join(missing, ", "))
	}
	return h, nil
}

// setOnce keeps the first occurrence of a duplicated column.
func setOnce(dst *int, i int) {
	if *dst < 0 {
		*dst = i
	}
}

func (h header) index(col string) int {
	switch col {
	case ColumnID:
		return h.id
	case ColumnName:
		return h.name
	case ColumnContact:
		return h.contact
	case ColumnDate:
		return h.date
	case ColumnEmail:
		return h.email
	}
	return -1
}

// cellFunc decodes the cell at column index col of the current row.
type cellFunc func(col int) collection.Cell

func (h header) row(number int, cell cellFunc) collection.Row {
	get := func(i int) collection.Cell {
		if i < 0 {
			return collection.Cell{}
		}
		return cell(i)
	}
	return collection.Row{
		Number:    number,
		LogicalID: get(h.id),
		Name:      get(h.name),
		Contact:   get(h.contact),
		Date:      get(h.date),
		Email:     get(h.email),
	}
}

func blankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
