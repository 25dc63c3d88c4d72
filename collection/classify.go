/*
classify.go - Row classifier for spreadsheet imports

PURPOSE:
  Decides, for one parsed spreadsheet row, whether a record is created and
  whether it is read-only. Pure function: no I/O, no hidden state, the same
  row and day always yield the same Decision.

RULES:
  1. Logical id absent                 -> Skip (silent)
     Logical id present but invalid     -> Skip with a ValidationError
     (text must be a plain integer; numeric cells must be integral)
     Row that could not be decoded      -> Skip with the row's error
  2. filled = 1 + (name non-blank) + (contact non-blank)
  3. filled == 3                        -> Create, read-only
  4. filled == 2                        -> Create, editable
  5. filled == 1                        -> Skip
  6. Email is never read from a row.
  7. Date: YYYY-MM-DD or a timestamp truncated to the day; anything else
     (absent, unparsable, unexpected type) silently becomes today.

EXAMPLE:
  {ID: 1001, Name: "John", Contact: "071..."} -> read-only
  {ID: 1004, Name: "Alice", Contact: ""}      -> editable
  {ID: "",   Name: "X",    Contact: "Y"}      -> skip

SEE ALSO:
  - importer.go: drives Classify over a whole sheet
  - sheet/: produces Rows from xlsx and csv files
*/
package collection

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// CELLS AND ROWS
// =============================================================================

// CellKind is the type of a parsed spreadsheet cell.
type CellKind int

const (
	CellEmpty CellKind = iota
	CellText
	CellNumber
	CellTime
)

// Cell is one typed spreadsheet value.
type Cell struct {
	Kind   CellKind
	Text   string
	Number float64
	Time   time.Time
}

// Text returns a text cell, or an empty cell for "".
func Text(s string) Cell {
	if s == "" {
		return Cell{}
	}
	return Cell{Kind: CellText, Text: s}
}

// Number returns a numeric cell.
func Number(v float64) Cell {
	return Cell{Kind: CellNumber, Number: v}
}

// Timestamp returns a date/time cell.
func Timestamp(t time.Time) Cell {
	return Cell{Kind: CellTime, Time: t}
}

// String renders the cell the way a user would read it.
func (c Cell) String() string {
	switch c.Kind {
	case CellText:
		return c.Text
	case CellNumber:
		return strconv.FormatFloat(c.Number, 'f', -1, 64)
	case CellTime:
		return c.Time.Format(time.RFC3339)
	default:
		return ""
	}
}

// IsBlank reports whether the cell holds nothing after trimming.
func (c Cell) IsBlank() bool {
	return strings.TrimSpace(c.String()) == ""
}

// Row is one data row of an import. Number is the 1-based data row index.
type Row struct {
	Number    int
	LogicalID Cell
	Name      Cell
	Contact   Cell
	Date      Cell
	Email     Cell // parsed but never used by Classify

	// Err is set when the row could not be decoded at all.
	Err error
}

// =============================================================================
// DECISION
// =============================================================================

// Outcome is what an import does with a row.
type Outcome int

const (
	OutcomeSkip Outcome = iota
	OutcomeEditable
	OutcomeReadOnly
)

func (o Outcome) String() string {
	switch o {
	case OutcomeEditable:
		return "editable"
	case OutcomeReadOnly:
		return "read_only"
	default:
		return "skipped"
	}
}

// Decision is the classification of one row.
type Decision struct {
	Outcome Outcome
	Fields  Fields // set when Outcome is not Skip
	Err     error  // set when the row was skipped for an invalid logical id or an undecodable row
}

// Create reports whether a record should be created.
func (d Decision) Create() bool {
	return d.Outcome != OutcomeSkip
}

// ReadOnly reports whether the created record is read-only.
func (d Decision) ReadOnly() bool {
	return d.Outcome == OutcomeReadOnly
}

// =============================================================================
// CLASSIFY
// =============================================================================

// Classify decides what to do with row. today is the fallback effective date.
func Classify(row Row, today time.Time) Decision {
	if row.Err != nil {
		return Decision{Outcome: OutcomeSkip, Err: row.Err}
	}

	logicalID, present, err := parseLogicalID(row.LogicalID)
	if !present {
		return Decision{Outcome: OutcomeSkip}
	}
	if err != nil {
		return Decision{Outcome: OutcomeSkip, Err: err}
	}

	name := trimmed(row.Name)
	contact := trimmed(row.Contact)

	filled := 1
	if name != nil {
		filled++
	}
	if contact != nil {
		filled++
	}

	var outcome Outcome
	switch {
	case filled >= 3:
		outcome = OutcomeReadOnly
	case filled == 2:
		outcome = OutcomeEditable
	default:
		return Decision{Outcome: OutcomeSkip}
	}

	return Decision{
		Outcome: outcome,
		Fields: Fields{
			LogicalID: logicalID,
			Name:      name,
			Contact:   contact,
			Email:     nil,
			Date:      effectiveDate(row.Date, today),
		},
	}
}

// maxExactInt is the largest integer a float64 cell holds exactly.
const maxExactInt = 1 << 53

// parseLogicalID returns (id, present, err). A blank cell is not present.
func parseLogicalID(c Cell) (int64, bool, error) {
	switch c.Kind {
	case CellEmpty:
		return 0, false, nil
	case CellNumber:
		if math.IsNaN(c.Number) || math.IsInf(c.Number, 0) || c.Number != math.Trunc(c.Number) ||
			math.Abs(c.Number) > maxExactInt {
			return 0, true, invalidLogicalID(c)
		}
		return int64(c.Number), true, nil
	case CellText:
		s := strings.TrimSpace(c.Text)
		if s == "" {
			return 0, false, nil
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, true, invalidLogicalID(c)
		}
		return id, true, nil
	default:
		return 0, true, invalidLogicalID(c)
	}
}

func invalidLogicalID(c Cell) error {
	return &ValidationError{Field: "logical_id", Value: c.String(), Message: "not an integer"}
}

// trimmed returns the trimmed cell text, or nil when blank.
func trimmed(c Cell) *string {
	s := strings.TrimSpace(c.String())
	if s == "" {
		return nil
	}
	return &s
}

// effectiveDate never fails: anything unusable becomes today.
func effectiveDate(c Cell, today time.Time) time.Time {
	switch c.Kind {
	case CellTime:
		if !c.Time.IsZero() {
			return DateOf(c.Time)
		}
	case CellText:
		if d, ok := ParseDate(c.Text); ok {
			return d
		}
	}
	return DateOf(today)
}
