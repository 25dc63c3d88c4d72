/*
types.go - Core types for collection records

PURPOSE:
  Defines the Record entity, the user-editable Fields it carries, and the
  Patch used for partial updates. These types are shared by every layer:
  the classifier produces Fields, the RecordStore persists Records, and the
  API layer maps them to the wire shape.

RECORD IDENTITY:
  RecordID   Process-unique, monotonically assigned by the backend, never
             reused. Targets point lookups and every mutation.
  LogicalID  Groups records into one history timeline. Many records may
             share a LogicalID (successive versions of the same thing).

READ-ONLY LIFECYCLE:
  ReadOnly is decided once, at creation:
  - API-created records are always editable
  - Imported records are read-only when the row was complete
  Nothing ever flips the flag afterwards. A read-only record rejects every
  update and delete (see records.go).

PARTIAL UPDATES:
  Patch fields are Optional[T]. Each field is in one of three states:
  - absent:        leave the stored value untouched
  - explicit null: clear the stored value
  - value:         overwrite with the value
  JSON decoding maps a missing key to absent and `null` to explicit null.

SEE ALSO:
  - records.go: RecordStore, the only writer
  - classify.go: Fields produced from spreadsheet rows
*/
package collection

import (
	"bytes"
	"encoding/json"
	"time"
)

// =============================================================================
// RECORD
// =============================================================================

// Fields are the business values of a record.
type Fields struct {
	LogicalID int64
	Name      *string
	Email     *string
	Contact   *string
	Date      time.Time // date only, UTC midnight; zero means "use creation date"
}

// Record is one persisted collection entry.
type Record struct {
	RecordID int64
	Fields
	ReadOnly      bool
	LastUpdatedBy string
	LastUpdatedAt time.Time
}

// Filter narrows List results. Nil fields do not filter.
type Filter struct {
	LogicalID *int64
	ReadOnly  *bool
}

// =============================================================================
// OPTIONAL - tri-state value for partial updates
// =============================================================================

// Optional distinguishes an absent field from an explicit null.
type Optional[T any] struct {
	Present bool
	Value   *T
}

// Some returns a present Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Present: true, Value: &v}
}

// Null returns a present Optional that clears the field.
func Null[T any]() Optional[T] {
	return Optional[T]{Present: true}
}

// IsNull reports whether the field was explicitly set to null.
func (o Optional[T]) IsNull() bool {
	return o.Present && o.Value == nil
}

// UnmarshalJSON is only invoked when the key is present, including for null.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Present = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

// Patch is a partial update. LogicalID is not patchable: it is the
// history identity of the record.
type Patch struct {
	Name    Optional[string]
	Email   Optional[string]
	Contact Optional[string]
	Date    Optional[time.Time]
}

// Validate rejects patches that cannot be applied.
func (p Patch) Validate() error {
	if p.Date.IsNull() {
		return &ValidationError{Field: "date", Message: "date cannot be cleared"}
	}
	return nil
}

// apply writes every present field onto f.
func (p Patch) apply(f *Fields) {
	if p.Name.Present {
		f.Name = p.Name.Value
	}
	if p.Email.Present {
		f.Email = p.Email.Value
	}
	if p.Contact.Present {
		f.Contact = p.Contact.Value
	}
	if p.Date.Present && p.Date.Value != nil {
		f.Date = DateOf(*p.Date.Value)
	}
}
