/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the collection model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Response wrappers

TYPES:
  Records:
    RecordDTO, CreateRecordRequest, UpdateRecordRequest

  History:
    HistoryResponse

  Import:
    ImportResponse

PARTIAL UPDATES:
  UpdateRecordRequest uses collection.Optional so that a missing key, an
  explicit null and a value stay distinguishable all the way to the
  RecordStore.

SEE ALSO:
  - handlers.go: Uses these types
  - collection/types.go: Record, Patch, Optional
*/
package api

import (
	"time"

	"github.com/warp/collections/collection"
)

// =============================================================================
// RECORDS
// =============================================================================

// RecordDTO is a record in API responses.
type RecordDTO struct {
	RecordID      int64     `json:"record_id"`
	LogicalID     int64     `json:"logical_id"`
	Name          *string   `json:"name"`
	Email         *string   `json:"email"`
	Contact       *string   `json:"contact"`
	Date          string    `json:"date"`
	ReadOnly      bool      `json:"read_only"`
	LastUpdatedBy string    `json:"last_updated_by"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

func toRecordDTO(rec collection.Record) RecordDTO {
	return RecordDTO{
		RecordID:      rec.RecordID,
		LogicalID:     rec.LogicalID,
		Name:          rec.Name,
		Email:         rec.Email,
		Contact:       rec.Contact,
		Date:          collection.FormatDate(rec.Date),
		ReadOnly:      rec.ReadOnly,
		LastUpdatedBy: rec.LastUpdatedBy,
		LastUpdatedAt: rec.LastUpdatedAt,
	}
}

func toRecordDTOs(recs []collection.Record) []RecordDTO {
	out := make([]RecordDTO, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toRecordDTO(rec))
	}
	return out
}

// CreateRecordRequest creates an editable record.
type CreateRecordRequest struct {
	LogicalID *int64  `json:"logical_id"`
	Name      *string `json:"name"`
	Email     *string `json:"email"`
	Contact   *string `json:"contact"`
	Date      *string `json:"date"` // YYYY-MM-DD; omitted means today
}

// toFields validates the request. logical_id is the only required field.
func (req CreateRecordRequest) toFields() (collection.Fields, error) {
	if req.LogicalID == nil {
		return collection.Fields{}, &collection.ValidationError{Field: "logical_id", Message: "is required"}
	}
	f := collection.Fields{
		LogicalID: *req.LogicalID,
		Name:      req.Name,
		Email:     req.Email,
		Contact:   req.Contact,
	}
	if req.Date != nil {
		d, err := parseDateField(*req.Date)
		if err != nil {
			return collection.Fields{}, err
		}
		f.Date = d
	}
	return f, nil
}

// UpdateRecordRequest is a partial update. Omitted keys are left alone;
// null clears name, email or contact.
type UpdateRecordRequest struct {
	Name    collection.Optional[string] `json:"name"`
	Email   collection.Optional[string] `json:"email"`
	Contact collection.Optional[string] `json:"contact"`
	Date    collection.Optional[string] `json:"date"`
}

func (req UpdateRecordRequest) toPatch() (collection.Patch, error) {
	p := collection.Patch{
		Name:    req.Name,
		Email:   req.Email,
		Contact: req.Contact,
	}
	switch {
	case req.Date.IsNull():
		p.Date = collection.Null[time.Time]()
	case req.Date.Present:
		d, err := parseDateField(*req.Date.Value)
		if err != nil {
			return collection.Patch{}, err
		}
		p.Date = collection.Some(d)
	}
	return p, nil
}

func parseDateField(s string) (time.Time, error) {
	d, ok := collection.ParseDate(s)
	if !ok {
		return time.Time{}, &collection.ValidationError{Field: "date", Value: s, Message: "expected YYYY-MM-DD"}
	}
	return d, nil
}

// =============================================================================
// HISTORY AND IMPORT
// =============================================================================

// HistoryResponse lists every record sharing a logical id, newest first.
type HistoryResponse struct {
	LogicalID   int64       `json:"logicalId"`
	Collections []RecordDTO `json:"collections"`
}

// ImportResponse summarizes a spreadsheet import.
type ImportResponse struct {
	Message          string   `json:"message"`
	RecordsProcessed int      `json:"records_processed"`
	RecordsAdded     int      `json:"records_added"`
	Errors           []string `json:"errors"`
}

// =============================================================================
// GENERIC RESPONSES
// =============================================================================

// MessageResponse carries a human-readable confirmation.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// InfoResponse describes the service.
type InfoResponse struct {
	Message string `json:"message"`
	Version string `json:"version"`
}

// HealthResponse reports liveness and store reachability.
type HealthResponse struct {
	Status string `json:"status"`
}
