package collection

import "context"

// Pagination defaults applied when the caller leaves them unset.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Page is an offset/limit window. Zero Limit means DefaultLimit.
type Page struct {
	Skip  int
	Limit int
}

func (p Page) normalize() Page {
	if p.Skip < 0 {
		p.Skip = 0
	}
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	return p
}

// ListParams filters and pages a listing.
type ListParams struct {
	Filter
	Page
}

// QueryService is the read side over a RecordStore: default paging plus the
// editable and read-only presets. Bounds checking belongs to the caller.
type QueryService struct {
	records *RecordStore
}

// NewQueryService creates a QueryService.
func NewQueryService(records *RecordStore) *QueryService {
	return &QueryService{records: records}
}

// List returns records matching the filter, in creation order.
func (q *QueryService) List(ctx context.Context, params ListParams) ([]Record, error) {
	page := params.Page.normalize()
	return q.records.List(ctx, params.Filter, page.Skip, page.Limit)
}

// Editable lists records with read_only = false.
func (q *QueryService) Editable(ctx context.Context, page Page) ([]Record, error) {
	readOnly := false
	return q.List(ctx, ListParams{Filter: Filter{ReadOnly: &readOnly}, Page: page})
}

// ReadOnly lists records with read_only = true.
func (q *QueryService) ReadOnly(ctx context.Context, page Page) ([]Record, error) {
	readOnly := true
	return q.List(ctx, ListParams{Filter: Filter{ReadOnly: &readOnly}, Page: page})
}

// Get returns one record by record id.
func (q *QueryService) Get(ctx context.Context, recordID int64) (Record, error) {
	return q.records.Get(ctx, recordID)
}

// History returns all records sharing logicalID, newest first.
func (q *QueryService) History(ctx context.Context, logicalID int64) ([]Record, error) {
	return q.records.History(ctx, logicalID)
}
