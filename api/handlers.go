/*
handlers.go - HTTP API handlers for collection records

PURPOSE:
  Exposes the record store, query service and importer over REST. Handles
  HTTP request/response and JSON serialization, and delegates every rule
  to the collection package.

ENDPOINTS:
  Service:
    GET    /                                 Service info
    GET    /health                           Liveness + store ping

  Records:
    GET    /collections                      List (logicalId, readOnly, skip, limit)
    GET    /collections/editable             Editable records only
    GET    /collections/readonly             Read-only records only
    GET    /collections/{record_id}          One record
    GET    /collections/history/{logical_id} All records of a logical id
    POST   /collections                      Create an editable record
    PUT    /collections/{record_id}          Partial update
    DELETE /collections/{record_id}          Delete

  Import:
    POST   /collections/import               Multipart upload, field "file"
    GET    /collections/import/template      Sample workbook (samples.go)

REQUEST FLOW:
  1. RequireActor (mutations only) resolves who is acting
  2. Parse path, query and body
  3. Call RecordStore / QueryService / Importer
  4. Serialize response, or map the error (errors.go)

ERROR HANDLING:
  - 400: Validation errors, malformed upload, bad paging
  - 401: No identity on a mutation
  - 403: Read-only record, rejected API key
  - 404: Record or history not found
  - 503: Import slots exhausted
  - 500: Anything else, opaque to the client

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/warp/collections/collection"
	"github.com/warp/collections/logging"
	"github.com/warp/collections/sheet"
)

// Version is reported by the service info endpoint.
const Version = "1.0.0"

// DefaultMaxUploadSize bounds an import upload when none is configured.
const DefaultMaxUploadSize = 10 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Records  *collection.RecordStore
	Queries  *collection.QueryService
	Importer *collection.Importer
	Limiter  *ImportLimiter

	// MaxUploadSize bounds an import body in bytes.
	MaxUploadSize int64

	// Store is pinged by /health when set.
	Store Pinger
}

// NewHandler wires handlers over a record store.
func NewHandler(records *collection.RecordStore, importer *collection.Importer, limiter *ImportLimiter) *Handler {
	if limiter == nil {
		limiter = NewImportLimiter(0, 0)
	}
	return &Handler{
		Records:       records,
		Queries:       collection.NewQueryService(records),
		Importer:      importer,
		Limiter:       limiter,
		MaxUploadSize: DefaultMaxUploadSize,
	}
}

// =============================================================================
// SERVICE
// =============================================================================

func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, InfoResponse{Message: "Collection Management API", Version: Version})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Store != nil {
		if err := h.Store.Ping(r.Context()); err != nil {
			logging.FromContext(r.Context()).Error("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy"})
			return
		}
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

// =============================================================================
// READS
// =============================================================================

// ListRecords handles GET /collections.
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	params, err := parseListParams(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	recs, err := h.Queries.List(r.Context(), params)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTOs(recs))
}

// ListEditable handles GET /collections/editable.
func (h *Handler) ListEditable(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	recs, err := h.Queries.Editable(r.Context(), page)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTOs(recs))
}

// ListReadOnly handles GET /collections/readonly.
func (h *Handler) ListReadOnly(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	recs, err := h.Queries.ReadOnly(r.Context(), page)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTOs(recs))
}

func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "record_id")
	if err != nil {
		respondError(w, r, err)
		return
	}

	rec, err := h.Queries.Get(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(rec))
}

// GetHistory returns 404 rather than an empty list when nothing matches.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	logicalID, err := pathInt(r, "logical_id")
	if err != nil {
		respondError(w, r, err)
		return
	}

	recs, err := h.Queries.History(r.Context(), logicalID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if len(recs) == 0 {
		respondError(w, r, fmt.Errorf("no collections found for logical id %d: %w", logicalID, collection.ErrNotFound))
		return
	}

	writeJSON(w, http.StatusOK, HistoryResponse{
		LogicalID:   logicalID,
		Collections: toRecordDTOs(recs),
	})
}

// =============================================================================
// MUTATIONS - all behind RequireActor
// =============================================================================

// CreateRecord handles POST /collections. API-created records are always editable.
func (h *Handler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	var req CreateRecordRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	fields, err := req.toFields()
	if err != nil {
		respondError(w, r, err)
		return
	}

	rec, err := h.Records.Create(r.Context(), fields, false, ActorFromContext(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecordDTO(rec))
}

func (h *Handler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "record_id")
	if err != nil {
		respondError(w, r, err)
		return
	}

	var req UpdateRecordRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	patch, err := req.toPatch()
	if err != nil {
		respondError(w, r, err)
		return
	}

	rec, err := h.Records.Update(r.Context(), id, patch, ActorFromContext(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(rec))
}

func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "record_id")
	if err != nil {
		respondError(w, r, err)
		return
	}

	deleted, err := h.Records.Delete(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if !deleted {
		respondError(w, r, collection.NotFoundError(id))
		return
	}

	logging.FromContext(r.Context()).Info("record deleted",
		"record_id", id,
		"actor", ActorFromContext(r.Context()),
	)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Collection deleted successfully"})
}

// =============================================================================
// IMPORT
// =============================================================================

// ImportUpload handles POST /collections/import.
func (h *Handler) ImportUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.Limiter.Acquire(ctx); err != nil {
		respondError(w, r, err)
		return
	}
	defer h.Limiter.Release()

	r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadSize)
	if err := r.ParseMultipartForm(h.MaxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, fmt.Errorf("%w: file exceeds %d bytes", collection.ErrMalformedUpload, h.MaxUploadSize))
			return
		}
		respondError(w, r, fmt.Errorf("%w: %v", collection.ErrMalformedUpload, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, fmt.Errorf("%w: multipart field \"file\" is required", collection.ErrMalformedUpload))
		return
	}
	defer file.Close()

	if !sheet.Supported(header.Filename) {
		respondError(w, r, fmt.Errorf("%w: file must be a spreadsheet (.xlsx) or .csv", collection.ErrMalformedUpload))
		return
	}

	summary, err := h.Importer.ImportFrom(ctx, sheet.Source(header.Filename, file), ActorFromContext(ctx))
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("X-Import-ID", summary.ID)
	writeJSON(w, http.StatusOK, ImportResponse{
		Message:          "Excel file processed successfully",
		RecordsProcessed: summary.Processed,
		RecordsAdded:     summary.Added,
		Errors:           summary.Errors,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &collection.ValidationError{Field: "body", Message: err.Error()}
	}
	return nil
}

func pathInt(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, &collection.ValidationError{Field: name, Value: raw, Message: "must be an integer"}
	}
	return v, nil
}

// parsePage reads skip and limit, enforcing skip >= 0 and 1 <= limit <= MaxLimit.
func parsePage(r *http.Request) (collection.Page, error) {
	page := collection.Page{Skip: 0, Limit: collection.DefaultLimit}
	q := r.URL.Query()

	if raw := q.Get("skip"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return page, &collection.ValidationError{Field: "skip", Value: raw, Message: "must be an integer >= 0"}
		}
		page.Skip = v
	}
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > collection.MaxLimit {
			return page, &collection.ValidationError{
				Field:   "limit",
				Value:   raw,
				Message: fmt.Sprintf("must be an integer between 1 and %d", collection.MaxLimit),
			}
		}
		page.Limit = v
	}
	return page, nil
}

// parseListParams accepts logicalId (or ID) and readOnly (or read_only).
func parseListParams(r *http.Request) (collection.ListParams, error) {
	page, err := parsePage(r)
	if err != nil {
		return collection.ListParams{}, err
	}
	params := collection.ListParams{Page: page}
	q := r.URL.Query()

	if raw := firstNonEmpty(q.Get("logicalId"), q.Get("logical_id"), q.Get("ID")); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return params, &collection.ValidationError{Field: "logicalId", Value: raw, Message: "must be an integer"}
		}
		params.LogicalID = &v
	}
	if raw := firstNonEmpty(q.Get("readOnly"), q.Get("read_only")); raw != "" {
		v, err := strconv.ParseBool(strings.ToLower(raw))
		if err != nil {
			return params, &collection.ValidationError{Field: "readOnly", Value: raw, Message: "must be true or false"}
		}
		params.ReadOnly = &v
	}
	return params, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
