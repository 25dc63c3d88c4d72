package api

// errors.go maps collection errors to HTTP status codes.
//
// Client errors are returned verbatim. Anything unexpected is logged with
// the request id and answered with an opaque message.

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/warp/collections/collection"
	"github.com/warp/collections/logging"
)

// errorStatus returns the HTTP status and machine-readable code for err.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrMissingIdentity):
		return http.StatusUnauthorized, "UNAUTHENTICATED"
	case errors.Is(err, ErrInvalidCredentials):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, collection.ErrValidation):
		return http.StatusBadRequest, "VALIDATION"
	case errors.Is(err, collection.ErrMalformedUpload):
		return http.StatusBadRequest, "MALFORMED_UPLOAD"
	case collection.IsNotFound(err):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, collection.ErrReadOnly):
		return http.StatusForbidden, "READ_ONLY"
	case errors.Is(err, ErrImportsClosed):
		return http.StatusServiceUnavailable, "SHUTTING_DOWN"
	case errors.Is(err, ErrTooManyImports):
		return http.StatusServiceUnavailable, "TOO_MANY_IMPORTS"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

// respondError writes err as JSON with the mapped status.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	message := err.Error()

	logger := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
		if status == http.StatusInternalServerError {
			message = "internal server error"
		}
	} else {
		logger.Debug("request rejected", "status", status, "code", code, "error", err)
	}

	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
