/*
samples.go - Import template and demo data

PURPOSE:
  Serves the sample workbook users fill in, and loads the same workbook
  through the regular import pipeline for demos.

ENDPOINTS:
  GET  /collections/import/template  Download sample_collections.xlsx
  POST /collections/import/sample    Import the sample as the caller

THE SAMPLE:
  Rows cover read-only rows, editable rows, an id-only row that is
  skipped, repeated ids for the history view, and blank dates. See
  sheet/sample.go for the data.

NOTE:
  Loading the sample adds records; it never clears existing ones.

SEE ALSO:
  - sheet/sample.go: WriteSample
  - handlers.go: ImportUpload, which the sample load mirrors
*/
package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/warp/collections/sheet"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// DownloadTemplate handles GET /collections/import/template.
func (h *Handler) DownloadTemplate(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := sheet.WriteSample(&buf); err != nil {
		respondError(w, r, fmt.Errorf("build template: %w", err))
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", sheet.SampleFileName))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// LoadSample handles POST /collections/import/sample.
func (h *Handler) LoadSample(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.Limiter.Acquire(ctx); err != nil {
		respondError(w, r, err)
		return
	}
	defer h.Limiter.Release()

	var buf bytes.Buffer
	if err := sheet.WriteSample(&buf); err != nil {
		respondError(w, r, fmt.Errorf("build sample: %w", err))
		return
	}

	summary, err := h.Importer.ImportFrom(ctx, sheet.SourceBytes(sheet.SampleFileName, buf.Bytes()), ActorFromContext(ctx))
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("X-Import-ID", summary.ID)
	writeJSON(w, http.StatusOK, ImportResponse{
		Message:          "Sample data loaded successfully",
		RecordsProcessed: summary.Processed,
		RecordsAdded:     summary.Added,
		Errors:           summary.Errors,
	})
}
