/*
importer.go - Bulk import coordinator

PURPOSE:
  Drives Classify over every row of a parsed sheet and creates one record
  per non-skipped row through the RecordStore. Rows are independent: a row
  that fails is reported and the batch carries on.

FLOW:
  1. Read rows from the source. A source that cannot be decoded fails the
     whole import with ErrMalformedUpload before any row is touched.
  2. Classify each row (pure, see classify.go).
  3. Create records for Create decisions, tagging the actor.
  4. Collect "row <n>: <message>" errors in row order.

PARTIAL SUCCESS:
  There is no transaction across rows. If row 7 fails, rows 1-6 and 8-N
  are still created; the summary says so. Nothing is rolled back.

PARALLELISM:
  With Workers > 1, creates fan out over a bounded errgroup. Each worker
  writes into its own row slot, so the error list keeps row order.

SEE ALSO:
  - classify.go: row rules
  - records.go: Create
  - sheet/: row sources for xlsx and csv uploads
*/
package collection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/warp/collections/logging"
)

// Creator persists new records. Satisfied by *RecordStore.
type Creator interface {
	Create(ctx context.Context, f Fields, readOnly bool, actor string) (Record, error)
}

// RowSource yields all rows of an upload, or a decode error.
type RowSource func(ctx context.Context) ([]Row, error)

// ImportSummary reports the outcome of one import.
type ImportSummary struct {
	ID        string
	Processed int // rows examined
	Added     int
	Skipped   int
	ReadOnly  int
	Editable  int
	Errors    []string // "row <n>: <message>", in row order
	Duration  time.Duration
}

// Importer runs bulk imports.
type Importer struct {
	records Creator
	workers int
	now     func() time.Time
}

// ImporterOption configures an Importer.
type ImporterOption func(*Importer)

// WithWorkers sets the number of parallel creates. Values below 2 mean sequential.
func WithWorkers(n int) ImporterOption {
	return func(im *Importer) { im.workers = n }
}

// WithImportClock overrides the source of "today" for date fallback.
func WithImportClock(now func() time.Time) ImporterOption {
	return func(im *Importer) { im.now = now }
}

// NewImporter creates an Importer that writes through records.
func NewImporter(records Creator, opts ...ImporterOption) *Importer {
	im := &Importer{
		records: records,
		workers: 1,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// rowResult is the per-row outcome, filled in by index.
type rowResult struct {
	outcome Outcome
	created bool
	err     error
}

// ImportFrom reads rows from src and imports them.
func (im *Importer) ImportFrom(ctx context.Context, src RowSource, actor string) (ImportSummary, error) {
	if err := requireActor(actor); err != nil {
		return ImportSummary{}, err
	}

	rows, err := src(ctx)
	if err != nil {
		importsTotal.WithLabelValues("failed").Inc()
		if errors.Is(err, ErrMalformedUpload) {
			return ImportSummary{}, err
		}
		return ImportSummary{}, fmt.Errorf("%w: %v", ErrMalformedUpload, err)
	}

	return im.Import(ctx, rows, actor)
}

// Import classifies and creates every row. Row failures are collected in the
// summary; the returned error is only for failures of the whole import.
func (im *Importer) Import(ctx context.Context, rows []Row, actor string) (ImportSummary, error) {
	if err := requireActor(actor); err != nil {
		return ImportSummary{}, err
	}

	start := time.Now()
	summary := ImportSummary{
		ID:        uuid.NewString(),
		Processed: len(rows),
		Errors:    []string{},
	}

	logger := logging.WithFields(ctx, "import_id", summary.ID, "actor", actor)
	logger.Info("import started", "rows", len(rows), "workers", im.workers)

	today := DateOf(im.now())
	results := make([]rowResult, len(rows))

	create := func(i int, d Decision) {
		_, err := im.records.Create(ctx, d.Fields, d.ReadOnly(), actor)
		results[i].err = err
		results[i].created = err == nil
	}

	var g errgroup.Group
	if im.workers > 1 {
		g.SetLimit(im.workers)
	}

	for i, row := range rows {
		d := Classify(row, today)
		results[i].outcome = d.Outcome
		if !d.Create() {
			results[i].err = d.Err
			continue
		}

		if im.workers > 1 {
			i, d := i, d
			g.Go(func() error {
				create(i, d)
				return nil
			})
			continue
		}
		create(i, d)
	}
	_ = g.Wait()

	for i, res := range results {
		n := rowNumber(rows[i], i)
		switch {
		case res.created:
			summary.Added++
			if res.outcome == OutcomeReadOnly {
				summary.ReadOnly++
			} else {
				summary.Editable++
			}
			importRowsTotal.WithLabelValues(res.outcome.String()).Inc()
		case res.err != nil:
			summary.Errors = append(summary.Errors, rowMessage(n, res.err))
			importRowsTotal.WithLabelValues("error").Inc()
			if !IsClientError(res.err) {
				logger.Warn("row failed", "row", n, "error", res.err)
			}
		default:
			summary.Skipped++
			importRowsTotal.WithLabelValues(OutcomeSkip.String()).Inc()
		}
	}

	summary.Duration = time.Since(start)
	importsTotal.WithLabelValues("ok").Inc()

	logger.Info("import finished",
		"processed", summary.Processed,
		"added", summary.Added,
		"read_only", summary.ReadOnly,
		"editable", summary.Editable,
		"skipped", summary.Skipped,
		"errors", len(summary.Errors),
		"duration_ms", summary.Duration.Milliseconds(),
	)

	return summary, nil
}

func rowNumber(row Row, index int) int {
	if row.Number > 0 {
		return row.Number
	}
	return index + 1
}

// rowMessage keeps client errors verbatim and hides backend detail.
func rowMessage(n int, err error) string {
	if !IsClientError(err) {
		err = errors.New("record could not be saved")
	}
	return (&RowError{Row: n, Err: err}).Error()
}
