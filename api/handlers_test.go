/*
handlers_test.go - HTTP tests for the collections API

Tests for:
- Spreadsheet import (counts, row errors, bad uploads, limiter)
- Identity enforcement on mutations
- Read-only enforcement over HTTP
- Partial update null semantics
- History, listing and paging validation
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/collections/collection"
	"github.com/warp/collections/collection/store"
	"github.com/warp/collections/sheet"
)

const testActor = "alice"

type testServer struct {
	router  http.Handler
	records *collection.RecordStore
	limiter *ImportLimiter
}

func newTestServer(t *testing.T, cfg RouterConfig) *testServer {
	t.Helper()
	records := collection.NewRecordStore(store.NewMemory())
	limiter := NewImportLimiter(1, 50*time.Millisecond)
	h := NewHandler(records, collection.NewImporter(records), limiter)
	return &testServer{router: NewRouter(h, cfg), records: records, limiter: limiter}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) upload(t *testing.T, filename, content string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/collections/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func asUser(actor string) map[string]string {
	return map[string]string{"X-User": actor}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const scenarioCSV = "ID,Name,Contact,Date\n" +
	"1001,John Doe,0712345678,2024-01-15\n" +
	"1004,Alice Brown,,2024-01-18\n" +
	",Nobody,0700000000,\n"

// =============================================================================
// IMPORT
// =============================================================================

func TestImport_ClassifiesRows(t *testing.T) {
	// GIVEN: a sheet with a complete row, a partial row and a row without id
	s := newTestServer(t, RouterConfig{})

	// WHEN
	rec := s.upload(t, "collections.csv", scenarioCSV, asUser(testActor))

	// THEN
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[ImportResponse](t, rec)
	assert.Equal(t, 3, resp.RecordsProcessed)
	assert.Equal(t, 2, resp.RecordsAdded)
	assert.Empty(t, resp.Errors)
	assert.NotNil(t, resp.Errors, "errors is [] not null")
	assert.NotEmpty(t, rec.Header().Get("X-Import-ID"))

	readOnly := decode[[]RecordDTO](t, s.do(t, http.MethodGet, "/collections/readonly", nil, nil))
	require.Len(t, readOnly, 1)
	assert.Equal(t, int64(1001), readOnly[0].LogicalID)
	assert.Equal(t, "2024-01-15", readOnly[0].Date)
	assert.Equal(t, testActor, readOnly[0].LastUpdatedBy)
	assert.Nil(t, readOnly[0].Email)

	editable := decode[[]RecordDTO](t, s.do(t, http.MethodGet, "/collections/editable", nil, nil))
	require.Len(t, editable, 1)
	assert.Equal(t, int64(1004), editable[0].LogicalID)
	assert.Nil(t, editable[0].Contact)
}

func TestImport_ReportsInvalidIDsByRow(t *testing.T) {
	s := newTestServer(t, RouterConfig{})
	csv := "ID,Name,Contact\n1,a,b\nabc,c,d\n2.5,e,f\n"

	rec := s.upload(t, "c.csv", csv, asUser(testActor))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ImportResponse](t, rec)
	assert.Equal(t, 3, resp.RecordsProcessed)
	assert.Equal(t, 1, resp.RecordsAdded)
	require.Len(t, resp.Errors, 2)
	assert.True(t, strings.HasPrefix(resp.Errors[0], "row 2:"), resp.Errors[0])
	assert.True(t, strings.HasPrefix(resp.Errors[1], "row 3:"), resp.Errors[1])
}

func TestImport_BadCSVLineIsARowError(t *testing.T) {
	// GIVEN: valid, bad-quote, valid
	s := newTestServer(t, RouterConfig{})
	csv := "ID,Name,Contact\n1001,John,071\n1002,Jo\"e,072\n1003,Ann,073\n"

	// WHEN
	rec := s.upload(t, "c.csv", csv, asUser(testActor))

	// THEN: the good rows are imported and the bad one is reported
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[ImportResponse](t, rec)
	assert.Equal(t, 3, resp.RecordsProcessed)
	assert.Equal(t, 2, resp.RecordsAdded)
	require.Len(t, resp.Errors, 1)
	assert.True(t, strings.HasPrefix(resp.Errors[0], "row 2:"), resp.Errors[0])

	all := decode[[]RecordDTO](t, s.do(t, http.MethodGet, "/collections", nil, nil))
	require.Len(t, all, 2)
	assert.Equal(t, int64(1001), all[0].LogicalID)
	assert.Equal(t, int64(1003), all[1].LogicalID)
}

func TestImport_RejectsBadUploads(t *testing.T) {
	s := newTestServer(t, RouterConfig{})

	tests := []struct {
		name     string
		filename string
		content  string
	}{
		{"wrong extension", "notes.txt", scenarioCSV},
		{"missing column", "c.csv", "ID,Name\n1,a\n"},
		{"corrupt workbook", "c.xlsx", "not a zip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.upload(t, tt.filename, tt.content, asUser(testActor))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "MALFORMED_UPLOAD", decode[ErrorResponse](t, rec).Code)
		})
	}

	all := decode[[]RecordDTO](t, s.do(t, http.MethodGet, "/collections", nil, nil))
	assert.Empty(t, all, "nothing is written for a rejected upload")
}

func TestImport_RequiresIdentity(t *testing.T) {
	s := newTestServer(t, RouterConfig{})

	rec := s.upload(t, "c.csv", scenarioCSV, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	all := decode[[]RecordDTO](t, s.do(t, http.MethodGet, "/collections", nil, nil))
	assert.Empty(t, all)
}

func TestImport_TooManyConcurrentImports(t *testing.T) {
	// GIVEN: the only import slot is taken
	s := newTestServer(t, RouterConfig{})
	require.NoError(t, s.limiter.Acquire(context.Background()))
	defer s.limiter.Release()

	// WHEN
	rec := s.upload(t, "c.csv", scenarioCSV, asUser(testActor))

	// THEN
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestImport_RefusedDuringShutdown(t *testing.T) {
	s := newTestServer(t, RouterConfig{})
	s.limiter.Close()

	rec := s.upload(t, "c.csv", scenarioCSV, asUser(testActor))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "SHUTTING_DOWN", decode[ErrorResponse](t, rec).Code)
	all := decode[[]RecordDTO](t, s.do(t, http.MethodGet, "/collections", nil, nil))
	assert.Empty(t, all)
}

func TestTemplateAndSample(t *testing.T) {
	s := newTestServer(t, RouterConfig{})

	rec := s.do(t, http.MethodGet, "/collections/import/template", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	rows, err := sheet.Parse(sheet.SampleFileName, bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Len(t, rows, 11)

	rec = s.do(t, http.MethodPost, "/collections/import/sample", nil, asUser(testActor))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[ImportResponse](t, rec)
	assert.Equal(t, 11, resp.RecordsProcessed)
	assert.Equal(t, 10, resp.RecordsAdded)

	history := decode[HistoryResponse](t, s.do(t, http.MethodGet, "/collections/history/1001", nil, nil))
	assert.Len(t, history.Collections, 2)
}

// =============================================================================
// RECORDS
// =============================================================================

func TestCreateRecord(t *testing.T) {
	s := newTestServer(t, RouterConfig{})

	rec := s.do(t, http.MethodPost, "/collections", map[string]any{
		"logical_id": 42,
		"name":       "Jo",
		"date":       "2024-03-01",
	}, asUser(testActor))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[RecordDTO](t, rec)
	assert.Positive(t, created.RecordID)
	assert.False(t, created.ReadOnly, "API-created records are editable")
	assert.Equal(t, "2024-03-01", created.Date)
	assert.Equal(t, testActor, created.LastUpdatedBy)

	got := decode[RecordDTO](t, s.do(t, http.MethodGet, "/collections/"+itoa(created.RecordID), nil, nil))
	assert.Equal(t, created.RecordID, got.RecordID)
	assert.Equal(t, "Jo", *got.Name)
}

func TestCreateRecord_Validation(t *testing.T) {
	s := newTestServer(t, RouterConfig{})

	tests := []struct {
		name string
		body any
	}{
		{"missing logical id", map[string]any{"name": "x"}},
		{"bad date", map[string]any{"logical_id": 1, "date": "01/02/2024"}},
		{"read_only is not settable", map[string]any{"logical_id": 1, "read_only": true}},
		{"not json", "{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/collections", tt.body, asUser(testActor))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestMutations_RequireIdentity(t *testing.T) {
	// GIVEN: an editable record
	s := newTestServer(t, RouterConfig{})
	created := decode[RecordDTO](t, s.do(t, http.MethodPost, "/collections",
		map[string]any{"logical_id": 1, "name": "orig"}, asUser(testActor)))
	path := "/collections/" + itoa(created.RecordID)

	// WHEN: mutations arrive without X-User
	put := s.do(t, http.MethodPut, path, map[string]any{"name": "changed"}, nil)
	del := s.do(t, http.MethodDelete, path, nil, nil)
	post := s.do(t, http.MethodPost, "/collections", map[string]any{"logical_id": 2}, map[string]string{"X-User": "  "})

	// THEN: all are rejected and nothing changed
	assert.Equal(t, http.StatusUnauthorized, put.Code)
	assert.Equal(t, http.StatusUnauthorized, del.Code)
	assert.Equal(t, http.StatusUnauthorized, post.Code)

	got := decode[RecordDTO](t, s.do(t, http.MethodGet, path, nil, nil))
	assert.Equal(t, "orig", *got.Name)
	assert.Equal(t, testActor, got.LastUpdatedBy)
}

func TestReadOnlyRecord_RejectsUpdateAndDelete(t *testing.T) {
	// GIVEN: a read-only record from an import
	s := newTestServer(t, RouterConfig{})
	require.Equal(t, http.StatusOK, s.upload(t, "c.csv", scenarioCSV, asUser("importer")).Code)
	ro := decode[[]RecordDTO](t, s.do(t, http.MethodGet, "/collections/readonly", nil, nil))
	require.Len(t, ro, 1)
	path := "/collections/" + itoa(ro[0].RecordID)

	// WHEN
	put := s.do(t, http.MethodPut, path, map[string]any{"name": "hacked"}, asUser("bob"))
	del := s.do(t, http.MethodDelete, path, nil, asUser("bob"))

	// THEN
	assert.Equal(t, http.StatusForbidden, put.Code)
	assert.Equal(t, "READ_ONLY", decode[ErrorResponse](t, put).Code)
	assert.Equal(t, http.StatusForbidden, del.Code)

	got := decode[RecordDTO](t, s.do(t, http.MethodGet, path, nil, nil))
	assert.Equal(t, "John Doe", *got.Name)
	assert.Equal(t, "importer", got.LastUpdatedBy)
	assert.True(t, got.ReadOnly)
}

func TestUpdateRecord_PatchSemantics(t *testing.T) {
	// GIVEN: an editable record with name, email and contact
	s := newTestServer(t, RouterConfig{})
	created := decode[RecordDTO](t, s.do(t, http.MethodPost, "/collections", map[string]any{
		"logical_id": 5,
		"name":       "Jo",
		"email":      "jo@example.com",
		"contact":    "071",
		"date":       "2024-01-01",
	}, asUser(testActor)))
	path := "/collections/" + itoa(created.RecordID)

	// WHEN: name is cleared, contact is changed, email is omitted
	rec := s.do(t, http.MethodPut, path, `{"name": null, "contact": "072"}`, asUser("bob"))

	// THEN
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[RecordDTO](t, rec)
	assert.Nil(t, got.Name)
	assert.Equal(t, "072", *got.Contact)
	assert.Equal(t, "jo@example.com", *got.Email)
	assert.Equal(t, "2024-01-01", got.Date)
	assert.Equal(t, "bob", got.LastUpdatedBy)
	assert.False(t, got.LastUpdatedAt.Before(created.LastUpdatedAt))

	// AND: a null date and a logical id change are rejected
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPut, path, `{"date": null}`, asUser("bob")).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPut, path, `{"logical_id": 9}`, asUser("bob")).Code)

	// AND: an empty patch still stamps the actor
	rec = s.do(t, http.MethodPut, path, `{}`, asUser("carol"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "carol", decode[RecordDTO](t, rec).LastUpdatedBy)
}

func TestDeleteRecord(t *testing.T) {
	s := newTestServer(t, RouterConfig{})
	created := decode[RecordDTO](t, s.do(t, http.MethodPost, "/collections",
		map[string]any{"logical_id": 1}, asUser(testActor)))
	path := "/collections/" + itoa(created.RecordID)

	rec := s.do(t, http.MethodDelete, path, nil, asUser(testActor))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Collection deleted successfully", decode[MessageResponse](t, rec).Message)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, path, nil, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, path, nil, asUser(testActor)).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/collections/999999", nil, asUser(testActor)).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPut, "/collections/999999", `{}`, asUser(testActor)).Code)
}

// =============================================================================
// QUERIES
// =============================================================================

func TestHistory(t *testing.T) {
	s := newTestServer(t, RouterConfig{})
	var ids []int64
	for _, name := range []string{"A", "B", "C"} {
		created := decode[RecordDTO](t, s.do(t, http.MethodPost, "/collections",
			map[string]any{"logical_id": 77, "name": name}, asUser(testActor)))
		ids = append(ids, created.RecordID)
	}

	rec := s.do(t, http.MethodGet, "/collections/history/77", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[HistoryResponse](t, rec)
	assert.Equal(t, int64(77), history.LogicalID)
	require.Len(t, history.Collections, 3)
	assert.Equal(t, ids[2], history.Collections[0].RecordID)
	assert.Equal(t, ids[1], history.Collections[1].RecordID)
	assert.Equal(t, ids[0], history.Collections[2].RecordID)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/collections/history/404", nil, nil).Code)
}

func TestListRecords_FiltersAndPaging(t *testing.T) {
	s := newTestServer(t, RouterConfig{})
	require.Equal(t, http.StatusOK, s.upload(t, "c.csv", scenarioCSV, asUser(testActor)).Code)
	for i := 0; i < 3; i++ {
		s.do(t, http.MethodPost, "/collections", map[string]any{"logical_id": 1004}, asUser(testActor))
	}

	byID := decode[[]RecordDTO](t, s.do(t, http.MethodGet, "/collections?logicalId=1004", nil, nil))
	assert.Len(t, byID, 4)

	roOnly := decode[[]RecordDTO](t, s.do(t, http.MethodGet, "/collections?readOnly=true", nil, nil))
	assert.Len(t, roOnly, 1)

	page := decode[[]RecordDTO](t, s.do(t, http.MethodGet, "/collections?skip=1&limit=2", nil, nil))
	require.Len(t, page, 2)
	assert.Equal(t, int64(1004), page[0].LogicalID)

	trailing := s.do(t, http.MethodGet, "/collections/editable/", nil, nil)
	assert.Equal(t, http.StatusOK, trailing.Code)

	for _, q := range []string{"limit=0", "limit=1001", "skip=-1", "limit=abc", "readOnly=maybe", "logicalId=x"} {
		rec := s.do(t, http.MethodGet, "/collections?"+q, nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/collections/readonly?limit=5000", nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/collections/abc", nil, nil).Code)
}

// =============================================================================
// SERVICE AND IDENTITY
// =============================================================================

func TestServiceEndpoints(t *testing.T) {
	s := newTestServer(t, RouterConfig{})

	info := decode[InfoResponse](t, s.do(t, http.MethodGet, "/", nil, nil))
	assert.Equal(t, Version, info.Version)

	health := decode[HealthResponse](t, s.do(t, http.MethodGet, "/health", nil, nil))
	assert.Equal(t, "healthy", health.Status)

	metrics := s.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, metrics.Code)
}

func TestAPIKeyIdentity(t *testing.T) {
	s := newTestServer(t, RouterConfig{
		Identity: APIKeyIdentity{Next: HeaderIdentity{}, Keys: []string{"k1", "k2"}},
	})
	body := map[string]any{"logical_id": 1}

	missing := s.do(t, http.MethodPost, "/collections", body, asUser(testActor))
	assert.Equal(t, http.StatusUnauthorized, missing.Code)

	wrong := s.do(t, http.MethodPost, "/collections", body, map[string]string{"X-User": testActor, "X-API-Key": "nope"})
	assert.Equal(t, http.StatusForbidden, wrong.Code)

	noUser := s.do(t, http.MethodPost, "/collections", body, map[string]string{"X-API-Key": "k2"})
	assert.Equal(t, http.StatusUnauthorized, noUser.Code)

	ok := s.do(t, http.MethodPost, "/collections", body, map[string]string{"X-User": testActor, "X-API-Key": "k2"})
	assert.Equal(t, http.StatusCreated, ok.Code)
}

func TestCustomIdentityHeader(t *testing.T) {
	s := newTestServer(t, RouterConfig{Identity: HeaderIdentity{Header: "X-Operator"}})

	rec := s.do(t, http.MethodPost, "/collections", map[string]any{"logical_id": 1},
		map[string]string{"X-Operator": "ops"})

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "ops", decode[RecordDTO](t, rec).LastUpdatedBy)
}

func TestCORS_AllowsConfiguredIdentityHeader(t *testing.T) {
	preflight := func(s *testServer) *httptest.ResponseRecorder {
		return s.do(t, http.MethodOptions, "/collections", nil, map[string]string{
			"Origin":                         "https://ops.example.com",
			"Access-Control-Request-Method":  http.MethodPost,
			"Access-Control-Request-Headers": "X-Operator",
		})
	}

	// GIVEN: a router configured for X-Operator
	custom := newTestServer(t, RouterConfig{
		Identity:       HeaderIdentity{Header: "X-Operator"},
		IdentityHeader: "X-Operator",
	})

	// WHEN / THEN: the header passes preflight
	rec := preflight(custom)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "X-Operator", rec.Header().Get("Access-Control-Allow-Headers"))

	// AND: the default router does not allow it
	rec = preflight(newTestServer(t, RouterConfig{}))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Headers"))
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
