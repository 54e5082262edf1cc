package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Fileri/showcase/server/internal/config"
	"github.com/Fileri/showcase/server/internal/content"
	"github.com/Fileri/showcase/server/internal/logging"
	"github.com/Fileri/showcase/server/internal/storage"
)

// downStore fails every call, like an unreachable database.
type downStore struct{ name string }

var errDown = errors.New("connection refused")

func (d downStore) Name() string { return d.name }
func (d downStore) List(context.Context) ([]*content.Content, error) {
	return nil, errDown
}
func (d downStore) Get(context.Context, string) (*content.Content, error) {
	return nil, errDown
}
func (d downStore) Create(context.Context, *content.Content) (*content.Content, error) {
	return nil, errDown
}
func (d downStore) Update(context.Context, string, content.Update) (*content.Content, error) {
	return nil, errDown
}
func (d downStore) Delete(context.Context, string) error { return errDown }

type fakeProber struct {
	rows []map[string]any
	err  error
}

func (p *fakeProber) Sample(context.Context, int) ([]map[string]any, error) {
	return p.rows, p.err
}

func (p *fakeProber) Columns(context.Context) []map[string]any {
	return []map[string]any{{"column_name": "id", "data_type": "uuid"}}
}

func (p *fakeProber) Probe(context.Context) []storage.ProbeAttempt {
	return []storage.ProbeAttempt{{Variant: "select_all", OK: true, Count: len(p.rows)}}
}

func newFileChain(t *testing.T, stores ...storage.Store) *storage.Chain {
	t.Helper()
	blob, err := storage.NewFilesystem(t.TempDir(), "contents.json")
	require.NoError(t, err)
	return storage.NewChain(append(stores, storage.NewFileStore(blob))...)
}

func newTestHandler(t *testing.T, chain *storage.Chain, prober Prober) *Handler {
	t.Helper()
	logging.Set(zaptest.NewLogger(t))
	cfg := &config.Config{Limits: config.LimitsConfig{MaxBodySize: "1KB"}}
	h := New(cfg, chain, prober)
	h.now = func() time.Time { return time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC) }
	return h
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestContentLifecycle(t *testing.T) {
	h := newTestHandler(t, newFileChain(t, downStore{name: "postgres"}), nil)

	rec := do(t, h, http.MethodPost, "/api/content", `{"title":"Trailer","text":"cut 1","contentType":"video","platform":"youtube","externalUrl":"https://youtube.com/watch?v=1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "file", rec.Header().Get("X-Content-Backend"))
	created := decode[map[string]any](t, rec)
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "cut 1", created["description"])
	assert.Equal(t, "2025-08-01T12:00:00Z", created["createdAt"])

	rec = do(t, h, http.MethodGet, "/api/content/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string]any](t, rec)
	assert.Equal(t, "Trailer", got["title"])
	assert.Equal(t, "video", got["contentType"])

	rec = do(t, h, http.MethodPut, "/api/content/"+id, `{"title":"Trailer v2","description":"cut 2"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[map[string]any](t, rec)
	assert.Equal(t, "Trailer v2", updated["title"])
	assert.Equal(t, "cut 2", updated["description"])
	assert.Equal(t, "video", updated["contentType"])
	assert.Nil(t, updated["platform"])
	assert.Nil(t, updated["externalUrl"])

	rec = do(t, h, http.MethodGet, "/api/content", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)

	rec = do(t, h, http.MethodDelete, "/api/content/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"message": "Content deleted"}, decode[map[string]string](t, rec))

	rec = do(t, h, http.MethodGet, "/api/content/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, map[string]string{"error": "Content not found"}, decode[map[string]string](t, rec))
}

func TestListEmptyIsArray(t *testing.T) {
	h := newTestHandler(t, newFileChain(t), nil)

	rec := do(t, h, http.MethodGet, "/api/content", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestNotFoundRoutes(t *testing.T) {
	h := newTestHandler(t, newFileChain(t), nil)

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		body := ""
		if method == http.MethodPut {
			body = `{"title":"x"}`
		}
		rec := do(t, h, method, "/api/content/does-not-exist", body)
		assert.Equal(t, http.StatusNotFound, rec.Code, method)
		assert.JSONEq(t, `{"error":"Content not found"}`, rec.Body.String(), method)
	}
}

func TestAllBackendsDown(t *testing.T) {
	h := newTestHandler(t, storage.NewChain(downStore{name: "postgres"}, downStore{name: "file"}), nil)

	cases := []struct {
		method, path, body, msg string
	}{
		{http.MethodGet, "/api/content", "", "Failed to fetch contents"},
		{http.MethodGet, "/api/content/1", "", "Failed to fetch content"},
		{http.MethodPut, "/api/content/1", `{"title":"x"}`, "Failed to update content"},
		{http.MethodDelete, "/api/content/1", "", "Failed to delete content"},
		{http.MethodPost, "/api/content", `{"title":"x"}`, "Failed to create content"},
	}
	for _, tc := range cases {
		rec := do(t, h, tc.method, tc.path, tc.body)
		assert.Equal(t, http.StatusInternalServerError, rec.Code, tc.path)
		assert.Equal(t, tc.msg, decode[map[string]string](t, rec)["error"])
	}
}

func TestInvalidBody(t *testing.T) {
	h := newTestHandler(t, newFileChain(t), nil)

	rec := do(t, h, http.MethodPut, "/api/content/1", `{"contentType":"gif"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "Invalid request body", body["error"])
	assert.NotEmpty(t, body["details"])

	rec = do(t, h, http.MethodPost, "/api/content", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPut, "/api/content/1", `{"externalUrl":"youtu.be/abc"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code, "loose URLs are stored as given")
}

func TestBodyTooLarge(t *testing.T) {
	h := newTestHandler(t, newFileChain(t), nil)

	big := `{"title":"` + strings.Repeat("a", 2048) + `"}`
	for _, method := range []string{http.MethodPost, http.MethodPut} {
		path := "/api/content"
		if method == http.MethodPut {
			path += "/1"
		}
		rec := do(t, h, method, path, big)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, method)
		assert.Equal(t, "Request body exceeds 1024 bytes", decode[map[string]string](t, rec)["error"])
	}
}

func TestDebugWithoutSupabase(t *testing.T) {
	h := newTestHandler(t, newFileChain(t), nil)

	rec := do(t, h, http.MethodGet, "/api/debug", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Supabase not initialized"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/debug/columns", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Missing Supabase credentials","url":"missing","key":"missing"}`, rec.Body.String())
}

func TestDebugWithSupabase(t *testing.T) {
	p := &fakeProber{rows: []map[string]any{{"id": "1", "contenttype": "image"}}}
	h := newTestHandler(t, newFileChain(t), p)

	rec := do(t, h, http.MethodGet, "/api/debug", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, float64(1), body["sample_count"])
	assert.Len(t, body["columns"], 1)

	rec = do(t, h, http.MethodGet, "/api/debug/columns", "")
	require.Equal(t, http.StatusOK, rec.Code)
	cols := decode[map[string]any](t, rec)
	assert.Equal(t, true, cols["success"])
	assert.Len(t, cols["attempts"], 1)

	p.err = errors.New(`relation "public.contents" does not exist`)
	rec = do(t, h, http.MethodGet, "/api/debug", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	failed := decode[map[string]any](t, rec)
	assert.Equal(t, "Failed to query table", failed["error"])
	assert.Nil(t, failed["code"])
}

func TestDebugReportsPostgRESTCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"code":"42P01","message":"relation \"public.contents\" does not exist","details":null,"hint":null}`))
	}))
	t.Cleanup(srv.Close)
	sb := storage.NewSupabase(config.SupabaseConfig{URL: srv.URL, AnonKey: "k", Schema: "public", Table: "contents"})
	h := newTestHandler(t, newFileChain(t), sb)

	rec := do(t, h, http.MethodGet, "/api/debug", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "42P01", body["code"])
	assert.Equal(t, `relation "public.contents" does not exist`, body["message"])
	details, ok := body["details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "42P01", details["code"])
}

func TestHealthAndHeaders(t *testing.T) {
	h := newTestHandler(t, newFileChain(t), nil)

	rec := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestHandler(t, newFileChain(t), nil)

	rec := do(t, h, http.MethodPatch, "/api/content/1", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"0", 0},
		{"512", 512},
		{"100B", 100},
		{"1KB", 1024},
		{"1mb", 1024 * 1024},
		{"2GB", 2 * 1024 * 1024 * 1024},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseSize(tt.in), tt.in)
	}
}
