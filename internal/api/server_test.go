package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procuredocs/regcrawler/internal/ingest"
	"github.com/procuredocs/regcrawler/internal/regulation"
	storepg "github.com/procuredocs/regcrawler/internal/store/postgres"
)

type fakeDocStore struct {
	docs      []regulation.Document
	total     int
	byID      map[int64]*regulation.Document
	timeline  []storepg.TimelineEntry
	latestRun *regulation.RunLog

	lastList   storepg.ListQuery
	lastSearch string
	listErr    error
}

func (f *fakeDocStore) ListDocuments(_ context.Context, q storepg.ListQuery) ([]regulation.Document, int, error) {
	f.lastList = q
	if f.listErr != nil {
		return nil, 0, f.listErr
	}
	return f.docs, f.total, nil
}

func (f *fakeDocStore) SearchDocuments(_ context.Context, term string, _, _ int) ([]regulation.Document, int, error) {
	f.lastSearch = term
	return f.docs, f.total, nil
}

func (f *fakeDocStore) Timeline(context.Context, int, string) ([]storepg.TimelineEntry, error) {
	return f.timeline, nil
}

func (f *fakeDocStore) GetDocument(_ context.Context, id int64) (*regulation.Document, error) {
	return f.byID[id], nil
}

func (f *fakeDocStore) LatestRunLog(context.Context) (*regulation.RunLog, error) {
	return f.latestRun, nil
}

type fakeCrawler struct {
	count      int
	err        error
	status     ingest.Status
	categories []regulation.Category

	lastCategory string
	crawledAll   bool
}

func (f *fakeCrawler) CrawlCategory(_ context.Context, name string) (int, error) {
	f.lastCategory = name
	return f.count, f.err
}

func (f *fakeCrawler) CrawlAll(context.Context) (int, error) {
	f.crawledAll = true
	return f.count, f.err
}

func (f *fakeCrawler) Status() ingest.Status { return f.status }

func (f *fakeCrawler) Categories() []regulation.Category { return f.categories }

func newTestServer(store *fakeDocStore, crawler *fakeCrawler) *httptest.Server {
	if store.byID == nil {
		store.byID = map[int64]*regulation.Document{}
	}
	s := NewServer(store, crawler, Config{PageSize: 20}, nil)
	return httptest.NewServer(s.Handler())
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck // test helper
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	ts := newTestServer(&fakeDocStore{}, &fakeCrawler{})
	defer ts.Close()

	var body map[string]string
	resp := getJSON(t, ts.URL+"/healthz", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestListDocuments(t *testing.T) {
	t.Parallel()

	store := &fakeDocStore{
		docs:  []regulation.Document{{ID: 1, Title: "军事设施保护条例"}},
		total: 41,
	}
	ts := newTestServer(store, &fakeCrawler{})
	defer ts.Close()

	var page documentPage
	resp := getJSON(t, ts.URL+"/api/documents?category=军队颁布法规&sort=-publish_date&page=2&page_size=10", &page)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 41, page.Total)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 10, page.PageSize)
	require.Len(t, page.Items, 1)

	assert.Equal(t, "军队颁布法规", store.lastList.Category)
	assert.Equal(t, "-publish_date", store.lastList.Sort)
	assert.Equal(t, 2, store.lastList.Page)
	assert.Equal(t, 10, store.lastList.PageSize)
}

func TestListDocumentsBadSortIs400(t *testing.T) {
	t.Parallel()

	store := &fakeDocStore{listErr: fmt.Errorf(`unsupported sort field "fingerprint"`)}
	ts := newTestServer(store, &fakeCrawler{})
	defer ts.Close()

	resp := getJSON(t, ts.URL+"/api/documents?sort=fingerprint", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSearchRequiresQuery(t *testing.T) {
	t.Parallel()

	ts := newTestServer(&fakeDocStore{}, &fakeCrawler{})
	defer ts.Close()

	resp := getJSON(t, ts.URL+"/api/documents/search", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSearchDocuments(t *testing.T) {
	t.Parallel()

	store := &fakeDocStore{docs: []regulation.Document{{ID: 1, Title: "保密条例"}}, total: 1}
	ts := newTestServer(store, &fakeCrawler{})
	defer ts.Close()

	var page documentPage
	resp := getJSON(t, ts.URL+"/api/documents/search?q=保密", &page)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "保密", store.lastSearch)
	require.Len(t, page.Items, 1)
}

func TestTimeline(t *testing.T) {
	t.Parallel()

	store := &fakeDocStore{timeline: []storepg.TimelineEntry{{Month: "2024-03", Count: 4}}}
	ts := newTestServer(store, &fakeCrawler{})
	defer ts.Close()

	var body struct {
		Timeline []storepg.TimelineEntry `json:"timeline"`
	}
	resp := getJSON(t, ts.URL+"/api/documents/timeline?year=2024", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body.Timeline, 1)
	assert.Equal(t, "2024-03", body.Timeline[0].Month)
}

func TestGetDocument(t *testing.T) {
	t.Parallel()

	store := &fakeDocStore{byID: map[int64]*regulation.Document{
		7: {ID: 7, Title: "军事设施保护条例"},
	}}
	ts := newTestServer(store, &fakeCrawler{})
	defer ts.Close()

	var doc regulation.Document
	resp := getJSON(t, ts.URL+"/api/documents/7", &doc)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(7), doc.ID)

	resp = getJSON(t, ts.URL+"/api/documents/99", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = getJSON(t, ts.URL+"/api/documents/abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDownloadAttachment(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "条例全文.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 fake"), 0o644))

	store := &fakeDocStore{byID: map[int64]*regulation.Document{
		7: {ID: 7, Title: "条例", AttachmentPath: path},
		8: {ID: 8, Title: "无附件条例"},
	}}
	ts := newTestServer(store, &fakeCrawler{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/documents/7/download")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck // test
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "filename*=UTF-8''")

	resp2 := getJSON(t, ts.URL+"/api/documents/8/download", nil)
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestListCategories(t *testing.T) {
	t.Parallel()

	crawler := &fakeCrawler{categories: []regulation.Category{{Name: "军队颁布法规", LMID: "42"}}}
	ts := newTestServer(&fakeDocStore{}, crawler)
	defer ts.Close()

	var body struct {
		Categories []regulation.Category `json:"categories"`
	}
	resp := getJSON(t, ts.URL+"/api/categories", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body.Categories, 1)
}

func postJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck // test helper
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp, body
}

func TestStartCrawlCategory(t *testing.T) {
	t.Parallel()

	crawler := &fakeCrawler{count: 12}
	ts := newTestServer(&fakeDocStore{}, crawler)
	defer ts.Close()

	resp, body := postJSON(t, ts.URL+"/api/crawl/start?category=军队颁布法规")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "军队颁布法规", crawler.lastCategory)
	assert.Equal(t, float64(12), body["count"])
}

func TestStartCrawlAll(t *testing.T) {
	t.Parallel()

	crawler := &fakeCrawler{count: 3}
	ts := newTestServer(&fakeDocStore{}, crawler)
	defer ts.Close()

	resp, _ := postJSON(t, ts.URL+"/api/crawl/start")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, crawler.crawledAll)
}

func TestStartCrawlConflict(t *testing.T) {
	t.Parallel()

	crawler := &fakeCrawler{err: ingest.ErrRunActive}
	ts := newTestServer(&fakeDocStore{}, crawler)
	defer ts.Close()

	resp, _ := postJSON(t, ts.URL+"/api/crawl/start")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestStartCrawlUnknownCategory(t *testing.T) {
	t.Parallel()

	crawler := &fakeCrawler{err: fmt.Errorf("%q: %w", "x", ingest.ErrUnknownCategory)}
	ts := newTestServer(&fakeDocStore{}, crawler)
	defer ts.Close()

	resp, _ := postJSON(t, ts.URL+"/api/crawl/start?category=x")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartCrawlFailure(t *testing.T) {
	t.Parallel()

	crawler := &fakeCrawler{err: fmt.Errorf("category 军队颁布法规: boom")}
	ts := newTestServer(&fakeDocStore{}, crawler)
	defer ts.Close()

	resp, body := postJSON(t, ts.URL+"/api/crawl/start")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, body["error"], "boom")
}

func TestCrawlStatus(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	crawler := &fakeCrawler{status: ingest.Status{Running: true, Category: "all", StartedAt: started}}
	store := &fakeDocStore{latestRun: &regulation.RunLog{
		ID: 3, Category: "军队颁布法规", Status: regulation.RunStatusSuccess, Count: 5,
	}}
	ts := newTestServer(store, crawler)
	defer ts.Close()

	var body map[string]any
	resp := getJSON(t, ts.URL+"/api/crawl/status", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["is_running"])
	assert.Equal(t, "all", body["category"])
	require.Contains(t, body, "latest_run")
}
