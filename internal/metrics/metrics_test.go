package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	assert.NotPanics(t, func() {
		ObserveRun("国家颁布法规", "success", 3*time.Second)
		ObserveDocument("国家颁布法规", "inserted")
		ObserveFetch("retry")
		ObserveAttachment("parsed")
		ObserveHTTPRequest(http.MethodGet, "/api/documents", http.StatusOK, 12*time.Millisecond)
	})
}

func TestHandlerServesMetrics(t *testing.T) {
	Init()
	ObserveRun("军队颁布法规", "failed", time.Second)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "regcrawler_runs_total")
}
