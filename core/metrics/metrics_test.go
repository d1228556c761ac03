package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersAndHandler(t *testing.T) {
	before := testutil.ToFloat64(IngestionsTotal.WithLabelValues("url", "created"))
	IngestionsTotal.WithLabelValues("url", "created").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(IngestionsTotal.WithLabelValues("url", "created")))

	ObserveFetch("youtube", time.Now().Add(-time.Second))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "castshelf_ingestions_total")
	assert.Contains(t, rec.Body.String(), "castshelf_fetch_duration_seconds_bucket")
}
