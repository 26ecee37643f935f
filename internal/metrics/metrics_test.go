package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounters(t *testing.T) {
	c := NewCollector()
	c.RecordDecision("EDIT", "ROLE_NOT_PERMITTED")
	c.RecordDecision("EDIT", "ROLE_NOT_PERMITTED")
	c.RecordTransition("DRAFT", "SUBMITTED")
	c.RecordConflict()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.decisions.WithLabelValues("EDIT", "ROLE_NOT_PERMITTED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitions.WithLabelValues("DRAFT", "SUBMITTED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.conflicts))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.RecordDecision("VIEW", "ALLOWED")
	c.RecordTransition("A", "B")
	c.RecordWebhook(true)
	h := c.InstrumentHandler(http.NotFoundHandler())
	assert.NotNil(t, h)
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector()
	c.RecordIncomplete()
	api := c.InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	api.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "permitline_lifecycle_incomplete_submissions_total 1"))
	assert.True(t, strings.Contains(body, `permitline_http_requests_total{method="GET",status="418"} 1`))
}
