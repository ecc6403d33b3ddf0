package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveHTTPRequest(t *testing.T) {
	m := New()
	m.ObserveHTTPRequest("/api/v1/safe", "POST", 200, 30*time.Millisecond)
	m.ObserveHTTPRequest("/api/v1/safe", "POST", 503, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("/api/v1/safe", "POST", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpErrors.WithLabelValues("/api/v1/safe", "POST")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.httpLatency))
}

func TestSequenceAndTaskCounters(t *testing.T) {
	m := New()
	m.ObserveSequence("init_swap", "success", 2*time.Second)
	m.ObserveSequence("init_swap", "partial_execution", time.Second)
	m.ObserveTask("deploy_safe", "retry")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.sequences.WithLabelValues("init_swap", "partial_execution")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasks.WithLabelValues("deploy_safe", "retry")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveSequence("provision", "success", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `safeswap_sequence_runs_total{outcome="success",sequence="provision"} 1`))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}
