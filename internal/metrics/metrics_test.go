package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New(nil)
	m.TokenIssued()
	m.TokenIssued()
	m.FetchOutcome("protocol_violation")
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.tokensIssued))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchOutcomes.WithLabelValues("protocol_violation")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.fetchOutcomes.WithLabelValues("connect_failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeSessions))
}

func TestNilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TokenIssued()
		m.IssueError()
		m.SessionRequest("accepted")
		m.SessionOpened()
		m.SessionClosed()
		m.FetchOutcome("ok")
		m.Transition("connected")
	})
}

func TestHandlerExposesRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.SessionRequest("accepted")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `lightyear_session_requests_total{result="accepted"} 1`)
}
