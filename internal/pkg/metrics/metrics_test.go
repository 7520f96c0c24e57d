package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsolatedRegistries(t *testing.T) {
	a := New()
	b := New()

	a.IncJoin("ok")
	a.IncJoin("ok")
	b.IncJoin("match_full")

	assert.Equal(t, 2.0, testutil.ToFloat64(a.Joins.WithLabelValues("ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Joins.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.Joins.WithLabelValues("match_full")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncJoin("ok")
		m.IncSettlement("ok")
		m.IncDecision("recharge", "approved")
		m.IncLedgerEntry("recharge", "pending")
		m.ObserveSince("join", time.Now())
	})
}

func TestOutcome(t *testing.T) {
	code := func(error) string { return "match_full" }
	assert.Equal(t, "ok", Outcome(nil, code))
	assert.Equal(t, "match_full", Outcome(errors.New("x"), code))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.IncSettlement("ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tournament_wallet_match_settlements_total")
}
