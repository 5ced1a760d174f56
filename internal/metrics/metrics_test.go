package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecording(t *testing.T) {
	m := New()

	m.ObserveCycle("ok", 2*time.Second)
	m.ObserveCycle("ok", time.Second)
	m.ObserveCycle("error", time.Second)
	m.PositionOpened()
	m.PositionClosed("WON")
	m.PriceFetch("clob", "ok")
	m.BreakerTripped("discovery")
	m.SetPortfolio(101.5, 90, 3)
	m.RefreshRestarted()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Cycles.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Cycles.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PositionsOpened))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PositionsClosed.WithLabelValues("WON")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PriceFetches.WithLabelValues("clob", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerTrips.WithLabelValues("discovery")))
	assert.Equal(t, 101.5, testutil.ToFloat64(m.Capital.WithLabelValues("total")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.OpenPositions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RefreshRestarts))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveCycle("ok", time.Second)
		m.Candidate("verified")
		m.PositionOpened()
		m.PositionClosed("LOST")
		m.PriceFetch("gamma", "error")
		m.BreakerTripped("reprice")
		m.SetPortfolio(1, 1, 1)
		m.RefreshRestarted()
	})
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.PositionOpened()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "weatherbot_positions_opened_total 1")
}
