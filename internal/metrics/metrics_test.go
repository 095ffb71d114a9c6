package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSensorMetrics_ObserveCycle(t *testing.T) {
	reg := NewRegistry()
	m := NewSensorMetrics(reg)

	m.ObserveCycle("kitchen", "ok", 12, 30*time.Millisecond)
	m.ObserveCycle("kitchen", "bad_checksum", 0, 30*time.Millisecond)
	m.ObserveCycle("kitchen", "ok", 14, 30*time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(m.Cycles.WithLabelValues("kitchen", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Cycles.WithLabelValues("kitchen", "bad_checksum")))
	require.Equal(t, 14.0, testutil.ToFloat64(m.LastValue.WithLabelValues("kitchen")))
}

func TestSensorMetrics_ObserveSetup(t *testing.T) {
	m := NewSensorMetrics(NewRegistry())

	m.ObserveSetup("porch", false)
	require.Equal(t, 0.0, testutil.ToFloat64(m.Functional.WithLabelValues("porch")))
	m.ObserveSetup("porch", true)
	require.Equal(t, 1.0, testutil.ToFloat64(m.Functional.WithLabelValues("porch")))
}

func TestHandler(t *testing.T) {
	reg := NewRegistry()
	m := NewSensorMetrics(reg)
	m.ObserveCycle("porch", "incomplete_frame", 0, time.Millisecond)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.True(t, strings.Contains(body, `particulate_poll_cycles_total{outcome="incomplete_frame",sensor="porch"} 1`), body)
}
