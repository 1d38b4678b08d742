package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	m := New()

	m.ProcessSettled("text.upper", "SUCCESS")
	m.ProcessSettled("text.upper", "SUCCESS")
	m.ScenarioFinished("ERROR")
	m.QueueLength(4)
	m.RunningAdd(2)
	m.RunningAdd(-1)
	m.Tick("admitted")
	m.TaskDuration("text.upper", 20*time.Millisecond)

	assert.InDelta(t, 2, testutil.ToFloat64(m.processes.WithLabelValues("text.upper", "SUCCESS")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.scenarios.WithLabelValues("ERROR")), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(m.queueLength), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.runningGauge), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ticks.WithLabelValues("admitted")), 0)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ProcessSettled("x", "SUCCESS")
		m.TaskDuration("x", time.Second)
		m.ScenarioFinished("SUCCESS")
		m.QueueLength(1)
		m.RunningAdd(1)
		m.Tick("idle")
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Tick("idle")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "labflow_queue_ticks_total")
}
