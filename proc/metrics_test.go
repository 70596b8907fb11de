package proc

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_nilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ItemDispatched(KindFile)
		m.PipelineError()
		m.JoinCompleted()
		m.ObserveSession(PhasePlaying, 3)
	})
}

func TestMetrics_record(t *testing.T) {
	m := NewMetrics()
	m.ItemDispatched(KindStream)
	m.ItemDispatched(KindStream)
	m.PipelineError()
	m.JoinCompleted()
	m.ObserveSession(PhasePaused, 4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.dispatched.WithLabelValues("stream")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pipelineErrors))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.queueLength))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.phase.WithLabelValues("paused")))
	assert.Zero(t, testutil.ToFloat64(m.phase.WithLabelValues("playing")))

	m.ObserveSession(PhaseIdle, 0)
	assert.Zero(t, testutil.ToFloat64(m.phase.WithLabelValues("paused")))
}

func TestMetrics_handler(t *testing.T) {
	m := NewMetrics()
	m.JoinCompleted()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "voxbox_joins_total 1")
}
