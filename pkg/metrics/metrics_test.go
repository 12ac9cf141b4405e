package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CacheLookup("exact", "hit")
		m.Attempt("gpt", "valid")
		m.Generation("bpmn", time.Second, nil)
		m.Recommendation("bpmn", "generate")
		m.Dispatch("sync")
		m.JobFinished("completed")
		m.TaskFailed("cache_store")
	})
}

func TestCountersRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.CacheLookup("exact", "hit")
	m.CacheLookup("exact", "hit")
	m.CacheLookup("semantic", "timeout")
	m.Attempt("gpt-4o", "invalid")
	m.Generation("pid", 3*time.Second, errors.New("boom"))
	m.Dispatch("background")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("exact", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("semantic", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderAttempts.WithLabelValues("gpt-4o", "invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DispatchDecisions.WithLabelValues("background")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.GenerationSeconds))
}

func TestNewWithoutRegistry(t *testing.T) {
	assert.NotPanics(t, func() {
		New(nil)
		New(nil)
	})
}
