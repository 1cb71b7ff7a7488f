package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistry_CoreMetrics(t *testing.T) {
	r := NewMetricsRegistry()

	require.NotNil(t, r.CoreMetrics())
	require.NotNil(t, r.PrometheusRegistry())

	// Core metrics must be gatherable without touching them first
	r.CoreMetrics().RequestsTotal.WithLabelValues("resource", "creation", "200").Inc()
	r.CoreMetrics().PendingContinuations.Set(3)

	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, fam := range families {
		names[fam.GetName()] = true
	}
	assert.True(t, names["registry_requests_total"])
	assert.True(t, names["registry_pending_continuations"])
}

func TestRegister_Duplicate(t *testing.T) {
	r := NewMetricsRegistry()

	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_component_counter",
		Help: "test",
	})

	require.NoError(t, r.Register("store", "writes", c))
	err := r.Register("store", "writes", c)
	assert.Error(t, err)
}

func TestUnregister(t *testing.T) {
	r := NewMetricsRegistry()

	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_component_counter",
		Help: "test",
	})

	require.NoError(t, r.Register("store", "writes", c))
	assert.True(t, r.Unregister("store", "writes"))
	assert.False(t, r.Unregister("store", "writes"))

	// Re-registration after unregister must succeed
	assert.NoError(t, r.Register("store", "writes", c))
}
