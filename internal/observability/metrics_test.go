package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RequestsTotal.WithLabelValues("p1", "a1", "success").Inc()
	m.Errors429Total.WithLabelValues("p1").Inc()
	m.TokensTotal.WithLabelValues("p1", "input").Add(42)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["requests_total"])
	assert.True(t, names["errors_429_total"])
	assert.True(t, names["tokens_total"])
}

func TestNewMetricsTokensTotalAccumulates(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.TokensTotal.WithLabelValues("p1", "output").Add(10)
	m.TokensTotal.WithLabelValues("p1", "output").Add(5)

	families, err := reg.Gather()
	require.NoError(t, err)

	var got float64
	for _, f := range families {
		if f.GetName() != "tokens_total" {
			continue
		}
		for _, metric := range f.Metric {
			if labelsMatch(metric, map[string]string{"provider": "p1", "type": "output"}) {
				got = metric.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, float64(15), got)
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string, len(m.Label))
	for _, l := range m.Label {
		got[l.GetName()] = l.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestNewMetricsSecondRegistrationOnFreshRegistryDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry())
		NewMetrics(prometheus.NewRegistry())
	})
}
