package observability

import "github.com/prometheus/client_golang/prometheus"

// Metrics wraps the Prometheus collectors named in spec §4.17. Unlike the
// teacher's package-level init() registration, the constructor registers
// against an explicit prometheus.Registerer so multiple gateway.Config-driven
// instances (as tests construct) don't double-register against the global
// default registry.
type Metrics struct {
	RequestsTotal        *prometheus.CounterVec
	Errors429Total       *prometheus.CounterVec
	RequestsFailedTotal  *prometheus.CounterVec
	RequestDuration      *prometheus.HistogramVec
	ProviderLatency      *prometheus.HistogramVec
	TokensConsumed       *prometheus.HistogramVec
	TokensTotal          *prometheus.CounterVec

	RateLimitRPMLimit          *prometheus.GaugeVec
	RateLimitBurstCapacity     *prometheus.GaugeVec
	RateLimitTokensCapacity    *prometheus.GaugeVec
	RateLimitTokensAvailable   *prometheus.GaugeVec
	RateLimitWindowOccupancy   *prometheus.GaugeVec
	QuotaUsagePercent          *prometheus.GaugeVec
}

// NewMetrics constructs and registers every collector named in spec §4.17
// against reg (pass prometheus.NewRegistry() in tests, or
// prometheus.DefaultRegisterer in production).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_total", Help: "Total gateway execution requests.",
		}, []string{"provider", "agent", "status"}),
		Errors429Total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "errors_429_total", Help: "Total 429 responses observed per provider.",
		}, []string{"provider"}),
		RequestsFailedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "requests_failed_total", Help: "Total failed execution requests.",
		}, []string{"provider", "agent", "error_type"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "request_duration_seconds", Help: "Orchestrator execute() wall-clock duration.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30},
		}, []string{"provider", "agent"}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "provider_latency_seconds", Help: "Upstream adapter call latency.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30},
		}, []string{"provider"}),
		TokensConsumed: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "tokens_consumed", Help: "Distribution of tokens consumed per call.",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000},
		}, []string{"provider", "type"}),
		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokens_total", Help: "Total tokens consumed.",
		}, []string{"provider", "type"}),
		RateLimitRPMLimit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rate_limit_rpm_limit", Help: "Configured/effective RPM limit per provider.",
		}, []string{"provider"}),
		RateLimitBurstCapacity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rate_limit_burst_capacity", Help: "Token bucket burst capacity per provider.",
		}, []string{"provider"}),
		RateLimitTokensCapacity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rate_limit_tokens_capacity", Help: "Token bucket capacity per provider.",
		}, []string{"provider"}),
		RateLimitTokensAvailable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rate_limit_tokens_available", Help: "Currently available tokens per provider.",
		}, []string{"provider"}),
		RateLimitWindowOccupancy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rate_limit_window_occupancy", Help: "Sliding window occupancy per provider.",
		}, []string{"provider"}),
		QuotaUsagePercent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "quota_usage_percent", Help: "Percent of configured quota consumed.",
		}, []string{"provider", "quota_type"}),
	}

	collectors := []prometheus.Collector{
		m.RequestsTotal, m.Errors429Total, m.RequestsFailedTotal, m.RequestDuration,
		m.ProviderLatency, m.TokensConsumed, m.TokensTotal, m.RateLimitRPMLimit,
		m.RateLimitBurstCapacity, m.RateLimitTokensCapacity, m.RateLimitTokensAvailable,
		m.RateLimitWindowOccupancy, m.QuotaUsagePercent,
	}
	for _, c := range collectors {
		reg.MustRegister(c)
	}
	return m
}
