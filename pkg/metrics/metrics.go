// Copyright 2025 Certen Protocol

// Package metrics exposes prometheus instrumentation for the verification
// core: proof outcomes, trusted-state advances, pool activity, and
// keepalive failures. Grounded on the teacher's direct use of
// github.com/prometheus/client_golang throughout pkg/server and
// pkg/batch.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the core's metric collectors. Callers register it
// against their own *prometheus.Registry (or prometheus.DefaultRegisterer)
// so embedding applications control the /metrics surface themselves.
type Registry struct {
	VerificationTotal   *prometheus.CounterVec
	StateAdvances        prometheus.Counter
	PoolAcquireTotal     *prometheus.CounterVec
	KeepaliveFailures    prometheus.Counter
	RPCDuration          *prometheus.HistogramVec
}

// NewRegistry creates a Registry with unregistered collectors.
func NewRegistry() *Registry {
	return &Registry{
		VerificationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "verikv",
			Name:      "verification_total",
			Help:      "Count of proof verification attempts by outcome and sub-check.",
		}, []string{"outcome", "check"}),
		StateAdvances: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "verikv",
			Name:      "trusted_state_advances_total",
			Help:      "Count of successful trusted-state publishes.",
		}),
		PoolAcquireTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "verikv",
			Name:      "pool_acquire_total",
			Help:      "Count of connection pool acquisitions by result.",
		}, []string{"result"}),
		KeepaliveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "verikv",
			Name:      "keepalive_failures_total",
			Help:      "Count of keepalive RPCs that returned an error (dropped, not fatal).",
		}),
		RPCDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "verikv",
			Name:      "rpc_duration_seconds",
			Help:      "Latency of RPCs issued by the client facade.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// MustRegister registers every collector in r against reg.
func (r *Registry) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(r.VerificationTotal, r.StateAdvances, r.PoolAcquireTotal, r.KeepaliveFailures, r.RPCDuration)
}

// ObserveVerification records one verification attempt outcome for the
// named sub-check ("inclusion", "dual-proof", "signature", "binding").
func (r *Registry) ObserveVerification(check string, ok bool) {
	outcome := "failed"
	if ok {
		outcome = "ok"
	}
	r.VerificationTotal.WithLabelValues(outcome, check).Inc()
}
