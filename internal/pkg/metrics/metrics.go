// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "seckill"

// Metrics 汇总秒杀链路上的 Prometheus 指标。
type Metrics struct {
	Admissions     *prometheus.CounterVec
	TokenIssues    *prometheus.CounterVec
	Compensations  *prometheus.CounterVec
	GateHits       prometheus.Counter
	HandoffLatency prometheus.Histogram
}

// New 创建并注册全部指标。测试里传入独立的 registry，避免重复注册。
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_total",
			Help:      "Purchase attempts by final outcome.",
		}, []string{"outcome"}),
		TokenIssues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "path_token_total",
			Help:      "Path token requests by outcome.",
		}, []string{"outcome"}),
		Compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_release_total",
			Help:      "Ledger releases after a failed hand-off.",
		}, []string{"result"}),
		GateHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sold_out_gate_hits_total",
			Help:      "Requests rejected by the local sold-out gate without touching the ledger.",
		}),
		HandoffLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handoff_publish_seconds",
			Help:      "Latency of publishing purchase intents.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2, 5},
		}),
	}
	reg.MustRegister(m.Admissions, m.TokenIssues, m.Compensations, m.GateHits, m.HandoffLatency)
	return m
}
