package infra

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics はPrometheusによる運用メトリクスの実装。
type Metrics struct {
	poolSize       *prometheus.GaugeVec
	leaseOutcomes  *prometheus.CounterVec
	submitOutcomes *prometheus.CounterVec
}

// NewMetrics はメトリクスをデフォルトレジストリへ登録して返す。
func NewMetrics() *Metrics {
	return &Metrics{
		poolSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mint_pool_identities",
			Help: "Number of mint identities in the pool by status.",
		}, []string{"status"}),
		leaseOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mint_lease_outcomes_total",
			Help: "Lease lifecycle outcomes (leased, released, consumed, expired, timed_out, rejected, exhausted).",
		}, []string{"outcome"}),
		submitOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mint_submit_outcomes_total",
			Help: "Transaction submission outcomes by classification.",
		}, []string{"outcome"}),
	}
}

// RecordLeaseOutcome はリースのライフサイクルイベントを記録する。
func (m *Metrics) RecordLeaseOutcome(outcome string) {
	m.leaseOutcomes.WithLabelValues(outcome).Inc()
}

// RecordSubmitOutcome は送信結果の分類を記録する。
func (m *Metrics) RecordSubmitOutcome(outcome string) {
	m.submitOutcomes.WithLabelValues(outcome).Inc()
}

// SetPoolSize はステータスごとのプール占有数を更新する。
func (m *Metrics) SetPoolSize(status string, count int64) {
	m.poolSize.WithLabelValues(status).Set(float64(count))
}
