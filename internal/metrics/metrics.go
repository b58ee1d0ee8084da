// internal/metrics/metrics.go
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OperationIssue  = "issue"
	OperationRedeem = "redeem"
)

const (
	OutcomeIssued   = "issued"
	OutcomeReplayed = "replayed"
	OutcomeRedeemed = "redeemed"
)

// VoucherMetrics exposes issuance and redemption counters. A nil
// *VoucherMetrics is valid and records nothing.
type VoucherMetrics struct {
	issuance   *prometheus.CounterVec
	redemption *prometheus.CounterVec
	txDuration *prometheus.HistogramVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *VoucherMetrics
)

// Default returns the process-wide metrics registered on the default registerer.
func Default() *VoucherMetrics {
	defaultOnce.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

func New(registerer prometheus.Registerer) *VoucherMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	issuance := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voucher_issuance_total",
		Help: "Voucher issuance attempts by outcome (issued, replayed or an error code).",
	}, []string{"outcome"})
	redemption := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voucher_redemption_total",
		Help: "Voucher redemption attempts by outcome (redeemed or an error code).",
	}, []string{"outcome"})
	txDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voucher_tx_duration_seconds",
		Help:    "Duration of issuance and redemption database transactions.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"operation"})

	registerer.MustRegister(issuance, redemption, txDuration)

	return &VoucherMetrics{
		issuance:   issuance,
		redemption: redemption,
		txDuration: txDuration,
	}
}

func (m *VoucherMetrics) IssuanceOutcome(outcome string) {
	if m == nil {
		return
	}
	m.issuance.WithLabelValues(outcome).Inc()
}

func (m *VoucherMetrics) RedemptionOutcome(outcome string) {
	if m == nil {
		return
	}
	m.redemption.WithLabelValues(outcome).Inc()
}

func (m *VoucherMetrics) ObserveTx(operation string, started time.Time) {
	if m == nil {
		return
	}
	m.txDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}
