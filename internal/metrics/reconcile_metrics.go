package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты приёма webhook для метки result.
const (
	WebhookAccepted                = "accepted"
	WebhookDuplicate               = "duplicate"
	WebhookAmountMismatch          = "amount_mismatch"
	WebhookBodyTooLarge            = "body_too_large"
	WebhookInvalidSignature        = "invalid_signature"
	WebhookInvalidPayload          = "invalid_payload"
	WebhookVerificationUnavailable = "verification_unavailable"
	WebhookPersistenceFailure      = "persistence_failure"
)

// ReconcileMetrics содержит метрики приёма webhook и сверки.
type ReconcileMetrics struct {
	webhookDeliveries *prometheus.CounterVec
	reconcileOutcomes *prometheus.CounterVec
	linkOutcomes      *prometheus.CounterVec
	sweepTransitions  *prometheus.CounterVec

	reconcileDuration prometheus.Histogram
	txRetries         prometheus.Counter
	anomalies         prometheus.Counter
}

// NewReconcileMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewReconcileMetrics() *ReconcileMetrics {
	return NewReconcileMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewReconcileMetricsWithRegisterer регистрирует метрики в registerer.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewReconcileMetricsWithRegisterer(registerer prometheus.Registerer) *ReconcileMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &ReconcileMetrics{
		webhookDeliveries: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "recon_webhook_deliveries_total",
			Help: "Total number of gateway webhook deliveries grouped by result",
		}, []string{"gateway", "result"}),
		reconcileOutcomes: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "recon_reconcile_outcomes_total",
			Help: "Total number of reconciled gateway events grouped by outcome",
		}, []string{"outcome"}),
		linkOutcomes: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "recon_link_outcomes_total",
			Help: "Total number of registration link attempts grouped by outcome",
		}, []string{"outcome"}),
		sweepTransitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "recon_sweep_transitions_total",
			Help: "Total number of registrations moved by the expiry sweep grouped by target status",
		}, []string{"status"}),
		reconcileDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "recon_reconcile_duration_seconds",
			Help:    "Duration of reconcile transactions in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		txRetries: registerCounter(registerer, prometheus.CounterOpts{
			Name: "recon_tx_retries_total",
			Help: "Total number of store transactions retried after a conflict",
		}),
		anomalies: registerCounter(registerer, prometheus.CounterOpts{
			Name: "recon_anomalies_total",
			Help: "Total number of reconciliation anomalies recorded",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// RecordWebhook учитывает одну доставку webhook.
func (m *ReconcileMetrics) RecordWebhook(gateway, result string) {
	if m == nil {
		return
	}
	m.webhookDeliveries.WithLabelValues(gateway, result).Inc()
}

// RecordReconcile учитывает результат сверки и длительность транзакции.
func (m *ReconcileMetrics) RecordReconcile(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.reconcileOutcomes.WithLabelValues(outcome).Inc()
	m.reconcileDuration.Observe(duration.Seconds())
}

// RecordLink учитывает результат привязки (или класс ошибки).
func (m *ReconcileMetrics) RecordLink(outcome string) {
	if m == nil {
		return
	}
	m.linkOutcomes.WithLabelValues(outcome).Inc()
}

// RecordSweep учитывает переходы, выполненные sweep.
func (m *ReconcileMetrics) RecordSweep(status string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.sweepTransitions.WithLabelValues(status).Add(float64(count))
}

// RecordTxRetry увеличивает счётчик повторов транзакции.
func (m *ReconcileMetrics) RecordTxRetry() {
	if m == nil {
		return
	}
	m.txRetries.Inc()
}

// RecordAnomaly увеличивает счётчик аномалий.
func (m *ReconcileMetrics) RecordAnomaly() {
	if m == nil {
		return
	}
	m.anomalies.Inc()
}
