package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// FulfillmentMetrics records counters for the reservation, order, and refund
// pipelines.
type FulfillmentMetrics struct {
	reservationTransitions *prometheus.CounterVec
	stockDeductFailures    prometheus.Counter
	webhookReplays         prometheus.Counter
	refundsIssued          prometheus.Counter
	refundedCents          prometheus.Counter
}

// NewFulfillmentMetrics registers the fulfillment metrics on the provided registerer.
func NewFulfillmentMetrics(reg prometheus.Registerer) *FulfillmentMetrics {
	if reg == nil {
		return &FulfillmentMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_transitions_total",
		Help: "Reservation state transitions by terminal state.",
	}, []string{"state"})
	deductFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stock_deduct_failures_total",
		Help: "Confirm-time stock deductions rejected by the availability guard.",
	})
	replays := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payment_webhook_replays_total",
		Help: "Payment webhook deliveries acknowledged as already processed.",
	})
	refunds := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "refunds_issued_total",
		Help: "Refunds issued through the payment provider.",
	})
	refundedCents := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "refunded_cents_total",
		Help: "Total refunded amount in cents.",
	})
	reg.MustRegister(transitions, deductFailures, replays, refunds, refundedCents)
	return &FulfillmentMetrics{
		reservationTransitions: transitions,
		stockDeductFailures:    deductFailures,
		webhookReplays:         replays,
		refundsIssued:          refunds,
		refundedCents:          refundedCents,
	}
}

// IncReservationTransition counts a reservation entering the named state.
func (m *FulfillmentMetrics) IncReservationTransition(state string) {
	if m == nil || m.reservationTransitions == nil {
		return
	}
	m.reservationTransitions.WithLabelValues(normalizeLabel(state)).Inc()
}

// IncStockDeductFailure counts a rejected confirm-time deduction.
func (m *FulfillmentMetrics) IncStockDeductFailure() {
	if m == nil || m.stockDeductFailures == nil {
		return
	}
	m.stockDeductFailures.Inc()
}

// IncWebhookReplay counts a duplicate webhook delivery.
func (m *FulfillmentMetrics) IncWebhookReplay() {
	if m == nil || m.webhookReplays == nil {
		return
	}
	m.webhookReplays.Inc()
}

// ObserveRefund counts an issued refund and its amount.
func (m *FulfillmentMetrics) ObserveRefund(amountCents int) {
	if m == nil || m.refundsIssued == nil {
		return
	}
	m.refundsIssued.Inc()
	if amountCents > 0 {
		m.refundedCents.Add(float64(amountCents))
	}
}
