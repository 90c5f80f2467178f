package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BotMetrics records counters and timings for the conversational pipeline.
type BotMetrics struct {
	updates          *prometheus.CounterVec
	intents          *prometheus.CounterVec
	handlerDuration  *prometheus.HistogramVec
	checkoutCommits  *prometheus.CounterVec
	invoiceOutcomes  *prometheus.CounterVec
	llmFallbacks     prometheus.Counter
	duplicateUpdates prometheus.Counter
}

// NewBotMetrics registers the bot metrics on the provided registerer.
func NewBotMetrics(reg prometheus.Registerer) *BotMetrics {
	if reg == nil {
		return &BotMetrics{}
	}
	updates := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_updates_total",
		Help: "Inbound webhook updates by outcome.",
	}, []string{"outcome"})
	intents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_intents_total",
		Help: "Classified intents by name and source (llm or fallback).",
	}, []string{"intent", "source"})
	handlerDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bot_handler_duration_seconds",
		Help:    "Duration of orchestrator dispatch per handler.",
		Buckets: prometheus.DefBuckets,
	}, []string{"handler"})
	checkoutCommits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_checkout_commits_total",
		Help: "Checkout commit attempts by result.",
	}, []string{"result"})
	invoiceOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_invoice_dispatch_total",
		Help: "Invoice dispatch tasks by result.",
	}, []string{"result"})
	llmFallbacks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_llm_fallbacks_total",
		Help: "Times the keyword fallback classifier replaced the model.",
	})
	duplicateUpdates := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_duplicate_updates_total",
		Help: "Webhook updates dropped by idempotency filtering.",
	})
	reg.MustRegister(updates, intents, handlerDuration, checkoutCommits, invoiceOutcomes, llmFallbacks, duplicateUpdates)
	return &BotMetrics{
		updates:          updates,
		intents:          intents,
		handlerDuration:  handlerDuration,
		checkoutCommits:  checkoutCommits,
		invoiceOutcomes:  invoiceOutcomes,
		llmFallbacks:     llmFallbacks,
		duplicateUpdates: duplicateUpdates,
	}
}

// IncUpdate counts an inbound update by outcome (ok, error, dropped).
func (b *BotMetrics) IncUpdate(outcome string) {
	if b == nil || b.updates == nil {
		return
	}
	b.updates.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncIntent counts one classified intent.
func (b *BotMetrics) IncIntent(intent, source string) {
	if b == nil || b.intents == nil {
		return
	}
	b.intents.WithLabelValues(normalizeLabel(intent), normalizeLabel(source)).Inc()
}

// ObserveHandlerDuration records the time a handler took.
func (b *BotMetrics) ObserveHandlerDuration(handler string, duration time.Duration) {
	if b == nil || b.handlerDuration == nil {
		return
	}
	b.handlerDuration.WithLabelValues(normalizeLabel(handler)).Observe(duration.Seconds())
}

// IncCheckoutCommit counts a commit attempt (committed, rolled_back).
func (b *BotMetrics) IncCheckoutCommit(result string) {
	if b == nil || b.checkoutCommits == nil {
		return
	}
	b.checkoutCommits.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncInvoiceOutcome counts an invoice dispatch result (sent, retried, dead).
func (b *BotMetrics) IncInvoiceOutcome(result string) {
	if b == nil || b.invoiceOutcomes == nil {
		return
	}
	b.invoiceOutcomes.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncLLMFallback counts one fallback classification.
func (b *BotMetrics) IncLLMFallback() {
	if b == nil || b.llmFallbacks == nil {
		return
	}
	b.llmFallbacks.Inc()
}

// IncDuplicateUpdate counts one dropped duplicate update.
func (b *BotMetrics) IncDuplicateUpdate() {
	if b == nil || b.duplicateUpdates == nil {
		return
	}
	b.duplicateUpdates.Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
