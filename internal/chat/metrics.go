package chat

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks turn outcomes and prompt composition. All methods are
// nil-safe so the pipeline can run without a registry.
type Metrics struct {
	turnsTotal     *prometheus.CounterVec
	turnDuration   prometheus.Histogram
	promptTokens   prometheus.Histogram
	memorySnippets prometheus.Histogram
}

// Turn outcome label values.
const (
	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeTimeout = "timeout"
)

// NewMetrics registers the chat metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "copilot",
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Chat turns processed, by outcome.",
		}, []string{"outcome"}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "copilot",
			Subsystem: "chat",
			Name:      "turn_duration_seconds",
			Help:      "Wall-clock duration of a chat turn.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		promptTokens: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "copilot",
			Subsystem: "chat",
			Name:      "prompt_tokens",
			Help:      "Token count of the assembled request prompt.",
			Buckets:   prometheus.ExponentialBuckets(64, 2, 10),
		}),
		memorySnippets: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "copilot",
			Subsystem: "chat",
			Name:      "memory_snippets_admitted",
			Help:      "Memory snippets packed into the prompt per turn.",
			Buckets:   prometheus.LinearBuckets(0, 2, 10),
		}),
	}
	reg.MustRegister(m.turnsTotal, m.turnDuration, m.promptTokens, m.memorySnippets)
	return m
}

func (m *Metrics) observeTurn(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(outcome).Inc()
	m.turnDuration.Observe(d.Seconds())
}

func (m *Metrics) observePrompt(tokens, snippets int) {
	if m == nil {
		return
	}
	m.promptTokens.Observe(float64(tokens))
	m.memorySnippets.Observe(float64(snippets))
}

