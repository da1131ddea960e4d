// Package metrics exposes prometheus counters for the entitlement engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

type Metrics struct {
	QuotaUses        *prometheus.CounterVec
	QuotaDenials     *prometheus.CounterVec
	AdUnlocks        *prometheus.CounterVec
	CardSpends       *prometheus.CounterVec
	IdempotencyCalls *prometheus.CounterVec
	TxRetries        prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QuotaUses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lumichat_quota_uses_total",
			Help: "Recorded consumption events by resource.",
		}, []string{"resource"}),
		QuotaDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lumichat_quota_denials_total",
			Help: "Denied consumption attempts by resource and reason.",
		}, []string{"resource", "reason"}),
		AdUnlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lumichat_ad_unlocks_total",
			Help: "Ad-funded bonus grants by resource.",
		}, []string{"resource"}),
		CardSpends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lumichat_card_spends_total",
			Help: "Consumable card decrements by card type and storage location.",
		}, []string{"card_type", "location"}),
		IdempotencyCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lumichat_idempotency_calls_total",
			Help: "Idempotency guard outcomes (executed, deduplicated, processing).",
		}, []string{"outcome"}),
		TxRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lumichat_tx_retries_total",
			Help: "Ledger transactions retried after a conflict.",
		}),
	}

	reg.MustRegister(
		m.QuotaUses,
		m.QuotaDenials,
		m.AdUnlocks,
		m.CardSpends,
		m.IdempotencyCalls,
		m.TxRetries,
	)
	return m
}

func provideRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

func provideMetrics(reg *prometheus.Registry) *Metrics {
	return New(reg)
}

var Module = fx.Module("observability.metrics",
	fx.Provide(provideRegistry),
	fx.Provide(func(reg *prometheus.Registry) prometheus.Registerer { return reg }),
	fx.Provide(provideMetrics),
	fx.Provide(NewHTTPMetrics),
)
