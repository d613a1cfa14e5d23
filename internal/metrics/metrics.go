// Package metrics wraps a single Prometheus registry behind the small
// set of gauges/counters the core components record against.
//
// Grounded on the teacher's metrics/gatherer and metrics/prometheus
// packages, which wrap a metrics registry behind a narrow Gatherer type;
// since this repository talks to Prometheus directly rather than through
// go-ethereum's internal metrics registry, the conversion layer those
// packages exist for is unneeded and this package instead wraps
// prometheus/client_golang's registry directly.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric the core components publish.
type Registry struct {
	reg *prometheus.Registry

	ScannerLastSeenBlock prometheus.Gauge
	ScannerChainHead     prometheus.Gauge
	ScannerLagBlocks     prometheus.Gauge
	ScannerChunkCommits  prometheus.Counter
	ScannerChunkRetries  prometheus.Counter
	ScannerTxsSeen       *prometheus.CounterVec // label: symbol

	SweepAttempts *prometheus.CounterVec // labels: symbol, outcome
	SweepSkipped  *prometheus.CounterVec // labels: symbol, reason

	PayoutStepsExecuted *prometheus.CounterVec // labels: status
	PayoutNotifyRetries prometheus.Counter

	AMLTransitions *prometheus.CounterVec // labels: from, to

	ConnManagerElections     prometheus.Counter
	ConnManagerAllOffline    prometheus.Counter
	ConnManagerActiveServer  *prometheus.GaugeVec // label: name, value 0/1
}

// New builds a Registry with every metric registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	ns := "tron_gateway"

	r := &Registry{
		reg: reg,
		ScannerLastSeenBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "scanner", Name: "last_seen_block_num",
			Help: "Highest committed block height.",
		}),
		ScannerChainHead: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "scanner", Name: "chain_head",
			Help: "Chain head height as last observed by the scanner.",
		}),
		ScannerLagBlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "scanner", Name: "lag_blocks",
			Help: "chain_head - last_seen_block_num.",
		}),
		ScannerChunkCommits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "scanner", Name: "chunk_commits_total",
			Help: "Number of chunks committed.",
		}),
		ScannerChunkRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "scanner", Name: "chunk_retries_total",
			Help: "Number of chunk retries after a block failure.",
		}),
		ScannerTxsSeen: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "scanner", Name: "transfers_seen_total",
			Help: "Relevant transfers observed, by symbol.",
		}, []string{"symbol"}),
		SweepAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "sweep", Name: "attempts_total",
			Help: "Sweep attempts, by symbol and outcome.",
		}, []string{"symbol", "outcome"}),
		SweepSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "sweep", Name: "skipped_total",
			Help: "Sweeps skipped, by symbol and reason.",
		}, []string{"symbol", "reason"}),
		PayoutStepsExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "payout", Name: "steps_total",
			Help: "Payout steps executed, by status.",
		}, []string{"status"}),
		PayoutNotifyRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "payout", Name: "notify_retries_total",
			Help: "Payout result notifications dispatched to Keeper's payoutnotify endpoint.",
		}),
		AMLTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "aml", Name: "transitions_total",
			Help: "AML transaction state transitions.",
		}, []string{"from", "to"}),
		ConnManagerElections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "connmanager", Name: "elections_total",
			Help: "Active-server elections that changed the chosen server.",
		}),
		ConnManagerAllOffline: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "connmanager", Name: "all_offline_total",
			Help: "Elections that failed because every endpoint was unreachable.",
		}),
		ConnManagerActiveServer: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "connmanager", Name: "active_server",
			Help: "1 for the currently elected server, 0 otherwise.",
		}, []string{"name"}),
	}

	reg.MustRegister(
		r.ScannerLastSeenBlock, r.ScannerChainHead, r.ScannerLagBlocks,
		r.ScannerChunkCommits, r.ScannerChunkRetries, r.ScannerTxsSeen,
		r.SweepAttempts, r.SweepSkipped,
		r.PayoutStepsExecuted, r.PayoutNotifyRetries,
		r.AMLTransitions,
		r.ConnManagerElections, r.ConnManagerAllOffline, r.ConnManagerActiveServer,
	)
	return r
}

// Handler exposes the registry over Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
