// Package metrics exports ledger runtime counters in Prometheus format.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/louisbranch/ledger.space/internal/platform/lock"
)

const defaultNamespace = "ledger"

// Recorder collects lock, command and delivery outcomes.
type Recorder struct {
	gatherer promclient.Gatherer

	lockAttempts     *promclient.CounterVec
	commandOutcomes  *promclient.CounterVec
	commandDuration  *promclient.HistogramVec
	deliveryOutcomes *promclient.CounterVec
}

// NewRecorder registers the ledger collectors with reg. A nil reg uses a
// fresh registry so tests and multiple runtimes never clash.
func NewRecorder(namespace string, reg *promclient.Registry) (*Recorder, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = promclient.NewRegistry()
	}
	r := &Recorder{
		gatherer: reg,
		lockAttempts: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "lock_attempts_total",
			Help:      "Resource mutex TryLock outcomes.",
		}, []string{"result"}),
		commandOutcomes: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "command_outcomes_total",
			Help:      "Command applications by type and outcome code.",
		}, []string{"type", "outcome"}),
		commandDuration: promclient.NewHistogramVec(promclient.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Latency of command application including lock and store round trips.",
			Buckets:   promclient.DefBuckets,
		}, []string{"type"}),
		deliveryOutcomes: promclient.NewCounterVec(promclient.CounterOpts{
			Namespace: namespace,
			Name:      "event_deliveries_total",
			Help:      "Event deliveries by event type, subscriber and outcome.",
		}, []string{"event_type", "subscriber", "outcome"}),
	}
	for _, collector := range []promclient.Collector{r.lockAttempts, r.commandOutcomes, r.commandDuration, r.deliveryOutcomes} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register ledger collector: %w", err)
		}
	}
	return r, nil
}

// ObserveLock records one TryLock outcome.
func (r *Recorder) ObserveLock(result lock.Result) {
	if r == nil {
		return
	}
	r.lockAttempts.WithLabelValues(result.String()).Inc()
}

// ObserveCommand records one command application; outcome is "applied" or an
// error code.
func (r *Recorder) ObserveCommand(commandType, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.commandOutcomes.WithLabelValues(commandType, outcome).Inc()
	r.commandDuration.WithLabelValues(commandType).Observe(elapsed.Seconds())
}

// ObserveDelivery records one handler delivery attempt.
func (r *Recorder) ObserveDelivery(eventType, subscriber, outcome string) {
	if r == nil {
		return
	}
	r.deliveryOutcomes.WithLabelValues(eventType, subscriber, outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

var _ lock.Observer = (*Recorder)(nil)
