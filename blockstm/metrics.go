// (c) 2026, the blockstm-go authors. All rights reserved.
// See the file LICENSE for licensing terms.

package blockstm

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts what the engine did to a block: speculative executions,
// conflict aborts, validations, and commits. A nil *Metrics disables
// collection.
type Metrics struct {
	Executions         prometheus.Counter
	DependencyAborts   prometheus.Counter
	Validations        prometheus.Counter
	ValidationFailures prometheus.Counter
	Commits            prometheus.Counter
	BlocksExecuted     prometheus.Counter
	TxnsPerBlock       prometheus.Histogram
}

// NewMetrics creates unregistered metrics under [namespace]. Call Register
// to attach them to a registry.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Executions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Transaction execution attempts, including re-executions",
		}),
		DependencyAborts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dependency_aborts_total",
			Help:      "Execution attempts abandoned on a read dependency",
		}),
		Validations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Read-set validations performed",
		}),
		ValidationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_failures_total",
			Help:      "Validations that aborted the transaction",
		}),
		Commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Transactions committed",
		}),
		BlocksExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_executed_total",
			Help:      "Blocks fully executed",
		}),
		TxnsPerBlock: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "txns_per_block",
			Help:      "Committed transactions per block",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
}

// Register attaches all collectors to [reg].
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		m.Executions,
		m.DependencyAborts,
		m.Validations,
		m.ValidationFailures,
		m.Commits,
		m.BlocksExecuted,
		m.TxnsPerBlock,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) incExecutions() {
	if m != nil {
		m.Executions.Inc()
	}
}

func (m *Metrics) incDependencyAborts() {
	if m != nil {
		m.DependencyAborts.Inc()
	}
}

func (m *Metrics) incValidations() {
	if m != nil {
		m.Validations.Inc()
	}
}

func (m *Metrics) incValidationFailures() {
	if m != nil {
		m.ValidationFailures.Inc()
	}
}

func (m *Metrics) incCommits() {
	if m != nil {
		m.Commits.Inc()
	}
}

func (m *Metrics) observeBlock(committed int) {
	if m != nil {
		m.BlocksExecuted.Inc()
		m.TxnsPerBlock.Observe(float64(committed))
	}
}
