// (c) 2026, the blockstm-go authors. All rights reserved.
// See the file LICENSE for licensing terms.

package blockstm

import (
	"context"
	"runtime"
	"sync/atomic"

	log "github.com/inconshreveable/log15"
	"golang.org/x/sync/errgroup"
)

// Config tunes a BlockExecutor. The zero value is usable: one worker per
// CPU, no block gas limit, no hooks, no metrics.
type Config struct {
	// Concurrency is the fixed size of the worker pool. Defaults to the
	// number of CPUs.
	Concurrency int

	// BlockGasLimit truncates the block once the accumulated output gas
	// would exceed it. Zero disables the limit.
	BlockGasLimit uint64

	// CommitHook, if set, observes every committed transaction with its
	// full Output, in index order.
	CommitHook TransactionCommitHook

	// CommitListener, if set, observes every committed transaction's final
	// write set, in index order.
	CommitListener TransactionCommitListener

	// Metrics, if set, collects engine counters.
	Metrics *Metrics

	// Log defaults to log15's root logger.
	Log log.Logger
}

// BlockExecutor executes ordered blocks of transactions in parallel with a
// result equivalent to executing them one at a time in block order. It is
// safe for concurrent use; each ExecuteBlock call runs independently.
type BlockExecutor struct {
	task ExecutorTask
	cfg  Config
	log  log.Logger
}

// NewBlockExecutor wraps the embedder's [task] with the given config.
func NewBlockExecutor(task ExecutorTask, cfg Config) (*BlockExecutor, error) {
	if task == nil {
		return nil, errNilExecutorTask
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.NumCPU()
	}
	logger := cfg.Log
	if logger == nil {
		logger = log.Root()
	}
	return &BlockExecutor{task: task, cfg: cfg, log: logger}, nil
}

// ExecuteBlock runs [txns] against [base] and returns one Output per
// committed transaction, in index order. The slice is shorter than the
// block only when a block gas limit truncated it. Conflict aborts and
// VM-semantic failures never surface here; a non-nil error means the whole
// block failed (worker panic, invariant violation, context cancellation)
// and no partial results are returned.
func (e *BlockExecutor) ExecuteBlock(ctx context.Context, txns []Transaction, base StateView) ([]Output, error) {
	if base == nil {
		return nil, errNilBaseView
	}
	if len(txns) == 0 {
		return []Output{}, nil
	}

	run := &blockRun{
		task:     e.task,
		txns:     txns,
		base:     base,
		state:    NewVersionedState(len(txns)),
		sched:    NewScheduler(len(txns)),
		outputs:  make([]atomic.Pointer[outputEntry], len(txns)),
		hook:     e.cfg.CommitHook,
		listener: e.cfg.CommitListener,
		metrics:  e.cfg.Metrics,
		log:      e.log,
	}
	run.committer.gasLimit = e.cfg.BlockGasLimit

	// Advisory write hints become initial estimates, so a reader of a
	// hinted key parks on its writer instead of executing against a value
	// that is about to be shadowed.
	for i, txn := range txns {
		_, writes := txn.ScanHints()
		run.state.SeedEstimates(TxnIndex(i), writes)
	}

	workers := e.cfg.Concurrency
	if workers > len(txns) {
		workers = len(txns)
	}
	e.log.Debug("executing block", "txns", len(txns), "workers", workers)

	eg, egCtx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		eg.Go(func() error { return run.worker(egCtx) })
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	// Workers race each other out; whoever observed the final state last has
	// already driven the cursor, but sweep once more for the stragglers.
	if err := run.tryCommit(); err != nil {
		return nil, err
	}

	committed := int(run.committer.next)
	if !run.committer.truncated && committed != len(txns) {
		return nil, errIncompleteBlock
	}

	outputs := make([]Output, committed)
	for i := range outputs {
		outputs[i] = run.outputs[i].Load().output
	}
	e.cfg.Metrics.observeBlock(committed)
	e.log.Debug("block executed", "committed", committed, "gasUsed", run.committer.gasUsed)
	return outputs, nil
}
