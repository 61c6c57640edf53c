// (c) 2026, the blockstm-go authors. All rights reserved.
// See the file LICENSE for licensing terms.

package blockstm

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	log "github.com/inconshreveable/log15"
)

// outputEntry pairs an Output with the incarnation that produced it, so the
// committer can detect an entry made stale by a re-execution.
type outputEntry struct {
	version Version
	output  Output
}

// blockRun is the shared state of one block's execution: one scheduler and
// one versioned store worked on by a fixed pool of workers.
type blockRun struct {
	task    ExecutorTask
	txns    []Transaction
	base    StateView
	state   *VersionedState
	sched   *Scheduler
	outputs []atomic.Pointer[outputEntry]

	hook     TransactionCommitHook
	listener TransactionCommitListener
	metrics  *Metrics
	log      log.Logger

	committer committer
}

// worker is the body of one pool goroutine: pull a task, perform it, try to
// advance the commit cursor, repeat until the scheduler drains. Workers
// never sleep waiting on each other; a blocked read abandons the attempt
// and the goroutine moves on to other work.
func (r *blockRun) worker(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.sched.Halt()
			err = fmt.Errorf("worker panic: %v", p)
		}
	}()

	var task *Task
	for {
		if task != nil {
			switch task.Kind {
			case TaskExecute:
				task, err = r.tryExecute(task.Version)
			case TaskValidate:
				task, err = r.tryValidate(task.Version)
			}
			if err != nil {
				r.sched.Halt()
				return err
			}
			continue
		}

		if err := r.tryCommit(); err != nil {
			r.sched.Halt()
			return err
		}
		if r.sched.Done() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			r.sched.Halt()
			return err
		}

		if task = r.sched.NextTask(); task == nil {
			runtime.Gosched()
		}
	}
}

// tryExecute runs one incarnation of a transaction. On a read dependency
// the attempt is parked with the scheduler; it retries immediately only if
// the blocker resolved in the meantime.
func (r *blockRun) tryExecute(version Version) (*Task, error) {
	for {
		r.metrics.incExecutions()

		view := newVersionedView(r.state, r.base, version.TxnIndex)
		output := r.task.ExecuteTransaction(view, r.txns[version.TxnIndex], version.TxnIndex)
		if view.fatalErr != nil {
			return nil, view.fatalErr
		}

		if blocking, ok := view.dependency(); ok {
			r.metrics.incDependencyAborts()
			if r.sched.AddDependency(version.TxnIndex, blocking) {
				return nil, nil
			}
			// Blocker already resolved; run the same incarnation again.
			continue
		}

		wroteNewKey, err := r.state.Record(version, view.readSet, output.WriteSet())
		if err != nil {
			return nil, err
		}
		r.outputs[version.TxnIndex].Store(&outputEntry{version: version, output: output})
		return r.sched.FinishExecution(version, wroteNewKey), nil
	}
}

// tryValidate re-checks the transaction's recorded read set. A failure
// aborts the incarnation: its writes become estimates and the transaction
// is rescheduled with the next incarnation.
func (r *blockRun) tryValidate(version Version) (*Task, error) {
	r.metrics.incValidations()

	valid := r.state.ValidateReadSet(version.TxnIndex)
	aborted := !valid && r.sched.TryValidationAbort(version)
	if aborted {
		r.metrics.incValidationFailures()
		r.state.MarkEstimates(version.TxnIndex)
	}
	return r.sched.FinishValidation(version.TxnIndex, aborted), nil
}

// committer walks the block in index order and finalizes transactions. All
// cursors and accumulators below are guarded by its mutex.
type committer struct {
	mu        sync.Mutex
	next      TxnIndex
	gasUsed   uint64
	gasLimit  uint64 // 0 disables the block gas limit
	truncated bool
}

// tryCommit advances the commit cursor as far as it will go. A transaction
// commits when it is executed, its read set validates against the now
// immutable lower prefix, and it fits the block gas limit. Commit hooks
// fire here, exactly once per transaction, in index order.
func (r *blockRun) tryCommit() error {
	c := &r.committer
	c.mu.Lock()
	defer c.mu.Unlock()

	for int(c.next) < len(r.txns) {
		idx := c.next

		incarnation, ok := r.sched.commitCandidate(idx)
		if !ok {
			return nil
		}
		version := Version{TxnIndex: idx, Incarnation: incarnation}

		// Mandatory final validation: everything below idx is committed, so
		// a pass here can never be invalidated later.
		if !r.state.ValidateReadSet(idx) {
			if r.sched.TryValidationAbort(version) {
				r.metrics.incValidationFailures()
				r.state.MarkEstimates(idx)
				r.sched.rescheduleAborted(idx)
			}
			return nil
		}

		entry := r.outputs[idx].Load()
		if entry == nil || entry.version != version {
			// A re-execution slipped in; the next attempt will recommit.
			return nil
		}

		gas := entry.output.Gas()
		if c.gasLimit > 0 && c.gasUsed+gas > c.gasLimit {
			// Deliberate early exit: this and every later transaction is
			// discarded, not an error.
			c.truncated = true
			r.sched.Halt()
			r.log.Debug("block gas limit reached", "txn", idx, "gasUsed", c.gasUsed, "gasLimit", c.gasLimit)
			return nil
		}

		if !r.sched.tryMarkCommitted(version) {
			return nil
		}
		c.gasUsed += gas
		c.next++
		r.metrics.incCommits()

		if r.hook != nil {
			r.hook.OnTransactionCommitted(idx, entry.output)
		}
		if r.listener != nil {
			r.listener.OnTransactionCommitted(idx, entry.output.WriteSet())
		}
	}

	// Every transaction committed.
	r.sched.Halt()
	return nil
}
