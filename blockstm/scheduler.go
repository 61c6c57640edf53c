// (c) 2026, the blockstm-go authors. All rights reserved.
// See the file LICENSE for licensing terms.

package blockstm

import (
	"sync"
	"sync/atomic"
)

// Per-transaction lifecycle. A transaction in statusExecuted is implicitly
// ready to validate; validation eligibility is driven by the validation
// cursor rather than a distinct status value.
const (
	statusReadyToExecute = iota
	statusExecuting
	statusExecuted
	statusAborting
	statusCommitted
)

type txnState struct {
	sync.Mutex
	status      int
	incarnation Incarnation
}

// txnWaiters holds the transactions parked on this index: they read an
// estimate this transaction left behind and resume once it re-executes.
type txnWaiters struct {
	sync.Mutex
	waiting map[TxnIndex]struct{}
}

// txnBlockers holds the set of indices this transaction is still parked on.
type txnBlockers struct {
	sync.Mutex
	blocking map[TxnIndex]struct{}
}

// Scheduler hands out execution and validation tasks over one block. Two
// atomic cursors sweep the block: executionIndex for first executions and
// validationIndex for read-set validations. Aborts rewind the cursors, so
// every transaction is validated at least once after its last execution
// before it can commit.
type Scheduler struct {
	blockSize int

	doneMarker      atomic.Bool
	executionIndex  atomic.Int32
	validationIndex atomic.Int32
	numActiveTasks  atomic.Int32
	decreaseCount   atomic.Int32

	status   []*txnState
	waiters  []*txnWaiters
	blockers []*txnBlockers
}

// NewScheduler returns a scheduler for a block of [blockSize] transactions,
// all starting at ReadyToExecute with incarnation 0.
func NewScheduler(blockSize int) *Scheduler {
	s := &Scheduler{
		blockSize: blockSize,
		status:    make([]*txnState, blockSize),
		waiters:   make([]*txnWaiters, blockSize),
		blockers:  make([]*txnBlockers, blockSize),
	}
	for i := 0; i < blockSize; i++ {
		s.status[i] = &txnState{}
		s.waiters[i] = &txnWaiters{}
		s.blockers[i] = &txnBlockers{}
	}
	return s
}

// Done reports whether no further tasks will be produced.
func (s *Scheduler) Done() bool { return s.doneMarker.Load() }

// Halt stops the scheduler: workers drain their current task and exit.
// Used on block completion, limit truncation, and fatal errors.
func (s *Scheduler) Halt() { s.doneMarker.Store(true) }

// NextTask returns the next unit of work, preferring validation over
// execution whenever the validation cursor trails the execution cursor,
// since validating unblocks commits sooner. Returns nil when nothing is
// currently claimable.
func (s *Scheduler) NextTask() *Task {
	if s.Done() {
		return nil
	}
	if s.validationIndex.Load() < s.executionIndex.Load() {
		if v := s.nextVersionToValidate(); v != nil {
			return &Task{Kind: TaskValidate, Version: *v}
		}
	} else {
		if v := s.nextVersionToExecute(); v != nil {
			return &Task{Kind: TaskExecute, Version: *v}
		}
	}
	return nil
}

// AddDependency parks [idx] until [blocking] finishes (re-)executing.
// Returns false when the blocker has already resolved, in which case the
// caller simply retries the execution instead of suspending.
func (s *Scheduler) AddDependency(idx, blocking TxnIndex) bool {
	waiters := s.waiters[blocking]
	waiters.Lock()
	defer waiters.Unlock()

	blockingState := s.status[blocking]
	blockingState.Lock()
	resolved := blockingState.status == statusExecuted || blockingState.status == statusCommitted
	blockingState.Unlock()
	if resolved {
		return false
	}

	state := s.status[idx]
	state.Lock()
	state.status = statusAborting
	state.Unlock()

	if waiters.waiting == nil {
		waiters.waiting = make(map[TxnIndex]struct{})
	}
	waiters.waiting[idx] = struct{}{}

	blockers := s.blockers[idx]
	blockers.Lock()
	if blockers.blocking == nil {
		blockers.blocking = make(map[TxnIndex]struct{})
	}
	blockers.blocking[blocking] = struct{}{}
	blockers.Unlock()

	// The execution task ends here without completing.
	s.numActiveTasks.Add(-1)
	return true
}

// FinishExecution transitions the transaction to Executed, wakes anything
// parked on it, and decides what to validate next: if the attempt wrote a
// key its predecessor had not, everything from this index up needs
// re-validation; otherwise validating just this transaction suffices.
func (s *Scheduler) FinishExecution(version Version, wroteNewKey bool) *Task {
	state := s.status[version.TxnIndex]
	state.Lock()
	if state.status != statusExecuting {
		state.Unlock()
		// Raced with Halt on an already-abandoned block.
		s.numActiveTasks.Add(-1)
		return nil
	}
	state.status = statusExecuted
	state.Unlock()

	waiters := s.waiters[version.TxnIndex]
	waiters.Lock()
	waiting := waiters.waiting
	waiters.waiting = nil
	waiters.Unlock()
	s.resumeWaiters(version.TxnIndex, waiting)

	if s.validationIndex.Load() > int32(version.TxnIndex) {
		if wroteNewKey {
			s.decreaseValidationIndex(version.TxnIndex)
		} else {
			// Hand the validation of this transaction straight back.
			return &Task{Kind: TaskValidate, Version: version}
		}
	}

	s.numActiveTasks.Add(-1)
	return nil
}

// TryValidationAbort claims the abort of [version] after a failed
// validation. Only one claimant wins; a committed or re-executed
// transaction can no longer be aborted.
func (s *Scheduler) TryValidationAbort(version Version) bool {
	state := s.status[version.TxnIndex]
	state.Lock()
	defer state.Unlock()
	if state.incarnation == version.Incarnation && state.status == statusExecuted {
		state.status = statusAborting
		return true
	}
	return false
}

// FinishValidation completes a validation task. On abort the transaction is
// rescheduled with a bumped incarnation and all higher transactions become
// validation candidates again; if the execution cursor has already moved
// past it, the re-execution task is handed straight back to the caller.
func (s *Scheduler) FinishValidation(idx TxnIndex, aborted bool) *Task {
	if aborted {
		s.setReadyStatus(idx)
		s.decreaseValidationIndex(idx + 1)
		if s.executionIndex.Load() > int32(idx) {
			if v := s.tryIncarnate(idx); v != nil {
				return &Task{Kind: TaskExecute, Version: *v}
			}
		}
	}
	s.numActiveTasks.Add(-1)
	return nil
}

// commitCandidate returns the current incarnation of [idx] if it is
// executed and awaiting commit.
func (s *Scheduler) commitCandidate(idx TxnIndex) (Incarnation, bool) {
	state := s.status[idx]
	state.Lock()
	defer state.Unlock()
	if state.status != statusExecuted {
		return 0, false
	}
	return state.incarnation, true
}

// tryMarkCommitted finalizes [version] if it is still the live executed
// incarnation. Fails when a concurrent validation aborted it in the
// meantime.
func (s *Scheduler) tryMarkCommitted(version Version) bool {
	state := s.status[version.TxnIndex]
	state.Lock()
	defer state.Unlock()
	if state.incarnation != version.Incarnation || state.status != statusExecuted {
		return false
	}
	state.status = statusCommitted
	return true
}

// rescheduleAborted requeues a transaction whose commit-time validation
// failed. The caller has already claimed the abort via TryValidationAbort
// and marked the stale writes as estimates.
func (s *Scheduler) rescheduleAborted(idx TxnIndex) {
	s.setReadyStatus(idx)
	s.decreaseValidationIndex(idx + 1)
	s.decreaseExecutionIndex(idx)
}

func (s *Scheduler) resumeWaiters(blocking TxnIndex, waiting map[TxnIndex]struct{}) {
	if len(waiting) == 0 {
		return
	}
	minResumed := EndTxnIndex
	for idx := range waiting {
		blockers := s.blockers[idx]
		blockers.Lock()
		delete(blockers.blocking, blocking)
		canResume := len(blockers.blocking) == 0
		blockers.Unlock()
		if !canResume {
			continue
		}
		s.setReadyStatus(idx)
		if minResumed == EndTxnIndex || idx < minResumed {
			minResumed = idx
		}
	}
	if minResumed != EndTxnIndex {
		s.decreaseExecutionIndex(minResumed)
	}
}

// setReadyStatus bumps the incarnation so stale versioned entries are
// distinguishable from the upcoming attempt's writes.
func (s *Scheduler) setReadyStatus(idx TxnIndex) {
	state := s.status[idx]
	state.Lock()
	state.incarnation++
	state.status = statusReadyToExecute
	state.Unlock()
}

func (s *Scheduler) nextVersionToValidate() *Version {
	if s.validationIndex.Load() >= int32(s.blockSize) {
		s.checkDone()
		return nil
	}

	s.numActiveTasks.Add(1)
	idx := s.validationIndex.Add(1) - 1
	if idx < int32(s.blockSize) {
		state := s.status[idx]
		state.Lock()
		status, incarnation := state.status, state.incarnation
		state.Unlock()
		if status == statusExecuted {
			return &Version{TxnIndex: TxnIndex(idx), Incarnation: incarnation}
		}
	}

	s.numActiveTasks.Add(-1)
	return nil
}

func (s *Scheduler) nextVersionToExecute() *Version {
	if s.executionIndex.Load() >= int32(s.blockSize) {
		s.checkDone()
		return nil
	}

	s.numActiveTasks.Add(1)
	idx := s.executionIndex.Add(1) - 1
	return s.tryIncarnate(TxnIndex(idx))
}

// tryIncarnate claims the transaction for execution. The caller has already
// accounted for an active task; on failure the slot is released.
func (s *Scheduler) tryIncarnate(idx TxnIndex) *Version {
	if int(idx) < s.blockSize {
		state := s.status[idx]
		state.Lock()
		if state.status == statusReadyToExecute {
			state.status = statusExecuting
			incarnation := state.incarnation
			state.Unlock()
			return &Version{TxnIndex: idx, Incarnation: incarnation}
		}
		state.Unlock()
	}

	s.numActiveTasks.Add(-1)
	return nil
}

// checkDone observes both cursors past the block with no task in flight.
// The decreaseCount double-read guards against a cursor rewind racing the
// observation.
func (s *Scheduler) checkDone() {
	observed := s.decreaseCount.Load()
	if s.executionIndex.Load() >= int32(s.blockSize) &&
		s.validationIndex.Load() >= int32(s.blockSize) &&
		s.numActiveTasks.Load() == 0 &&
		observed == s.decreaseCount.Load() {
		s.doneMarker.Store(true)
	}
}

func (s *Scheduler) decreaseExecutionIndex(idx TxnIndex) {
	s.decreaseIndex(&s.executionIndex, int32(idx))
}

func (s *Scheduler) decreaseValidationIndex(idx TxnIndex) {
	s.decreaseIndex(&s.validationIndex, int32(idx))
}

func (s *Scheduler) decreaseIndex(cursor *atomic.Int32, target int32) {
	for {
		cur := cursor.Load()
		if cur <= target || cursor.CompareAndSwap(cur, target) {
			break
		}
	}
	s.decreaseCount.Add(1)
}
