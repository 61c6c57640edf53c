// (c) 2026, the blockstm-go authors. All rights reserved.
// See the file LICENSE for licensing terms.

package blockstm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchedulerHandsOutExecutionsInOrder(t *testing.T) {
	assert := assert.New(t)
	s := NewScheduler(3)

	for i := 0; i < 3; i++ {
		task := s.NextTask()
		assert.NotNil(task)
		assert.Equal(TaskExecute, task.Kind)
		assert.Equal(Version{TxnIndex: TxnIndex(i)}, task.Version)
	}

	// Every transaction is claimed; nothing to hand out.
	assert.Nil(s.NextTask())
	assert.False(s.Done())
}

func TestSchedulerPrefersValidation(t *testing.T) {
	assert := assert.New(t)
	s := NewScheduler(2)

	t0 := s.NextTask()
	t1 := s.NextTask()
	assert.Equal(TaskExecute, t0.Kind)
	assert.Equal(TaskExecute, t1.Kind)
	assert.Nil(s.FinishExecution(t1.Version, false))

	// Txn 0 is still executing, so the validation cursor sweeps past it
	// without claiming anything.
	assert.Nil(s.NextTask())

	// When txn 0 then finishes, its validation is handed straight back
	// because the cursor already moved beyond it.
	follow := s.FinishExecution(t0.Version, false)
	assert.NotNil(follow)
	assert.Equal(TaskValidate, follow.Kind)
	assert.Equal(t0.Version, follow.Version)
	assert.Nil(s.FinishValidation(follow.Version.TxnIndex, false))

	// Validation of txn 1 precedes any further execution work.
	task := s.NextTask()
	assert.NotNil(task)
	assert.Equal(TaskValidate, task.Kind)
	assert.Equal(t1.Version, task.Version)
	assert.Nil(s.FinishValidation(task.Version.TxnIndex, false))
}

func TestSchedulerDoneAfterFullPass(t *testing.T) {
	assert := assert.New(t)
	s := NewScheduler(2)

	t0 := s.NextTask()
	t1 := s.NextTask()
	assert.Nil(s.FinishExecution(t0.Version, false))
	assert.Nil(s.FinishExecution(t1.Version, false))

	for !s.Done() {
		task := s.NextTask()
		if task == nil {
			continue
		}
		assert.Equal(TaskValidate, task.Kind)
		assert.Nil(s.FinishValidation(task.Version.TxnIndex, false))
	}

	assert.True(s.Done())
	assert.Nil(s.NextTask())
}

func TestSchedulerAbortBumpsIncarnation(t *testing.T) {
	assert := assert.New(t)
	s := NewScheduler(2)

	t0 := s.NextTask()
	t1 := s.NextTask()
	assert.Nil(s.FinishExecution(t1.Version, false))

	// Txn 1's validation fails; the abort is claimed exactly once.
	assert.True(s.TryValidationAbort(t1.Version))
	assert.False(s.TryValidationAbort(t1.Version))

	// The execution cursor already passed txn 1, so the re-execution comes
	// straight back, at the next incarnation.
	retry := s.FinishValidation(t1.Version.TxnIndex, true)
	assert.NotNil(retry)
	assert.Equal(TaskExecute, retry.Kind)
	assert.Equal(Version{TxnIndex: 1, Incarnation: 1}, retry.Version)

	assert.Nil(s.FinishExecution(t0.Version, false))
	assert.Nil(s.FinishExecution(retry.Version, false))
}

func TestSchedulerDependency(t *testing.T) {
	assert := assert.New(t)
	s := NewScheduler(2)

	t0 := s.NextTask()
	t1 := s.NextTask()

	// Txn 1 read an estimate of txn 0 and parks on it.
	assert.True(s.AddDependency(t1.Version.TxnIndex, t0.Version.TxnIndex))

	// While parked, nothing is claimable.
	assert.Nil(s.NextTask())

	// Txn 0 finishing resumes txn 1; the hand-back is txn 0's validation.
	follow := s.FinishExecution(t0.Version, false)
	assert.NotNil(follow)
	assert.Equal(TaskValidate, follow.Kind)
	assert.Nil(s.FinishValidation(follow.Version.TxnIndex, false))

	// The resumed transaction re-executes at the next incarnation.
	task := s.NextTask()
	assert.NotNil(task)
	assert.Equal(TaskExecute, task.Kind)
	assert.Equal(Version{TxnIndex: 1, Incarnation: 1}, task.Version)
}

func TestSchedulerDependencyOnResolvedBlocker(t *testing.T) {
	assert := assert.New(t)
	s := NewScheduler(2)

	t0 := s.NextTask()
	t1 := s.NextTask()
	assert.Nil(s.FinishExecution(t0.Version, false))

	// The blocker already executed: no parking, the caller retries.
	assert.False(s.AddDependency(t1.Version.TxnIndex, t0.Version.TxnIndex))
}

func TestSchedulerCommitCandidate(t *testing.T) {
	assert := assert.New(t)
	s := NewScheduler(2)

	t0 := s.NextTask()

	// Executing, not a candidate yet.
	_, ok := s.commitCandidate(0)
	assert.False(ok)

	assert.Nil(s.FinishExecution(t0.Version, false))
	incarnation, ok := s.commitCandidate(0)
	assert.True(ok)
	assert.Equal(Incarnation(0), incarnation)

	assert.True(s.tryMarkCommitted(t0.Version))

	// Committed transactions can no longer be aborted.
	assert.False(s.TryValidationAbort(t0.Version))
	// And not committed twice.
	assert.False(s.tryMarkCommitted(t0.Version))
}

func TestSchedulerHalt(t *testing.T) {
	assert := assert.New(t)
	s := NewScheduler(4)

	assert.NotNil(s.NextTask())
	s.Halt()
	assert.True(s.Done())
	assert.Nil(s.NextTask())
}
