// (c) 2026, the blockstm-go authors. All rights reserved.
// See the file LICENSE for licensing terms.

package blockstm

import "errors"

var (
	// ErrKeyNotFound is returned by a [StateView] when a key has never been
	// written, neither by an earlier transaction nor in the base state.
	ErrKeyNotFound = errors.New("key not found")

	// ErrDependency is returned by an execution view when the read landed on
	// an estimate left behind by an aborted lower-indexed transaction. The
	// task must unwind; the worker re-schedules the attempt once the
	// blocking transaction has re-executed.
	ErrDependency = errors.New("read blocked on an uncommitted write")

	errStaleIncarnation = errors.New("versioned write carries a lower incarnation than the stored entry")
	errIncompleteBlock  = errors.New("workers stopped before every transaction was committed")
	errNilBaseView      = errors.New("nil base state view")
	errNilExecutorTask  = errors.New("nil executor task")
)
