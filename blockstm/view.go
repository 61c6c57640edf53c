// (c) 2026, the blockstm-go authors. All rights reserved.
// See the file LICENSE for licensing terms.

package blockstm

import (
	"errors"
	"fmt"
)

// versionedView is the StateView handed to an ExecutorTask for one
// execution attempt. Reads resolve against the versioned store first and
// fall back to the base view; every read is recorded so the attempt can be
// validated later. The view is used by a single worker goroutine and needs
// no internal locking.
type versionedView struct {
	state  *VersionedState
	base   StateView
	txnIdx TxnIndex

	readSet   ReadSet
	blockedOn TxnIndex
	fatalErr  error
}

var _ StateView = (*versionedView)(nil)

func newVersionedView(state *VersionedState, base StateView, txnIdx TxnIndex) *versionedView {
	return &versionedView{
		state:     state,
		base:      base,
		txnIdx:    txnIdx,
		blockedOn: EndTxnIndex,
	}
}

func (v *versionedView) GetValue(key Key) (Value, error) {
	res := v.state.Read(key, v.txnIdx)
	switch res.Status {
	case ReadStatusDependency:
		v.blockedOn = res.BlockingTxn
		return nil, ErrDependency

	case ReadStatusResolved:
		v.record(ReadDescriptor{Key: key, Version: res.Version})
		return res.Value, nil

	default: // ReadStatusNotFound: base-state fallback
		val, err := v.base.GetValue(key)
		if err != nil && !errors.Is(err, ErrKeyNotFound) {
			v.fatalErr = fmt.Errorf("base state read of %q: %w", key, err)
			return nil, err
		}
		v.record(ReadDescriptor{Key: key, Version: InvalidVersion, FromStorage: true})
		return val, err
	}
}

// record appends one read observation. A key can appear more than once:
// the store mutates under the attempt, so a re-read may observe a
// different writer than the first read did. Every observation is kept and
// re-checked by validation, which is what catches an attempt that ran on
// an inconsistent snapshot.
func (v *versionedView) record(rd ReadDescriptor) {
	v.readSet = append(v.readSet, rd)
}

// dependency reports whether the attempt hit an estimate, and on which
// transaction it must wait.
func (v *versionedView) dependency() (TxnIndex, bool) {
	return v.blockedOn, v.blockedOn != EndTxnIndex
}
