// (c) 2026, the blockstm-go authors. All rights reserved.
// See the file LICENSE for licensing terms.

package blockstm

import (
	"context"
	"errors"
)

// overlayView layers the write sets of already-executed transactions over
// the base state. Used by the sequential path only.
type overlayView struct {
	base   StateView
	writes map[Key]Value
}

var _ StateView = (*overlayView)(nil)

func (v *overlayView) GetValue(key Key) (Value, error) {
	if val, ok := v.writes[key]; ok {
		return val, nil
	}
	val, err := v.base.GetValue(key)
	if err != nil && !errors.Is(err, ErrKeyNotFound) {
		return nil, err
	}
	return val, err
}

// ExecuteBlockSequential executes [txns] one at a time in block order. It
// is the reference the parallel path is equivalent to, and a usable fallback
// for embedders that want no speculation. A non-zero [gasLimit] truncates
// the block under the same rule as the parallel executor.
func ExecuteBlockSequential(ctx context.Context, task ExecutorTask, txns []Transaction, base StateView, gasLimit uint64) ([]Output, error) {
	if task == nil {
		return nil, errNilExecutorTask
	}
	if base == nil {
		return nil, errNilBaseView
	}

	view := &overlayView{base: base, writes: make(map[Key]Value)}
	outputs := make([]Output, 0, len(txns))

	var gasUsed uint64
	for i, txn := range txns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		output := task.ExecuteTransaction(view, txn, TxnIndex(i))
		if gasLimit > 0 && gasUsed+output.Gas() > gasLimit {
			break
		}
		gasUsed += output.Gas()

		for _, w := range output.WriteSet() {
			view.writes[w.Key] = w.Value
		}
		outputs = append(outputs, output)
	}
	return outputs, nil
}
