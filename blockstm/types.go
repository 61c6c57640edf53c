// (c) 2026, the blockstm-go authors. All rights reserved.
// See the file LICENSE for licensing terms.

package blockstm

const (
	// Name of this engine, used for API and metric namespaces.
	Name = "blockstm"
)

// TxnIndex is the ordinal position of a transaction within a block. It is
// fixed for the lifetime of the block.
type TxnIndex int

// EndTxnIndex marks "no more transactions".
const EndTxnIndex TxnIndex = -1

// Incarnation counts the re-execution attempts of a single transaction.
// It is bumped on every conflict-induced abort.
type Incarnation uint32

// Version identifies one execution attempt of one transaction.
type Version struct {
	TxnIndex    TxnIndex
	Incarnation Incarnation
}

// InvalidVersion denotes a read that was served by the base state rather
// than by another transaction's write.
var InvalidVersion = Version{TxnIndex: EndTxnIndex}

// Valid returns false for reads served by the base state.
func (v Version) Valid() bool { return v.TxnIndex >= 0 }

// Key addresses one storage location. Values are opaque to the engine.
type (
	Key   string
	Value []byte
)

// KeyValue is a single entry of a transaction's write set.
type KeyValue struct {
	Key   Key
	Value Value
}

// ReadDescriptor records where one read of a transaction's execution attempt
// was served from: either the [Version] of the writing transaction, or the
// base state when [FromStorage] is set.
type ReadDescriptor struct {
	Key         Key
	Version     Version
	FromStorage bool
}

// ReadSet is the ordered collection of reads one execution attempt performed.
// A read set is only meaningful for the incarnation that produced it.
type ReadSet []ReadDescriptor

// Transaction is an opaque block entry. The hint sets are advisory: the real
// read and write sets are discovered during execution.
type Transaction interface {
	// ScanHints returns the keys this transaction is expected to read and
	// write. Either slice may be empty or incomplete.
	ScanHints() (reads []Key, writes []Key)
}

// StateView provides read access to keyed state. The base view handed to
// the executor must stay immutable for the duration of the block; the views
// handed to [ExecutorTask] implementations layer versioned writes on top of
// the base view.
type StateView interface {
	// GetValue returns the value stored under [key], or [ErrKeyNotFound].
	// Inside transaction execution it may also return [ErrDependency], in
	// which case the task must abandon the attempt and return promptly.
	GetValue(key Key) (Value, error)
}

// Output is the opaque result of executing one transaction. A VM-semantic
// failure (revert, abort) is encoded inside the Output by the embedder; the
// engine commits such outputs as-is and never retries them.
type Output interface {
	// WriteSet returns the key/value pairs this execution produced.
	WriteSet() []KeyValue

	// Gas returns the resource cost charged against the block gas limit.
	Gas() uint64
}

// ExecutorTask executes a single transaction's logic against a view. It is
// supplied by the embedding VM and must be safe for concurrent use by
// multiple workers.
//
// Implementations must propagate view read errors: when GetValue returns a
// non-nil error other than [ErrKeyNotFound], the task has to stop and
// return (the returned Output is discarded). Swallowing [ErrDependency]
// breaks the abort protocol.
type ExecutorTask interface {
	ExecuteTransaction(view StateView, txn Transaction, idx TxnIndex) Output
}

// TransactionCommitHook is invoked exactly once per committed transaction,
// in index order, and never for discarded transactions.
type TransactionCommitHook interface {
	OnTransactionCommitted(idx TxnIndex, output Output)
}

// TransactionCommitListener receives the final write set of every committed
// transaction, in index order. Useful for staging state write-back.
type TransactionCommitListener interface {
	OnTransactionCommitted(idx TxnIndex, writeSet []KeyValue)
}

// TaskKind tags the two kinds of work the scheduler hands out.
type TaskKind int

const (
	TaskExecute TaskKind = iota
	TaskValidate
)

// Task is one unit of work for a worker.
type Task struct {
	Kind    TaskKind
	Version Version
}
