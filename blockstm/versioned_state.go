// (c) 2026, the blockstm-go authors. All rights reserved.
// See the file LICENSE for licensing terms.

package blockstm

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/emirpasic/gods/maps/treemap"
)

// ReadStatus classifies the outcome of a versioned read.
type ReadStatus int

const (
	// ReadStatusResolved means a concrete value written by a lower-indexed
	// transaction was found.
	ReadStatusResolved ReadStatus = iota
	// ReadStatusNotFound means no lower-indexed transaction has written the
	// key; the caller falls back to the base state.
	ReadStatusNotFound
	// ReadStatusDependency means the closest lower-indexed entry is an
	// estimate: a write is pending there and the caller must suspend.
	ReadStatusDependency
)

// ReadResult is the outcome of [VersionedState.Read].
type ReadResult struct {
	Status ReadStatus
	// Version of the writing transaction, set when Status is Resolved.
	Version Version
	// Value written by that transaction, set when Status is Resolved.
	Value Value
	// BlockingTxn is the index owning the estimate, set when Status is
	// Dependency.
	BlockingTxn TxnIndex
}

// versionedEntry is one cell in a key's chain, keyed by transaction index.
type versionedEntry struct {
	incarnation Incarnation
	value       Value
	estimate    bool
}

// versionedCell holds the per-key chain. The tree maps int(TxnIndex) to
// *versionedEntry and is guarded by its own lock so unrelated keys never
// serialize each other.
type versionedCell struct {
	sync.RWMutex
	entries *treemap.Map
}

// VersionedState is the multi-versioned concurrent store backing parallel
// block execution. For every key it keeps the chain of entries written by
// different transactions, ordered by transaction index, so a reader at
// index i observes the highest write strictly below i.
type VersionedState struct {
	data sync.Map // Key -> *versionedCell

	lastWrites []atomic.Pointer[[]Key]
	lastReads  []atomic.Pointer[ReadSet]
}

// NewVersionedState returns a store sized for a block of [blockSize]
// transactions.
func NewVersionedState(blockSize int) *VersionedState {
	return &VersionedState{
		lastWrites: make([]atomic.Pointer[[]Key], blockSize),
		lastReads:  make([]atomic.Pointer[ReadSet], blockSize),
	}
}

// Read returns what a transaction at [txnIdx] observes for [key]: the
// highest entry strictly below txnIdx, classified per [ReadStatus].
func (s *VersionedState) Read(key Key, txnIdx TxnIndex) ReadResult {
	cell := s.cell(key, false)
	if cell == nil {
		return ReadResult{Status: ReadStatusNotFound}
	}

	cell.RLock()
	defer cell.RUnlock()

	idx, raw := cell.entries.Floor(int(txnIdx) - 1)
	if idx == nil || raw == nil {
		return ReadResult{Status: ReadStatusNotFound}
	}

	entry := raw.(*versionedEntry)
	if entry.estimate {
		return ReadResult{Status: ReadStatusDependency, BlockingTxn: TxnIndex(idx.(int))}
	}
	return ReadResult{
		Status:  ReadStatusResolved,
		Version: Version{TxnIndex: TxnIndex(idx.(int)), Incarnation: entry.incarnation},
		Value:   entry.value,
	}
}

// Write publishes [value] for [key] at [version], replacing any entry a
// lower incarnation of the same transaction left behind. An entry with a
// higher incarnation already in place indicates a scheduling bug and is
// fatal to the block.
func (s *VersionedState) Write(key Key, version Version, value Value) error {
	cell := s.cell(key, true)

	cell.Lock()
	defer cell.Unlock()

	if raw, ok := cell.entries.Get(int(version.TxnIndex)); ok {
		entry := raw.(*versionedEntry)
		if entry.incarnation > version.Incarnation {
			return fmt.Errorf("%w: key %q txn %d: stored %d, writing %d",
				errStaleIncarnation, key, version.TxnIndex, entry.incarnation, version.Incarnation)
		}
		entry.incarnation = version.Incarnation
		entry.value = value
		entry.estimate = false
		return nil
	}

	cell.entries.Put(int(version.TxnIndex), &versionedEntry{
		incarnation: version.Incarnation,
		value:       value,
	})
	return nil
}

// Delete removes the transaction's entry for [key] entirely. Used when a
// re-execution no longer writes a key the previous incarnation wrote.
func (s *VersionedState) Delete(key Key, txnIdx TxnIndex) {
	cell := s.cell(key, false)
	if cell == nil {
		return
	}
	cell.Lock()
	cell.entries.Remove(int(txnIdx))
	cell.Unlock()
}

// MarkEstimate flips the transaction's entry for [key] to an estimate,
// telling higher-indexed readers to suspend instead of falling back to the
// base state.
func (s *VersionedState) MarkEstimate(key Key, txnIdx TxnIndex) {
	cell := s.cell(key, false)
	if cell == nil {
		return
	}
	cell.Lock()
	if raw, ok := cell.entries.Get(int(txnIdx)); ok {
		raw.(*versionedEntry).estimate = true
	}
	cell.Unlock()
}

// MarkEstimates converts every write of the transaction's latest incarnation
// into an estimate. Called when the incarnation is aborted, before the next
// one executes.
func (s *VersionedState) MarkEstimates(txnIdx TxnIndex) {
	if prev := s.lastWrites[txnIdx].Load(); prev != nil {
		for _, key := range *prev {
			s.MarkEstimate(key, txnIdx)
		}
	}
}

// SeedEstimates pre-marks the transaction's hinted write keys as pending,
// before its first execution. Readers above the index park on the writer
// instead of speculating on a base-state value the writer is about to
// shadow. The hints become the incarnation's assumed write set: keys it
// does not actually write are cleaned up when the execution records.
func (s *VersionedState) SeedEstimates(txnIdx TxnIndex, keys []Key) {
	if len(keys) == 0 {
		return
	}
	seeded := make([]Key, 0, len(keys))
	for _, key := range keys {
		cell := s.cell(key, true)
		cell.Lock()
		if _, ok := cell.entries.Get(int(txnIdx)); !ok {
			cell.entries.Put(int(txnIdx), &versionedEntry{estimate: true})
		}
		cell.Unlock()
		seeded = append(seeded, key)
	}
	s.lastWrites[txnIdx].Store(&seeded)
}

// Record publishes the outcome of one execution attempt: it applies the new
// write set, removes entries for keys the previous incarnation wrote but
// this one did not, and stores the read set for later validation. It
// reports whether the attempt wrote a key its predecessor had not.
func (s *VersionedState) Record(version Version, readSet ReadSet, writeSet []KeyValue) (wroteNewKey bool, err error) {
	newKeys := make(map[Key]struct{}, len(writeSet))
	for _, w := range writeSet {
		if err := s.Write(w.Key, version, w.Value); err != nil {
			return false, err
		}
		newKeys[w.Key] = struct{}{}
	}

	idx := version.TxnIndex
	if prev := s.lastWrites[idx].Load(); prev != nil {
		prevKeys := make(map[Key]struct{}, len(*prev))
		for _, key := range *prev {
			prevKeys[key] = struct{}{}
		}

		for key := range newKeys {
			if _, ok := prevKeys[key]; !ok {
				wroteNewKey = true
				break
			}
		}

		// Stale writes must go before a reader can observe them.
		for key := range prevKeys {
			if _, ok := newKeys[key]; !ok {
				s.Delete(key, idx)
			}
		}
	} else {
		wroteNewKey = len(newKeys) > 0
	}

	keys := make([]Key, 0, len(newKeys))
	for key := range newKeys {
		keys = append(keys, key)
	}
	s.lastWrites[idx].Store(&keys)
	s.lastReads[idx].Store(&readSet)

	return wroteNewKey, nil
}

// ValidateReadSet re-runs the reads of the transaction's last recorded
// attempt and reports whether every one still resolves to the version it
// resolved to originally.
func (s *VersionedState) ValidateReadSet(txnIdx TxnIndex) bool {
	prev := s.lastReads[txnIdx].Load()
	if prev == nil {
		return true
	}
	for _, rd := range *prev {
		cur := s.Read(rd.Key, txnIdx)
		switch cur.Status {
		case ReadStatusDependency:
			return false
		case ReadStatusNotFound:
			if !rd.FromStorage {
				return false
			}
		case ReadStatusResolved:
			if rd.FromStorage || cur.Version != rd.Version {
				return false
			}
		}
	}
	return true
}

// Snapshot returns, for every key written during the block, the value the
// highest-indexed committed writer produced. Only meaningful once the block
// has finished executing.
func (s *VersionedState) Snapshot() []KeyValue {
	var out []KeyValue
	end := TxnIndex(len(s.lastReads))
	s.data.Range(func(k, _ any) bool {
		if res := s.Read(k.(Key), end); res.Status == ReadStatusResolved {
			out = append(out, KeyValue{Key: k.(Key), Value: res.Value})
		}
		return true
	})
	return out
}

func (s *VersionedState) cell(key Key, create bool) *versionedCell {
	if raw, ok := s.data.Load(key); ok {
		return raw.(*versionedCell)
	}
	if !create {
		return nil
	}
	raw, _ := s.data.LoadOrStore(key, &versionedCell{entries: treemap.NewWithIntComparator()})
	return raw.(*versionedCell)
}
