// (c) 2026, the blockstm-go authors. All rights reserved.
// See the file LICENSE for licensing terms.

package storage

import (
	"github.com/ava-labs/avalanchego/cache"
	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/prefixdb"
	"github.com/ava-labs/avalanchego/database/versiondb"
	"github.com/ava-labs/avalanchego/ids"

	"github.com/blockstm-go/blockstm/blockstm"
)

const valueCacheSize = 8192

var (
	// These are prefixes for db keys.
	// It's important to set different prefixes for each separate database objects.
	valueStatePrefix = []byte("value")
	metaStatePrefix  = []byte("meta")

	lastExecutedKey = []byte{0x00}

	_ State = (*state)(nil)
)

// State is the durable keyed state a block executor runs against. It is a
// read-only blockstm.StateView during block execution; a finished block's
// outputs are staged with Apply and flushed atomically with Commit.
type State interface {
	blockstm.StateView

	// Apply stages the write sets of a committed block, in output order.
	Apply(outputs []blockstm.Output) error

	// GetLastExecuted returns the ID of the last applied block, or ids.Empty.
	GetLastExecuted() (ids.ID, error)
	// SetLastExecuted stages the last applied block ID.
	SetLastExecuted(ids.ID) error

	// Commit flushes everything staged since the previous Commit.
	Commit() error
	// Abort discards everything staged since the previous Commit.
	Abort()
	// Close closes the underlying database.
	Close() error
}

type state struct {
	baseDB  *versiondb.Database
	valueDB database.Database
	metaDB  database.Database

	valueCache cache.Cacher
}

// New wraps [db] with the versioned staging layer and prefixed sub-spaces.
func New(db database.Database) State {
	baseDB := versiondb.New(db)
	return &state{
		baseDB:     baseDB,
		valueDB:    prefixdb.New(valueStatePrefix, baseDB),
		metaDB:     prefixdb.New(metaStatePrefix, baseDB),
		valueCache: &cache.LRU{Size: valueCacheSize},
	}
}

func (s *state) GetValue(key blockstm.Key) (blockstm.Value, error) {
	if cached, ok := s.valueCache.Get(key); ok {
		if cached == nil {
			return nil, blockstm.ErrKeyNotFound
		}
		return cached.(blockstm.Value), nil
	}

	val, err := s.valueDB.Get([]byte(key))
	switch err {
	case nil:
		s.valueCache.Put(key, blockstm.Value(val))
		return val, nil
	case database.ErrNotFound:
		s.valueCache.Put(key, nil)
		return nil, blockstm.ErrKeyNotFound
	default:
		return nil, err
	}
}

func (s *state) Apply(outputs []blockstm.Output) error {
	for _, output := range outputs {
		for _, w := range output.WriteSet() {
			if err := s.valueDB.Put([]byte(w.Key), w.Value); err != nil {
				return err
			}
			// The database round-trips nil as an empty value; cache the same.
			val := w.Value
			if val == nil {
				val = blockstm.Value{}
			}
			s.valueCache.Put(w.Key, val)
		}
	}
	return nil
}

func (s *state) GetLastExecuted() (ids.ID, error) {
	bytes, err := s.metaDB.Get(lastExecutedKey)
	switch err {
	case nil:
		return ids.ToID(bytes)
	case database.ErrNotFound:
		return ids.Empty, nil
	default:
		return ids.Empty, err
	}
}

func (s *state) SetLastExecuted(id ids.ID) error {
	return s.metaDB.Put(lastExecutedKey, id[:])
}

// Commit commits pending operations to baseDB
func (s *state) Commit() error {
	return s.baseDB.Commit()
}

// Abort drops pending operations
func (s *state) Abort() {
	s.baseDB.Abort()
}

// Close closes the underlying base database
func (s *state) Close() error {
	return s.baseDB.Close()
}
