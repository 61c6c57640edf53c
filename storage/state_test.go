// (c) 2026, the blockstm-go authors. All rights reserved.
// See the file LICENSE for licensing terms.

package storage

import (
	"testing"

	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/stretchr/testify/assert"

	"github.com/blockstm-go/blockstm/blockstm"
)

// staticOutput is a canned write set for tests.
type staticOutput []blockstm.KeyValue

func (o staticOutput) WriteSet() []blockstm.KeyValue { return o }
func (o staticOutput) Gas() uint64                   { return 1 }

func TestStateGetValueMissing(t *testing.T) {
	assert := assert.New(t)
	state := New(memdb.New())
	defer state.Close()

	_, err := state.GetValue("missing")
	assert.ErrorIs(err, blockstm.ErrKeyNotFound)

	// Second lookup is served by the cache with the same answer.
	_, err = state.GetValue("missing")
	assert.ErrorIs(err, blockstm.ErrKeyNotFound)
}

func TestStateApplyCommit(t *testing.T) {
	assert := assert.New(t)
	db := memdb.New()
	state := New(db)
	defer state.Close()

	outputs := []blockstm.Output{
		staticOutput{{Key: "a", Value: blockstm.Value("a0")}},
		staticOutput{{Key: "a", Value: blockstm.Value("a1")}, {Key: "b", Value: blockstm.Value("b1")}},
	}
	assert.NoError(state.Apply(outputs))

	// Later outputs win for the same key, and staged writes are readable
	// before the commit.
	val, err := state.GetValue("a")
	assert.NoError(err)
	assert.Equal(blockstm.Value("a1"), val)

	assert.NoError(state.Commit())

	// A fresh state over the same database sees the committed values.
	reopened := New(db)
	val, err = reopened.GetValue("b")
	assert.NoError(err)
	assert.Equal(blockstm.Value("b1"), val)
}

func TestStateAbort(t *testing.T) {
	assert := assert.New(t)
	db := memdb.New()
	state := New(db)
	defer state.Close()

	assert.NoError(state.Apply([]blockstm.Output{
		staticOutput{{Key: "a", Value: blockstm.Value("a0")}},
	}))
	state.Abort()

	// The staged write is gone from the database.
	reopened := New(db)
	_, err := reopened.GetValue("a")
	assert.ErrorIs(err, blockstm.ErrKeyNotFound)
}

func TestStateLastExecuted(t *testing.T) {
	assert := assert.New(t)
	state := New(memdb.New())
	defer state.Close()

	// Empty until a block is applied.
	blockID, err := state.GetLastExecuted()
	assert.NoError(err)
	assert.Equal(ids.Empty, blockID)

	want := ids.ID{1, 2, 3}
	assert.NoError(state.SetLastExecuted(want))
	assert.NoError(state.Commit())

	blockID, err = state.GetLastExecuted()
	assert.NoError(err)
	assert.Equal(want, blockID)
}
