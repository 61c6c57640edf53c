// (c) 2026, the blockstm-go authors. All rights reserved.
// See the file LICENSE for licensing terms.

package service

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/rpc/v2"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/formatting"
	"github.com/ava-labs/avalanchego/utils/hashing"

	cjson "github.com/ava-labs/avalanchego/utils/json"

	"github.com/blockstm-go/blockstm/blockstm"
	"github.com/blockstm-go/blockstm/storage"
)

var errNoTransactions = errors.New("block contains no transactions")

// TransactionParser turns wire bytes into engine transactions. Supplied by
// the embedding VM alongside its ExecutorTask.
type TransactionParser interface {
	ParseTransaction(bytes []byte) (blockstm.Transaction, error)
}

// Service executes blocks over a stored state. It is the single-shard
// execution surface a sharded coordinator would call once per shard.
type Service struct {
	log      log.Logger
	executor *blockstm.BlockExecutor
	parser   TransactionParser
	state    storage.State

	// One block mutates the stored state at a time.
	lock sync.Mutex
}

// New returns a service executing blocks with [executor] against [state].
func New(executor *blockstm.BlockExecutor, parser TransactionParser, state storage.State, logger log.Logger) *Service {
	if logger == nil {
		logger = log.Root()
	}
	return &Service{
		log:      logger,
		executor: executor,
		parser:   parser,
		state:    state,
	}
}

// NewHandler returns the JSON-RPC handler for this service, named
// "blockstm".
func NewHandler(s *Service) (http.Handler, error) {
	server := rpc.NewServer()
	codec := cjson.NewCodec()
	server.RegisterCodec(codec, "application/json")
	server.RegisterCodec(codec, "application/json;charset=UTF-8")
	return server, server.RegisterService(s, blockstm.Name)
}

// ExecuteBlockArgs carries the ordered transactions of one block,
// hex-encoded.
type ExecuteBlockArgs struct {
	Transactions []string `json:"transactions"`
}

// ExecuteBlockReply reports the committed prefix of the block.
type ExecuteBlockReply struct {
	BlockID   ids.ID       `json:"blockID"`
	Committed cjson.Uint64 `json:"committed"`
	GasUsed   cjson.Uint64 `json:"gasUsed"`
}

// ExecuteBlock parses and executes a block, applies the committed write
// sets to the stored state, and returns how much of the block committed.
func (s *Service) ExecuteBlock(r *http.Request, args *ExecuteBlockArgs, reply *ExecuteBlockReply) error {
	s.log.Info("blockstm.executeBlock called", "txns", len(args.Transactions))
	if len(args.Transactions) == 0 {
		return errNoTransactions
	}

	txns := make([]blockstm.Transaction, len(args.Transactions))
	blockBytes := []byte{}
	for i, encoded := range args.Transactions {
		txBytes, err := formatting.Decode(formatting.Hex, encoded)
		if err != nil {
			return err
		}
		txn, err := s.parser.ParseTransaction(txBytes)
		if err != nil {
			return err
		}
		txns[i] = txn
		blockBytes = append(blockBytes, txBytes...)
	}
	blockID := ids.ID(hashing.ComputeHash256Array(blockBytes))

	s.lock.Lock()
	defer s.lock.Unlock()

	outputs, err := s.executor.ExecuteBlock(r.Context(), txns, s.state)
	if err != nil {
		return err
	}

	if err := s.state.Apply(outputs); err != nil {
		s.state.Abort()
		return err
	}
	if err := s.state.SetLastExecuted(blockID); err != nil {
		s.state.Abort()
		return err
	}
	if err := s.state.Commit(); err != nil {
		s.state.Abort()
		return err
	}

	var gasUsed uint64
	for _, output := range outputs {
		gasUsed += output.Gas()
	}

	reply.BlockID = blockID
	reply.Committed = cjson.Uint64(len(outputs))
	reply.GasUsed = cjson.Uint64(gasUsed)
	return nil
}

// GetValueArgs names one key, hex-encoded.
type GetValueArgs struct {
	Key string `json:"key"`
}

// GetValueReply returns the stored value, hex-encoded, when found.
type GetValueReply struct {
	Value string `json:"value"`
	Found bool   `json:"found"`
}

// GetValue reads one key from the stored state.
func (s *Service) GetValue(_ *http.Request, args *GetValueArgs, reply *GetValueReply) error {
	keyBytes, err := formatting.Decode(formatting.Hex, args.Key)
	if err != nil {
		return err
	}

	val, err := s.state.GetValue(blockstm.Key(keyBytes))
	switch {
	case err == nil:
	case errors.Is(err, blockstm.ErrKeyNotFound):
		reply.Found = false
		return nil
	default:
		return err
	}

	encoded, err := formatting.EncodeWithChecksum(formatting.Hex, val)
	if err != nil {
		return err
	}
	reply.Value = encoded
	reply.Found = true
	return nil
}

// GetLastExecutedReply returns the ID of the last applied block.
type GetLastExecutedReply struct {
	BlockID ids.ID `json:"blockID"`
}

// GetLastExecuted returns the ID of the last applied block.
func (s *Service) GetLastExecuted(_ *http.Request, _ *struct{}, reply *GetLastExecutedReply) error {
	blockID, err := s.state.GetLastExecuted()
	if err != nil {
		return err
	}
	reply.BlockID = blockID
	return nil
}
