// (c) 2026, the blockstm-go authors. All rights reserved.
// See the file LICENSE for licensing terms.

package client

import (
	"context"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/formatting"
	"github.com/ava-labs/avalanchego/utils/rpc"

	"github.com/blockstm-go/blockstm/service"
)

// Client defines blockstm service client operations.
type Client interface {
	// ExecuteBlock submits an ordered block of wire transactions and
	// returns the block ID, the number of committed transactions, and the
	// gas they used.
	ExecuteBlock(ctx context.Context, txns [][]byte) (ids.ID, uint64, uint64, error)

	// GetValue fetches one key of the stored state.
	GetValue(ctx context.Context, key []byte) ([]byte, bool, error)

	// GetLastExecuted fetches the ID of the last applied block.
	GetLastExecuted(ctx context.Context) (ids.ID, error)
}

// New creates a new client object.
func New(uri string) Client {
	req := rpc.NewEndpointRequester(uri, "", "blockstm")
	return &client{req: req}
}

type client struct {
	req rpc.EndpointRequester
}

func (cli *client) ExecuteBlock(ctx context.Context, txns [][]byte) (ids.ID, uint64, uint64, error) {
	encoded := make([]string, len(txns))
	for i, txBytes := range txns {
		enc, err := formatting.EncodeWithChecksum(formatting.Hex, txBytes)
		if err != nil {
			return ids.Empty, 0, 0, err
		}
		encoded[i] = enc
	}

	resp := new(service.ExecuteBlockReply)
	err := cli.req.SendRequest(ctx,
		"executeBlock",
		&service.ExecuteBlockArgs{Transactions: encoded},
		resp,
	)
	if err != nil {
		return ids.Empty, 0, 0, err
	}
	return resp.BlockID, uint64(resp.Committed), uint64(resp.GasUsed), nil
}

func (cli *client) GetValue(ctx context.Context, key []byte) ([]byte, bool, error) {
	enc, err := formatting.EncodeWithChecksum(formatting.Hex, key)
	if err != nil {
		return nil, false, err
	}

	resp := new(service.GetValueReply)
	err = cli.req.SendRequest(ctx,
		"getValue",
		&service.GetValueArgs{Key: enc},
		resp,
	)
	if err != nil {
		return nil, false, err
	}
	if !resp.Found {
		return nil, false, nil
	}
	val, err := formatting.Decode(formatting.Hex, resp.Value)
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (cli *client) GetLastExecuted(ctx context.Context) (ids.ID, error) {
	resp := new(service.GetLastExecutedReply)
	err := cli.req.SendRequest(ctx,
		"getLastExecuted",
		new(struct{}),
		resp,
	)
	if err != nil {
		return ids.Empty, err
	}
	return resp.BlockID, nil
}
