// Package evm provides EVM-specific helpers: constructor argument recovery,
// library linking, ABI inspection and a JSON-RPC transaction source.
package evm

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/pendergraft/contraverify/internal/chains"
)

// RPCClient fetches chain data from a JSON-RPC node.
type RPCClient struct {
	client *ethclient.Client
}

var _ chains.TransactionFetcher = (*RPCClient)(nil)

// DialRPC connects to a JSON-RPC endpoint.
func DialRPC(ctx context.Context, url string) (*RPCClient, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dialing rpc %s: %w", url, err)
	}
	return &RPCClient{client: client}, nil
}

// TransactionInput returns the input data of a transaction.
func (c *RPCClient) TransactionInput(ctx context.Context, hash string) (string, error) {
	tx, _, err := c.client.TransactionByHash(ctx, common.HexToHash(hash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return "", fmt.Errorf("%w: %s", chains.ErrTransactionNotFound, hash)
		}
		return "", fmt.Errorf("getting transaction %s: %w", hash, err)
	}
	return hexutil.Encode(tx.Data()), nil
}

// ChainID returns the chain ID reported by the node.
func (c *RPCClient) ChainID(ctx context.Context) (int64, error) {
	id, err := c.client.ChainID(ctx)
	if err != nil {
		return 0, fmt.Errorf("getting chain id: %w", err)
	}
	return id.Int64(), nil
}

// Close closes the underlying connection.
func (c *RPCClient) Close() {
	c.client.Close()
}
