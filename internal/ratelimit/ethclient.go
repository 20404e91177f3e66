package ratelimit

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/feral-file/ff-margin-indexer/internal/adapter"
)

// ethClient routes every RPC call of an adapter.EthClient through a Proxy
type ethClient struct {
	client adapter.EthClient
	proxy  Proxy
}

// NewEthClient wraps client so its RPC calls are rate limited by p
func NewEthClient(client adapter.EthClient, p Proxy) adapter.EthClient {
	return &ethClient{client: client, proxy: p}
}

func (c *ethClient) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	return Request(ctx, c.proxy, func(ctx context.Context) ([]types.Log, error) {
		return c.client.FilterLogs(ctx, query)
	})
}

func (c *ethClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return Request(ctx, c.proxy, func(ctx context.Context) (*types.Header, error) {
		return c.client.HeaderByNumber(ctx, number)
	})
}

func (c *ethClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return Request(ctx, c.proxy, func(ctx context.Context) ([]byte, error) {
		return c.client.CallContract(ctx, msg, blockNumber)
	})
}

// Close closes the wrapped client. The proxy is closed by its owner.
func (c *ethClient) Close() {
	c.client.Close()
}
