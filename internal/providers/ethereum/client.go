package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/feral-file/ff-margin-indexer/internal/adapter"
	"github.com/feral-file/ff-margin-indexer/internal/block"
	"github.com/feral-file/ff-margin-indexer/internal/domain"
	"github.com/feral-file/ff-margin-indexer/internal/logger"
)

// TokenMetadata is the ERC20 metadata of a market token
type TokenMetadata struct {
	Symbol   string
	Name     string
	Decimals int32
}

//go:generate mockgen -source=client.go -destination=../../mocks/ethereum_client.go -package=mocks -mock_names=EthereumClient=MockEthereumClient
type EthereumClient interface {
	// ParseEventLog decodes a log into a ledger event.
	// It returns nil without error for logs of events the indexer does not decode.
	ParseEventLog(ctx context.Context, vLog types.Log) (*domain.Event, error)

	// FilterLogs retrieves the logs matching query, splitting the block range when the provider
	// refuses to return that many results
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)

	// ERC20Metadata fetches the symbol, name and decimals of an ERC20 token
	ERC20Metadata(ctx context.Context, tokenAddress string) (*TokenMetadata, error)

	// Close closes the connection
	Close()
}

type ethereumClient struct {
	chainID domain.Chain
	client  adapter.EthClient
	blocks  block.Provider
}

func NewClient(chainID domain.Chain, client adapter.EthClient, blocks block.Provider) EthereumClient {
	return &ethereumClient{chainID: chainID, client: client, blocks: blocks}
}

// maxLogRangeStep is the widest block range requested from the provider at once
const maxLogRangeStep = uint64(100000)

// FilterLogs retrieves the logs matching query over [FromBlock, ToBlock]
func (c *ethereumClient) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	// If blockhash is specified, use it directly (no pagination needed)
	if query.BlockHash != nil || query.FromBlock == nil || query.ToBlock == nil {
		return c.client.FilterLogs(ctx, query)
	}

	return c.getLogsWithRetry(ctx, query, maxLogRangeStep)
}

// getLogsWithRetry processes the range from query.FromBlock to query.ToBlock in chunks,
// halving the chunk size while the provider reports too many results
func (c *ethereumClient) getLogsWithRetry(ctx context.Context, query ethereum.FilterQuery, stepSize uint64) ([]types.Log, error) {
	currentStepSize := stepSize

	var allLogs []types.Log
	currentFrom := new(big.Int).Set(query.FromBlock)

	for currentFrom.Cmp(query.ToBlock) <= 0 {
		currentTo := new(big.Int).Add(currentFrom, new(big.Int).SetUint64(currentStepSize-1))
		if currentTo.Cmp(query.ToBlock) > 0 {
			currentTo.Set(query.ToBlock)
		}

		queryCopy := query
		queryCopy.FromBlock = new(big.Int).Set(currentFrom)
		queryCopy.ToBlock = new(big.Int).Set(currentTo)

		logs, err := c.client.FilterLogs(ctx, queryCopy)
		if err == nil {
			allLogs = append(allLogs, logs...)
			currentFrom.SetUint64(currentTo.Uint64() + 1)
			continue
		}

		if !isTooManyResultsError(err) || currentStepSize == 1 {
			return nil, err
		}

		currentStepSize = currentStepSize / 2

		logger.WarnCtx(ctx, "Too many results, reducing step size",
			zap.Uint64("oldStepSize", currentStepSize*2),
			zap.Uint64("newStepSize", currentStepSize),
			zap.Uint64("fromBlock", currentFrom.Uint64()),
			zap.Uint64("toBlock", currentTo.Uint64()))
	}

	return allLogs, nil
}

// isTooManyResultsError checks if the error is related to too many results
func isTooManyResultsError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()
	return strings.Contains(errStr, "query returned more than 10000 results") ||
		strings.Contains(errStr, "query timeout exceeded") ||
		strings.Contains(errStr, "too many results") ||
		strings.Contains(errStr, "exceeded maximum") ||
		strings.Contains(errStr, "block range")
}

var erc20ABI = mustParseABI(`[
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"payable":false,"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"payable":false,"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"payable":false,"stateMutability":"view","type":"function"}
]`)

// erc20Bytes32ABI reads tokens that predate string metadata and return bytes32
var erc20Bytes32ABI = mustParseABI(`[
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"bytes32"}],"payable":false,"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"bytes32"}],"payable":false,"stateMutability":"view","type":"function"}
]`)

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(err)
	}
	return parsed
}

// ERC20Metadata fetches the symbol, name and decimals of an ERC20 token
func (c *ethereumClient) ERC20Metadata(ctx context.Context, tokenAddress string) (*TokenMetadata, error) {
	symbol, err := c.erc20Text(ctx, tokenAddress, "symbol")
	if err != nil {
		return nil, err
	}

	name, err := c.erc20Text(ctx, tokenAddress, "name")
	if err != nil {
		return nil, err
	}

	result, err := c.callERC20(ctx, tokenAddress, "decimals")
	if err != nil {
		return nil, err
	}
	var decimals uint8
	if err := erc20ABI.UnpackIntoInterface(&decimals, "decimals", result); err != nil {
		return nil, fmt.Errorf("failed to unpack decimals of %s: %w", tokenAddress, err)
	}

	return &TokenMetadata{Symbol: symbol, Name: name, Decimals: int32(decimals)}, nil
}

// erc20Text reads a string getter, falling back to the bytes32 variant
func (c *ethereumClient) erc20Text(ctx context.Context, tokenAddress, method string) (string, error) {
	result, err := c.callERC20(ctx, tokenAddress, method)
	if err != nil {
		return "", err
	}

	var text string
	if err := erc20ABI.UnpackIntoInterface(&text, method, result); err == nil {
		return text, nil
	}

	var raw [32]byte
	if err := erc20Bytes32ABI.UnpackIntoInterface(&raw, method, result); err != nil {
		return "", fmt.Errorf("failed to unpack %s of %s: %w", method, tokenAddress, err)
	}
	return strings.TrimRight(string(raw[:]), "\x00"), nil
}

func (c *ethereumClient) callERC20(ctx context.Context, tokenAddress, method string) ([]byte, error) {
	data, err := erc20ABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("failed to pack data: %w", err)
	}

	contractAddr := common.HexToAddress(tokenAddress)
	result, err := c.client.CallContract(ctx, ethereum.CallMsg{
		To:   &contractAddr,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s on %s: %w", method, tokenAddress, err)
	}

	return result, nil
}

// ParseEventLog decodes a log into a ledger event
func (c *ethereumClient) ParseEventLog(ctx context.Context, vLog types.Log) (*domain.Event, error) {
	if len(vLog.Topics) == 0 {
		return nil, nil
	}

	decoder, ok := decoders[vLog.Topics[0]]
	if !ok {
		logger.DebugCtx(ctx, "Skipping log of unknown event",
			zap.String("contract", vLog.Address.Hex()),
			zap.String("topic", vLog.Topics[0].Hex()))
		return nil, nil
	}

	values, err := decoder.unpack(vLog)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidEventParams, err)
	}

	reader := &fieldReader{event: decoder.event.Name, values: values}
	params := decoder.build(reader)
	if reader.err != nil {
		return nil, reader.err
	}

	// Market tokens are described once, when the market is listed
	if addMarket, ok := params.(*domain.AddMarketParams); ok {
		metadata, err := c.ERC20Metadata(ctx, addMarket.Token)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch metadata of market %d token: %w", addMarket.MarketID, err)
		}
		addMarket.Symbol = metadata.Symbol
		addMarket.Name = metadata.Name
		addMarket.Decimals = metadata.Decimals
	}

	timestamp, err := c.blocks.GetBlockTimestamp(ctx, vLog.BlockNumber)
	if err != nil {
		return nil, err
	}

	event, err := domain.NewEvent(decoder.kind, params)
	if err != nil {
		return nil, err
	}
	event.Chain = c.chainID
	event.ContractAddress = domain.NormalizeAddress(vLog.Address.Hex())
	event.BlockNumber = vLog.BlockNumber
	event.BlockHash = vLog.BlockHash.Hex()
	event.Timestamp = timestamp.UTC()
	event.TxHash = vLog.TxHash.Hex()
	event.TxIndex = uint64(vLog.TxIndex)
	event.LogIndex = uint64(vLog.Index)

	return event, nil
}

// Close closes the connection
func (c *ethereumClient) Close() {
	c.client.Close()
}

// blockFetcher implements block.Fetcher with the headers of an Ethereum node
type blockFetcher struct {
	client adapter.EthClient
}

// NewBlockFetcher creates a block.Fetcher reading headers from client
func NewBlockFetcher(client adapter.EthClient) block.Fetcher {
	return &blockFetcher{client: client}
}

// FetchLatestBlock fetches the latest block number
func (f *blockFetcher) FetchLatestBlock(ctx context.Context) (uint64, error) {
	header, err := f.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block: %w", err)
	}
	return header.Number.Uint64(), nil
}

// FetchBlockTimestamp fetches the timestamp of a block from its header
func (f *blockFetcher) FetchBlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error) {
	header, err := f.client.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get header of block %d: %w", blockNumber, err)
	}
	return time.Unix(int64(header.Time), 0), nil //nolint:gosec,G115
}
