package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/feral-file/ff-margin-indexer/internal/adapter"
	"github.com/feral-file/ff-margin-indexer/internal/block"
	"github.com/feral-file/ff-margin-indexer/internal/domain"
	"github.com/feral-file/ff-margin-indexer/internal/logger"
	"github.com/feral-file/ff-margin-indexer/internal/messaging"
)

// Config holds the configuration for Ethereum subscription
type Config struct {
	ChainID domain.Chain // e.g., "eip155:42161" for Arbitrum One
	// Contracts are the protocol contracts whose logs are always followed: the margin core,
	// expiry, proxies and factories
	Contracts []string
	// Pairs are the AMM pairs already registered. Pairs created later are followed once
	// their PairCreated log is seen.
	Pairs []string
	// Confirmations is how far behind the chain head logs are read
	Confirmations uint64
	// BlockRange is the widest block range read per poll
	BlockRange uint64
	// PollInterval is the wait between polls once the head is reached
	PollInterval time.Duration
}

type ethSubscriber struct {
	client EthereumClient
	blocks block.Provider
	config Config
	clock  adapter.Clock
}

// NewSubscriber creates a new Ethereum event subscriber
func NewSubscriber(cfg Config, ethereumClient EthereumClient, blocks block.Provider, clock adapter.Clock) (messaging.Subscriber, error) {
	if len(cfg.Contracts) == 0 {
		return nil, fmt.Errorf("no contracts to follow on %s", cfg.ChainID)
	}
	if cfg.BlockRange == 0 {
		cfg.BlockRange = 2000
	}

	return &ethSubscriber{
		client: ethereumClient,
		blocks: blocks,
		config: cfg,
		clock:  clock,
	}, nil
}

// watchSet is the set of contracts whose logs are read
type watchSet struct {
	addresses map[common.Address]struct{}
	pairs     map[common.Address]struct{}
}

func newWatchSet(contracts, pairs []string) *watchSet {
	w := &watchSet{
		addresses: make(map[common.Address]struct{}),
		pairs:     make(map[common.Address]struct{}),
	}
	for _, address := range contracts {
		w.addresses[common.HexToAddress(address)] = struct{}{}
	}
	for _, address := range pairs {
		w.addPair(address)
	}
	return w
}

// addPair follows a pair and reports whether it was new
func (w *watchSet) addPair(address string) bool {
	pair := common.HexToAddress(address)
	if _, ok := w.pairs[pair]; ok {
		return false
	}
	w.pairs[pair] = struct{}{}
	w.addresses[pair] = struct{}{}
	return true
}

func (w *watchSet) isPair(address common.Address) bool {
	_, ok := w.pairs[address]
	return ok
}

// list returns the followed addresses in a stable order
func (w *watchSet) list() []common.Address {
	addresses := make([]common.Address, 0, len(w.addresses))
	for address := range w.addresses {
		addresses = append(addresses, address)
	}
	sort.Slice(addresses, func(i, j int) bool {
		return addresses[i].Cmp(addresses[j]) < 0
	})
	return addresses
}

func logPosition(vLog types.Log) domain.EventPosition {
	return domain.EventPosition{
		BlockNumber: vLog.BlockNumber,
		TxIndex:     uint64(vLog.TxIndex),
		LogIndex:    uint64(vLog.Index),
	}
}

// SubscribeEvents reads the logs of the followed contracts from fromBlock on, in chain order,
// and passes their events to handler. It returns when ctx is done or an event cannot be
// decoded or handled, since skipping an event would corrupt the ledger.
func (s *ethSubscriber) SubscribeEvents(ctx context.Context, fromBlock uint64, handler messaging.EventHandler) error {
	watch := newWatchSet(s.config.Contracts, s.config.Pairs)
	topics := Topics()
	next := fromBlock
	var last *domain.EventPosition

	logger.InfoCtx(ctx, "Following contract logs",
		zap.String("chain", string(s.config.ChainID)),
		zap.Uint64("fromBlock", fromBlock),
		zap.Int("contracts", len(watch.addresses)))

	for {
		latest, err := s.blocks.GetLatestBlock(ctx)
		if err != nil {
			return err
		}

		if latest < s.config.Confirmations || next > latest-s.config.Confirmations {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.clock.After(s.config.PollInterval):
				continue
			}
		}

		to := latest - s.config.Confirmations
		if to-next+1 > s.config.BlockRange {
			to = next + s.config.BlockRange - 1
		}

		logs, err := s.client.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(next),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: watch.list(),
			Topics:    [][]common.Hash{topics},
		})
		if err != nil {
			return fmt.Errorf("failed to get logs for range %d-%d: %w", next, to, err)
		}

		sort.Slice(logs, func(i, j int) bool {
			return logPosition(logs[i]).Compare(logPosition(logs[j])) < 0
		})

		resumeAt := to + 1
		for _, vLog := range logs {
			position := logPosition(vLog)
			if vLog.Removed || (last != nil && position.Compare(*last) <= 0) {
				continue
			}
			if len(vLog.Topics) > 0 && IsPairEvent(vLog.Topics[0]) && !watch.isPair(vLog.Address) {
				continue
			}

			event, err := s.client.ParseEventLog(ctx, vLog)
			if err != nil {
				return fmt.Errorf("failed to parse log %s-%d: %w", vLog.TxHash.Hex(), vLog.Index, err)
			}
			if event == nil {
				continue
			}

			if err := handler(event); err != nil {
				return fmt.Errorf("failed to handle event %s: %w", event.ID(), err)
			}
			last = &position

			// Later logs of a new pair, even in this block, were not requested yet
			if pair, ok := createdPair(event); ok && watch.addPair(pair) {
				logger.InfoCtx(ctx, "Following new AMM pair", zap.String("pair", pair), zap.Uint64("block", vLog.BlockNumber))
				resumeAt = vLog.BlockNumber
				break
			}
		}

		s.blocks.Prune(resumeAt)
		next = resumeAt
	}
}

func createdPair(event *domain.Event) (string, bool) {
	if event.Kind != domain.EventKindPairCreated {
		return "", false
	}
	var params domain.PairCreatedParams
	if err := event.DecodeParams(&params); err != nil {
		return "", false
	}
	return params.Pair, true
}

// GetLatestBlock returns the latest block number
func (s *ethSubscriber) GetLatestBlock(ctx context.Context) (uint64, error) {
	return s.blocks.GetLatestBlock(ctx)
}

// Close closes the connection
func (s *ethSubscriber) Close() {
	if s.client == nil {
		return
	}

	s.client.Close()
	logger.Info("Ethereum connection closed")
}
