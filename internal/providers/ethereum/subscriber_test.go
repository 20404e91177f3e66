package ethereum_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-margin-indexer/internal/domain"
	"github.com/feral-file/ff-margin-indexer/internal/messaging"
	"github.com/feral-file/ff-margin-indexer/internal/mocks"
	ethprovider "github.com/feral-file/ff-margin-indexer/internal/providers/ethereum"
)

var factoryAddress = common.HexToAddress("0x2222222222222222222222222222222222222222")

type testSubscriberMocks struct {
	ctrl       *gomock.Controller
	client     *mocks.MockEthereumClient
	blocks     *mocks.MockBlockProvider
	clock      *mocks.MockClock
	subscriber messaging.Subscriber
}

func setupTestSubscriber(t *testing.T, confirmations uint64) *testSubscriberMocks {
	ctrl := gomock.NewController(t)
	tm := &testSubscriberMocks{
		ctrl:   ctrl,
		client: mocks.NewMockEthereumClient(ctrl),
		blocks: mocks.NewMockBlockProvider(ctrl),
		clock:  mocks.NewMockClock(ctrl),
	}

	sub, err := ethprovider.NewSubscriber(ethprovider.Config{
		ChainID:       domain.ChainArbitrumOne,
		Contracts:     []string{marginAddress.Hex(), factoryAddress.Hex()},
		Confirmations: confirmations,
		BlockRange:    100,
		PollInterval:  time.Second,
	}, tm.client, tm.blocks, tm.clock)
	require.NoError(t, err)
	tm.subscriber = sub

	tm.blocks.EXPECT().Prune(gomock.Any()).AnyTimes()
	return tm
}

func positionedLog(address common.Address, topic common.Hash, blockNumber uint64, txIndex uint, index uint) types.Log {
	return types.Log{
		Address:     address,
		Topics:      []common.Hash{topic},
		BlockNumber: blockNumber,
		TxHash:      common.BigToHash(big.NewInt(int64(blockNumber*100 + uint64(txIndex)))),
		TxIndex:     txIndex,
		Index:       index,
	}
}

// eventOf builds the event the client would decode from vLog
func eventOf(t *testing.T, vLog types.Log, kind domain.EventKind, params interface{}) *domain.Event {
	event, err := domain.NewEvent(kind, params)
	require.NoError(t, err)
	event.Chain = domain.ChainArbitrumOne
	event.ContractAddress = domain.NormalizeAddress(vLog.Address.Hex())
	event.BlockNumber = vLog.BlockNumber
	event.TxHash = vLog.TxHash.Hex()
	event.TxIndex = uint64(vLog.TxIndex)
	event.LogIndex = uint64(vLog.Index)
	return event
}

func TestNewSubscriber_RequiresContracts(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	sub, err := ethprovider.NewSubscriber(ethprovider.Config{ChainID: domain.ChainArbitrumOne},
		mocks.NewMockEthereumClient(ctrl), mocks.NewMockBlockProvider(ctrl), mocks.NewMockClock(ctrl))

	assert.Error(t, err)
	assert.Nil(t, sub)
}

func TestSubscriber_SubscribeEvents_FollowsCreatedPairInOrder(t *testing.T) {
	tm := setupTestSubscriber(t, 0)
	defer tm.ctrl.Finish()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	created := positionedLog(factoryAddress, pairCreatedTopic, 100, 0, 0)
	pairTransfer := positionedLog(pairAddress, pairTransferTopic, 100, 0, 1)
	deposit := positionedLog(marginAddress, logDepositTopic, 100, 1, 2)

	events := map[uint]*domain.Event{
		0: eventOf(t, created, domain.EventKindPairCreated, domain.PairCreatedParams{Pair: pairAddress.Hex()}),
		1: eventOf(t, pairTransfer, domain.EventKindAmmTransfer, domain.AmmTransferParams{Value: "1"}),
		2: eventOf(t, deposit, domain.EventKindDeposit, domain.DepositParams{}),
	}
	tm.client.EXPECT().
		ParseEventLog(ctx, gomock.Any()).
		DoAndReturn(func(ctx context.Context, vLog types.Log) (*domain.Event, error) {
			return events[vLog.Index], nil
		}).
		Times(3)

	gomock.InOrder(
		tm.blocks.EXPECT().GetLatestBlock(ctx).Return(uint64(110), nil),
		tm.client.EXPECT().
			FilterLogs(ctx, gomock.Any()).
			DoAndReturn(func(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
				assert.Equal(t, uint64(100), q.FromBlock.Uint64())
				assert.Equal(t, uint64(110), q.ToBlock.Uint64())
				assert.Len(t, q.Addresses, 2)
				// Out of order on purpose
				return []types.Log{deposit, created}, nil
			}),
		tm.blocks.EXPECT().GetLatestBlock(ctx).Return(uint64(110), nil),
		tm.client.EXPECT().
			FilterLogs(ctx, gomock.Any()).
			DoAndReturn(func(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
				// Resumes at the block of the PairCreated log with the pair followed
				assert.Equal(t, uint64(100), q.FromBlock.Uint64())
				assert.Contains(t, q.Addresses, pairAddress)
				return []types.Log{created, pairTransfer, deposit}, nil
			}),
		tm.blocks.EXPECT().GetLatestBlock(ctx).DoAndReturn(func(ctx context.Context) (uint64, error) {
			cancel()
			return 110, nil
		}),
	)
	tm.clock.EXPECT().After(time.Second).Return(nil)

	var handled []string
	err := tm.subscriber.SubscribeEvents(ctx, 100, func(event *domain.Event) error {
		handled = append(handled, event.Position().String())
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"100:0:0", "100:0:1", "100:1:2"}, handled)
}

func TestSubscriber_SubscribeEvents_IgnoresTransfersOfOtherContracts(t *testing.T) {
	tm := setupTestSubscriber(t, 0)
	defer tm.ctrl.Finish()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Vault factories are ERC20 tokens and emit Transfer too
	tokenTransfer := positionedLog(factoryAddress, pairTransferTopic, 100, 0, 0)

	gomock.InOrder(
		tm.blocks.EXPECT().GetLatestBlock(ctx).Return(uint64(100), nil),
		tm.client.EXPECT().FilterLogs(ctx, gomock.Any()).Return([]types.Log{tokenTransfer}, nil),
		tm.blocks.EXPECT().GetLatestBlock(ctx).DoAndReturn(func(ctx context.Context) (uint64, error) {
			cancel()
			return 100, nil
		}),
	)
	tm.clock.EXPECT().After(time.Second).Return(nil)

	err := tm.subscriber.SubscribeEvents(ctx, 100, func(event *domain.Event) error {
		t.Fatalf("unexpected event %s", event.ID())
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestSubscriber_SubscribeEvents_WaitsForConfirmations(t *testing.T) {
	tm := setupTestSubscriber(t, 10)
	defer tm.ctrl.Finish()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	after := make(chan time.Time, 1)
	after <- time.Now()

	gomock.InOrder(
		tm.blocks.EXPECT().GetLatestBlock(ctx).Return(uint64(105), nil),
		tm.clock.EXPECT().After(time.Second).Return((<-chan time.Time)(after)),
		tm.blocks.EXPECT().GetLatestBlock(ctx).Return(uint64(112), nil),
		tm.client.EXPECT().
			FilterLogs(ctx, gomock.Any()).
			DoAndReturn(func(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
				assert.Equal(t, uint64(100), q.FromBlock.Uint64())
				assert.Equal(t, uint64(102), q.ToBlock.Uint64())
				cancel()
				return nil, nil
			}),
		tm.blocks.EXPECT().GetLatestBlock(ctx).Return(uint64(112), nil),
		tm.clock.EXPECT().After(time.Second).Return(nil),
	)

	err := tm.subscriber.SubscribeEvents(ctx, 100, func(event *domain.Event) error { return nil })

	assert.ErrorIs(t, err, context.Canceled)
}

func TestSubscriber_SubscribeEvents_StopsOnHandlerError(t *testing.T) {
	tm := setupTestSubscriber(t, 0)
	defer tm.ctrl.Finish()

	ctx := context.Background()
	deposit := positionedLog(marginAddress, logDepositTopic, 100, 0, 0)

	tm.blocks.EXPECT().GetLatestBlock(ctx).Return(uint64(100), nil)
	tm.client.EXPECT().FilterLogs(ctx, gomock.Any()).Return([]types.Log{deposit}, nil)
	tm.client.EXPECT().ParseEventLog(ctx, deposit).Return(eventOf(t, deposit, domain.EventKindDeposit, domain.DepositParams{}), nil)

	err := tm.subscriber.SubscribeEvents(ctx, 100, func(event *domain.Event) error {
		return assert.AnError
	})

	assert.ErrorIs(t, err, assert.AnError)
}

func TestSubscriber_SubscribeEvents_StopsOnUndecodableLog(t *testing.T) {
	tm := setupTestSubscriber(t, 0)
	defer tm.ctrl.Finish()

	ctx := context.Background()
	deposit := positionedLog(marginAddress, logDepositTopic, 100, 0, 0)

	tm.blocks.EXPECT().GetLatestBlock(ctx).Return(uint64(100), nil)
	tm.client.EXPECT().FilterLogs(ctx, gomock.Any()).Return([]types.Log{deposit}, nil)
	tm.client.EXPECT().ParseEventLog(ctx, deposit).Return(nil, domain.ErrInvalidEventParams)

	err := tm.subscriber.SubscribeEvents(ctx, 100, func(event *domain.Event) error { return nil })

	assert.ErrorIs(t, err, domain.ErrInvalidEventParams)
}

func TestSubscriber_GetLatestBlock(t *testing.T) {
	tm := setupTestSubscriber(t, 0)
	defer tm.ctrl.Finish()

	tm.blocks.EXPECT().GetLatestBlock(gomock.Any()).Return(uint64(4200), nil)

	latest, err := tm.subscriber.GetLatestBlock(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, uint64(4200), latest)
}

func TestSubscriber_Close(t *testing.T) {
	tm := setupTestSubscriber(t, 0)
	defer tm.ctrl.Finish()

	tm.client.EXPECT().Close()

	tm.subscriber.Close()
}
