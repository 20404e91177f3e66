package jetstream_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	natsjs "github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-margin-indexer/internal/adapter"
	"github.com/feral-file/ff-margin-indexer/internal/domain"
	"github.com/feral-file/ff-margin-indexer/internal/logger"
	"github.com/feral-file/ff-margin-indexer/internal/mocks"
	"github.com/feral-file/ff-margin-indexer/internal/providers/jetstream"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: false}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

var testConfig = jetstream.Config{
	URL:             "nats://localhost:4222",
	StreamName:      "ledger",
	MaxReconnects:   10,
	ReconnectWait:   time.Second,
	ConnectionName:  "test-emitter",
	DuplicateWindow: 10 * time.Minute,
}

type testPublisherMocks struct {
	ctrl      *gomock.Controller
	natsJS    *mocks.MockNatsJetStream
	natsConn  *mocks.MockNatsConn
	jetStream *mocks.MockJetStream
}

func setupTest(t *testing.T) *testPublisherMocks {
	ctrl := gomock.NewController(t)
	return &testPublisherMocks{
		ctrl:      ctrl,
		natsJS:    mocks.NewMockNatsJetStream(ctrl),
		natsConn:  mocks.NewMockNatsConn(ctrl),
		jetStream: mocks.NewMockJetStream(ctrl),
	}
}

func depositEvent(t *testing.T) *domain.Event {
	event, err := domain.NewEvent(domain.EventKindDeposit, domain.DepositParams{
		Account:  domain.AccountInfo{Owner: "0x00000000000000000000000000000000000000aa", Number: "0"},
		MarketID: 0,
		Update:   domain.BalanceUpdate{DeltaWei: "1000", NewPar: "1000"},
		From:     "0x00000000000000000000000000000000000000aa",
	})
	require.NoError(t, err)
	event.Chain = domain.ChainArbitrumOne
	event.TxHash = "0xabc"
	event.BlockNumber = 120
	event.LogIndex = 4
	return event
}

func TestStreamConfig(t *testing.T) {
	cfg := jetstream.StreamConfig(testConfig)

	assert.Equal(t, "ledger", cfg.Name)
	assert.Equal(t, []string{"ledger.>"}, cfg.Subjects)
	assert.Equal(t, natsjs.FileStorage, cfg.Storage)
	assert.Equal(t, 10*time.Minute, cfg.Duplicates)
}

func TestMessageID(t *testing.T) {
	assert.Equal(t, "eip155:42161:0xabc-4", jetstream.MessageID(depositEvent(t)))
}

func TestNewPublisher_ConnectError(t *testing.T) {
	tm := setupTest(t)
	defer tm.ctrl.Finish()

	tm.natsJS.EXPECT().Connect(testConfig.URL, gomock.Any()).Return(nil, nil, assert.AnError)

	pub, err := jetstream.NewPublisher(context.Background(), testConfig, tm.natsJS, adapter.NewJSON())

	assert.Error(t, err)
	assert.Nil(t, pub)
	assert.Contains(t, err.Error(), "failed to connect to NATS")
}

func TestNewPublisher_StreamError(t *testing.T) {
	tm := setupTest(t)
	defer tm.ctrl.Finish()

	tm.natsJS.EXPECT().Connect(testConfig.URL, gomock.Any()).Return(tm.natsConn, tm.jetStream, nil)
	tm.jetStream.EXPECT().CreateOrUpdateStream(gomock.Any(), jetstream.StreamConfig(testConfig)).Return(nil, assert.AnError)
	tm.natsConn.EXPECT().Close()

	pub, err := jetstream.NewPublisher(context.Background(), testConfig, tm.natsJS, adapter.NewJSON())

	assert.Error(t, err)
	assert.Nil(t, pub)
	assert.Contains(t, err.Error(), "failed to create/update stream")
}

func TestPublisher_PublishEvent(t *testing.T) {
	tm := setupTest(t)
	defer tm.ctrl.Finish()

	ctx := context.Background()
	event := depositEvent(t)

	tm.natsJS.EXPECT().Connect(testConfig.URL, gomock.Any()).Return(tm.natsConn, tm.jetStream, nil)
	tm.jetStream.EXPECT().CreateOrUpdateStream(ctx, gomock.Any()).Return(&natsjs.StreamInfo{}, nil)
	tm.jetStream.
		EXPECT().
		Publish(ctx, "ledger.eip155_42161.deposit", gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, subject string, data []byte, opts ...natsjs.PublishOpt) (*natsjs.PubAck, error) {
			assert.Len(t, opts, 2)

			var published domain.Event
			require.NoError(t, json.Unmarshal(data, &published))
			assert.Equal(t, event.ID(), published.ID())
			assert.Equal(t, domain.EventKindDeposit, published.Kind)
			assert.JSONEq(t, string(event.Params), string(published.Params))
			return &natsjs.PubAck{Stream: "ledger", Sequence: 1}, nil
		})

	pub, err := jetstream.NewPublisher(ctx, testConfig, tm.natsJS, adapter.NewJSON())
	require.NoError(t, err)

	assert.NoError(t, pub.PublishEvent(ctx, event))
}

func TestPublisher_PublishEvent_Error(t *testing.T) {
	tm := setupTest(t)
	defer tm.ctrl.Finish()

	ctx := context.Background()

	tm.natsJS.EXPECT().Connect(testConfig.URL, gomock.Any()).Return(tm.natsConn, tm.jetStream, nil)
	tm.jetStream.EXPECT().CreateOrUpdateStream(ctx, gomock.Any()).Return(&natsjs.StreamInfo{}, nil)
	tm.jetStream.EXPECT().Publish(ctx, gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, assert.AnError)

	pub, err := jetstream.NewPublisher(ctx, testConfig, tm.natsJS, adapter.NewJSON())
	require.NoError(t, err)

	err = pub.PublishEvent(ctx, depositEvent(t))

	assert.ErrorIs(t, err, assert.AnError)
}

func TestPublisher_Close(t *testing.T) {
	tm := setupTest(t)
	defer tm.ctrl.Finish()

	ctx := context.Background()

	tm.natsJS.EXPECT().Connect(testConfig.URL, gomock.Any()).Return(tm.natsConn, tm.jetStream, nil)
	tm.jetStream.EXPECT().CreateOrUpdateStream(ctx, gomock.Any()).Return(&natsjs.StreamInfo{}, nil)
	tm.natsConn.EXPECT().Close()

	pub, err := jetstream.NewPublisher(ctx, testConfig, tm.natsJS, adapter.NewJSON())
	require.NoError(t, err)

	pub.Close()
}

func TestPublisher_PublishEvent_MarshalError(t *testing.T) {
	tm := setupTest(t)
	defer tm.ctrl.Finish()

	ctx := context.Background()
	jsonMock := mocks.NewMockJSON(tm.ctrl)

	tm.natsJS.EXPECT().Connect(testConfig.URL, gomock.Any()).Return(tm.natsConn, tm.jetStream, nil)
	tm.jetStream.EXPECT().CreateOrUpdateStream(ctx, gomock.Any()).Return(&natsjs.StreamInfo{}, nil)
	jsonMock.EXPECT().Marshal(gomock.Any()).Return(nil, assert.AnError)
	tm.jetStream.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	pub, err := jetstream.NewPublisher(ctx, testConfig, tm.natsJS, jsonMock)
	require.NoError(t, err)

	err = pub.PublishEvent(ctx, depositEvent(t))

	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "failed to marshal event")
}
