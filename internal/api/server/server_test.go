package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-margin-indexer/internal/api/server"
	"github.com/feral-file/ff-margin-indexer/internal/domain"
	"github.com/feral-file/ff-margin-indexer/internal/logger"
	"github.com/feral-file/ff-margin-indexer/internal/metrics"
	"github.com/feral-file/ff-margin-indexer/internal/mocks"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: false}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

var serverConfig = server.Config{
	ListenAddress: ":0",
	Service:       "ledger-worker",
	Chain:         domain.ChainArbitrumOne,
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestServer_HealthCheck(t *testing.T) {
	tests := []struct {
		name       string
		cursor     *domain.EventPosition
		err        error
		wantStatus int
		wantBody   map[string]interface{}
	}{
		{
			name:       "with cursor",
			cursor:     &domain.EventPosition{BlockNumber: 100, TxIndex: 2, LogIndex: 7},
			wantStatus: http.StatusOK,
			wantBody: map[string]interface{}{
				"status":  "ok",
				"service": "ledger-worker",
				"chain":   "eip155:42161",
				"cursor":  "100:2:7",
			},
		},
		{
			name:       "nothing committed yet",
			wantStatus: http.StatusOK,
			wantBody: map[string]interface{}{
				"status":  "ok",
				"service": "ledger-worker",
				"chain":   "eip155:42161",
			},
		},
		{
			name:       "database unavailable",
			err:        assert.AnError,
			wantStatus: http.StatusServiceUnavailable,
			wantBody: map[string]interface{}{
				"status":  "unavailable",
				"service": "ledger-worker",
				"error":   assert.AnError.Error(),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			cursors := mocks.NewMockCursorStore(ctrl)
			cursors.EXPECT().
				GetEventCursor(gomock.Any(), string(domain.ChainArbitrumOne)).
				Return(tt.cursor, tt.err)

			srv := server.New(serverConfig, cursors, prometheus.NewRegistry())
			rec := get(t, srv.Handler(), "/healthz")

			assert.Equal(t, tt.wantStatus, rec.Code)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantBody, body)
		})
	}
}

func TestServer_Metrics(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.EventsProcessed.WithLabelValues(string(domain.EventKindDeposit)).Inc()
	m.LastBlock.Set(12345)

	srv := server.New(serverConfig, mocks.NewMockCursorStore(ctrl), reg)
	rec := get(t, srv.Handler(), "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `ff_margin_indexer_worker_events_processed_total{kind="deposit"} 1`)
	assert.Contains(t, rec.Body.String(), "ff_margin_indexer_worker_last_committed_block 12345")
}

func TestServer_UnknownRoute(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	srv := server.New(serverConfig, mocks.NewMockCursorStore(ctrl), prometheus.NewRegistry())
	rec := get(t, srv.Handler(), "/tokens")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
