package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-margin-indexer/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	tmpDir := t.TempDir()
	if content == "" {
		return filepath.Join(tmpDir, "nonexistent.yaml")
	}

	configFile := filepath.Join(tmpDir, "config.yaml")
	err := os.WriteFile(configFile, []byte(content), 0600)
	require.NoError(t, err)
	return configFile
}

func TestLoadEthereumEmitterConfig(t *testing.T) {
	tests := []struct {
		name        string
		configFile  string
		expectError string
		validate    func(*testing.T, *EthereumEmitterConfig)
	}{
		{
			name: "valid config file",
			configFile: `
debug: true
sentry_dsn: "https://sentry.example.com"
database:
  host: localhost
  port: 5432
  user: testuser
  password: testpass
  dbname: testdb
  sslmode: require
nats:
  url: "nats://localhost:4222"
  stream_name: "TEST_STREAM"
  max_reconnects: 5
  reconnect_wait: "5s"
  connection_name: "test-connection"
  duplicate_window: "1h"
ethereum:
  rpc_url: "http://localhost:8545"
  chain_id: "eip155:8453"
  start_block: 1000
  confirmations: 3
  block_range: 500
  poll_interval: "4s"
protocol:
  margin_address: "0x6BD780E7FDF01D77E4D475C821F1E7AE05409072"
  expiry_addresses: ["0x377D6A3ED7FE4B6B19C4A8B7CA2ECAC4F7CC4B93"]
  amm_factory_address: "0x05d1cf1e4c6aa0d0a6f4f1a1c1ac4aafd6f7e9fc"
emitter:
  cursor_save_freq: 10
  cursor_save_delay: "1m"
rpc_rate_limit:
  requests_per_second: 25
  burst: 50
  redis_addr: "localhost:6379"
  redis_db: 2
  enable_local_fallback: false
`,
			validate: func(t *testing.T, cfg *EthereumEmitterConfig) {
				assert.True(t, cfg.Debug)
				assert.Equal(t, "https://sentry.example.com", cfg.SentryDSN)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, "require", cfg.Database.SSLMode)
				assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
				assert.Equal(t, "TEST_STREAM", cfg.NATS.StreamName)
				assert.Equal(t, 5, cfg.NATS.MaxReconnects)
				assert.Equal(t, time.Hour, cfg.NATS.DuplicateWindow)
				assert.Equal(t, "http://localhost:8545", cfg.Ethereum.RPCURL)
				assert.Equal(t, domain.ChainBase, cfg.Ethereum.ChainID)
				assert.Equal(t, uint64(1000), cfg.Ethereum.StartBlock)
				assert.Equal(t, uint64(3), cfg.Ethereum.Confirmations)
				assert.Equal(t, uint64(500), cfg.Ethereum.BlockRange)
				assert.Equal(t, 4*time.Second, cfg.Ethereum.PollInterval)
				assert.Equal(t, []string{"0x377D6A3ED7FE4B6B19C4A8B7CA2ECAC4F7CC4B93"}, cfg.Protocol.ExpiryAddresses)
				assert.Equal(t, uint64(10), cfg.Emitter.CursorSaveFreq)
				assert.Equal(t, time.Minute, cfg.Emitter.CursorSaveDelay)
				assert.Equal(t, 25, cfg.RPCRateLimit.RequestsPerSecond)
				assert.Equal(t, 50, cfg.RPCRateLimit.Burst)
				assert.Equal(t, "localhost:6379", cfg.RPCRateLimit.RedisAddr)
				assert.Equal(t, 2, cfg.RPCRateLimit.RedisDB)
				assert.False(t, cfg.RPCRateLimit.EnableLocalFallback)
			},
		},
		{
			name: "config with defaults",
			configFile: `
database:
  host: localhost
  dbname: testdb
nats:
  url: "nats://localhost:4222"
ethereum:
  rpc_url: "http://localhost:8545"
protocol:
  margin_address: "0x6bd780e7fdf01d77e4d475c821f1e7ae05409072"
`,
			validate: func(t *testing.T, cfg *EthereumEmitterConfig) {
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "disable", cfg.Database.SSLMode)
				assert.Equal(t, 500*time.Millisecond, cfg.Database.SlowQueryThreshold)
				assert.Equal(t, 10, cfg.NATS.MaxReconnects)
				assert.Equal(t, "2s", cfg.NATS.ReconnectWait.String())
				assert.Equal(t, "LEDGER_EVENTS", cfg.NATS.StreamName)
				assert.Equal(t, "ethereum-event-emitter", cfg.NATS.ConnectionName)
				assert.Equal(t, 10*time.Minute, cfg.NATS.DuplicateWindow)
				assert.Equal(t, domain.ChainArbitrumOne, cfg.Ethereum.ChainID)
				assert.Equal(t, uint64(2000), cfg.Ethereum.BlockRange)
				assert.Equal(t, 2*time.Second, cfg.Ethereum.PollInterval)
				assert.Equal(t, 2*time.Second, cfg.Ethereum.BlockHeadTTL)
				assert.Equal(t, time.Minute, cfg.Ethereum.BlockHeadStaleWindow)
				assert.Equal(t, uint64(2), cfg.Emitter.CursorSaveFreq)
				assert.Equal(t, 30*time.Second, cfg.Emitter.CursorSaveDelay)
				assert.Equal(t, 0, cfg.RPCRateLimit.RequestsPerSecond)
				assert.Equal(t, 5*time.Minute, cfg.RPCRateLimit.MaxQueueTime)
				assert.Equal(t, 4, cfg.RPCRateLimit.MaxWorkers)
				assert.True(t, cfg.RPCRateLimit.EnableLocalFallback)
				assert.InDelta(t, 0.5, cfg.RPCRateLimit.LocalFallbackMultiplier, 1e-9)
			},
		},
		{
			name: "missing rpc url",
			configFile: `
protocol:
  margin_address: "0x6bd780e7fdf01d77e4d475c821f1e7ae05409072"
`,
			expectError: "ethereum.rpc_url is required",
		},
		{
			name: "negative rpc rate",
			configFile: `
ethereum:
  rpc_url: "http://localhost:8545"
protocol:
  margin_address: "0x6bd780e7fdf01d77e4d475c821f1e7ae05409072"
rpc_rate_limit:
  requests_per_second: -1
`,
			expectError: "rpc_rate_limit.requests_per_second must not be negative",
		},
		{
			name: "missing margin address",
			configFile: `
ethereum:
  rpc_url: "http://localhost:8545"
`,
			expectError: "protocol.margin_address is required",
		},
		{
			name: "unsupported chain",
			configFile: `
ethereum:
  rpc_url: "http://localhost:8545"
  chain_id: "tezos:mainnet"
protocol:
  margin_address: "0x6bd780e7fdf01d77e4d475c821f1e7ae05409072"
`,
			expectError: "unsupported ethereum.chain_id",
		},
		{
			name:        "missing config file",
			configFile:  "",
			expectError: "ethereum.rpc_url is required",
		},
		{
			name: "invalid yaml",
			configFile: `
				database:
				  host: localhost
				  port: invalid
			`,
			expectError: "failed to",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadEthereumEmitterConfig(writeConfig(t, tt.configFile), t.TempDir())

			if tt.expectError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectError)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)
			tt.validate(t, cfg)
		})
	}
}

func TestLoadLedgerWorkerConfig(t *testing.T) {
	tests := []struct {
		name        string
		configFile  string
		expectError string
		validate    func(*testing.T, *LedgerWorkerConfig)
	}{
		{
			name: "valid config file",
			configFile: `
database:
  host: localhost
  read_host: replica
  user: testuser
  password: testpass
  dbname: testdb
  max_open_conns: 20
  conn_max_lifetime: "1h"
nats:
  url: "nats://localhost:4222"
  consumer_name: "worker-1"
  ack_wait: "1m"
  max_deliver: 10
ethereum:
  chain_id: "eip155:42161"
protocol:
  margin_address: "0x6bd780e7fdf01d77e4d475c821f1e7ae05409072"
  expiry_addresses:
    - "0x377d6a3ed7fe4b6b19c4a8b7ca2ecac4f7cc4b93"
processor:
  retry_initial_interval: "500ms"
  retry_max_elapsed_time: "10m"
  auto_migrate: false
metrics:
  listen_address: ":9100"
`,
			validate: func(t *testing.T, cfg *LedgerWorkerConfig) {
				assert.Equal(t, "replica", cfg.Database.ReadHost)
				assert.Equal(t, 20, cfg.Database.MaxOpenConns)
				assert.Equal(t, time.Hour, cfg.Database.ConnMaxLifetime)
				assert.Equal(t, "worker-1", cfg.NATS.ConsumerName)
				assert.Equal(t, time.Minute, cfg.NATS.AckWait)
				assert.Equal(t, 10, cfg.NATS.MaxDeliver)
				assert.Equal(t, domain.ChainArbitrumOne, cfg.Ethereum.ChainID)
				assert.Equal(t, 500*time.Millisecond, cfg.Processor.RetryInitialInterval)
				assert.Equal(t, 10*time.Minute, cfg.Processor.RetryMaxElapsedTime)
				assert.False(t, cfg.Processor.AutoMigrate)
				assert.Equal(t, ":9100", cfg.Metrics.ListenAddress)
			},
		},
		{
			name: "config with defaults",
			configFile: `
database:
  host: localhost
  dbname: testdb
protocol:
  margin_address: "0x6bd780e7fdf01d77e4d475c821f1e7ae05409072"
`,
			validate: func(t *testing.T, cfg *LedgerWorkerConfig) {
				assert.Equal(t, "ledger-worker", cfg.NATS.ConsumerName)
				assert.Equal(t, "ledger-worker", cfg.NATS.ConnectionName)
				assert.Equal(t, 30*time.Second, cfg.NATS.AckWait)
				assert.Equal(t, -1, cfg.NATS.MaxDeliver)
				assert.Equal(t, time.Second, cfg.Processor.RetryInitialInterval)
				assert.Equal(t, 5*time.Minute, cfg.Processor.RetryMaxElapsedTime)
				assert.True(t, cfg.Processor.AutoMigrate)
				assert.Equal(t, ":9090", cfg.Metrics.ListenAddress)
			},
		},
		{
			name: "missing database host",
			configFile: `
database:
  dbname: testdb
protocol:
  margin_address: "0x6bd780e7fdf01d77e4d475c821f1e7ae05409072"
`,
			expectError: "database.host is required",
		},
		{
			name: "missing database name",
			configFile: `
database:
  host: localhost
`,
			expectError: "database.dbname is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadLedgerWorkerConfig(writeConfig(t, tt.configFile), t.TempDir())

			if tt.expectError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectError)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)
			tt.validate(t, cfg)
		})
	}
}

func TestProtocolConfig_Contracts(t *testing.T) {
	cfg := ProtocolConfig{
		MarginAddress:              "0x6BD780E7FDF01D77E4D475C821F1E7AE05409072",
		ExpiryAddresses:            []string{"0x377d6a3ed7fe4b6b19c4a8b7ca2ecac4f7cc4b93"},
		MarginPositionProxyAddress: "0x6bd780e7fdf01d77e4d475c821f1e7ae05409072", // duplicate of the core contract
		AmmFactoryAddress:          "0x05d1cf1e4c6aa0d0a6f4f1a1c1ac4aafd6f7e9fc",
	}

	assert.Equal(t, []string{
		"0x6bd780e7fdf01d77e4d475c821f1e7ae05409072",
		"0x05d1cf1e4c6aa0d0a6f4f1a1c1ac4aafd6f7e9fc",
		"0x377d6a3ed7fe4b6b19c4a8b7ca2ecac4f7cc4b93",
	}, cfg.Contracts())
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name: "complete config",
			config: DatabaseConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "testuser",
				Password: "testpass",
				DBName:   "testdb",
				SSLMode:  "require",
			},
			expected: "host=localhost port=5432 user=testuser password=testpass dbname=testdb sslmode=require",
		},
		{
			name: "with special characters in password",
			config: DatabaseConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "testuser",
				Password: "p@ssw0rd!",
				DBName:   "testdb",
				SSLMode:  "disable",
			},
			expected: "host=localhost port=5432 user=testuser password=p@ssw0rd! dbname=testdb sslmode=disable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}

func TestDatabaseConfig_ReadDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "primary",
		Port:     5432,
		ReadHost: "replica",
		User:     "user",
		Password: "pass",
		DBName:   "db",
		SSLMode:  "disable",
	}

	assert.Equal(t, "host=replica port=5432 user=user password=pass dbname=db sslmode=disable", cfg.ReadDSN())

	cfg.ReadPort = 6432
	assert.Equal(t, "host=replica port=6432 user=user password=pass dbname=db sslmode=disable", cfg.ReadDSN())
}

func TestConfigWithEnvironmentVariables(t *testing.T) {
	tmpDir := t.TempDir()

	envDir := filepath.Join(tmpDir, "env")
	err := os.MkdirAll(envDir, 0750)
	require.NoError(t, err)

	// Viper uses the FF_MARGIN_INDEXER_ prefix
	envFile := filepath.Join(envDir, ".env")
	envContent := `FF_MARGIN_INDEXER_DEBUG=true
FF_MARGIN_INDEXER_DATABASE_HOST=env-host
FF_MARGIN_INDEXER_DATABASE_PORT=3306
FF_MARGIN_INDEXER_DATABASE_DBNAME=env-db
FF_MARGIN_INDEXER_PROTOCOL_MARGIN_ADDRESS=0x6bd780e7fdf01d77e4d475c821f1e7ae05409072
`
	err = os.WriteFile(envFile, []byte(envContent), 0600)
	require.NoError(t, err)

	// Per-service local file overrides the shared one
	serviceEnvFile := filepath.Join(envDir, ".env.ledger-worker.local")
	err = os.WriteFile(serviceEnvFile, []byte("FF_MARGIN_INDEXER_METRICS_LISTEN_ADDRESS=:9999\n"), 0600)
	require.NoError(t, err)

	t.Cleanup(func() {
		for _, key := range []string{
			"FF_MARGIN_INDEXER_DEBUG",
			"FF_MARGIN_INDEXER_DATABASE_HOST",
			"FF_MARGIN_INDEXER_DATABASE_PORT",
			"FF_MARGIN_INDEXER_DATABASE_DBNAME",
			"FF_MARGIN_INDEXER_PROTOCOL_MARGIN_ADDRESS",
			"FF_MARGIN_INDEXER_METRICS_LISTEN_ADDRESS",
		} {
			_ = os.Unsetenv(key)
		}
	})

	configPath := filepath.Join(tmpDir, "config.yaml")
	configFile := `
debug: false
database:
  host: file-host
  port: 5432
  dbname: file-db
`
	err = os.WriteFile(configPath, []byte(configFile), 0600)
	require.NoError(t, err)

	cfg, err := LoadLedgerWorkerConfig(configPath, envDir)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Environment variables from the .env files override config file values
	assert.True(t, cfg.Debug)
	assert.Equal(t, "env-host", cfg.Database.Host)
	assert.Equal(t, 3306, cfg.Database.Port)
	assert.Equal(t, "env-db", cfg.Database.DBName)
	assert.Equal(t, "0x6bd780e7fdf01d77e4d475c821f1e7ae05409072", cfg.Protocol.MarginAddress)
	assert.Equal(t, ":9999", cfg.Metrics.ListenAddress)
}
