package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/feral-file/ff-margin-indexer/internal/domain"
)

// BaseConfig holds base configuration
type BaseConfig struct {
	Debug     bool   `mapstructure:"debug"`
	SentryDSN string `mapstructure:"sentry_dsn"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadHost        string        `mapstructure:"read_host"`
	ReadPort        int           `mapstructure:"read_port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`     // Maximum number of open connections to the database
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`     // Maximum number of idle connections in the pool
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`  // Maximum amount of time a connection may be reused (e.g., "5m", "1h")
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"` // Maximum amount of time a connection may be idle (e.g., "10m", "30m")
	// SlowQueryThreshold is the duration above which a statement is logged at warn level
	SlowQueryThreshold time.Duration `mapstructure:"slow_query_threshold"`
}

// NATSConfig holds NATS JetStream configuration
type NATSConfig struct {
	URL             string        `mapstructure:"url"`
	StreamName      string        `mapstructure:"stream_name"`
	ConsumerName    string        `mapstructure:"consumer_name"`
	MaxReconnects   int           `mapstructure:"max_reconnects"`
	ReconnectWait   time.Duration `mapstructure:"reconnect_wait"`
	ConnectionName  string        `mapstructure:"connection_name"`
	AckWait         time.Duration `mapstructure:"ack_wait"`
	MaxDeliver      int           `mapstructure:"max_deliver"`
	DuplicateWindow time.Duration `mapstructure:"duplicate_window"` // Window in which republished events are dropped by message id
}

// EthereumConfig holds configuration of the chain the protocol is deployed on
type EthereumConfig struct {
	RPCURL               string        `mapstructure:"rpc_url"`
	ChainID              domain.Chain  `mapstructure:"chain_id"`
	StartBlock           uint64        `mapstructure:"start_block"`   // Usually the deployment block of the core margin contract
	Confirmations        uint64        `mapstructure:"confirmations"` // Blocks behind the head before logs are read
	BlockRange           uint64        `mapstructure:"block_range"`   // Blocks per log query
	PollInterval         time.Duration `mapstructure:"poll_interval"`
	BlockHeadTTL         time.Duration `mapstructure:"block_head_ttl"`
	BlockHeadStaleWindow time.Duration `mapstructure:"block_head_stale_window"`
}

// ProtocolConfig holds the addresses of the protocol contracts
type ProtocolConfig struct {
	MarginAddress              string   `mapstructure:"margin_address"`
	ExpiryAddresses            []string `mapstructure:"expiry_addresses"`
	MarginPositionProxyAddress string   `mapstructure:"margin_position_proxy_address"`
	BorrowPositionProxyAddress string   `mapstructure:"borrow_position_proxy_address"`
	AmmFactoryAddress          string   `mapstructure:"amm_factory_address"`
	VaultFactoryAddresses      []string `mapstructure:"vault_factory_addresses"`
}

// Contracts returns every configured contract address, normalized and without duplicates
func (c *ProtocolConfig) Contracts() []string {
	candidates := []string{c.MarginAddress, c.MarginPositionProxyAddress, c.BorrowPositionProxyAddress, c.AmmFactoryAddress}
	candidates = append(candidates, c.ExpiryAddresses...)
	candidates = append(candidates, c.VaultFactoryAddresses...)

	seen := make(map[string]struct{}, len(candidates))
	var addresses []string
	for _, address := range candidates {
		if address == "" {
			continue
		}
		address = domain.NormalizeAddress(address)
		if _, ok := seen[address]; ok {
			continue
		}
		seen[address] = struct{}{}
		addresses = append(addresses, address)
	}

	return addresses
}

// EmitterConfig holds the block cursor settings of the emitter
type EmitterConfig struct {
	CursorSaveFreq  uint64        `mapstructure:"cursor_save_freq"`  // Save cursor every N blocks
	CursorSaveDelay time.Duration `mapstructure:"cursor_save_delay"` // Or save cursor every N seconds
}

// RPCRateLimitConfig holds the limits of the JSON-RPC endpoint. Emitters sharing a
// Redis and an RPC key share one limit.
type RPCRateLimitConfig struct {
	RequestsPerSecond       int           `mapstructure:"requests_per_second"` // 0 disables rate limiting
	Burst                   int           `mapstructure:"burst"`
	MaxQueueTime            time.Duration `mapstructure:"max_queue_time"`
	MaxWorkers              int           `mapstructure:"max_workers"`
	RedisAddr               string        `mapstructure:"redis_addr"` // Empty limits locally only
	RedisPassword           string        `mapstructure:"redis_password"`
	RedisDB                 int           `mapstructure:"redis_db"`
	EnableLocalFallback     bool          `mapstructure:"enable_local_fallback"`
	LocalFallbackMultiplier float64       `mapstructure:"local_fallback_multiplier"`
}

// ProcessorConfig holds the retry settings of the ledger processor
type ProcessorConfig struct {
	RetryInitialInterval time.Duration `mapstructure:"retry_initial_interval"`
	RetryMaxElapsedTime  time.Duration `mapstructure:"retry_max_elapsed_time"`
	AutoMigrate          bool          `mapstructure:"auto_migrate"`
}

// MetricsConfig holds the operations server configuration
type MetricsConfig struct {
	ListenAddress string `mapstructure:"listen_address"`
}

// EthereumEmitterConfig holds configuration for ethereum-event-emitter
type EthereumEmitterConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig `mapstructure:"database"`
	NATS       NATSConfig     `mapstructure:"nats"`
	Ethereum   EthereumConfig `mapstructure:"ethereum"`
	Protocol   ProtocolConfig `mapstructure:"protocol"`
	Emitter    EmitterConfig  `mapstructure:"emitter"`

	RPCRateLimit RPCRateLimitConfig `mapstructure:"rpc_rate_limit"`
}

// LedgerWorkerConfig holds configuration for ledger-worker
type LedgerWorkerConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig  `mapstructure:"database"`
	NATS       NATSConfig      `mapstructure:"nats"`
	Ethereum   EthereumConfig  `mapstructure:"ethereum"`
	Protocol   ProtocolConfig  `mapstructure:"protocol"`
	Processor  ProcessorConfig `mapstructure:"processor"`
	Metrics    MetricsConfig   `mapstructure:"metrics"`
}

// setCommonDefaults sets the defaults shared by every binary
func setCommonDefaults(v *viper.Viper) {
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.slow_query_threshold", "500ms")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.stream_name", "LEDGER_EVENTS")
	v.SetDefault("nats.duplicate_window", "10m")
	v.SetDefault("ethereum.chain_id", string(domain.ChainArbitrumOne))
}

// LoadEthereumEmitterConfig loads configuration for ethereum-event-emitter
func LoadEthereumEmitterConfig(configFile string, envPath string) (*EthereumEmitterConfig, error) {
	v := configureViper("ethereum-event-emitter", configFile, envPath)

	// Set defaults
	setCommonDefaults(v)
	v.SetDefault("nats.connection_name", "ethereum-event-emitter")
	v.SetDefault("ethereum.confirmations", 0)
	v.SetDefault("ethereum.block_range", 2000)
	v.SetDefault("ethereum.poll_interval", "2s")
	v.SetDefault("ethereum.block_head_ttl", "2s")
	v.SetDefault("ethereum.block_head_stale_window", "60s")
	v.SetDefault("emitter.cursor_save_freq", 2)
	v.SetDefault("emitter.cursor_save_delay", "30s")
	v.SetDefault("rpc_rate_limit.requests_per_second", 0)
	v.SetDefault("rpc_rate_limit.max_queue_time", "5m")
	v.SetDefault("rpc_rate_limit.max_workers", 4)
	v.SetDefault("rpc_rate_limit.enable_local_fallback", true)
	v.SetDefault("rpc_rate_limit.local_fallback_multiplier", 0.5)

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var config EthereumEmitterConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate required fields
	if config.Ethereum.RPCURL == "" {
		return nil, errors.New("ethereum.rpc_url is required")
	}
	if config.RPCRateLimit.RequestsPerSecond < 0 {
		return nil, errors.New("rpc_rate_limit.requests_per_second must not be negative")
	}
	if err := validateCommon(config.Ethereum.ChainID, config.Protocol); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadLedgerWorkerConfig loads configuration for ledger-worker
func LoadLedgerWorkerConfig(configFile string, envPath string) (*LedgerWorkerConfig, error) {
	v := configureViper("ledger-worker", configFile, envPath)

	// Set defaults
	setCommonDefaults(v)
	v.SetDefault("nats.connection_name", "ledger-worker")
	v.SetDefault("nats.consumer_name", "ledger-worker")
	v.SetDefault("nats.ack_wait", "30s")
	v.SetDefault("nats.max_deliver", -1)
	v.SetDefault("processor.retry_initial_interval", "1s")
	v.SetDefault("processor.retry_max_elapsed_time", "5m")
	v.SetDefault("processor.auto_migrate", true)
	v.SetDefault("metrics.listen_address", ":9090")

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var config LedgerWorkerConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate required fields
	if config.Database.Host == "" {
		return nil, errors.New("database.host is required")
	}
	if config.Database.DBName == "" {
		return nil, errors.New("database.dbname is required")
	}
	if err := validateCommon(config.Ethereum.ChainID, config.Protocol); err != nil {
		return nil, err
	}

	return &config, nil
}

// validateCommon checks the settings every binary needs
func validateCommon(chain domain.Chain, protocol ProtocolConfig) error {
	if !domain.IsValidChain(chain) {
		return fmt.Errorf("unsupported ethereum.chain_id %q", chain)
	}
	if protocol.MarginAddress == "" {
		return errors.New("protocol.margin_address is required")
	}
	return nil
}

// readConfig reads the config file, falling back to environment variables when there is none
func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			// Config file not found, use environment variables
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// configureViper returns a viper instance with the config file and environment variables set
func configureViper(service string, configFile string, envPath string) *viper.Viper {
	v := viper.New()

	// Load environment variables
	loadEnv(envPath, service)

	// Set config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		// Search for config.yaml in multiple locations:
		// 1. Current directory
		v.AddConfigPath(".")
		// 2. Service-specific directory (e.g., cmd/ledger-worker/)
		v.AddConfigPath(fmt.Sprintf("cmd/%s/", service))
		// 3. Config directory
		v.AddConfigPath("config/")
	}

	// Set environment variables
	v.SetEnvPrefix("FF_MARGIN_INDEXER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind all environment variables
	bindAllEnvVars(v)
	return v
}

// bindAllEnvVars explicitly binds all possible environment variables
// This is required for viper to map env vars to config struct fields when no config file exists
func bindAllEnvVars(v *viper.Viper) {
	keys := []string{
		"debug",
		"sentry_dsn",
		// Database
		"database.host",
		"database.port",
		"database.read_host",
		"database.read_port",
		"database.user",
		"database.password",
		"database.dbname",
		"database.sslmode",
		"database.max_open_conns",
		"database.max_idle_conns",
		"database.conn_max_lifetime",
		"database.conn_max_idle_time",
		"database.slow_query_threshold",
		// NATS
		"nats.url",
		"nats.stream_name",
		"nats.consumer_name",
		"nats.max_reconnects",
		"nats.reconnect_wait",
		"nats.connection_name",
		"nats.ack_wait",
		"nats.max_deliver",
		"nats.duplicate_window",
		// Ethereum
		"ethereum.rpc_url",
		"ethereum.chain_id",
		"ethereum.start_block",
		"ethereum.confirmations",
		"ethereum.block_range",
		"ethereum.poll_interval",
		"ethereum.block_head_ttl",
		"ethereum.block_head_stale_window",
		// Protocol
		"protocol.margin_address",
		"protocol.expiry_addresses",
		"protocol.margin_position_proxy_address",
		"protocol.borrow_position_proxy_address",
		"protocol.amm_factory_address",
		"protocol.vault_factory_addresses",
		// Emitter
		"emitter.cursor_save_freq",
		"emitter.cursor_save_delay",
		// RPC rate limit
		"rpc_rate_limit.requests_per_second",
		"rpc_rate_limit.burst",
		"rpc_rate_limit.max_queue_time",
		"rpc_rate_limit.max_workers",
		"rpc_rate_limit.redis_addr",
		"rpc_rate_limit.redis_password",
		"rpc_rate_limit.redis_db",
		"rpc_rate_limit.enable_local_fallback",
		"rpc_rate_limit.local_fallback_multiplier",
		// Processor
		"processor.retry_initial_interval",
		"processor.retry_max_elapsed_time",
		"processor.auto_migrate",
		// Metrics
		"metrics.listen_address",
	}

	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// loadEnv loads environment variables from the config directory
func loadEnv(envPath string, service string) {
	// Always try shared base first, then local, then optional per-service local.
	envFiles := []string{".env", ".env.local"}
	if service != "" {
		envFiles = append(envFiles, ".env."+service+".local")
	}

	// Default to config directory
	if envPath == "" {
		envPath = "config/"
	}

	for _, envFile := range envFiles {
		candidate := filepath.Join(envPath, envFile)
		_ = godotenv.Overload(candidate) // Overload lets later files override earlier ones
	}
}

// ChdirRepoRoot changes the current working directory to the repository root
func ChdirRepoRoot() {
	cwd, _ := os.Getwd()
	for range 5 {
		if _, err := os.Stat(filepath.Join(cwd, "config")); err == nil {
			_ = os.Chdir(cwd)
			return
		}
		cwd = filepath.Dir(cwd)
	}
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// ReadDSN returns the read-replica database connection string.
// If ReadPort is not configured, it falls back to Port.
func (c *DatabaseConfig) ReadDSN() string {
	port := c.ReadPort
	if port == 0 {
		port = c.Port
	}

	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.ReadHost, port, c.User, c.Password, c.DBName, c.SSLMode)
}
