package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

var (
	GlobalConfigCallback ConfigCallback[GlobalConfig] = ConfigCallback[GlobalConfig]{}
	CfgFlag                                           = flag.String("config", "config.toml", "Configuration file (toml format)")

	Timeout               = 5 * time.Second
	BackoffMaxElapsedTime = 2 * time.Minute
)

type GlobalConfig interface {
	LoggerConfig() LoggerConfig
	ChainConfig() ChainConfig
}

type Config struct {
	DB      DBConfig      `toml:"db"`
	Logger  LoggerConfig  `toml:"logger"`
	Chain   ChainConfig   `toml:"chain"`
	Sync    SyncConfig    `toml:"sync"`
	Relay   RelayConfig   `toml:"relay"`
	Deposit DepositConfig `toml:"deposit"`
}

type LoggerConfig struct {
	Level       string `toml:"level"` // valid values are: DEBUG, INFO, WARN, ERROR, DPANIC, PANIC, FATAL (zap)
	File        string `toml:"file"`
	MaxFileSize int    `toml:"max_file_size"` // In megabytes
	Console     bool   `toml:"console"`
}

type DBConfig struct {
	Host             string `toml:"host" envconfig:"DB_HOST"`
	Port             int    `toml:"port" envconfig:"DB_PORT"`
	Database         string `toml:"database" envconfig:"DB_DATABASE"`
	Username         string `toml:"username" envconfig:"DB_USERNAME"`
	Password         string `toml:"password" envconfig:"DB_PASSWORD"`
	LogQueries       bool   `toml:"log_queries"`
	DropTableAtStart bool   `toml:"drop_table_at_start"`
}

type ChainConfig struct {
	NodeURL         string `toml:"node_url" envconfig:"CHAIN_NODE_URL"`
	ContractAddress string `toml:"contract_address" envconfig:"CONTRACT_ADDRESS"`
	IndexerURL      string `toml:"indexer_url" envconfig:"CHAIN_INDEXER_URL"`
}

type SyncConfig struct {
	WindowSize uint64 `toml:"window_size"`
}

type RelayConfig struct {
	OperatorAddress    string `toml:"operator_address" envconfig:"OPERATOR_WALLET_ADDRESS"`
	OperatorPrivateKey string `toml:"-" envconfig:"OPERATOR_WALLET_PRIVATE_KEY"`
	SubmitRetries      uint   `toml:"submit_retries"`
	SettleDelayMillis  int    `toml:"settle_delay_millis"`
}

type DepositConfig struct {
	IndexerURL         string `toml:"indexer_url" envconfig:"DEPOSIT_INDEXER_URL"`
	PageLimit          int    `toml:"page_limit"`
	PollIntervalMillis int    `toml:"poll_interval_millis"`
	ReceiptRetries     uint   `toml:"receipt_retries"`
}

func newConfig() *Config {
	return &Config{
		Sync: SyncConfig{
			WindowSize: 10000,
		},
		Relay: RelayConfig{
			SubmitRetries:     3,
			SettleDelayMillis: 1000,
		},
		Deposit: DepositConfig{
			PageLimit:          100,
			PollIntervalMillis: 1000,
			ReceiptRetries:     10,
		},
	}
}

func BuildConfig() (*Config, error) {
	cfgFileName := *CfgFlag

	cfg := newConfig()
	err := ParseConfigFile(cfg, cfgFileName)
	if err != nil {
		return nil, err
	}
	err = ReadEnv(cfg)
	if err != nil {
		return nil, err
	}
	if err := cfg.Relay.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func ParseConfigFile(cfg *Config, fileName string) error {
	content, err := os.ReadFile(fileName)
	if err != nil {
		return fmt.Errorf("error opening config file: %w", err)
	}

	_, err = toml.Decode(string(content), cfg)
	if err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}
	return nil
}

func ReadEnv(cfg interface{}) error {
	err := envconfig.Process("", cfg)
	if err != nil {
		return fmt.Errorf("error reading env config: %w", err)
	}
	return nil
}

// validate checks the startup requirements for the shared operator wallet.
// A missing or malformed address or key aborts the process.
func (r RelayConfig) validate() error {
	if r.OperatorAddress == "" {
		return errors.New("OPERATOR_WALLET_ADDRESS is missing")
	}
	if !common.IsHexAddress(r.OperatorAddress) {
		return errors.Errorf("%s is not a valid address for OPERATOR_WALLET_ADDRESS", r.OperatorAddress)
	}
	if r.OperatorPrivateKey == "" {
		return errors.New("OPERATOR_WALLET_PRIVATE_KEY is missing")
	}
	return nil
}

func (c Config) LoggerConfig() LoggerConfig {
	return c.Logger
}

func (c Config) ChainConfig() ChainConfig {
	return c.Chain
}
