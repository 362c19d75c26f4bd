// Package config loads the configuration for all three node roles:
// defaults, then an optional YAML file, then AUCTION_-prefixed
// environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Bank  BankConfig  `koanf:"bank"`
	House HouseConfig `koanf:"house"`
	Agent AgentConfig `koanf:"agent"`
}

// BankConfig configures the bank server.
type BankConfig struct {
	ListenAddr        string        `koanf:"listen_addr" validate:"required"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	RequestsPerSecond int           `koanf:"requests_per_second" validate:"gte=0"`
	BurstSize         int           `koanf:"burst_size" validate:"gte=0"`
}

// HouseConfig configures an auction house node.
type HouseConfig struct {
	BankAddr string `koanf:"bank_addr" validate:"required,hostname_port"`
	// ListenAddr may use port 0 to auto-assign; the resolved port is
	// advertised to the bank.
	ListenAddr        string        `koanf:"listen_addr" validate:"required"`
	AdvertiseHost     string        `koanf:"advertise_host"`
	OpsAddr           string        `koanf:"ops_addr"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	BidWindow         time.Duration `koanf:"bid_window" validate:"gt=0"`
	SettlementTimeout time.Duration `koanf:"settlement_timeout" validate:"gt=0,gtefield=BidWindow"`
}

// AgentConfig configures a bidder node.
type AgentConfig struct {
	BankAddr       string        `koanf:"bank_addr" validate:"required,hostname_port"`
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"gt=0"`
	BidTimeout     time.Duration `koanf:"bid_timeout" validate:"gt=0"`
}

// Load reads configuration for any role. Path is the optional YAML
// config file; empty falls back to configs/config.yaml.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Environment: "development",
		LogLevel:    "info",
		Bank: BankConfig{
			ListenAddr:        ":7100",
			RequestsPerSecond: 100,
			BurstSize:         200,
		},
		House: HouseConfig{
			BankAddr:          "localhost:7100",
			ListenAddr:        ":0",
			OpsAddr:           ":7190",
			BidWindow:         30 * time.Second,
			SettlementTimeout: 60 * time.Second,
		},
		Agent: AgentConfig{
			BankAddr:       "localhost:7100",
			RequestTimeout: 10 * time.Second,
			BidTimeout:     30 * time.Second,
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path == "" {
		path = "configs/config.yaml"
	}
	// The config file is optional.
	_ = k.Load(file.Provider(path), yaml.Parser())

	if err := k.Load(env.Provider("AUCTION_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "AUCTION_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
