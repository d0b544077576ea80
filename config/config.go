package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v2"
)

// Execution modes
const (
	ModeSequential = "sequential"
	ModeBundle     = "bundle"
)

const defaultConfigName = ".arbengine.json"

type Config struct {
	Network   NetworkConfig   `json:"network" yaml:"network"`
	Tokens    []TokenConfig   `json:"tokens" yaml:"tokens"`
	Venues    []VenueConfig   `json:"venues" yaml:"venues"`
	Scanner   ScannerConfig   `json:"scanner" yaml:"scanner"`
	Execution ExecutionConfig `json:"execution" yaml:"execution"`
	Bundle    BundleConfig    `json:"bundle" yaml:"bundle"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`

	RPCRateLimit   RateLimitConfig `json:"rpc_rate_limit" yaml:"rpc_rate_limit"`
	RelayRateLimit RateLimitConfig `json:"relay_rate_limit" yaml:"relay_rate_limit"`
}

type NetworkConfig struct {
	RPCEndpoint    string   `json:"rpc_endpoint" yaml:"rpc_endpoint"`
	ChainID        uint64   `json:"chain_id" yaml:"chain_id"`
	RelayURL       string   `json:"relay_url" yaml:"relay_url"`
	GasLimit       uint64   `json:"gas_limit" yaml:"gas_limit"`
	ReceiptTimeout Duration `json:"receipt_timeout" yaml:"receipt_timeout"`
}

type TokenConfig struct {
	Symbol   string `json:"symbol" yaml:"symbol"`
	Address  string `json:"address" yaml:"address"`
	Decimals uint8  `json:"decimals" yaml:"decimals"`
}

// VenueConfig names a pool by its two token symbols. Address and Router
// default to the protocol's deployment when empty.
type VenueConfig struct {
	ID       string `json:"id" yaml:"id"`
	Protocol string `json:"protocol" yaml:"protocol"`
	Address  string `json:"address,omitempty" yaml:"address,omitempty"`
	Router   string `json:"router,omitempty" yaml:"router,omitempty"`
	Token0   string `json:"token0" yaml:"token0"`
	Token1   string `json:"token1" yaml:"token1"`
	FeeBps   uint32 `json:"fee_bps,omitempty" yaml:"fee_bps,omitempty"`
}

// StartConfig amounts are in whole units of the start token, e.g. "1.5"
type StartConfig struct {
	Token        string   `json:"token" yaml:"token"`
	Amounts      []string `json:"amounts" yaml:"amounts"`
	MinProfit    string   `json:"min_profit,omitempty" yaml:"min_profit,omitempty"`
	ApplyGasCost bool     `json:"apply_gas_cost" yaml:"apply_gas_cost"`
}

// ScannerConfig MinProfit applies to starts without their own, in the start
// token's units
type ScannerConfig struct {
	Interval           Duration      `json:"interval" yaml:"interval"`
	MaxHops            int           `json:"max_hops" yaml:"max_hops"`
	SlippageBps        uint32        `json:"slippage_bps" yaml:"slippage_bps"`
	RefreshConcurrency int           `json:"refresh_concurrency" yaml:"refresh_concurrency"`
	MinProfit          string        `json:"min_profit,omitempty" yaml:"min_profit,omitempty"`
	Starts             []StartConfig `json:"starts" yaml:"starts"`
	Venues             []string      `json:"venues,omitempty" yaml:"venues,omitempty"`
}

type SearchConfig struct {
	Iterations int    `json:"iterations" yaml:"iterations"`
	CeilingBps uint32 `json:"ceiling_bps" yaml:"ceiling_bps"`
}

type ExecutionConfig struct {
	Mode              string       `json:"mode" yaml:"mode"`
	SlippageBps       uint32       `json:"slippage_bps" yaml:"slippage_bps"`
	Deadline          Duration     `json:"deadline" yaml:"deadline"`
	RefreshBeforeSwap bool         `json:"refresh_before_swap" yaml:"refresh_before_swap"`
	StrictStaleness   bool         `json:"strict_staleness" yaml:"strict_staleness"`
	Search            SearchConfig `json:"search" yaml:"search"`
}

type BundleConfig struct {
	// PriorityShareBps is the share of net profit paid to Coinbase
	PriorityShareBps uint32 `json:"priority_share_bps" yaml:"priority_share_bps"`
	Coinbase         string `json:"coinbase,omitempty" yaml:"coinbase,omitempty"`
	MaxTargetBlocks  int    `json:"max_target_blocks" yaml:"max_target_blocks"`
	CacheSize        int    `json:"cache_size" yaml:"cache_size"`
}

type MetricsConfig struct {
	Addr           string   `json:"addr" yaml:"addr"`
	ReportInterval Duration `json:"report_interval" yaml:"report_interval"`
	LogMetrics     bool     `json:"log_metrics" yaml:"log_metrics"`
}

// RateLimitConfig with zero RequestsPerSecond disables throttling
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	BurstSize         int     `json:"burst_size" yaml:"burst_size"`
}

type SecureConfig struct {
	PrivateKey string
	// FlashbotsKey signs relay requests; empty outside bundle mode
	FlashbotsKey string
}

func (c *Config) ValidateConfig() error {
	var errors []string

	if err := c.Network.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("network config error: %v", err))
	}

	symbols := make(map[string]bool, len(c.Tokens))
	for i := range c.Tokens {
		if err := c.Tokens[i].Validate(); err != nil {
			errors = append(errors, fmt.Sprintf("token %d error: %v", i, err))
			continue
		}
		if symbols[c.Tokens[i].Symbol] {
			errors = append(errors, fmt.Sprintf("token %s is defined twice", c.Tokens[i].Symbol))
		}
		symbols[c.Tokens[i].Symbol] = true
	}

	venues := make(map[string]bool, len(c.Venues))
	for i := range c.Venues {
		v := &c.Venues[i]
		if err := v.Validate(symbols); err != nil {
			errors = append(errors, fmt.Sprintf("venue %q error: %v", v.ID, err))
			continue
		}
		if venues[v.ID] {
			errors = append(errors, fmt.Sprintf("venue %s is defined twice", v.ID))
		}
		venues[v.ID] = true
	}

	if err := c.Scanner.Validate(symbols, venues); err != nil {
		errors = append(errors, fmt.Sprintf("scanner config error: %v", err))
	}
	if err := c.Execution.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("execution config error: %v", err))
	}
	if c.Execution.Mode == ModeBundle {
		if err := c.Bundle.Validate(); err != nil {
			errors = append(errors, fmt.Sprintf("bundle config error: %v", err))
		}
		if c.Network.RelayURL == "" {
			errors = append(errors, "relay_url must be specified in bundle mode")
		}
	}

	if err := c.RPCRateLimit.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("RPC rate limit error: %v", err))
	}
	if err := c.RelayRateLimit.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("relay rate limit error: %v", err))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

func (n *NetworkConfig) Validate() error {
	if n.RPCEndpoint == "" {
		return fmt.Errorf("rpc_endpoint must be specified")
	}
	if n.ChainID == 0 {
		return fmt.Errorf("chain_id must be specified")
	}
	return nil
}

func (t *TokenConfig) Validate() error {
	if t.Symbol == "" {
		return fmt.Errorf("symbol must be specified")
	}
	if !common.IsHexAddress(t.Address) {
		return fmt.Errorf("invalid address %q", t.Address)
	}
	if t.Decimals > 18 {
		return fmt.Errorf("decimals %d exceed 18", t.Decimals)
	}
	return nil
}

func (v *VenueConfig) Validate(symbols map[string]bool) error {
	if v.ID == "" {
		return fmt.Errorf("id must be specified")
	}
	if _, err := protocolByName(v.Protocol); err != nil {
		return err
	}
	if !symbols[v.Token0] || !symbols[v.Token1] {
		return fmt.Errorf("tokens %s/%s must both be defined", v.Token0, v.Token1)
	}
	if v.Token0 == v.Token1 {
		return fmt.Errorf("identical tokens %s", v.Token0)
	}
	if v.Address != "" && !common.IsHexAddress(v.Address) {
		return fmt.Errorf("invalid address %q", v.Address)
	}
	if v.Router != "" && !common.IsHexAddress(v.Router) {
		return fmt.Errorf("invalid router %q", v.Router)
	}
	if v.FeeBps >= 10_000 {
		return fmt.Errorf("fee %d bps out of range", v.FeeBps)
	}
	return nil
}

func (s *ScannerConfig) Validate(symbols, venues map[string]bool) error {
	if s.Interval.Duration() <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if s.MaxHops < 2 || s.MaxHops > 4 {
		return fmt.Errorf("max_hops must be between 2 and 4")
	}
	if s.SlippageBps >= 10_000 {
		return fmt.Errorf("slippage_bps must be below 10000")
	}
	if s.RefreshConcurrency < 0 {
		return fmt.Errorf("refresh_concurrency must not be negative")
	}
	if len(s.Starts) == 0 {
		return fmt.Errorf("at least one start must be specified")
	}
	for _, start := range s.Starts {
		if !symbols[start.Token] {
			return fmt.Errorf("start token %s is not defined", start.Token)
		}
		if len(start.Amounts) == 0 {
			return fmt.Errorf("start token %s has no amounts", start.Token)
		}
	}
	for _, id := range s.Venues {
		if !venues[id] {
			return fmt.Errorf("venue %s is not defined", id)
		}
	}
	return nil
}

func (e *ExecutionConfig) Validate() error {
	if e.Mode != ModeSequential && e.Mode != ModeBundle {
		return fmt.Errorf("mode must be %s or %s", ModeSequential, ModeBundle)
	}
	if e.SlippageBps >= 10_000 {
		return fmt.Errorf("slippage_bps must be below 10000")
	}
	if e.Deadline.Duration() <= 0 {
		return fmt.Errorf("deadline must be positive")
	}
	if e.Search.Iterations <= 0 {
		return fmt.Errorf("search iterations must be positive")
	}
	if e.Search.CeilingBps == 0 || e.Search.CeilingBps > 10_000 {
		return fmt.Errorf("search ceiling_bps must be between 1 and 10000")
	}
	return nil
}

func (b *BundleConfig) Validate() error {
	if b.PriorityShareBps > 10_000 {
		return fmt.Errorf("priority_share_bps must not exceed 10000")
	}
	if b.PriorityShareBps > 0 && !common.IsHexAddress(b.Coinbase) {
		return fmt.Errorf("coinbase must be specified with a priority share")
	}
	if b.MaxTargetBlocks <= 0 {
		return fmt.Errorf("max_target_blocks must be positive")
	}
	if b.CacheSize <= 0 {
		return fmt.Errorf("cache_size must be positive")
	}
	return nil
}

func (r *RateLimitConfig) Validate() error {
	if r.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second must not be negative")
	}
	if r.RequestsPerSecond > 0 && r.BurstSize <= 0 {
		return fmt.Errorf("burst size must be positive")
	}
	return nil
}

// LoadConfig reads cfgFile, YAML when it ends in .yaml or .yml and JSON
// otherwise. Unset fields keep their DefaultConfig values.
func LoadConfig(cfgFile string) (*Config, error) {
	if cfgFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		cfgFile = filepath.Join(home, defaultConfigName)
	}

	data, err := os.ReadFile(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	config := DefaultConfig()
	switch strings.ToLower(filepath.Ext(cfgFile)) {
	case ".yaml", ".yml":
		err = yaml.UnmarshalStrict(data, config)
	default:
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.ApplyEnv()
	if err := config.ValidateConfig(); err != nil {
		return nil, err
	}

	return config, nil
}

func LoadSecureConfig(requireRelayKey bool) (*SecureConfig, error) {
	privateKey, err := GetRequiredEnv(EnvPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("private key not found: %w", err)
	}

	flashbotsKey := os.Getenv(EnvFlashbotsKey)
	if requireRelayKey && flashbotsKey == "" {
		return nil, fmt.Errorf("flashbots key not found: required environment variable %s not set", EnvFlashbotsKey)
	}

	return &SecureConfig{
		PrivateKey:   privateKey,
		FlashbotsKey: flashbotsKey,
	}, nil
}

func SaveConfig(cfg *Config, cfgFile string) error {
	if cfgFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		cfgFile = filepath.Join(home, defaultConfigName)
	}

	file, err := os.Create(cfgFile)
	if err != nil {
		return err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(cfgFile)) {
	case ".yaml", ".yml":
		return yaml.NewEncoder(file).Encode(cfg)
	default:
		encoder := json.NewEncoder(file)
		encoder.SetIndent("", "    ")
		return encoder.Encode(cfg)
	}
}

func DefaultConfig() *Config {
	return &Config{
		Network: NetworkConfig{
			RPCEndpoint:    "http://localhost:8545",
			ChainID:        1,
			RelayURL:       "https://relay.flashbots.net",
			ReceiptTimeout: Duration(2 * time.Minute),
		},
		Scanner: ScannerConfig{
			Interval:           Duration(5 * time.Second),
			MaxHops:            3,
			SlippageBps:        50,
			RefreshConcurrency: 8,
		},
		Execution: ExecutionConfig{
			Mode:        ModeSequential,
			SlippageBps: 50,
			Deadline:    Duration(120 * time.Second),
			Search: SearchConfig{
				Iterations: 10,
				CeilingBps: 100,
			},
		},
		Bundle: BundleConfig{
			MaxTargetBlocks: 3,
			CacheSize:       1024,
		},
		Metrics: MetricsConfig{
			Addr:           ":9090",
			ReportInterval: Duration(time.Minute),
		},
		RPCRateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			BurstSize:         100,
		},
		RelayRateLimit: RateLimitConfig{
			RequestsPerSecond: 2,
			BurstSize:         4,
		},
	}
}

func GetRequiredEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("required environment variable %s not set", key)
	}
	return value, nil
}
