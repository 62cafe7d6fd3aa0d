package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

const ConfigFileName = ".plstrdash.json"

// EnvPrefix is prepended to every environment override, e.g. PLSTR_WALLET_URL.
const EnvPrefix = "PLSTR"

// ChainConfig describes the network the contracts live on.
type ChainConfig struct {
	Name        string   `json:"name"`
	ChainID     int64    `json:"chain_id"`
	Symbol      string   `json:"symbol"`
	Decimals    int      `json:"decimals"`
	RPCURLs     []string `json:"rpc_urls"`
	ExplorerURL string   `json:"explorer_url,omitempty"`
}

// ContractsConfig holds the deployed pair.
type ContractsConfig struct {
	PLSTR       string `json:"plstr"`
	VPLS        string `json:"vpls"`
	DeployBlock uint64 `json:"deploy_block"`
}

// WalletConfig selects how transactions get signed. With neither URL nor
// PrivateKeyFile set the dashboard runs read-only on the fallback RPCs.
type WalletConfig struct {
	URL            string `json:"url,omitempty"`
	PrivateKeyFile string `json:"private_key_file,omitempty"`
	WatchAddress   string `json:"watch_address,omitempty"`
}

// Settings holds timing and display knobs.
type Settings struct {
	ConnectTimeoutSeconds int    `json:"connect_timeout_seconds"`
	PollIntervalSeconds   int    `json:"poll_interval_seconds"`
	HistoryLimit          int    `json:"history_limit"`
	ReceiptPollMillis     int    `json:"receipt_poll_ms"`
	TokenDecimals         int    `json:"token_decimals"`
	LogEnv                string `json:"log_env,omitempty"`
}

// Config is the whole configuration file.
type Config struct {
	Chain     ChainConfig     `json:"chain"`
	Contracts ContractsConfig `json:"contracts"`
	Wallet    WalletConfig    `json:"wallet"`
	Settings  Settings        `json:"settings"`
}

// Default returns the Ethereum mainnet deployment.
func Default() Config {
	return Config{
		Chain: ChainConfig{
			Name:     "Ethereum",
			ChainID:  1,
			Symbol:   "ETH",
			Decimals: 18,
			RPCURLs: []string{
				"https://ethereum-rpc.publicnode.com",
				"https://rpc.ankr.com/eth",
				"https://cloudflare-eth.com",
			},
			ExplorerURL: "https://etherscan.io",
		},
		Contracts: ContractsConfig{
			PLSTR: "0x6c1dA678A1B615f673208e74AB3510c22117090e",
			VPLS:  "0x0181e249c507d3b454dE2444444f0Bf5dBE72d09",
		},
		Settings: Settings{
			ConnectTimeoutSeconds: 10,
			PollIntervalSeconds:   30,
			HistoryLimit:          10,
			ReceiptPollMillis:     1000,
			TokenDecimals:         18,
		},
	}
}

func (c Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Settings.ConnectTimeoutSeconds) * time.Second
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Settings.PollIntervalSeconds) * time.Second
}

func (c Config) ReceiptPoll() time.Duration {
	return time.Duration(c.Settings.ReceiptPollMillis) * time.Millisecond
}

// PLSTRAddress and VPLSAddress assume Validate passed.
func (c Config) PLSTRAddress() common.Address { return common.HexToAddress(c.Contracts.PLSTR) }
func (c Config) VPLSAddress() common.Address  { return common.HexToAddress(c.Contracts.VPLS) }

// Validate checks the fields the dashboard cannot run without.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Chain.Name) == "" {
		problems = append(problems, "chain has no name")
	}
	if len(c.Chain.RPCURLs) == 0 {
		problems = append(problems, fmt.Sprintf("chain %s has no RPC URLs", c.Chain.Name))
	}
	if c.Chain.ChainID < 0 {
		problems = append(problems, "chain_id must not be negative")
	}
	if !common.IsHexAddress(c.Contracts.PLSTR) {
		problems = append(problems, fmt.Sprintf("invalid plstr address %q", c.Contracts.PLSTR))
	}
	if !common.IsHexAddress(c.Contracts.VPLS) {
		problems = append(problems, fmt.Sprintf("invalid vpls address %q", c.Contracts.VPLS))
	}
	if c.Wallet.WatchAddress != "" && !common.IsHexAddress(c.Wallet.WatchAddress) {
		problems = append(problems, fmt.Sprintf("invalid watch_address %q", c.Wallet.WatchAddress))
	}
	if c.Settings.ConnectTimeoutSeconds <= 0 {
		problems = append(problems, "connect_timeout_seconds must be positive")
	}
	if c.Settings.PollIntervalSeconds <= 0 {
		problems = append(problems, "poll_interval_seconds must be positive")
	}
	if c.Settings.HistoryLimit <= 0 {
		problems = append(problems, "history_limit must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

func GetConfigPath(customPath string) (string, error) {
	if customPath != "" {
		return customPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigFileName), nil
}

// LoadConfigFromFile reads path, falling back to Default when it does not
// exist.
func LoadConfigFromFile(path string) (Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, err
	}
	defer func() { _ = f.Close() }()
	return LoadConfig(f)
}

// LoadConfig decodes a configuration over the defaults. Fields missing from
// the document keep their default value.
func LoadConfig(r io.Reader) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	// Migration for legacy config with root level rpc_urls
	var legacy struct {
		RPCURLs []string `json:"rpc_urls"`
		Chain   *struct {
			RPCURLs []string `json:"rpc_urls"`
		} `json:"chain"`
	}
	if err := json.Unmarshal(data, &legacy); err != nil {
		return Config{}, err
	}
	if len(legacy.RPCURLs) > 0 && (legacy.Chain == nil || len(legacy.Chain.RPCURLs) == 0) {
		cfg.Chain.RPCURLs = legacy.RPCURLs
	}
	return cfg, nil
}

// ApplyEnv overrides wallet, RPC and logging settings from PLSTR_*
// environment variables.
func ApplyEnv(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if s := v.GetString("WALLET_URL"); s != "" {
		cfg.Wallet.URL = s
	}
	if s := v.GetString("PRIVATE_KEY_FILE"); s != "" {
		cfg.Wallet.PrivateKeyFile = s
	}
	if s := v.GetString("WATCH_ADDRESS"); s != "" {
		cfg.Wallet.WatchAddress = s
	}
	if s := v.GetString("RPC_URLS"); s != "" {
		var urls []string
		for _, u := range strings.Split(s, ",") {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}
		if len(urls) > 0 {
			cfg.Chain.RPCURLs = urls
		}
	}
	if s := v.GetString("LOG_ENV"); s != "" {
		cfg.Settings.LogEnv = s
	}
}

// SaveConfig validates cfg, backs up the existing file and atomically
// replaces it.
func SaveConfig(cfg Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if len(data) == 0 {
		return fmt.Errorf("validation failed: encoded configuration is empty")
	}

	// Create a backup of the existing file
	if _, err := os.Stat(path); err == nil {
		backupPath := fmt.Sprintf("%s.%s.bak", path, time.Now().Format("20060102-150405"))
		input, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read existing config for backup: %w", err)
		}
		if err := os.WriteFile(backupPath, input, 0600); err != nil {
			return fmt.Errorf("failed to write backup config: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func RestoreLastBackup(configPath string) error {
	matches, err := filepath.Glob(configPath + ".*.bak")
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return fmt.Errorf("no backup files found")
	}
	sort.Strings(matches)
	lastBackup := matches[len(matches)-1]

	data, err := os.ReadFile(lastBackup)
	if err != nil {
		return err
	}
	return os.WriteFile(configPath, data, 0600)
}
