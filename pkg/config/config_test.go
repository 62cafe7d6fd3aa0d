package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Malformed(t *testing.T) {
	reader := strings.NewReader(`{ "chain": {`)
	_, err := LoadConfig(reader)
	if err == nil {
		t.Error("Expected error loading malformed config, got nil")
	}
}

func TestSaveConfig(t *testing.T) {
	tmpPath := filepath.Join(t.TempDir(), "config.json")

	cfg := Default()
	cfg.Chain.RPCURLs = []string{"http://localhost:8545"}
	cfg.Wallet.URL = "http://127.0.0.1:1248"
	cfg.Settings.PollIntervalSeconds = 5

	if err := SaveConfig(cfg, tmpPath); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfigFromFile(tmpPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	assert.Equal(t, cfg, loaded)
	assert.Equal(t, 5*time.Second, loaded.PollInterval())
}

func TestLoadConfigFromFile_Missing(t *testing.T) {
	cfg, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout())
}

func TestLoadConfig_TableDriven(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		jsonContent string
		expectError bool
		validate    func(*testing.T, Config)
	}{
		{
			name: "Valid Modern Config",
			jsonContent: `{
				"chain": {"name": "Local", "chain_id": 1337, "rpc_urls": ["http://local"]},
				"contracts": {"plstr": "0x1111111111111111111111111111111111111111", "vpls": "0x2222222222222222222222222222222222222222", "deploy_block": 42},
				"wallet": {"watch_address": "0x3333333333333333333333333333333333333333"},
				"settings": {"connect_timeout_seconds": 3}
			}`,
			validate: func(t *testing.T, c Config) {
				assert.Equal(t, "Local", c.Chain.Name)
				assert.Equal(t, int64(1337), c.Chain.ChainID)
				assert.Equal(t, uint64(42), c.Contracts.DeployBlock)
				assert.Equal(t, 3, c.Settings.ConnectTimeoutSeconds)
				assert.Equal(t, "0x3333333333333333333333333333333333333333", c.Wallet.WatchAddress)
			},
		},
		{
			name:        "Legacy Root RPC URLs",
			jsonContent: `{"rpc_urls": ["http://legacy-rpc"]}`,
			validate: func(t *testing.T, c Config) {
				assert.Equal(t, []string{"http://legacy-rpc"}, c.Chain.RPCURLs)
				assert.Equal(t, "Ethereum", c.Chain.Name)
			},
		},
		{
			name:        "Chain URLs Win Over Legacy",
			jsonContent: `{"rpc_urls": ["http://legacy-rpc"], "chain": {"rpc_urls": ["http://modern"]}}`,
			validate: func(t *testing.T, c Config) {
				assert.Equal(t, []string{"http://modern"}, c.Chain.RPCURLs)
			},
		},
		{
			name:        "Malformed JSON",
			jsonContent: `{ "chain": [ unclosed_array`,
			expectError: true,
		},
		{
			name:        "Partial Config (Defaults)",
			jsonContent: `{"settings": {"history_limit": 25}}`,
			validate: func(t *testing.T, c Config) {
				assert.Equal(t, 25, c.Settings.HistoryLimit)
				assert.Equal(t, 30, c.Settings.PollIntervalSeconds)
				assert.Equal(t, 10, c.Settings.ConnectTimeoutSeconds)
				assert.Equal(t, Default().Contracts, c.Contracts)
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := LoadConfig(strings.NewReader(tt.jsonContent))
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.validate != nil {
				tt.validate(t, cfg)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Chain.Name = " "
	cfg.Chain.RPCURLs = nil
	cfg.Contracts.VPLS = "0xnothex"
	cfg.Settings.HistoryLimit = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no name")
	assert.Contains(t, err.Error(), "no RPC URLs")
	assert.Contains(t, err.Error(), "invalid vpls address")
	assert.Contains(t, err.Error(), "history_limit")
}

func TestSaveConfig_RejectsInvalid(t *testing.T) {
	cfg := Default()
	cfg.Chain.RPCURLs = nil
	assert.Error(t, SaveConfig(cfg, filepath.Join(t.TempDir(), "c.json")))
}

func TestSaveConfig_BackupAndRestore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	first := Default()
	first.Chain.RPCURLs = []string{"http://first"}
	require.NoError(t, SaveConfig(first, path))

	second := Default()
	second.Chain.RPCURLs = []string{"http://second"}
	require.NoError(t, SaveConfig(second, path))

	require.NoError(t, RestoreLastBackup(path))
	restored, err := LoadConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://first"}, restored.Chain.RPCURLs)
}

func TestRestoreLastBackup_None(t *testing.T) {
	assert.Error(t, RestoreLastBackup(filepath.Join(t.TempDir(), "config.json")))
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("PLSTR_WALLET_URL", "ws://127.0.0.1:1248")
	t.Setenv("PLSTR_WATCH_ADDRESS", "0x3333333333333333333333333333333333333333")
	t.Setenv("PLSTR_RPC_URLS", "http://a, http://b,,")
	t.Setenv("PLSTR_LOG_ENV", "prod")

	cfg := Default()
	ApplyEnv(&cfg)

	assert.Equal(t, "ws://127.0.0.1:1248", cfg.Wallet.URL)
	assert.Equal(t, "0x3333333333333333333333333333333333333333", cfg.Wallet.WatchAddress)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.Chain.RPCURLs)
	assert.Equal(t, "prod", cfg.Settings.LogEnv)
	assert.Empty(t, cfg.Wallet.PrivateKeyFile)
}

func TestSaveConfig_PermissionError(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	tmpDir := t.TempDir()
	if err := os.Chmod(tmpDir, 0500); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chmod(tmpDir, 0700) }()

	configPath := filepath.Join(tmpDir, "config.json")
	err := SaveConfig(Default(), configPath)
	if err == nil {
		t.Error("Expected permission error, got nil")
	}
}
