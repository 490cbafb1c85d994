package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadCreatesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != "127.0.0.1:8645" || cfg.DataDir != "./workchain-data" || cfg.NetworkName != "localhost" {
		t.Fatalf("defaults: %+v", cfg)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("default file not written: %v", err)
	}
	if !strings.Contains(string(data), "RPCAddress") {
		t.Fatalf("default file contents: %s", data)
	}

	// A second load reads the file it just wrote.
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if *again != *cfg {
		t.Fatalf("reload mismatch: %+v vs %+v", again, cfg)
	}
}

func TestLoadExistingConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `RPCAddress = "0.0.0.0:9000"
DataDir = "/var/lib/workchain"
NetworkName = "testnet"
ArbiterAddress = "wrk1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq"
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != "0.0.0.0:9000" || cfg.DataDir != "/var/lib/workchain" {
		t.Fatalf("config: %+v", cfg)
	}
	if cfg.NetworkName != "testnet" || cfg.ArbiterAddress == "" {
		t.Fatalf("config: %+v", cfg)
	}
}

func TestLoadFillsMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(`RPCAddress = "0.0.0.0:9000"`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != "./workchain-data" || cfg.NetworkName != "localhost" {
		t.Fatalf("fallbacks: %+v", cfg)
	}
}

func TestLoadRejectsUnknownNetwork(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(`NetworkName = "devnet9"`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatalf("expected unknown network error")
	}
}

func TestNetworkByName(t *testing.T) {
	for _, name := range []string{"testnet", "mainnet", "localhost"} {
		network, err := NetworkByName(name)
		if err != nil {
			t.Fatalf("network %q: %v", name, err)
		}
		if network.NativeCurrency.Symbol != "WORK" || network.NativeCurrency.Decimals != 18 {
			t.Fatalf("currency for %q: %+v", name, network.NativeCurrency)
		}
		if network.ChainID == 0 {
			t.Fatalf("chain id for %q", name)
		}
	}
	if _, err := NetworkByName("unknown"); err == nil {
		t.Fatalf("expected error for unknown network")
	}
}
