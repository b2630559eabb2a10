package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestParsePeers(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]string
	}{
		{"empty", "", map[string]string{}},
		{"single", "abc123=ws://localhost:9001", map[string]string{"abc123": "ws://localhost:9001"}},
		{
			"multiple with whitespace",
			"abc123=ws://localhost:9001, def456=ws://localhost:9002",
			map[string]string{"abc123": "ws://localhost:9001", "def456": "ws://localhost:9002"},
		},
		{"drops malformed entries", "abc123=ws://localhost:9001,noequals,=missingkey,missingval=", map[string]string{"abc123": "ws://localhost:9001"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parsePeers(tt.raw)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("parsePeers(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestLoadAppliesDefaultsAndEnvOverrides(t *testing.T) {
	dataDir := t.TempDir()
	envContents := "MINT_URL=http://example.test:3338\nPEERS=feed=ws://peer.example:9735\nD_MNEMONIC=abandon abandon abandon\n"
	if err := os.WriteFile(filepath.Join(dataDir, ".env"), []byte(envContents), 0600); err != nil {
		t.Fatal(err)
	}
	// godotenv.Load sets real process env vars that outlive this test;
	// clear them so later tests in this package see an unconfigured env.
	t.Cleanup(func() {
		os.Unsetenv("MINT_URL")
		os.Unsetenv("PEERS")
		os.Unsetenv("D_MNEMONIC")
	})

	cfg, err := Load("D", dataDir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MintURL != "http://example.test:3338" {
		t.Fatalf("unexpected MintURL: %s", cfg.MintURL)
	}
	if cfg.ListenAddr != defaultListenAddr {
		t.Fatalf("expected default ListenAddr, got %s", cfg.ListenAddr)
	}
	if cfg.DataDir != dataDir {
		t.Fatalf("unexpected DataDir: %s", cfg.DataDir)
	}
	if cfg.Peers["feed"] != "ws://peer.example:9735" {
		t.Fatalf("unexpected Peers entry: %v", cfg.Peers)
	}
	if cfg.Mnemonic != "abandon abandon abandon" {
		t.Fatalf("unexpected Mnemonic: %s", cfg.Mnemonic)
	}
}

func TestLoadDefaultsWithoutEnvFile(t *testing.T) {
	dataDir := t.TempDir()

	cfg, err := Load("G", dataDir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MintURL != defaultMintURL {
		t.Fatalf("expected default MintURL, got %s", cfg.MintURL)
	}
	if cfg.ListenAddr != defaultListenAddr {
		t.Fatalf("expected default ListenAddr, got %s", cfg.ListenAddr)
	}
	if len(cfg.Peers) != 0 {
		t.Fatalf("expected no peers, got %v", cfg.Peers)
	}
	if cfg.Mnemonic != "" {
		t.Fatalf("expected empty mnemonic, got %s", cfg.Mnemonic)
	}
}

func TestLoadDealerPopulatesFeeSats(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("FEE_SATS", "7")

	cfg, err := LoadDealer(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.FeeSats != 7 {
		t.Fatalf("expected FeeSats 7, got %d", cfg.FeeSats)
	}
	if cfg.DataDir != dataDir {
		t.Fatalf("unexpected DataDir: %s", cfg.DataDir)
	}
}

func TestLoadAliceAndGatewayWrapShared(t *testing.T) {
	aliceCfg, err := LoadAlice(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if aliceCfg.MintURL != defaultMintURL {
		t.Fatalf("expected default MintURL, got %s", aliceCfg.MintURL)
	}

	gatewayCfg, err := LoadGateway(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if gatewayCfg.MintURL != defaultMintURL {
		t.Fatalf("expected default MintURL, got %s", gatewayCfg.MintURL)
	}
}

func TestDefaultFeeSats(t *testing.T) {
	os.Unsetenv("FEE_SATS")
	if got := DefaultFeeSats(); got != defaultFeeSats {
		t.Fatalf("expected default fee of %d, got %d", defaultFeeSats, got)
	}

	t.Setenv("FEE_SATS", "42")
	if got := DefaultFeeSats(); got != 42 {
		t.Fatalf("expected fee of 42 from FEE_SATS, got %d", got)
	}

	t.Setenv("FEE_SATS", "not-a-number")
	if got := DefaultFeeSats(); got != defaultFeeSats {
		t.Fatalf("expected fallback to default fee on unparsable FEE_SATS, got %d", got)
	}
}
