// Package config loads per-peer configuration from a .env file, following
// cmd/nutw/nutw.go's walletConfig()/getMintURL() pattern: a default struct,
// overridden by environment variables loaded via godotenv.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Shared is the set of fields every peer type needs: where its mint and
// proof store live, its relay listen address, the counterparties it should
// dial on startup, and the seed phrase its long-term P2PK key derives from.
type Shared struct {
	MintURL    string
	DataDir    string
	ListenAddr string            // host:port this peer's own relay endpoint listens on
	Peers      map[string]string // counterparty pubkey hex -> its ws relay URL
	Mnemonic   string
}

type AliceConfig struct {
	Shared
}

type GatewayConfig struct {
	Shared
}

type DealerConfig struct {
	Shared
	FeeSats uint64
}

const (
	defaultMintURL    = "http://127.0.0.1:3338"
	defaultListenAddr = ":9735"
	defaultFeeSats    = 2
)

// Load reads .env from dataDir (falling back to the working directory, same
// as walletConfig()'s envPath fallback) and populates shared fields from
// environment variables. Mnemonic comes from <peerType>_MNEMONIC and is
// left empty when that variable is unset.
func Load(peerType, dataDir string) (Shared, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return Shared{}, fmt.Errorf("creating data dir: %w", err)
	}

	envPath := filepath.Join(dataDir, ".env")
	if _, err := os.Stat(envPath); err != nil {
		if wd, err := os.Getwd(); err == nil {
			envPath = filepath.Join(wd, ".env")
		} else {
			envPath = ""
		}
	}
	if envPath != "" {
		_ = godotenv.Load(envPath)
	}

	cfg := Shared{
		MintURL:    getEnvOr("MINT_URL", defaultMintURL),
		DataDir:    dataDir,
		ListenAddr: getEnvOr("LISTEN_ADDR", defaultListenAddr),
		Peers:      parsePeers(os.Getenv("PEERS")),
		Mnemonic:   os.Getenv(peerType + "_MNEMONIC"),
	}
	return cfg, nil
}

// LoadAlice, LoadGateway and LoadDealer wrap Load with the per-peer-type
// config struct each cmd/peer-* binary actually wants, so the wrapper
// types declared above are constructed somewhere rather than sitting
// unused.
func LoadAlice(dataDir string) (AliceConfig, error) {
	shared, err := Load("ALICE", dataDir)
	if err != nil {
		return AliceConfig{}, err
	}
	return AliceConfig{Shared: shared}, nil
}

func LoadGateway(dataDir string) (GatewayConfig, error) {
	shared, err := Load("GATEWAY", dataDir)
	if err != nil {
		return GatewayConfig{}, err
	}
	return GatewayConfig{Shared: shared}, nil
}

// LoadDealer also populates FeeSats from FEE_SATS (or the default),
// since the dealer is the only peer type that charges one.
func LoadDealer(dataDir string) (DealerConfig, error) {
	shared, err := Load("DEALER", dataDir)
	if err != nil {
		return DealerConfig{}, err
	}
	return DealerConfig{Shared: shared, FeeSats: DefaultFeeSats()}, nil
}

// parsePeers reads a PEERS env var of the form
// "pubkey1=ws://host:port,pubkey2=ws://host:port" into a lookup map.
func parsePeers(raw string) map[string]string {
	peers := make(map[string]string)
	if raw == "" {
		return peers
	}
	for _, entry := range strings.Split(raw, ",") {
		kv := strings.SplitN(strings.TrimSpace(entry), "=", 2)
		if len(kv) != 2 || kv[0] == "" || kv[1] == "" {
			continue
		}
		peers[kv[0]] = kv[1]
	}
	return peers
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// DefaultFeeSats returns the dealer's flat per-swap fee: FEE_SATS when it
// parses as a number, otherwise defaultFeeSats.
func DefaultFeeSats() uint64 {
	if v := os.Getenv("FEE_SATS"); v != "" {
		var amount uint64
		if _, err := fmt.Sscanf(v, "%d", &amount); err == nil {
			return amount
		}
	}
	return defaultFeeSats
}
