package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Node struct {
	// MinBlockTime paces the sequencer. Every block carries the clock time it
	// was proposed at, which is what market expiry is checked against.
	//
	// Recommended values:
	//   - Devnet:   200ms (5 blocks/sec, keeps logs readable)
	//   - Testnet:  100ms
	MinBlockTime time.Duration
	// MaxBlockBytes caps the instructions pulled from the mempool per block.
	MaxBlockBytes int
	DataDir       string
	// SlabCapacity is the node budget of each new market's book.
	SlabCapacity int
	// ChainID goes into the EIP-712 domain of every signed instruction.
	ChainID int64
}

type API struct {
	Addr           string
	AllowedOrigins []string
}

type Log struct {
	File string // empty logs to stdout only
}

// GenesisMarket is a market created when the node boots on an empty data
// dir.
type GenesisMarket struct {
	Name             string
	BaseLotSize      int64
	QuoteLotSize     int64
	BaseDecimals     uint8
	QuoteDecimals    uint8
	MakerFee         int64
	TakerFee         int64
	TimeExpiry       int64
	CloseMarketAdmin string // hex address, empty for none
}

type Genesis struct {
	Markets []GenesisMarket
}

type Config struct {
	Node    Node
	API     API
	Log     Log
	Genesis Genesis
}

// DefaultMarket is the template genesis markets start from: 0.001 base
// units per lot, 1e-6 quote units per lot, 2bps maker rebate, 4bps taker.
func DefaultMarket(name string) GenesisMarket {
	return GenesisMarket{
		Name:          name,
		BaseLotSize:   1_000_000,
		QuoteLotSize:  1,
		BaseDecimals:  9,
		QuoteDecimals: 6,
		MakerFee:      -200,
		TakerFee:      400,
	}
}

func Default() Config {
	return Config{
		Node: Node{
			MinBlockTime:  200 * time.Millisecond,
			MaxBlockBytes: 1 << 20,
			DataDir:       "./data",
			SlabCapacity:  1024,
			ChainID:       1337,
		},
		API: API{
			Addr:           ":8080",
			AllowedOrigins: []string{"*"},
		},
		Genesis: Genesis{
			Markets: []GenesisMarket{DefaultMarket("SOL-USDC"), DefaultMarket("BTC-USDC")},
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if ms, ok := getEnvInt("NODE_MIN_BLOCK_TIME_MS"); ok {
		cfg.Node.MinBlockTime = time.Duration(ms) * time.Millisecond
	}
	if n, ok := getEnvInt("NODE_MAX_BLOCK_BYTES"); ok && n > 0 {
		cfg.Node.MaxBlockBytes = n
	}
	if n, ok := getEnvInt("NODE_SLAB_CAPACITY"); ok && n > 0 {
		cfg.Node.SlabCapacity = n
	}
	if n, ok := getEnvInt("NODE_CHAIN_ID"); ok {
		cfg.Node.ChainID = int64(n)
	}
	cfg.Node.DataDir = getEnv("NODE_DATA_DIR", cfg.Node.DataDir)

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if origins := os.Getenv("API_ALLOWED_ORIGINS"); origins != "" {
		cfg.API.AllowedOrigins = splitList(origins)
	}

	cfg.Log.File = getEnv("LOG_FILE", cfg.Log.File)

	// GENESIS_MARKETS replaces the default market list, e.g. "SOL-USDC,ETH-USDC".
	if names := os.Getenv("GENESIS_MARKETS"); names != "" {
		cfg.Genesis.Markets = nil
		for _, name := range splitList(names) {
			cfg.Genesis.Markets = append(cfg.Genesis.Markets, DefaultMarket(name))
		}
	}
	if admin := os.Getenv("GENESIS_CLOSE_ADMIN"); admin != "" {
		for i := range cfg.Genesis.Markets {
			cfg.Genesis.Markets[i].CloseMarketAdmin = admin
		}
	}

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
