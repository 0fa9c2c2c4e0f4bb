package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config is the full gateway configuration. Reference data (coins, pairs,
// deposit routes) and pipeline tuning live in a YAML file pointed to by
// GATEWAY_CONFIG_PATH; connection secrets come from the environment so the
// YAML can be committed.
type Config struct {
	Env        string `yaml:"env" env:"ENV" env-default:"dev"`
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR" env-default:":8080"`

	DatabaseURL string `env:"DATABASE_URL"`

	// Handler plugin names enabled for this deployment. Order is irrelevant;
	// two handlers claiming the same coin is a startup error.
	Handlers []string `yaml:"handlers"`

	// DefaultFeePercent is the exchange fee taken from every conversion unless
	// the pair overrides it. "1" means 1%.
	DefaultFeePercent string `yaml:"default_fee_percent" env-default:"0"`

	Ingest  PipelineConfig `yaml:"ingest"`
	Convert ConvertConfig  `yaml:"convert"`

	Coins       []CoinConfig       `yaml:"coins"`
	Pairs       []PairConfig       `yaml:"pairs"`
	Routes      []RouteConfig      `yaml:"routes"`
	RateSources []RateSourceConfig `yaml:"rate_sources"`

	Bitcoind    BitcoindConfig    `yaml:"bitcoind"`
	TokenLedger TokenLedgerConfig `yaml:"token_ledger"`
	Ethereum    EthereumConfig    `yaml:"ethereum"`
}

type PipelineConfig struct {
	Schedule       string        `yaml:"schedule" env-default:"@every 2m"`
	Workers        int           `yaml:"workers" env-default:"4"`
	HandlerTimeout time.Duration `yaml:"handler_timeout" env-default:"45s"`
}

type ConvertConfig struct {
	Schedule       string        `yaml:"schedule" env-default:"@every 1m"`
	Workers        int           `yaml:"workers" env-default:"4"`
	HandlerTimeout time.Duration `yaml:"handler_timeout" env-default:"90s"`
	BatchSize      int           `yaml:"batch_size" env-default:"200"`

	// ClaimTTL is how long a deposit may sit in PROCESSING before a later run
	// treats the claim as abandoned and reclaims it.
	ClaimTTL time.Duration `yaml:"claim_ttl" env-default:"30m"`
}

type CoinConfig struct {
	Symbol      string `yaml:"symbol"`
	DisplayName string `yaml:"display_name"`
	Handler     string `yaml:"handler"`
	// Mode is "address" (deposits keyed by address+vout) or "account"
	// (deposits keyed by our account + memo).
	Mode       string `yaml:"mode"`
	OurAccount string `yaml:"our_account"`
	NetworkFee string `yaml:"network_fee" env-default:"0"`
	CanIssue   bool   `yaml:"can_issue"`
	Enabled    *bool  `yaml:"enabled"`
	// ContractAddress is only meaningful for token coins on a contract chain.
	ContractAddress string `yaml:"contract_address"`
}

type PairConfig struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
	// Exactly one of Rate (fixed decimal) or RateSource (name of an entry in
	// rate_sources, re-fetched at conversion time) must be set.
	Rate       string `yaml:"rate"`
	RateSource string `yaml:"rate_source"`
	FeePercent string `yaml:"fee_percent"`
}

// RouteConfig maps an address-based deposit onto its conversion destination,
// since address chains carry no memo to route by.
type RouteConfig struct {
	Coin               string `yaml:"coin"`
	Address            string `yaml:"address"`
	Memo               string `yaml:"memo"`
	DestinationCoin    string `yaml:"destination_coin"`
	DestinationAddress string `yaml:"destination_address"`
	DestinationMemo    string `yaml:"destination_memo"`
}

type RateSourceConfig struct {
	Name string        `yaml:"name"`
	URL  string        `yaml:"url" `
	TTL  time.Duration `yaml:"ttl" env-default:"30s"`
}

type BitcoindConfig struct {
	URL      string `yaml:"url" env:"BITCOIND_RPC_URL"`
	User     string `env:"BITCOIND_RPC_USER"`
	Password string `env:"BITCOIND_RPC_PASS"`
	// Confirmations an incoming transaction needs before it is ingested.
	// Wallet-trusted transactions are accepted regardless.
	MinConfirmations int `yaml:"min_confirmations" env:"BITCOIND_MIN_CONFIRMATIONS" env-default:"1"`
}

type TokenLedgerConfig struct {
	URL   string `yaml:"url" env:"TOKEN_LEDGER_URL"`
	Token string `env:"TOKEN_LEDGER_TOKEN"`
}

type EthereumConfig struct {
	RPCURL     string `env:"ETH_RPC_URL"`
	PrivateKey string `env:"ETH_PRIVATE_KEY"`
	ChainID    int64  `yaml:"chain_id" env:"ETH_CHAIN_ID" env-default:"1"`
}

// MustLoad reads `.env` if present, then the YAML config, then environment
// overrides. Startup configuration problems are fatal.
func MustLoad() *Config {
	// Load .env if exists, ignore error if no file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file loaded, relying on environment variables")
	}

	path := getEnv("GATEWAY_CONFIG_PATH", "config.yaml")
	if _, err := os.Stat(path); err != nil {
		log.Fatalf("[FATAL] config file not found: %v", err)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		log.Fatalf("[FATAL] failed to read config file %s: %v", path, err)
	}

	if cfg.DatabaseURL == "" && cfg.Env != "dev" {
		log.Fatal("[FATAL] DATABASE_URL is required outside dev")
	}
	if len(cfg.Handlers) == 0 {
		log.Fatal("[FATAL] at least one handler must be enabled")
	}
	if cfg.Ingest.Workers < 1 {
		cfg.Ingest.Workers = 1
	}
	if cfg.Convert.Workers < 1 {
		cfg.Convert.Workers = 1
	}

	return &cfg
}

// helper to get env with default fallback
func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
