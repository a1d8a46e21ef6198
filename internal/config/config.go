package config

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for potwatch. All numeric knobs
// are validated once at startup and never hot-reloaded mid-cycle.
type Config struct {
	General   GeneralConfig   `yaml:"general"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Pot       PotConfig       `yaml:"pot"`
	Enrich    EnrichConfig    `yaml:"enrich"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Store     StoreConfig     `yaml:"store"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type GeneralConfig struct {
	InstanceID string `yaml:"instance_id"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"` // json|text
}

type DiscoveryConfig struct {
	PumpPortalURL    string   `yaml:"pumpportal_url"`
	SolanaWSURL      string   `yaml:"solana_ws_url"`
	ProgramIDs       []string `yaml:"program_ids"` // DEX programs watched by the logs firehose
	ReconnectDelayMs int      `yaml:"reconnect_delay_ms"`
	SignatureCache   int      `yaml:"signature_cache"` // dedup ring size for firehose signatures
	ChannelBuffer    int      `yaml:"channel_buffer"`
}

type PotConfig struct {
	Capacity            int     `yaml:"capacity"`              // hard cap, never exceeded
	LiquidityFloorUSD   float64 `yaml:"liquidity_floor_usd"`   // minimum liquidity to stay visible
	GraceWindowMinutes  int     `yaml:"grace_window_minutes"`  // zero-liquidity newborns get this long
	ScrapRetentionHours int     `yaml:"scrap_retention_hours"` // scrapheap members pruned after this
}

type EnrichConfig struct {
	ProviderTimeoutMs  int    `yaml:"provider_timeout_ms"`
	StalenessSeconds   int    `yaml:"staleness_seconds"`
	RouteClampMinAgeM  int    `yaml:"route_clamp_min_age_minutes"`
	DexScreenerBaseURL string `yaml:"dexscreener_base_url"`
	BirdeyeBaseURL     string `yaml:"birdeye_base_url"`
	BirdeyeAPIKey      string `yaml:"birdeye_api_key"`
	GeckoBaseURL       string `yaml:"gecko_base_url"`
	HeliusRPCURL       string `yaml:"helius_rpc_url"`
	RugcheckBaseURL    string `yaml:"rugcheck_base_url"`
	JupiterQuoteURL    string `yaml:"jupiter_quote_url"`
}

type SchedulerConfig struct {
	// Per-bucket re-analysis cadence in minutes.
	HatchingMinutes int `yaml:"hatching_minutes"`
	FreshMinutes    int `yaml:"fresh_minutes"`
	CookingMinutes  int `yaml:"cooking_minutes"`
	OtherMinutes    int `yaml:"other_minutes"` // top + scrapheap

	// Adaptive batch sizing.
	MinBatchSize      int     `yaml:"min_batch_size"`
	MaxBatchSize      int     `yaml:"max_batch_size"`
	TargetBatchSecs   float64 `yaml:"target_batch_seconds"`
	WorkerConcurrency int     `yaml:"worker_concurrency"`

	// Initial analysis concurrency on the admission path.
	AdmissionConcurrency int `yaml:"admission_concurrency"`

	MaintenanceIntervalHours int `yaml:"maintenance_interval_hours"`
}

type StoreConfig struct {
	PostgresDSN           string `yaml:"postgres_dsn"` // empty = in-memory store
	RedisAddr             string `yaml:"redis_addr"`   // empty = no cache tier
	RedisDB               int    `yaml:"redis_db"`
	CacheTTLSeconds       int    `yaml:"cache_ttl_seconds"`
	SnapshotRetentionDays int    `yaml:"snapshot_retention_days"`
	RejectedRetentionDays int    `yaml:"rejected_retention_days"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads and parses a YAML configuration file, expanding environment
// variables and applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

// Default returns a config with all defaults applied and no file input.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "potwatch-" + uuid.NewString()[:8]
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}

	if cfg.Discovery.PumpPortalURL == "" {
		cfg.Discovery.PumpPortalURL = "wss://pumpportal.fun/api/data"
	}
	if cfg.Discovery.SolanaWSURL == "" {
		cfg.Discovery.SolanaWSURL = "wss://api.mainnet-beta.solana.com"
	}
	if len(cfg.Discovery.ProgramIDs) == 0 {
		cfg.Discovery.ProgramIDs = []string{
			"675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8", // Raydium AMM V4
			"6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P",  // pump.fun bonding curve
		}
	}
	if cfg.Discovery.ReconnectDelayMs == 0 {
		cfg.Discovery.ReconnectDelayMs = 1000
	}
	if cfg.Discovery.SignatureCache == 0 {
		cfg.Discovery.SignatureCache = 8000
	}
	if cfg.Discovery.ChannelBuffer == 0 {
		cfg.Discovery.ChannelBuffer = 256
	}

	if cfg.Pot.Capacity == 0 {
		cfg.Pot.Capacity = 500
	}
	if cfg.Pot.LiquidityFloorUSD == 0 {
		cfg.Pot.LiquidityFloorUSD = 300
	}
	if cfg.Pot.GraceWindowMinutes == 0 {
		cfg.Pot.GraceWindowMinutes = 15
	}
	if cfg.Pot.ScrapRetentionHours == 0 {
		cfg.Pot.ScrapRetentionHours = 6
	}

	if cfg.Enrich.ProviderTimeoutMs == 0 {
		cfg.Enrich.ProviderTimeoutMs = 10000
	}
	if cfg.Enrich.StalenessSeconds == 0 {
		cfg.Enrich.StalenessSeconds = 1200
	}
	if cfg.Enrich.RouteClampMinAgeM == 0 {
		cfg.Enrich.RouteClampMinAgeM = 180
	}
	if cfg.Enrich.DexScreenerBaseURL == "" {
		cfg.Enrich.DexScreenerBaseURL = "https://api.dexscreener.com"
	}
	if cfg.Enrich.BirdeyeBaseURL == "" {
		cfg.Enrich.BirdeyeBaseURL = "https://public-api.birdeye.so"
	}
	if cfg.Enrich.GeckoBaseURL == "" {
		cfg.Enrich.GeckoBaseURL = "https://api.geckoterminal.com/api/v2"
	}
	if cfg.Enrich.RugcheckBaseURL == "" {
		cfg.Enrich.RugcheckBaseURL = "https://api.rugcheck.xyz/v1"
	}
	if cfg.Enrich.JupiterQuoteURL == "" {
		cfg.Enrich.JupiterQuoteURL = "https://quote-api.jup.ag/v6/quote"
	}

	if cfg.Scheduler.HatchingMinutes == 0 {
		cfg.Scheduler.HatchingMinutes = 2
	}
	if cfg.Scheduler.FreshMinutes == 0 {
		cfg.Scheduler.FreshMinutes = 12
	}
	if cfg.Scheduler.CookingMinutes == 0 {
		cfg.Scheduler.CookingMinutes = 5
	}
	if cfg.Scheduler.OtherMinutes == 0 {
		cfg.Scheduler.OtherMinutes = 45
	}
	if cfg.Scheduler.MinBatchSize == 0 {
		cfg.Scheduler.MinBatchSize = 5
	}
	if cfg.Scheduler.MaxBatchSize == 0 {
		cfg.Scheduler.MaxBatchSize = 16
	}
	if cfg.Scheduler.TargetBatchSecs == 0 {
		cfg.Scheduler.TargetBatchSecs = 25.0
	}
	if cfg.Scheduler.WorkerConcurrency == 0 {
		cfg.Scheduler.WorkerConcurrency = 6
	}
	if cfg.Scheduler.AdmissionConcurrency == 0 {
		cfg.Scheduler.AdmissionConcurrency = 10
	}
	if cfg.Scheduler.MaintenanceIntervalHours == 0 {
		cfg.Scheduler.MaintenanceIntervalHours = 24
	}

	if cfg.Store.CacheTTLSeconds == 0 {
		cfg.Store.CacheTTLSeconds = 300
	}
	if cfg.Store.SnapshotRetentionDays == 0 {
		cfg.Store.SnapshotRetentionDays = 14
	}
	if cfg.Store.RejectedRetentionDays == 0 {
		cfg.Store.RejectedRetentionDays = 7
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

// Validate checks invariants that would otherwise surface as subtle runtime
// misbehavior. Called once at startup.
func (c *Config) Validate() error {
	if c.Pot.Capacity < 1 {
		return fmt.Errorf("config: pot.capacity must be positive, got %d", c.Pot.Capacity)
	}
	if c.Pot.LiquidityFloorUSD < 0 {
		return fmt.Errorf("config: pot.liquidity_floor_usd must not be negative")
	}
	if c.Scheduler.MinBatchSize < 1 {
		return fmt.Errorf("config: scheduler.min_batch_size must be positive, got %d", c.Scheduler.MinBatchSize)
	}
	if c.Scheduler.MaxBatchSize < c.Scheduler.MinBatchSize {
		return fmt.Errorf("config: scheduler.max_batch_size (%d) below min_batch_size (%d)",
			c.Scheduler.MaxBatchSize, c.Scheduler.MinBatchSize)
	}
	if c.Scheduler.TargetBatchSecs <= 0 {
		return fmt.Errorf("config: scheduler.target_batch_seconds must be positive")
	}
	if c.Scheduler.WorkerConcurrency < 1 {
		return fmt.Errorf("config: scheduler.worker_concurrency must be positive, got %d", c.Scheduler.WorkerConcurrency)
	}
	if c.Enrich.ProviderTimeoutMs < 100 {
		return fmt.Errorf("config: enrich.provider_timeout_ms too low (%d)", c.Enrich.ProviderTimeoutMs)
	}
	if c.Store.RedisAddr != "" && c.Store.PostgresDSN == "" {
		return fmt.Errorf("config: store.redis_addr set without store.postgres_dsn; the cache tier needs a durable store behind it")
	}
	return nil
}
