package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/potwatch/potwatch/internal/analyze"
	"github.com/potwatch/potwatch/internal/buckets"
	"github.com/potwatch/potwatch/internal/config"
	"github.com/potwatch/potwatch/internal/discovery"
	"github.com/potwatch/potwatch/internal/enrich"
	"github.com/potwatch/potwatch/internal/observability"
	"github.com/potwatch/potwatch/internal/pot"
	"github.com/potwatch/potwatch/internal/providers/birdeye"
	"github.com/potwatch/potwatch/internal/providers/dexscreener"
	"github.com/potwatch/potwatch/internal/providers/gecko"
	"github.com/potwatch/potwatch/internal/providers/helius"
	"github.com/potwatch/potwatch/internal/providers/jupiter"
	"github.com/potwatch/potwatch/internal/providers/rugcheck"
	"github.com/potwatch/potwatch/internal/providers/stub"
	"github.com/potwatch/potwatch/internal/scheduler"
	"github.com/potwatch/potwatch/internal/store"
	"github.com/potwatch/potwatch/internal/store/memory"
	"github.com/potwatch/potwatch/internal/store/postgres"
	"github.com/potwatch/potwatch/internal/store/rediscache"
	"github.com/potwatch/potwatch/internal/token"
)

func main() {
	// 1. Parse flags.
	configPath := flag.String("config", "", "Path to configuration file (empty = built-in defaults)")
	stubMode := flag.Bool("stub", false, "Use synthetic providers and no live streams")
	flag.Parse()

	// 2. Load configuration.
	var cfg *config.Config
	var err error
	if *configPath == "" {
		cfg = config.Default()
	} else {
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
			os.Exit(1)
		}
	}

	// 3. Setup logging.
	setupLogging(cfg.General)

	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Bool("stub_mode", *stubMode).
		Int("pot_capacity", cfg.Pot.Capacity).
		Float64("liquidity_floor_usd", cfg.Pot.LiquidityFloorUSD).
		Msg("potwatch starting")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("configuration validation failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Durable store: postgres when configured, in-memory otherwise,
	// with an optional redis read-through tier in front.
	st, cleanup, err := buildStore(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("store initialization failed")
	}
	defer cleanup()

	// 5. Provider chains.
	chains, providerStats := buildProviders(cfg.Enrich, *stubMode)
	aggregator := enrich.New(enrich.Config{
		ProviderTimeout:  time.Duration(cfg.Enrich.ProviderTimeoutMs) * time.Millisecond,
		RouteClampMinAge: time.Duration(cfg.Enrich.RouteClampMinAgeM) * time.Minute,
	}, chains.market, chains.holders, chains.risk, chains.route)

	// 6. Pot, classifier, pass runner.
	graceWindow := time.Duration(cfg.Pot.GraceWindowMinutes) * time.Minute
	floor := decimal.NewFromFloat(cfg.Pot.LiquidityFloorUSD)

	tokenPot := pot.New(pot.Config{
		Capacity:          cfg.Pot.Capacity,
		LiquidityFloorUSD: floor,
		GraceWindow:       graceWindow,
	})

	bucketCfg := buckets.DefaultConfig()
	bucketCfg.GraceWindow = graceWindow
	bucketCfg.LiquidityFloorUSD = floor
	classifier := buckets.New(bucketCfg)

	runner := analyze.NewRunner(tokenPot, aggregator, classifier, st)

	// 7. Discovery feed and scheduler.
	candidates := make(chan token.Candidate, cfg.Discovery.ChannelBuffer)

	schedCfg := scheduler.Config{
		Cadences: map[token.Bucket]time.Duration{
			token.BucketHatching:  time.Duration(cfg.Scheduler.HatchingMinutes) * time.Minute,
			token.BucketFresh:     time.Duration(cfg.Scheduler.FreshMinutes) * time.Minute,
			token.BucketCooking:   time.Duration(cfg.Scheduler.CookingMinutes) * time.Minute,
			token.BucketTop:       time.Duration(cfg.Scheduler.OtherMinutes) * time.Minute,
			token.BucketScrapHeap: time.Duration(cfg.Scheduler.OtherMinutes) * time.Minute,
		},
		WorkerConcurrency:    cfg.Scheduler.WorkerConcurrency,
		AdmissionConcurrency: cfg.Scheduler.AdmissionConcurrency,
		MaintenanceInterval:  time.Duration(cfg.Scheduler.MaintenanceIntervalHours) * time.Hour,
		SnapshotRetention:    time.Duration(cfg.Store.SnapshotRetentionDays) * 24 * time.Hour,
		ScrapRetention:       time.Duration(cfg.Pot.ScrapRetentionHours) * time.Hour,
		RejectedRetention:    time.Duration(cfg.Store.RejectedRetentionDays) * 24 * time.Hour,
		Sizer: scheduler.BatchSizerConfig{
			MinSize:       cfg.Scheduler.MinBatchSize,
			MaxSize:       cfg.Scheduler.MaxBatchSize,
			TargetSeconds: cfg.Scheduler.TargetBatchSecs,
			Smoothing:     0.3,
		},
	}
	sched := scheduler.New(schedCfg, tokenPot, runner, st, candidates)

	g, ctx := errgroup.WithContext(ctx)

	var pumpportal *discovery.PumpPortalIngestor
	var firehose *discovery.LogsIngestor
	if *stubMode {
		log.Info().Msg("discovery: disabled in stub mode")
	} else {
		pumpportal = discovery.NewPumpPortalIngestor(discovery.PumpPortalConfig{
			URL:            cfg.Discovery.PumpPortalURL,
			ReconnectDelay: time.Duration(cfg.Discovery.ReconnectDelayMs) * time.Millisecond,
		}, candidates)

		resolver := helius.New(cfg.Enrich.HeliusRPCURL)
		firehose = discovery.NewLogsIngestor(discovery.FirehoseConfig{
			WSURL:          cfg.Discovery.SolanaWSURL,
			ProgramIDs:     cfg.Discovery.ProgramIDs,
			ReconnectDelay: time.Duration(cfg.Discovery.ReconnectDelayMs) * time.Millisecond,
			SignatureCache: cfg.Discovery.SignatureCache,
		}, resolver, candidates)

		g.Go(func() error {
			pumpportal.Run(ctx)
			return nil
		})
		g.Go(func() error {
			firehose.Run(ctx)
			return nil
		})
	}

	g.Go(func() error {
		return sched.Run(ctx)
	})

	// 8. Operational HTTP surface.
	if cfg.Metrics.Enabled {
		probes := observability.Probes{
			Pot:       tokenPot.Stats,
			Enrich:    aggregator.Stats,
			Runner:    runner.Stats,
			Scheduler: sched.Stats,
			Discovery: func() observability.DiscoveryStats {
				return discoveryStats(pumpportal, firehose)
			},
			Providers: providerStats,
		}
		monitor := observability.NewHealthMonitor()
		registerHealthChecks(monitor, st, pumpportal, firehose)

		diag := func() any {
			return map[string]any{
				"pot":       tokenPot.Stats(),
				"enrich":    aggregator.Stats(),
				"analysis":  runner.Stats(),
				"scheduler": sched.Stats(),
				"discovery": discoveryStats(pumpportal, firehose),
			}
		}
		staleness := time.Duration(cfg.Enrich.StalenessSeconds) * time.Second
		srv := observability.NewServer(cfg.Metrics.Port, observability.NewRegistry(probes), monitor, diag, tokenPot, runner, staleness)
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}

	// 9. Shutdown on signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("shutdown signal received")
		cancel()
	}()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("engine terminated with error")
		os.Exit(1)
	}
	log.Info().Msg("potwatch stopped")
}

// providerChains groups the per-category fallback chains.
type providerChains struct {
	market  []enrich.MarketProvider
	holders []enrich.HolderProvider
	risk    []enrich.RiskProvider
	route   []enrich.RouteProvider
}

// buildProviders assembles the fallback chains. Chain order is preference
// order: the first provider that returns data wins its category.
func buildProviders(cfg config.EnrichConfig, stubMode bool) (providerChains, map[string]func() observability.ProviderStats) {
	if stubMode {
		p := stub.New()
		log.Info().Msg("providers: synthetic stub mode")
		return providerChains{
			market:  []enrich.MarketProvider{p},
			holders: []enrich.HolderProvider{p},
			risk:    []enrich.RiskProvider{p},
			route:   []enrich.RouteProvider{p},
		}, nil
	}

	dex := dexscreener.New(cfg.DexScreenerBaseURL)
	gt := gecko.New(cfg.GeckoBaseURL)
	hel := helius.New(cfg.HeliusRPCURL)
	rug := rugcheck.New(cfg.RugcheckBaseURL)
	jup := jupiter.New(cfg.JupiterQuoteURL)

	chains := providerChains{
		market:  []enrich.MarketProvider{dex},
		holders: []enrich.HolderProvider{hel},
		risk:    []enrich.RiskProvider{rug},
		route:   []enrich.RouteProvider{jup},
	}
	stats := map[string]func() observability.ProviderStats{
		"dexscreener": func() observability.ProviderStats {
			s := dex.Stats()
			return observability.ProviderStats{RequestCount: s.RequestCount, ErrorCount: s.ErrorCount}
		},
		"geckoterminal": func() observability.ProviderStats {
			s := gt.Stats()
			return observability.ProviderStats{RequestCount: s.RequestCount, ErrorCount: s.ErrorCount}
		},
		"helius": func() observability.ProviderStats {
			s := hel.Stats()
			return observability.ProviderStats{RequestCount: s.RequestCount, ErrorCount: s.ErrorCount}
		},
		"rugcheck": func() observability.ProviderStats {
			s := rug.Stats()
			return observability.ProviderStats{RequestCount: s.RequestCount, ErrorCount: s.ErrorCount}
		},
		"jupiter": func() observability.ProviderStats {
			s := jup.Stats()
			return observability.ProviderStats{RequestCount: s.RequestCount, ErrorCount: s.ErrorCount}
		},
	}

	// Birdeye sits between DexScreener and GeckoTerminal when a key is set,
	// and backs up the RPC provider for holder counts.
	if cfg.BirdeyeAPIKey != "" {
		be := birdeye.New(cfg.BirdeyeBaseURL, cfg.BirdeyeAPIKey)
		chains.market = append(chains.market, be)
		chains.holders = append(chains.holders, be)
		stats["birdeye"] = func() observability.ProviderStats {
			s := be.Stats()
			return observability.ProviderStats{RequestCount: s.RequestCount, ErrorCount: s.ErrorCount}
		}
	}
	chains.market = append(chains.market, gt)

	return chains, stats
}

// buildStore selects the durable tier and wraps it in the redis cache when
// one is configured.
func buildStore(ctx context.Context, cfg config.StoreConfig) (store.Store, func(), error) {
	var st store.Store
	if cfg.PostgresDSN == "" {
		log.Info().Msg("store: in-memory (no postgres dsn configured)")
		st = memory.New()
	} else {
		pg, err := postgres.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Msg("store: postgres connected")
		st = pg
	}

	if cfg.RedisAddr != "" {
		ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
		cached, err := rediscache.New(ctx, st, cfg.RedisAddr, cfg.RedisDB, ttl)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("store: redis cache tier enabled")
		st = cached
	}

	return st, st.Close, nil
}

func discoveryStats(pp *discovery.PumpPortalIngestor, fh *discovery.LogsIngestor) observability.DiscoveryStats {
	var out observability.DiscoveryStats
	if pp != nil {
		s := pp.Stats()
		out.Observed += s.EventsReceived
		out.Emitted += s.EventsReceived - s.Malformed
		out.Malformed += s.Malformed
		out.Reconnects += s.Reconnects
	}
	if fh != nil {
		s := fh.Stats()
		out.Observed += s.EventsReceived
		out.Emitted += s.Resolved
		out.Duplicates += s.Duplicates
		out.Malformed += s.Malformed
		out.Reconnects += s.Reconnects
	}
	return out
}

func registerHealthChecks(m *observability.HealthMonitor, st store.Store, pp *discovery.PumpPortalIngestor, fh *discovery.LogsIngestor) {
	m.Register("store", func(ctx context.Context) observability.ComponentHealth {
		_, err := st.Get(ctx, "health-probe")
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return observability.ComponentHealth{Status: observability.StatusUnhealthy, Message: err.Error()}
		}
		return observability.ComponentHealth{Status: observability.StatusHealthy}
	})
	if pp != nil {
		m.Register("pumpportal", func(ctx context.Context) observability.ComponentHealth {
			if !pp.Stats().Connected {
				return observability.ComponentHealth{Status: observability.StatusDegraded, Message: "stream disconnected"}
			}
			return observability.ComponentHealth{Status: observability.StatusHealthy}
		})
	}
	if fh != nil {
		m.Register("firehose", func(ctx context.Context) observability.ComponentHealth {
			if !fh.Stats().Connected {
				return observability.ComponentHealth{Status: observability.StatusDegraded, Message: "stream disconnected"}
			}
			return observability.ComponentHealth{Status: observability.StatusHealthy}
		})
	}
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "potwatch").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "potwatch").
			Str("instance", general.InstanceID).Logger()
	}
}
