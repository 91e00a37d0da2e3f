package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/postmint/postmint/internal/abtest"
	"github.com/postmint/postmint/internal/api"
	"github.com/postmint/postmint/internal/auth"
	"github.com/postmint/postmint/internal/cache"
	"github.com/postmint/postmint/internal/generator"
	"github.com/postmint/postmint/internal/inventory"
	"github.com/postmint/postmint/internal/knowledge"
	"github.com/postmint/postmint/internal/messagebus"
	"github.com/postmint/postmint/internal/metrics"
	"github.com/postmint/postmint/internal/patterns"
	"github.com/postmint/postmint/internal/provider"
	"github.com/postmint/postmint/internal/scoring"
	"github.com/postmint/postmint/internal/store"
	"github.com/postmint/postmint/internal/telemetry"
	"github.com/postmint/postmint/pkg/config"
)

const version = "0.1.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("postmint v%s\n", version)
		return
	}

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		log.Fatalf("failed to load config from %s: %v", *configPath, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Init(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			log.Fatalf("failed to initialize telemetry: %v", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Printf("telemetry shutdown failed: %v", err)
			}
		}()
	}

	st, err := openStore(cfg)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	bus, err := openBus(cfg)
	if err != nil {
		log.Fatalf("failed to connect message bus: %v", err)
	}
	defer bus.Close()

	m := metrics.New()

	registry := provider.NewRegistry()
	for _, pc := range cfg.Providers {
		if err := registry.Register(pc, cfg.Generation.RequestsPerMinute); err != nil {
			log.Fatalf("failed to register provider %s: %v", pc.ID, err)
		}
	}
	if cfg.Generation.DefaultProvider != "" {
		if err := registry.SetDefault(cfg.Generation.DefaultProvider); err != nil {
			log.Fatalf("failed to set default provider: %v", err)
		}
	}

	corpus, err := knowledge.Load(cfg.Knowledge.Dir)
	if err != nil {
		log.Printf("knowledge corpus unavailable: %v", err)
		corpus = nil
	} else {
		if cfg.Knowledge.HotReload {
			if err := corpus.Watch(); err != nil {
				log.Printf("knowledge hot reload unavailable: %v", err)
			}
		}
		defer corpus.Close()
	}

	scorer := scoring.NewHeuristic(scoring.Config{
		Profile:       cfg.Scoring.Profile,
		PassThreshold: cfg.Scoring.PassThreshold,
	})

	patternStore := patterns.New(st, patterns.Config{
		SuccessThreshold: cfg.Scoring.SuccessThreshold,
		MaxPerCategory:   cfg.Patterns.MaxPerCategory,
		MaxBad:           cfg.Patterns.MaxBad,
		BaselineOffset:   cfg.Patterns.BaselineOffset,
	}, nil)

	engine := abtest.New(st, cfg.Accounts, nil, m)

	var completionCache *cache.Cache
	if cfg.Redis.Enabled {
		backend, err := cache.NewRedisBackend(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Printf("redis cache unavailable, falling back to memory: %v", err)
			completionCache = cache.New(cache.NewMemoryBackend(), time.Hour)
		} else {
			completionCache = cache.New(backend, time.Hour)
		}
	}

	gen := generator.New(generator.Options{
		Config:    cfg.Generation,
		Patterns:  cfg.Patterns,
		Accounts:  cfg.Accounts,
		Providers: registry,
		Store:     patternStore,
		Knowledge: corpus,
		Scorer:    scorer,
		Variants:  engine,
		Cache:     completionCache,
		Metrics:   m,
		Rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
	})

	inv := inventory.New(cfg.Stock, st, gen, cfg.AccountIDs(), m)

	bridge := messagebus.NewBridge(bus, patternStore, engine)
	if _, standalone := bus.(messagebus.Noop); !standalone {
		if err := bridge.Start(); err != nil {
			log.Fatalf("failed to start outcome bridge: %v", err)
		}
	}

	authManager := auth.NewManager(cfg.Auth)

	server := api.NewServer(cfg, st, gen, inv, engine, patternStore, authManager, bus, bridge, m)
	log.Printf("postmint v%s starting with %d accounts", version, len(cfg.Accounts))
	if err := server.Start(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
	log.Printf("postmint stopped")
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Database.Type {
	case "postgres":
		return store.NewPostgres(cfg.Database.DSN)
	default:
		return store.NewMemoryStore(), nil
	}
}

func openBus(cfg *config.Config) (messagebus.Bus, error) {
	if !cfg.NATS.Enabled {
		return messagebus.Noop{}, nil
	}
	return messagebus.NewNatsMessageBus(messagebus.Config{
		URL:        cfg.NATS.URL,
		StreamName: cfg.NATS.StreamName,
	})
}
