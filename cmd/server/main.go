// Package main is the gateway's composition root: it builds the
// AccountStore -> TokenCache -> Selector -> protocol mappers -> RetryLoop
// chain and mounts it behind the OpenAI-, Claude-, and Gemini-compatible
// HTTP surfaces.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/avlabs/gemini-gateway/internal/account"
	"github.com/avlabs/gemini-gateway/internal/config"
	"github.com/avlabs/gemini-gateway/internal/logging"
	"github.com/avlabs/gemini-gateway/internal/metrics"
	"github.com/avlabs/gemini-gateway/internal/protocol/claude"
	"github.com/avlabs/gemini-gateway/internal/protocol/gemini"
	"github.com/avlabs/gemini-gateway/internal/protocol/openai"
	"github.com/avlabs/gemini-gateway/internal/retryloop"
	"github.com/avlabs/gemini-gateway/internal/scheduler"
	"github.com/avlabs/gemini-gateway/internal/selector"
	"github.com/avlabs/gemini-gateway/internal/server"
	"github.com/avlabs/gemini-gateway/internal/signature"
	"github.com/avlabs/gemini-gateway/internal/upstream"
	"github.com/avlabs/gemini-gateway/pkg/redisutil"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		debug bool
		port  int
		host  string
	)
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.IntVar(&port, "port", 0, "HTTP bind port (overrides config/env)")
	flag.StringVar(&host, "host", "", "HTTP bind host (overrides config/env)")
	flag.Parse()

	cfg := config.DefaultConfig()
	if err := cfg.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "gemini-gateway: config: %v\n", err)
		return 1
	}
	if debug {
		cfg.Debug = true
		cfg.DevMode = true
	}
	if port != 0 {
		cfg.Port = port
	}
	if host != "" {
		cfg.Host = host
	}

	log := logging.New(logging.Options{
		Level:    cfg.LogLevel,
		JSON:     !cfg.DevMode,
		FilePath: cfg.LogFile,
	})

	store, err := buildAccountStore(cfg, log)
	if err != nil {
		log.Errorf("account store: %v", err)
		return 1
	}

	clientID, clientSecret, tokenURL := config.DefaultOAuthConfig()
	accounts := account.NewManager(store, account.OAuthConfig{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	})
	if err := accounts.Load(context.Background()); err != nil {
		log.Errorf("load accounts: %v", err)
		return 1
	}

	var redisClient *redisutil.Client
	if cfg.RedisAddr != "" {
		redisClient, _ = redisutil.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	}

	registry := prometheus.NewRegistry()
	collector := metrics.New(registry)

	sigCache := signature.New(cfg.SignatureCacheLRUSize, 0, redisClient, collector)

	sel := selector.New(
		accounts,
		selector.NewHealthMonitor(cfg.HealthScore),
		selector.NewQuotaMonitor(cfg.Quota),
		selector.NewAIMDController(cfg.AIMD),
		selector.NewCircuitBreakerManager(cfg.CircuitBreaker),
		selector.NewSessionManager(),
		cfg.Selector,
	)
	sel.Metrics = collector

	upstreamClient := upstream.New(nil)
	rateLimits := selector.NewRateLimitTracker(cfg.RateLimit)
	loop := retryloop.New(sel, accounts, upstreamClient, rateLimits, cfg)
	loop.Metrics = collector

	oauthState := account.NewOAuthStateStore()
	sched := scheduler.New(cfg.Scheduler, accounts, oauthState, loop, log.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sched.Start(ctx); err != nil {
		log.Errorf("scheduler: %v", err)
		return 1
	}
	defer sched.Stop()

	srv := server.New(server.Deps{
		Config:       cfg,
		Accounts:     accounts,
		Loop:         loop,
		ClaudeMapper: claude.New(sigCache),
		OpenAIMapper: openai.New(sigCache),
		GeminiMapper: gemini.New(),
		Log:          log,
	})
	srv.SetupRoutes()

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	log.Infof("gemini-gateway %s listening on %s", config.Version, addr)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(sigCtx, addr) }()

	select {
	case <-sigCtx.Done():
		log.Info("shutting down")
		if err := <-errCh; err != nil {
			log.Errorf("shutdown: %v", err)
			return 2
		}
	case err := <-errCh:
		if err != nil {
			log.Errorf("server: %v", err)
			return 2
		}
	}
	return 0
}

// buildAccountStore picks the account persistence backend in the
// precedence order internal/account/store.go documents: Redis when
// configured and reachable, else SQLite when configured, else a
// file-backed index under config.DataDir(), matching the teacher's own
// "survive a restart without Redis" fallback.
func buildAccountStore(cfg *config.Config, log *logging.Logger) (account.Store, error) {
	if cfg.RedisAddr != "" {
		client, err := redisutil.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err == nil {
			log.Infof("account store: redis at %s", cfg.RedisAddr)
			return account.NewRedisStore(client), nil
		}
		log.Warnf("account store: redis unavailable (%v), falling back", err)
	}
	if cfg.SQLitePath != "" {
		store, err := account.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: %w", err)
		}
		log.Infof("account store: sqlite at %s", cfg.SQLitePath)
		return store, nil
	}
	path := config.DataDir() + "/accounts.json"
	log.Infof("account store: file at %s", path)
	return account.NewFileStore(path), nil
}
