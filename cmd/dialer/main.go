package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CyCoreSystems/ari/v5/client/native"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/flowdial/dialer/internal/api"
	"github.com/flowdial/dialer/internal/api/middleware"
	"github.com/flowdial/dialer/internal/callservice"
	"github.com/flowdial/dialer/internal/catalog"
	"github.com/flowdial/dialer/internal/config"
	"github.com/flowdial/dialer/internal/database"
	"github.com/flowdial/dialer/internal/events"
	"github.com/flowdial/dialer/internal/manager"
	"github.com/flowdial/dialer/internal/metrics"
	"github.com/flowdial/dialer/internal/switchdriver"
	"github.com/flowdial/dialer/internal/watchdog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting dialer engine",
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir,
		"redis_addr", cfg.RedisAddr,
		"nats_url", cfg.NATSURL,
		"ari_url", cfg.ARIURL,
	)

	// Open the SQLite-backed durable store and catalog database, and run
	// migrations. Shared by the durable call store and the campaign/lead
	// catalog, per SPEC_FULL.md's two-tier store section.
	db, err := database.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	authSecret, err := cfg.AuthSecretBytes()
	if err != nil {
		slog.Error("failed to decode auth secret", "error", err)
		os.Exit(1)
	}
	if authSecret == nil {
		slog.Warn("no auth secret configured, control surface mutating routes are unauthenticated")
	}

	// Application context for background goroutines (watchdog sweeps,
	// manager run loop, switch driver command pool).
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	defer rdb.Close()

	fast := callservice.NewRedisStore(rdb, logger)
	durable := callservice.NewSQLiteDurableStore(db)
	calls := callservice.New(fast, durable, logger)

	publisher, err := events.NewNATSPublisher(cfg.NATSURL, "dialer.", logger)
	if err != nil {
		slog.Error("failed to connect to nats", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	// Switch Driver over Asterisk ARI. native.Options field names follow
	// the conventional ARI client shape (Application/URL/WebsocketURL/
	// Username/Password); no struct literal for this type was available in
	// the retrieved example pack to cross-check against, see DESIGN.md.
	ariOpts := &native.Options{
		Application:  cfg.ARIApplication,
		URL:          cfg.ARIURL,
		WebsocketURL: cfg.ARIWebsocketURL,
		Username:     cfg.ARIUsername,
		Password:     cfg.ARIPassword,
	}
	driver := switchdriver.NewARIDriver(ariOpts, logger)
	if err := driver.Connect(appCtx); err != nil {
		slog.Error("failed to connect to switch", "error", err)
		os.Exit(1)
	}

	campaigns := catalog.NewCampaignRepository(db)
	leads := catalog.NewLeadRepository(db)

	mgr := manager.New(campaigns, leads, calls, driver, publisher, logger)
	go mgr.Run(appCtx)

	watchdog.StartRingingSweep(appCtx, calls, publisher, cfg.RingTimeout, cfg.RingingSweepGrace, logger)
	watchdog.StartInitiatedSweep(appCtx, calls, publisher, logger)

	startTime := time.Now()
	collector := metrics.NewCollector(calls, &campaignProviderAdapter{mgr: mgr}, startTime)
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	rateLimiter := middleware.NewIPRateLimiter(middleware.DefaultRateLimitConfig())
	defer rateLimiter.Stop()

	apiHandler := api.NewServer(mgr, calls, driver, api.Options{
		CORSOrigins: cfg.CORSOriginList(),
		AuthSecret:  authSecret,
		RateLimit:   rateLimiter,
	}, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/", apiHandler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down dialer engine")
	appCancel()

	if err := mgr.Shutdown(shutdownCtx); err != nil {
		slog.Error("manager shutdown error", "error", err)
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("dialer engine stopped")
}

// campaignProviderAdapter bridges *manager.Manager's catalog.DialMode return
// type to the metrics.CampaignProvider interface's plain string, following
// the teacher's own adapter-struct idiom in cmd/flowpbx/main.go
// (activeCallsAdapter, conferenceProviderAdapter).
type campaignProviderAdapter struct {
	mgr *manager.Manager
}

func (a *campaignProviderAdapter) ActiveCampaigns() []string { return a.mgr.ActiveCampaigns() }

func (a *campaignProviderAdapter) CampaignMode(id string) string {
	return string(a.mgr.CampaignMode(id))
}

func (a *campaignProviderAdapter) PredictiveRatio(id string) (float64, bool) {
	return a.mgr.PredictiveRatio(id)
}
