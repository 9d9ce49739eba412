package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/kirogateway/kirogateway/internal/admin"
	"github.com/kirogateway/kirogateway/internal/config"
	"github.com/kirogateway/kirogateway/internal/logging"
	"github.com/kirogateway/kirogateway/internal/middleware"
	tracing "github.com/kirogateway/kirogateway/internal/monitoring/tracing"
	"github.com/kirogateway/kirogateway/internal/pool"
	"github.com/kirogateway/kirogateway/internal/relay"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	cfg, err := config.NewConfigManager(*configPath).Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if *debug {
		cfg.Debug = true
	}

	if err := logging.Setup(cfg); err != nil {
		log.WithError(err).Fatal("failed to configure logging")
	}

	tracing.SetRegion(cfg.Region)
	traceShutdown, err := tracing.Init(context.Background())
	if err != nil {
		log.WithError(err).Warn("failed to initialize tracing")
	}
	if traceShutdown != nil {
		defer func() {
			if err := traceShutdown(context.Background()); err != nil {
				log.WithError(err).Warn("failed to shutdown tracing")
			}
		}()
	}

	log.Infof("starting kirogateway (config: %s)", *configPath)

	store, err := pool.OpenStore(cfg.DatabasePath)
	if err != nil {
		log.WithError(err).Fatal("failed to open credential store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("failed to close credential store")
		}
	}()

	var proxy *pool.ProxyConfig
	if cfg.Proxy != nil && cfg.Proxy.URL != "" {
		proxy = &pool.ProxyConfig{
			URL:      cfg.Proxy.URL,
			Username: cfg.Proxy.Username,
			Password: cfg.Proxy.Password,
		}
	}

	refreshClient, err := pool.NewRefreshClient(cfg.Region, cfg.KiroVersion, proxy, cfg.RefreshRateLimitRPS)
	if err != nil {
		log.WithError(err).Fatal("failed to build refresh client")
	}

	manager, err := pool.NewManager(store, refreshClient, cfg.CooldownSeconds)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize credential pool manager")
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.Recovery())
	router.Use(middleware.CORS(cfg.AllowedOrigins...))
	router.Use(middleware.Metrics("kirogateway"))

	if strings.TrimSpace(cfg.AdminAPIKey) != "" {
		svc := admin.NewService(manager)
		admin.Mount(router, svc, cfg.AdminAPIKey)
	} else {
		log.Warn("admin API key not configured; admin surface disabled")
	}

	relayHandler := relay.NewHandler(manager, cfg.Region, cfg.APIKey)
	relay.Mount(router, relayHandler, cfg.RelayRateLimitRPS, cfg.RelayRateLimitBurst)

	router.GET("/metrics", middleware.MetricsHandler())

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpSrv := &http.Server{Addr: addr, Handler: router}

	go func() {
		log.Infof("listening on %s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server stopped unexpectedly")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown failed")
	}
	log.Info("server stopped")
}
