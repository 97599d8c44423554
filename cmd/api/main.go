package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"qazna.org/permgate/internal/auth"
	"qazna.org/permgate/internal/config"
	"qazna.org/permgate/internal/httpapi"
	"qazna.org/permgate/internal/obs"
	"qazna.org/permgate/internal/registry"
	"qazna.org/permgate/internal/store/pg"
	"qazna.org/permgate/internal/token"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", os.Getenv("PERMGATE_CONFIG"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		obs.L().Fatal("load config", zap.Error(err))
	}
	logger := obs.InitLogger(cfg.LogConfig("permgate-api", version))
	defer obs.Sync()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	tcfg, err := cfg.TokenConfig()
	if err != nil {
		logger.Fatal("token config", zap.Error(err))
	}
	issuer, err := token.NewIssuer(tcfg)
	if err != nil {
		logger.Fatal("token issuer", zap.Error(err))
	}
	validator, err := token.NewValidator(tcfg)
	if err != nil {
		logger.Fatal("token validator", zap.Error(err))
	}

	if strings.TrimSpace(cfg.Database.DSN) == "" {
		logger.Fatal("database dsn missing; set database.dsn or PERMGATE_DB_DSN")
	}
	store, err := pg.Open(cfg.Database.DSN, cfg.PoolConfig())
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer store.Close()

	opts := []auth.ServiceOption{auth.WithLogger(logger.Named("auth"))}
	if cfg.Authz.ViewerFunction != "" {
		opts = append(opts, auth.WithViewerFunction(cfg.Authz.ViewerFunction))
	}
	svc, err := auth.NewService(store, issuer, opts...)
	if err != nil {
		logger.Fatal("auth service", zap.Error(err))
	}

	reg, err := registry.NewService(store, registry.WithLogger(logger.Named("registry")))
	if err != nil {
		logger.Fatal("registry service", zap.Error(err))
	}

	api, err := httpapi.New(svc, validator, httpapi.Options{
		Version:      version,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		RateEnabled:  cfg.Rate.Enabled,
		RatePerSec:   cfg.Rate.RPS,
		RateBurst:    cfg.Rate.Burst,
		Ready:        store,
		Logger:       logger.Named("http"),

		TrustForwarded: cfg.Rate.TrustForwarded,
		Registry:       reg,
	})
	if err != nil {
		logger.Fatal("http api", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting permgate-api", zap.String("addr", srv.Addr), zap.String("version", version))

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
	logger.Info("stopped")
}
