package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nextlane/antigw/internal/accountpool"
	"github.com/nextlane/antigw/internal/aimodels"
	"github.com/nextlane/antigw/internal/config"
	"github.com/nextlane/antigw/internal/dialect"
	"github.com/nextlane/antigw/internal/dialect/anthropic"
	"github.com/nextlane/antigw/internal/dialect/openaichat"
	"github.com/nextlane/antigw/internal/dialect/openairesponses"
	"github.com/nextlane/antigw/internal/gwlog"
	"github.com/nextlane/antigw/internal/httpapi"
	"github.com/nextlane/antigw/internal/orchestrator"
	"github.com/nextlane/antigw/internal/sigcache"
	"github.com/nextlane/antigw/internal/upstream"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "antigw:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to the gateway config file")
	pretty := flag.Bool("pretty", false, "emit human-readable console logs instead of JSON")
	flag.Parse()

	log := gwlog.New(*pretty, zerolog.InfoLevel)
	log.Info().Str("version", Version).Msg("starting antigw")

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store := accountpool.NewFileStore(cfg.Proxy.AccountsFile)
	idp := &accountpool.OAuth2IdentityProvider{}
	pool := accountpool.New(store, idp, log)
	if err := pool.Load(); err != nil {
		return fmt.Errorf("load account pool: %w", err)
	}
	log.Info().Int("accounts", pool.Count()).Msg("account pool loaded")

	httpClient := upstream.NewTunedHTTPClient()
	upstreamClient, err := upstream.NewClient(httpClient, cfg.Proxy.Endpoints, log)
	if err != nil {
		return fmt.Errorf("build upstream client: %w", err)
	}

	cache := sigcache.New()
	router := aimodels.Router{}

	registry := dialect.NewRegistry(
		openaichat.New(cache, router),
		openairesponses.New(cache, router),
		anthropic.New(cache, router),
	)

	orc := &orchestrator.Orchestrator{
		Registry:           registry,
		Pool:               pool,
		Client:             upstreamClient,
		Cache:              cache,
		Log:                log,
		SwitchPreviewModel: cfg.Proxy.SwitchPreviewModel,
		DefaultProjectID:   cfg.Proxy.DefaultProjectID,
	}

	server := httpapi.New(orc, cfg.Server.APIKey, cfg.Proxy.RequestTimeout, Version, log)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: server,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return cache.Run(ctx, 5*time.Minute)
	})
	g.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info().Msg("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
