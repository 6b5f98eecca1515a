package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sonatype/central-nxrm-two-portal/internal/api"
	"github.com/sonatype/central-nxrm-two-portal/internal/bundle"
	"github.com/sonatype/central-nxrm-two-portal/internal/config"
	"github.com/sonatype/central-nxrm-two-portal/internal/credentials"
	"github.com/sonatype/central-nxrm-two-portal/internal/portal"
	"github.com/sonatype/central-nxrm-two-portal/internal/staging"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	setupLogging(cfg.Logging)
	log.Info().Msg("starting nxrm2-portal proxy")

	bundles, err := bundle.NewStore(cfg.Bundle.Root, cfg.Bundle.MaxFileBytes, cfg.Bundle.MaxSessionBytes)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize bundle store")
	}

	registry := staging.NewRegistry(staging.Config{
		InactivityTimeout: cfg.Staging.InactivityTimeout,
		RetentionWindow:   cfg.Staging.RetentionWindow,
	})
	registry.Run(time.Minute)
	defer registry.Stop()

	portalClient := portal.NewClient(cfg.Portal.CentralURL, &http.Client{Timeout: 2 * time.Minute})

	var verifier *credentials.BearerVerifier
	if cfg.Portal.JWTPublicKeyPath != "" {
		verifier, err = credentials.LoadBearerVerifier(cfg.Portal.JWTPublicKeyPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load bearer token verifier")
		}
	}

	fingerprinter, err := credentials.NewFingerprinter()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize credential fingerprinter")
	}

	app := api.NewApp(cfg, bundles, registry, portalClient, verifier, fingerprinter)
	router := app.NewRouter()

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shut down")
	} else {
		log.Info().Msg("shutdown complete")
	}
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
