package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urmzd/ambisense/pkg/api"
	"github.com/urmzd/ambisense/pkg/bridge"
	"github.com/urmzd/ambisense/pkg/link"

	_ "github.com/urmzd/ambisense/docs"
)

// @title           AmbiSense Bridge API
// @version         1.0
// @description     REST API for synchronizing and validating AmbiSense radar LED controller settings

// @host      localhost:8080
// @BasePath  /api/v1
// @schemes   http https

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	dbPath := flag.String("db", "", "Path to database file (default: ~/.config/ambisense/ambisense.db)")
	profile := flag.String("profile", "", "Profile to activate, created if missing (default: current active profile)")
	linksFile := flag.String("links", "", "YAML file of device links to import on startup")
	apiAddr := flag.String("api-addr", "", "API listen address (host:port), saved to the profile")
	scanInterval := flag.Duration("scan-interval", link.DefaultScanInterval, "How often each device is polled")
	rateLimit := flag.Float64("rate-limit", 10, "Maximum device polls started per second")
	iface := flag.String("interface", "", "Network interface for mDNS discovery (default: all)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal().Err(err).Str("level", *logLevel).Msg("Invalid log level")
	}
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := bridge.Open(ctx, bridge.Options{
		DBPath:       *dbPath,
		Profile:      *profile,
		LinksFile:    *linksFile,
		APIAddr:      *apiAddr,
		ScanInterval: *scanInterval,
		RateLimit:    *rateLimit,
		Interface:    *iface,
		MQTT:         true,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start bridge")
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close bridge")
		}
	}()

	router := api.NewRouter(api.Deps{
		Links:     b.Links,
		Services:  b.Services,
		Scanner:   b.Scanner,
		Store:     b.Store(),
		Validator: b.Validator,
		Timezone:  b.Config.Timezone(),
	})

	go func() {
		if err := b.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Link polling stopped")
		}
	}()

	addr := b.Config.APIAddress()
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shut down API server")
		}
	}()

	log.Info().Str("address", addr).Msg("Starting API server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
