package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urmzd/ambisense/pkg/bridge"
	"github.com/urmzd/ambisense/pkg/link"
	ambimcp "github.com/urmzd/ambisense/pkg/mcp"
)

func main() {
	// Logging must go to stderr, stdout is the MCP transport
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	dbPath := flag.String("db", "", "Path to database file (default: ~/.config/ambisense/ambisense.db)")
	profile := flag.String("profile", "", "Profile to activate, created if missing (default: current active profile)")
	linksFile := flag.String("links", "", "YAML file of device links to import on startup")
	scanInterval := flag.Duration("scan-interval", link.DefaultScanInterval, "How often each device is polled")
	iface := flag.String("interface", "", "Network interface for mDNS discovery (default: all)")
	logLevel := flag.String("log-level", "warn", "Log level (debug, info, warn, error)")
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal().Err(err).Str("level", *logLevel).Msg("Invalid log level")
	}
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// MQTT reflection is left to the API server
	b, err := bridge.Open(ctx, bridge.Options{
		DBPath:       *dbPath,
		Profile:      *profile,
		LinksFile:    *linksFile,
		ScanInterval: *scanInterval,
		Interface:    *iface,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start bridge")
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close bridge")
		}
	}()

	go func() {
		if err := b.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Link polling stopped")
		}
	}()

	mcpServer := ambimcp.NewServer(b.Links, b.Services, b.Scanner, b.Validator)

	log.Info().Msg("Starting MCP server on stdio")

	if err := mcpServer.ServeStdio(); err != nil {
		log.Error().Err(err).Msg("MCP server failed")
	}
}
