package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"websentry/internal/agent"
	"websentry/internal/config"
	"websentry/internal/host"
	"websentry/internal/logger"
)

func main() {
	fmt.Println("WebSentry agent starting...")

	flags := parseFlags()

	log.Println("[INFO] Main: Attempting to load global configuration...")
	configPath := config.GetConfigPath(flags.ConfigFile)
	gCfg, err := config.LoadGlobalConfig(configPath)
	if err != nil {
		log.Fatalf("[FATAL] Main: Could not load global config using path '%s': %v", configPath, err)
	}

	// Command line overrides take precedence over the config file.
	if flags.ListenAddr != "" {
		gCfg.APIConfig.ListenAddr = flags.ListenAddr
	}
	if flags.LogLevel != "" {
		gCfg.LogConfig.LogLevel = flags.LogLevel
	}

	zLogger, err := logger.New(gCfg.LogConfig)
	if err != nil {
		log.Fatalf("[FATAL] Main: Could not initialize logger: %v", err)
	}
	zLogger.Info().Msg("Logger initialized successfully.")

	// Storage directories must exist before validation and agent startup.
	for _, dir := range []string{
		filepath.Dir(gCfg.StorageConfig.SQLiteDBPath),
		gCfg.StorageConfig.ParquetBasePath,
	} {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			zLogger.Fatal().Err(err).Str("directory", dir).Msg("Could not create storage directory")
		}
	}

	if err := config.ValidateConfig(gCfg); err != nil {
		zLogger.Fatal().Err(err).Msg("Configuration validation failed")
	}
	zLogger.Info().Msg("Configuration validated successfully.")

	// The daemon runs against the in-memory host surface; an embedding host
	// replaces this with its own capability implementations.
	memHost := host.NewMemHost()

	protectionAgent, err := agent.NewAgent(gCfg, memHost.Capabilities(), zLogger)
	if err != nil {
		zLogger.Fatal().Err(err).Msg("Failed to assemble agent")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := protectionAgent.Start(ctx); err != nil {
		zLogger.Fatal().Err(err).Msg("Failed to start agent")
	}

	<-ctx.Done()
	zLogger.Info().Msg("Shutdown signal received, stopping agent...")
	protectionAgent.Stop()
	zLogger.Info().Msg("WebSentry agent stopped.")
}
