package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gantry/gantry/config"
	"github.com/gantry/gantry/pkg/client"
	"github.com/gantry/gantry/pkg/engine"
	"github.com/gantry/gantry/pkg/gateway"
	"github.com/gantry/gantry/pkg/logger"
	"github.com/gantry/gantry/pkg/version"
)

var (
	configPath  = flag.String("config", "", "path to the configuration file (default $CONFIG_PATH or config.yaml)")
	logLevel    = flag.String("log-level", "", "override log level (debug, info, warn, error)")
	versionFlag = flag.Bool("version", false, "print version information")
)

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Printf("gantry %s (built %s, commit %s)\n", version.Version, version.BuildTime, version.GitCommit)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath, buildOverrides())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration:\n%s\n", err)
		os.Exit(1)
	}

	log := logger.New(&logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	defer log.Close()

	log.Info("starting gantry",
		"version", version.Version,
		"clients", len(cfg.Clients),
		"routes", len(cfg.Routes),
	)

	table, err := gateway.NewTable(cfg)
	if err != nil {
		log.Error("route compilation failed", "error", err)
		os.Exit(1)
	}

	registry, err := client.NewRegistry(cfg.Clients, log)
	if err != nil {
		log.Error("client initialization failed", "error", err)
		os.Exit(1)
	}
	defer registry.Close()

	scheduler := engine.NewScheduler(registry, log)
	handler := gateway.NewHandler(table, scheduler, log)
	server := gateway.NewServer(&cfg.Server, handler, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", "error", err)
		os.Exit(1)
	}
}

// buildOverrides maps flags and the HOST/PORT/GANTRY_LOG_LEVEL environment
// variables onto config keys.
func buildOverrides() map[string]interface{} {
	overrides := map[string]interface{}{}

	if host := os.Getenv("HOST"); host != "" {
		overrides["server.host"] = host
	}
	if port := os.Getenv("PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			overrides["server.port"] = n
		}
	}
	if level := os.Getenv("GANTRY_LOG_LEVEL"); level != "" {
		overrides["log.level"] = level
	}
	if *logLevel != "" {
		overrides["log.level"] = *logLevel
	}

	return overrides
}
