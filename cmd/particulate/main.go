package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/particulate/internal/api"
	"github.com/banshee-data/particulate/internal/config"
	"github.com/banshee-data/particulate/internal/db"
	"github.com/banshee-data/particulate/internal/metrics"
	"github.com/banshee-data/particulate/internal/readings"
	"github.com/banshee-data/particulate/internal/scheduler"
	"github.com/banshee-data/particulate/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a .yaml or .json config file (default "+config.DefaultConfigPath+" if present)")
	listen      = flag.String("listen", "", "HTTP listen address (overrides config)")
	dbPath      = flag.String("db", "", "SQLite database path (overrides config)")
	devMode     = flag.Bool("dev", false, "Run with simulated sensors instead of serial hardware")
	retain      = flag.Duration("retain", 0, "Delete readings older than this (0 keeps everything)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig(*configPath, *listen, *dbPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	switch flag.Arg(0) {
	case "":
		if err := run(cfg); err != nil {
			log.Fatal(err)
		}
	case "migrate":
		if err := db.RunMigrateCommand(flag.Args()[1:], cfg.DBPath, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
	case "status":
		if err := runStatus(context.Background(), flag.Args()[1:], cfg.Listen, defaultStatusClient(), os.Stdout); err != nil {
			log.Fatalf("status: %v", err)
		}
	case "plot":
		if err := runPlot(flag.Args()[1:], cfg.DBPath); err != nil {
			log.Fatalf("plot: %v", err)
		}
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", flag.Arg(0))
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(flag.CommandLine.Output(), `particulate - particulate matter sensor daemon

Usage: particulate [flags] [command]

Commands:
  (none)     Poll the configured sensors and serve the API
  migrate    Manage database schema migrations (see "migrate help")
  plot       Write stored readings to a PNG chart
  status     Show sensors and latest readings of a running daemon
  help       Show this help message

Flags:
`)
	flag.PrintDefaults()
}

// loadConfig reads path, or the default path when it exists, then applies
// command line overrides.
func loadConfig(path, listenOverride, dbOverride string) (*config.Config, error) {
	cfg := config.Default()
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err == nil {
			path = config.DefaultConfigPath
		}
	}
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if listenOverride != "" {
		cfg.Listen = listenOverride
	}
	if dbOverride != "" {
		cfg.DBPath = dbOverride
	}
	return cfg, nil
}

func run(cfg *config.Config) error {
	log.Printf("starting %s", version.String())

	database, err := db.NewDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	hub := readings.NewHub()
	defer hub.Close()

	reg := metrics.NewRegistry()
	observer := metrics.NewSensorMetrics(reg)

	sensors, err := buildSensors(cfg, *devMode, readings.Multi{hub, database}, observer)
	if err != nil {
		return err
	}
	defer func() {
		for _, s := range sensors {
			if err := s.Close(); err != nil {
				log.Printf("sensor %s: close: %v", s.Name(), err)
			}
		}
	}()

	devices := make([]scheduler.PolledDevice, 0, len(sensors))
	reporters := make([]api.StatusReporter, 0, len(sensors))
	for _, s := range sensors {
		devices = append(devices, s)
		reporters = append(reporters, s)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// poll the sensors until shutdown
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := scheduler.New(nil, devices...).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("scheduler: %v", err)
		}
		log.Print("scheduler routine terminated")
	}()

	if *retain > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pruneLoop(ctx, database, *retain)
			log.Print("retention routine terminated")
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(reporters, hub, database).ServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		hub.AttachAdminRoutes(mux)
		if err := database.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach database admin routes: %v", err)
		}

		server := &http.Server{
			Addr:              cfg.Listen,
			Handler:           api.LoggingMiddleware(mux),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			log.Printf("listening on %s", cfg.Listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("HTTP server error: %v", err)
				stop()
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
	return nil
}

// pruneLoop deletes readings older than retain once an hour.
func pruneLoop(ctx context.Context, database *db.DB, retain time.Duration) {
	prune := func() {
		n, err := database.PruneBefore(time.Now().Add(-retain))
		if err != nil {
			log.Printf("failed to prune readings: %v", err)
			return
		}
		if n > 0 {
			log.Printf("pruned %d readings older than %s", n, retain)
		}
	}

	prune()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
