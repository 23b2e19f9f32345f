package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"guest-dns/pkg/api"
	"guest-dns/pkg/config"
	"guest-dns/pkg/device"
	"guest-dns/pkg/dns"
	"guest-dns/pkg/hosts"
	"guest-dns/pkg/logging"
	"guest-dns/pkg/netenv"
	"guest-dns/pkg/ratelimit"
	"guest-dns/pkg/resolver"
	"guest-dns/pkg/storage"
	"guest-dns/pkg/telemetry"

	"golang.org/x/sync/errgroup"
)

var (
	configPath = flag.String("config", "config.yml", "Path to configuration file")
	version    = "dev"
	buildTime  = "unknown"
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "guest-dns: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Parse configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Close() }()

	// Only the hosts table follows file edits; everything else needs a restart
	watcher, err := config.NewWatcher(*configPath, logger.Component("config").Logger)
	if err != nil {
		return fmt.Errorf("failed to watch config: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	logger.Info("guest-dns starting",
		"version", version,
		"build_time", buildTime,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize telemetry
	telem, err := telemetry.New(ctx, &cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	metrics, err := telem.InitMetrics()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	// A missing adapter leaves loopback answers unrewritten but is not fatal
	adapterIP, err := netenv.AdapterIPv4(ctx, cfg.Server.Adapter)
	if err != nil {
		logger.Error("Adapter address unavailable, continuing degraded", "adapter", cfg.Server.Adapter, "error", err)
	} else {
		logger.Info("Adapter address detected", "adapter", cfg.Server.Adapter, "ip", adapterIP.String())
	}

	table := hosts.NewTable()
	loadHosts(ctx, table, cfg.Hosts, metrics, logger)
	watcher.OnChange(func(next *config.Config) {
		loadHosts(ctx, table, next.Hosts, metrics, logger)
	})

	backend, err := resolver.NewBackend(&cfg.Resolver, logger.Component("resolver"))
	if err != nil {
		return fmt.Errorf("failed to initialize resolver: %w", err)
	}

	journal, err := storage.New(&storage.Config{
		Enabled:       cfg.Journal.Enabled,
		Path:          cfg.Journal.Path,
		BufferSize:    cfg.Journal.BufferSize,
		BatchSize:     cfg.Journal.BatchSize,
		FlushInterval: cfg.Journal.FlushInterval,
		BusyTimeout:   cfg.Journal.BusyTimeout,
		WALMode:       true,
	}, metrics, logger.Component("journal").Logger)
	if err != nil {
		backend.Close()
		return fmt.Errorf("failed to initialize query journal: %w", err)
	}

	gateway := net.ParseIP(cfg.Server.GatewayAddress)

	front, err := device.NewFrontend(cfg.Server.ListenAddress, gateway, logger.Component("frontend"))
	if err != nil {
		backend.Close()
		_ = journal.Close()
		return err
	}
	limiter := ratelimit.New(&cfg.Server.RateLimit, logger.Component("ratelimit"))
	defer limiter.Stop()
	front.SetLimiter(limiter)

	var dev *device.Device
	server := dns.NewServer(table, backend, adapterIP, func() { dev.Notify() }, logger.Component("dns"))
	server.SetMetrics(metrics)
	server.SetJournal(journal)
	server.SetTracer(telem.Tracer())
	server.SetPollInterval(cfg.Server.ShutdownPollInterval)
	dev = device.New(server, gateway, front, cfg.Server.Backlog, logger.Component("device"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return watcher.Start(gctx) })
	g.Go(func() error { return dev.Run(gctx) })
	g.Go(func() error { return front.Serve(gctx, dev) })
	if cfg.API.Enabled {
		apiServer := api.New(&api.Config{
			ListenAddress: cfg.API.ListenAddress,
			Storage:       journal,
			Hosts:         table,
			DNS:           server,
			Logger:        logger.Component("api").Logger,
			Version:       version,
		})
		g.Go(func() error { return apiServer.Start(gctx) })
	}

	logger.Info("guest-dns is running",
		"address", front.Addr().String(),
		"gateway", cfg.Server.GatewayAddress,
		"resolver", cfg.Resolver.Mode,
		"hosts", table.Len(),
	)

	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("Service error", "error", runErr)
	} else {
		runErr = nil
		logger.Info("Received shutdown signal")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Closing the backend first fails in-flight lookups, so Shutdown
	// only has to drain their responses.
	backend.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during DNS server shutdown", "error", err, "outstanding", server.Outstanding())
	}
	if err := front.Close(); err != nil {
		logger.Error("Error closing frontend", "error", err)
	}
	if err := journal.Close(); err != nil {
		logger.Error("Error closing query journal", "error", err)
	}
	if err := telem.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during telemetry shutdown", "error", err)
	}

	logger.Info("guest-dns stopped")
	return runErr
}

// loadHosts replaces the override table from configuration entries
func loadHosts(ctx context.Context, table *hosts.Table, list []config.HostEntry, metrics *telemetry.Metrics, logger *logging.Logger) {
	entries, errs := hosts.EntriesFromConfig(list)
	for _, err := range errs {
		logger.Warn("Skipping invalid hosts entry", "error", err)
	}
	n := table.Reload(entries)
	metrics.RecordHostsEntries(ctx, n)
	logger.Info("Hosts table loaded", "entries", n)
}
