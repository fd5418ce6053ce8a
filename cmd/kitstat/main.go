package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apihttp "github.com/GriffinCanCode/kernelkit/internal/api/http"
	"github.com/GriffinCanCode/kernelkit/internal/infrastructure/config"
	"github.com/GriffinCanCode/kernelkit/internal/infrastructure/logging"
	"github.com/GriffinCanCode/kernelkit/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/kernelkit/internal/infrastructure/server"
	"github.com/GriffinCanCode/kernelkit/internal/soak"
	"github.com/GriffinCanCode/kernelkit/kernel"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "kitstat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Flags override the environment.
	addr := flag.String("addr", cfg.Metrics.Address, "Inspection server address")
	workers := flag.Int("soak-workers", cfg.Soak.Workers, "Soak workers (0 disables the workload)")
	ipc := flag.Bool("soak-ipc", cfg.Soak.IPC, "Run soak rounds over named ports")
	dev := flag.Bool("dev", cfg.Logging.Development, "Development logging")
	flag.Parse()

	cfg.Metrics.Address = *addr
	cfg.Soak.Workers = *workers
	cfg.Soak.Enabled = cfg.Soak.Enabled && *workers > 0
	cfg.Soak.IPC = *ipc
	cfg.Logging.Development = *dev

	logger, err := logging.New(logging.FromConfig(cfg.Logging))
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	if err := kernel.Configure(cfg); err != nil {
		return fmt.Errorf("configure kernel: %w", err)
	}
	metrics := monitoring.NewMetrics()
	kernel.SetLogger(logger.Logger)
	kernel.SetMetrics(metrics)

	logger.Info("Starting kitstat",
		zap.String("addr", cfg.Metrics.Address),
		zap.String("shm_dir", cfg.IPC.SHMDir),
		zap.Bool("soak", cfg.Soak.Enabled),
		zap.Int64("team", kernel.CurrentTeamID()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	var source apihttp.SoakSource
	if cfg.Soak.Enabled {
		workload := soak.New(cfg.Soak, logger)
		source = workload
		g.Go(func() error {
			return workload.Run(ctx)
		})
	}

	if cfg.Metrics.Enabled {
		srv := server.NewServer(cfg, logger, metrics, source)
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}

	err = g.Wait()
	logger.Info("kitstat stopped", zap.Any("resources", kernel.ResourceStats()))
	return err
}
