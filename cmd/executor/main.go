// Package main is the RevenueMonkey executor binary.
//
// The executor:
//   - Sweeps eligible Tier-1 and approved Tier-2 actions on a schedule
//   - Records every attempt in the execution log and supports rollback
//   - Trips a circuit breaker after repeated failures
//   - Routes notifications to Slack and email with batching and quiet hours
//   - Publishes execution events and accepts operator commands over NATS
//   - Serves the operator HTTP API, /metrics, /health and gRPC health
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/config"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/logger"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/orchestrator"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	Version = "0.1.0"
	appName = "revenuemonkey-executor"
)

func main() {
	logger.Initialize()
	defer func() { _ = zap.L().Sync() }()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "executor",
		Short: "Autonomous action executor",
		Long: `The executor applies approved and auto-executable content actions,
keeps an audit log with rollback, and notifies operators.

Run "executor serve" for the long-running service, or "executor sweep" and
"executor flush" for one-shot runs from cron.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(serveCmd(), sweepCmd(), flushCmd(), digestCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", appName, Version)
		},
	})

	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.For(logger.ComponentMain)
	log.Infof("Configuration loaded successfully")
	log.Infof("  HTTP Port: %s", cfg.HTTPPort)
	log.Infof("  gRPC Port: %s", cfg.GRPCPort)
	log.Infof("  Health Port: %s", cfg.HealthPort)
	log.Infof("  NATS URL: %s", cfg.NatsURL)
	log.Infof("  Database: %v", cfg.DatabaseURL != "")
	log.Infof("  Redis: %v", cfg.RedisAddr != "")
	log.Infof("  Auto-Execution Enabled: %v", cfg.EnableAutoExecution)
	log.Infof("  Limits: %d/hour, %d/day, breaker at %d failures",
		cfg.MaxAutoExecutionsPerHour, cfg.MaxAutoExecutionsPerDay, cfg.CircuitBreakerThreshold)
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the executor service",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.For(logger.ComponentMain)
			log.Infof("RevenueMonkey Executor starting...")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			orch := orchestrator.NewOrchestrator(cfg)
			if err := orch.Start(ctx); err != nil {
				return fmt.Errorf("failed to start orchestrator: %w", err)
			}

			runErr := orch.Run(ctx)
			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				log.Errorf("Orchestrator error: %v", runErr)
			} else {
				runErr = nil
			}

			log.Infof("Shutting down...")
			if err := orch.Stop(); err != nil {
				log.Errorf("Error during shutdown: %v", err)
			}

			log.Infof("Executor stopped successfully")
			return runErr
		},
	}
}

// oneShot initializes without servers, runs fn, then delivers anything queued.
func oneShot(timeout time.Duration, fn func(ctx context.Context, orch *orchestrator.Orchestrator) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, timeout)
	defer cancelTimeout()

	orch := orchestrator.NewOrchestrator(cfg)
	if err := orch.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() { _ = orch.Stop() }()

	return fn(ctx, orch)
}

func sweepCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one auto-execution sweep and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return oneShot(timeout, func(ctx context.Context, orch *orchestrator.Orchestrator) error {
				result := orch.Sweep(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "executed=%d failed=%d skipped=%d\n", result.Executed, result.Failed, result.Skipped)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Maximum time for the sweep")
	return cmd
}

func flushCmd() *cobra.Command {
	var (
		timeout time.Duration
		all     bool
	)

	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Deliver queued notification batches and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return oneShot(timeout, func(ctx context.Context, orch *orchestrator.Orchestrator) error {
				n := orch.FlushNotifications(ctx, all)
				fmt.Fprintf(cmd.OutOrStdout(), "delivered %d batches\n", n)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "Maximum time for delivery")
	cmd.Flags().BoolVar(&all, "all", false, "Deliver every batch regardless of size or age")
	return cmd
}

func digestCmd() *cobra.Command {
	var (
		timeout time.Duration
		weekly  bool
	)

	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Send the daily digest (or weekly report) now and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return oneShot(timeout, func(ctx context.Context, orch *orchestrator.Orchestrator) error {
				if weekly {
					return orch.SendWeeklyReport(ctx)
				}
				return orch.SendDailyDigest(ctx)
			})
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "Maximum time for delivery")
	cmd.Flags().BoolVar(&weekly, "weekly", false, "Send the weekly report instead of the daily digest")
	return cmd
}
