package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/momoguard/internal/api"
	"github.com/opensource-finance/momoguard/internal/bus"
	"github.com/opensource-finance/momoguard/internal/cache"
	"github.com/opensource-finance/momoguard/internal/domain"
	"github.com/opensource-finance/momoguard/internal/repository"
	"github.com/opensource-finance/momoguard/internal/rules"
	"github.com/opensource-finance/momoguard/internal/velocity"
	"github.com/opensource-finance/momoguard/internal/verify"
	"github.com/opensource-finance/momoguard/internal/worker"
)

func serveCmd(a *app) *cobra.Command {
	var (
		runWorker bool
		tenants   []string
		workers   int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(os.Stdout, a.cfg.Logging)
			opts := serveOptions{
				runWorker: runWorker || a.cfg.Tier == domain.TierPro,
				worker:    worker.Config{TenantIDs: tenants, WorkerCount: workers},
			}
			return serve(cmd.Context(), a.cfg, opts)
		},
	}

	cmd.Flags().BoolVar(&runWorker, "worker", false, "consume queued SMS from the event bus (always on for the pro tier)")
	cmd.Flags().StringSliceVar(&tenants, "tenants", nil, "tenants the worker consumes (default: all)")
	cmd.Flags().IntVar(&workers, "worker-count", 5, "concurrent SMS ingestions")

	return cmd
}

type serveOptions struct {
	runWorker bool
	worker    worker.Config
}

func serve(ctx context.Context, cfg *domain.Config, opts serveOptions) error {
	slog.Info("starting momoguard",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	velocitySvc := velocity.NewService(repo, cacheImpl, cfg.Verify).WithCountryCode(cfg.Extractor.CountryCode)

	engine, err := rules.NewEngine(velocitySvc.GetVelocityGetter(), cfg.Risk.CustomRuleWorkers)
	if err != nil {
		return fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	defer engine.Close()

	// Rules are configured through POST /rules; an unreadable table is not fatal.
	if n, err := api.LoadRules(ctx, repo, engine); err != nil {
		slog.Warn("failed to load rules from database", "error", err)
	} else {
		slog.Info("rule engine initialized", "rules_count", n)
	}

	svc, err := verify.New(cfg, verify.Deps{
		Repo:     repo,
		Cache:    cacheImpl,
		Bus:      busImpl,
		Engine:   engine,
		Velocity: velocitySvc,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize verification service: %w", err)
	}

	var asyncWorker *worker.Worker
	if opts.runWorker {
		asyncWorker = worker.NewWorker(busImpl, svc)
		if err := asyncWorker.Start(opts.worker); err != nil {
			return fmt.Errorf("failed to start async worker: %w", err)
		}
		slog.Info("async worker started", "tenant_count", len(opts.worker.TenantIDs))
	}

	handler := api.NewHandler(svc, repo, cacheImpl, busImpl, engine, Version)
	srv := api.NewServer(cfg.Server, cfg.Verify, handler)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("momoguard is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"test_endpoints", cfg.Verify.EnableTestEndpoints,
	)
	printBanner(cfg, Version)

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case serveErr = <-errCh:
		slog.Error("server failed", "error", serveErr)
	}

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
		stats := asyncWorker.GetStats()
		slog.Info("async worker stopped",
			"ingested", stats.Processed.Ingested,
			"duplicates", stats.Processed.Duplicates,
			"unparsed", stats.Processed.Unparsed,
			"failed", stats.Processed.Failed,
		)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("momoguard shutdown complete")
	return serveErr
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  MomoGuard - mobile money payment verification")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /sms                - Ingest a forwarded SMS")
	fmt.Println("    POST /verify             - Verify a payment claim")
	fmt.Println("    GET  /payments/{id}      - Get payment by ID")
	fmt.Println("    GET  /verifications/{id} - Get verification by ID")
	fmt.Println("    GET  /stats              - Tenant activity")
	fmt.Println("    GET  /rules              - List loaded rules")
	fmt.Println("    POST /rules              - Create a rule")
	fmt.Println("    POST /rules/reload       - Hot-reload rules from database")
	if cfg.Verify.EnableTestEndpoints {
		fmt.Println("    POST /parse              - Parse an SMS without storing it")
	}
	fmt.Println("    GET  /health             - Health check")
	fmt.Println()
}
