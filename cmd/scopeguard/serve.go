package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/axonlabs/scopeguard/config"
	"github.com/axonlabs/scopeguard/docstore"
	"github.com/axonlabs/scopeguard/engine"
	"github.com/axonlabs/scopeguard/metrics"
	"github.com/axonlabs/scopeguard/processor/checkrunner"
)

func serveCmd(flags *rootFlags) *cobra.Command {
	var projectID string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the check worker and document watcher",
		Long: `Serve runs ScopeGuard as a long-lived service: a JetStream worker
consuming queued check requests, an optional filesystem watcher that
reindexes design documents as they change, and a Prometheus metrics
listener. Components are enabled by configuration; serve runs
whichever are configured and stops on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, projectID)
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "", "Project for document watching (required with store.watch)")

	return cmd
}

func runServe(parent context.Context, cfg *config.Config, projectID string) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !cfg.Store.Watch && cfg.NATS.URL == "" && !cfg.Metrics.Enabled {
		return fmt.Errorf("nothing to serve: enable store.watch, nats.url, or metrics.enabled")
	}
	if cfg.Store.Watch && projectID == "" {
		return fmt.Errorf("--project is required when store.watch is enabled")
	}

	reg := prometheus.NewRegistry()
	checkMetrics := metrics.New(reg)

	group, ctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		srv := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           metricsMux(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		group.Go(func() error {
			slog.Info("metrics listener started", "addr", cfg.Metrics.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics listener: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if cfg.Store.Watch {
		store, err := docstore.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open document store: %w", err)
		}
		defer store.Close()

		client, err := newLLMClient(cfg)
		if err != nil {
			return err
		}
		indexer := docstore.NewIndexer(store,
			docstore.WithEmbedder(client),
			docstore.WithCompleter(client))
		watcher := docstore.NewWatcher(indexer, projectID, cfg.Store.DocsDir,
			docstore.WithDebounce(cfg.Store.Debounce))

		group.Go(func() error {
			slog.Info("document watcher started", "dir", cfg.Store.DocsDir)
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("document watcher: %w", err)
			}
			return nil
		})
	}

	if cfg.NATS.URL != "" {
		eng, cleanup, err := buildEngine(cfg, engine.WithMetrics(checkMetrics))
		if err != nil {
			return err
		}
		defer cleanup()

		runnerCfg := checkrunner.DefaultConfig()
		runnerCfg.URL = cfg.NATS.URL
		runnerCfg.Stream = cfg.NATS.Stream
		runnerCfg.Subject = cfg.NATS.Subject
		runnerCfg.Bucket = cfg.NATS.Bucket

		runner := checkrunner.NewRunner(runnerCfg, eng)
		if err := runner.Connect(ctx); err != nil {
			return err
		}
		defer runner.Close()

		group.Go(func() error {
			if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("check runner: %w", err)
			}
			return nil
		})
	}

	slog.Info("scopeguard serving", "version", Version)
	if err := group.Wait(); err != nil {
		return err
	}
	slog.Info("scopeguard shutdown complete")
	return nil
}

func metricsMux(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
