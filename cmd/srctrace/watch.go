// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/srctrace/services/srctrace/instrument"
	"github.com/AleutianAI/srctrace/services/srctrace/journal"
	"github.com/AleutianAI/srctrace/services/srctrace/telemetry"
	"github.com/AleutianAI/srctrace/services/srctrace/watch"
)

func newWatchCmd(a *app) *cobra.Command {
	var strict bool
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Keep traced copies up to date while sources change",
		Long: `watch traces every supported file under path into traced copies, then
re-traces each source when it is saved and removes the traced copy of a
source that is deleted. Sources traced in place are left alone.

With --metrics-addr, Prometheus metrics are served on /metrics and a
health check on /healthz.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "."
			if len(args) == 1 {
				target = args[0]
			}
			return runWatch(cmd.Context(), a, target, strict || a.cfg.Strict, debounce)
		},
	}
	cmd.Flags().StringVar(&a.metricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address, e.g. :9464")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail files that contain syntax errors")
	cmd.Flags().DurationVar(&debounce, "debounce", 200*time.Millisecond, "quiet period before a batch of changes is processed")
	return cmd
}

func runWatch(ctx context.Context, a *app, target string, strict bool, debounce time.Duration) error {
	info, err := os.Stat(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fatal(fmt.Errorf("%w: %s", instrument.ErrPathNotFound, target))
		}
		return fatal(fmt.Errorf("%w: %s: %v", instrument.ErrInvalidPath, target, err))
	}

	root, only := target, ""
	if !info.IsDir() {
		root, only = filepath.Dir(target), target
	}

	rep := newReporter(a.printer)
	engine := a.engine(instrument.WithResultHandler(rep.result))
	retracer := watch.NewRetracer(engine, strict, only, a.logger.Slog())

	summary, err := retracer.InitialTrace(ctx, target)
	if err != nil {
		return fatal(err)
	}
	rep.summary(summary, false)

	opts := watch.DefaultOptions()
	opts.DebounceWindow = debounce
	opts.SkipDirs = a.cfg.SkipDirs
	opts.Ignore = retracer.Ignore
	opts.Logger = a.logger.Slog()

	watcher, err := watch.NewFileWatcher(root, retracer.Handle, &opts)
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watcher.Run(gctx)
	})

	if a.metricsAddr != "" {
		ln, err := net.Listen("tcp", a.metricsAddr)
		if err != nil {
			watcher.Stop()
			return fatal(fmt.Errorf("metrics listener: %w", err))
		}
		srv := &http.Server{
			Handler:           newMetricsRouter(watcher.IsWatching),
			ReadHeaderTimeout: 5 * time.Second,
		}
		a.printer.Info(fmt.Sprintf("serving metrics on http://%s/metrics", ln.Addr()))

		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	a.printer.Box("Watching", fmt.Sprintf("%s\npress Ctrl+C to stop", root))
	if err := g.Wait(); err != nil {
		return err
	}
	a.printer.Info("watch stopped")
	return nil
}

// newMetricsRouter serves /metrics from the telemetry prometheus exporter
// and a /healthz that reports whether the watcher is running.
func newMetricsRouter(watching func() bool) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware("srctrace"))

	router.GET("/healthz", func(c *gin.Context) {
		if !watching() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "stopped"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", func(c *gin.Context) {
		h := telemetry.MetricsHandler()
		if h == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "prometheus exporter not enabled"})
			return
		}
		h.ServeHTTP(c.Writer, c.Request)
	})
	return router
}

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	var path, session string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded trace and untrace operations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.journal == nil {
				if err := a.openJournal(); err != nil {
					return fmt.Errorf("opening journal: %w", err)
				}
			}
			entries, err := a.journal.List(cmd.Context(), journal.Query{
				Limit:   limit,
				Path:    path,
				Session: session,
			})
			if err != nil {
				return err
			}
			newReporter(a.printer).history(entries)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of entries")
	cmd.Flags().StringVar(&path, "path", "", "only entries for this source file")
	cmd.Flags().StringVar(&session, "session", "", "only entries whose session id starts with this")
	return cmd
}
