package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/pders01/feedsync/internal/debuglog"
	"github.com/pders01/feedsync/internal/feed"
	"github.com/pders01/feedsync/internal/metrics"
	"github.com/pders01/feedsync/internal/storage"
)

func (a *app) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Sync every configured feed once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			return a.withManager(nil, func(m *feed.Manager, store storage.Store) error {
				run, err := m.StartSync(ctx)
				if err != nil {
					return err
				}
				summary, err := run.Wait(ctx)
				printSummary(cmd.OutOrStdout(), summary)
				if err != nil {
					return err
				}
				return renderFeeds(ctx, cmd.OutOrStdout(), m, store)
			})
		},
	}
}

func (a *app) refreshCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "refresh URL",
		Short: "Sync a single configured feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			feedURL, err := feedArg(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			return a.withManager(nil, func(m *feed.Manager, store storage.Store) error {
				run, err := m.RefreshFeed(ctx, feedURL, force)
				if err != nil {
					return err
				}
				summary, err := run.Wait(ctx)
				if err != nil {
					return err
				}
				if st := m.Status(feedURL); st.Failed() {
					return st.LastErr
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s, %d new entries\n", feedURL, m.Status(feedURL).Outcome, summary.NewEntries)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "ignore stored cache validators")
	return cmd
}

func (a *app) watchCmd() *cobra.Command {
	var (
		interval    time.Duration
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync periodically until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if interval == 0 {
				interval = a.cfg.Feed.RefreshInterval
			}
			ctx, cancel := signalContext()
			defer cancel()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			opts := []feed.Option{feed.WithMetrics(metrics.New(reg))}

			if metricsAddr != "" {
				srv := &http.Server{Addr: metricsAddr, Handler: metricsHandler(reg), ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						debuglog.Errorf("metrics server: %v", err)
					}
				}()
				defer func() {
					shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
					defer done()
					srv.Shutdown(shutdownCtx)
				}()
				debuglog.Infof("serving metrics on %s", metricsAddr)
			}

			out := cmd.OutOrStdout()
			return a.withManager(opts, func(m *feed.Manager, store storage.Store) error {
				m.AddListener(feed.ListenerFuncs{
					OnBatchCompleted: func(s feed.Summary) { printSummary(out, s) },
				})
				fmt.Fprintf(out, "watching %d feeds every %s\n", len(m.Sources()), interval)
				return m.Watch(ctx, interval)
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "time between syncs (default feed.refresh_interval)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	return cmd
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

func printSummary(w io.Writer, s feed.Summary) {
	fmt.Fprintf(w, "synced %d feeds in %s: %d updated, %d unchanged, %d failed, %d new entries\n",
		s.Feeds, s.Duration.Round(time.Millisecond), s.Updated, s.Unchanged, s.Failed, s.NewEntries)
}
