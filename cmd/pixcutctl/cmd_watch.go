package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/uptime-industries/pixcut-link/internal/agent"
	"github.com/uptime-industries/pixcut-link/pkg/avocado/rpc"
	"github.com/uptime-industries/pixcut-link/pkg/eventbus"
	"github.com/uptime-industries/pixcut-link/pkg/log"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func init() {
	cmdWatch.Flags().String("metrics-addr", "", "serve prometheus metrics on this address (default from config)")
	rootCmd.AddCommand(cmdWatch)
}

var cmdWatch = &cobra.Command{
	Use:   "watch",
	Short: "Stay connected, print device events and export metrics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := configFromContext(cmd.Context())
		addr, err := cmd.Flags().GetString("metrics-addr")
		if err != nil {
			return err
		}
		if addr == "" {
			addr = cfg.MetricsAddr
		}

		return withAgent(cmd.Context(), func(ctx context.Context, a *agent.Agent) error {
			wg, ctx := errgroup.WithContext(ctx)

			// setup prometheus endpoint
			promHandler := http.NewServeMux()
			promHandler.Handle("/metrics", promhttp.Handler())
			server := &http.Server{Addr: addr, Handler: promHandler, ReadHeaderTimeout: 5 * time.Second}
			wg.Go(func() error {
				log.FromContext(ctx).Info("Serving metrics", zap.String("addr", addr))
				err := server.ListenAndServe()
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("prometheus server: %w", err)
				}
				return nil
			})
			wg.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})

			wg.Go(func() error {
				return printEvents(ctx, cmd, a)
			})

			return wg.Wait()
		}, agent.WithStatusPolling(cfg.PollInterval))
	},
}

func printEvents(ctx context.Context, cmd *cobra.Command, a *agent.Agent) error {
	events := a.Session().SubscribeEvents(16)
	defer events.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-events.C():
			if !ok {
				return nil
			}
			env, ok := msg.(eventbus.Envelope)
			if !ok {
				continue
			}
			if ev, ok := env.Message.(rpc.Event); ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", time.Now().Format(time.RFC3339), ev.Method, ev.Params)
			}
		}
	}
}
