package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/uptime-industries/pixcut-link/internal/agent"
	"github.com/uptime-industries/pixcut-link/internal/config"
	"github.com/uptime-industries/pixcut-link/internal/journal"
	"github.com/uptime-industries/pixcut-link/pkg/log"
	"github.com/uptime-industries/pixcut-link/pkg/transport"
	"go.uber.org/zap"
)

type cliContextKey int

const defaultConfigContextKey cliContextKey = 0

var (
	configPath string
	timeout    time.Duration
	v          = config.New()
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/pixcut/config.yaml)")
	flags.DurationVar(&timeout, "timeout", 0, "overall command timeout, 0 waits forever")
	flags.String("port", "", "serial port the printer is bound to")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("encryption-key", "", "hex encoded RC4 key")
	flags.Bool("encrypt", false, "encrypt outbound packets")

	for key, flag := range map[string]string{
		"port":               "port",
		"log_level":          "log-level",
		"encryption.key":     "encryption-key",
		"encryption.enabled": "encrypt",
	} {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

func configIntoContext(ctx context.Context, cfg *config.Config) context.Context {
	return context.WithValue(ctx, defaultConfigContextKey, cfg)
}

func configFromContext(ctx context.Context) *config.Config {
	cfg, ok := ctx.Value(defaultConfigContextKey).(*config.Config)
	if !ok {
		panic("config not found in context")
	}
	return cfg
}

var rootCmd = &cobra.Command{
	Use:           "pixcutctl",
	Short:         "pixcutctl talks to PixCut photo printers over their serial link",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(v, configPath)
		if err != nil {
			return err
		}

		logger, err := log.New(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = logger.With(zap.String("app", "pixcutctl"))
		_ = zap.ReplaceGlobals(logger.With(zap.String("scope", "global")))

		baseCtx := log.IntoContext(cmd.Context(), logger)
		var ctx context.Context
		var cancelCtx context.CancelFunc
		if timeout > 0 {
			ctx, cancelCtx = context.WithTimeout(baseCtx, timeout)
		} else {
			ctx, cancelCtx = context.WithCancel(baseCtx)
		}

		// setup signal handler channels
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			// Wait for context cancel or signal
			select {
			case <-ctx.Done():
			case <-sigs:
				// On signal, cancel context
				cancelCtx()
			}
		}()

		cmd.SetContext(configIntoContext(ctx, cfg))
		return nil
	},
}

// withAgent connects to the printer, runs the agent in the background and
// calls fn with it. The connection is torn down when fn returns.
func withAgent(ctx context.Context, fn func(ctx context.Context, a *agent.Agent) error, opts ...agent.Option) error {
	cfg := configFromContext(ctx)

	port, err := transport.Open(ctx, cfg.SerialOpts)
	if err != nil {
		return err
	}

	var j *journal.Journal
	if cfg.JournalPath != "" {
		j, err = journal.Open(cfg.JournalPath)
		if err != nil {
			log.FromContext(ctx).Warn("Job journal unavailable", zap.Error(err))
			j = nil
		} else {
			opts = append(opts, agent.WithJournal(j))
		}
	}

	a, err := agent.New(cfg, port, opts...)
	if err != nil {
		err = errors.Join(err, port.Close())
		if j != nil {
			err = errors.Join(err, j.Close())
		}
		return err
	}

	runCtx, stop := context.WithCancel(ctx)
	runErr := make(chan error, 1)
	go func() {
		// A failing link aborts fn
		defer stop()
		runErr <- a.Run(runCtx)
	}()

	err = fn(runCtx, a)
	stop()
	if runErr := <-runErr; runErr != nil && err == nil {
		err = runErr
	}
	return errors.Join(err, a.Close())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
