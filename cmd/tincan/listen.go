package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/trickstertwo/tincan"
	_ "github.com/trickstertwo/tincan/adapter/memory"
	_ "github.com/trickstertwo/tincan/adapter/redis"
	"github.com/trickstertwo/xlog"
)

func newListenCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Register this client and dispatch incoming changes to the configured handlers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags.configFile, flags.envFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := newLogger(flags.verbose)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runListen(ctx, cfg, logger, builtinHandlers(logger, cmd.OutOrStdout()))
		},
	}
}

// runListen builds a Receiver from cfg and runs it until ctx is done.
func runListen(ctx context.Context, cfg Config, logger *xlog.Logger, reg *tincan.HandlerRegistry) error {
	table, err := reg.Resolve(cfg.ListenTo)
	if err != nil {
		return err
	}

	receiver, err := tincan.NewBuilder().
		WithStore(cfg.Store, cfg.storeConfig()).
		WithNamespace(cfg.Namespace).
		WithClientName(cfg.ClientName).
		WithListenTo(table).
		WithBlockTimeout(cfg.BlockTimeout).
		WithLogger(logger).
		WithOnException(func(err error, fields map[string]any) {
			ev := logger.Error().Err(err)
			for k, v := range fields {
				ev = ev.Str(k, toString(v))
			}
			ev.Msg("delivery failed")
		}).
		BuildReceiver()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := receiver.Listen(gctx)
		if errors.Is(err, tincan.ErrReceiverClosed) || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return receiver.Close(cctx)
	})
	return g.Wait()
}
