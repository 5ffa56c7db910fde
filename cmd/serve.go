package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const drainTimeout = 30 * time.Second

func newServeCmd(app *app) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session broker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen != "" {
				app.cfg.Set(keyListen, listen)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, app, cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (default from config, then 127.0.0.1:3000)")

	return cmd
}

// runServe restores journaled accounts, serves observers until ctx is done
// and then drains every session, keeping stored credentials.
func runServe(ctx context.Context, app *app, logOutput io.Writer) error {
	logger, err := newLogger(app.cfg, logOutput)
	if err != nil {
		return err
	}

	b, err := app.wireBroker(logger)
	if err != nil {
		return err
	}

	if app.cfg.GetBool(keyRestore) {
		restored, err := b.registry.Restore(ctx)
		if err != nil {
			logger.Warn("restore incomplete", "error", err)
		}
		logger.Info("sessions restored", "count", restored)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return b.server.ListenAndServe(groupCtx, app.cfg.GetString(keyListen))
	})
	group.Go(func() error {
		return b.watchdog.Run(groupCtx)
	})
	runErr := group.Wait()

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()
	if err := b.registry.Close(drainCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("close registry: %w", err))
	}

	logger.Info("broker stopped")
	return runErr
}
