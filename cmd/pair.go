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

	"github.com/bnema/whatsapp-accounts-broker/internal/adapters/render/qr"
	"github.com/bnema/whatsapp-accounts-broker/internal/application"
	"github.com/bnema/whatsapp-accounts-broker/internal/domain"
	"github.com/bnema/whatsapp-accounts-broker/internal/ports"
	"github.com/spf13/cobra"
)

const pairQueueSize = 16

var errPairTimeout = errors.New("timed out waiting for the QR code scan")

func newPairCmd(app *app) *cobra.Command {
	var accountID string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Link an account from this terminal without a running broker",
		Long:  "pair opens a session in-process, prints the pairing QR code in the terminal and exits once the account is linked. The account is journaled so the next `wab serve` restores it.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := domain.ParseAccountID(accountID)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runPair(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), app, id, timeout)
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "Account ID")
	cmd.Flags().DurationVar(&timeout, "timeout", application.DefaultScanTimeout, "Give up when the account is not linked in time (0 waits forever)")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}

// pairObserver hands events to the pairing loop.
type pairObserver struct {
	events chan domain.Event
}

var _ ports.Observer = (*pairObserver)(nil)

func (o *pairObserver) ID() string { return "pair" }

func (o *pairObserver) Deliver(event domain.Event) error {
	select {
	case o.events <- event:
	default:
	}
	return nil
}

func runPair(ctx context.Context, out, logOutput io.Writer, app *app, id domain.AccountID, timeout time.Duration) error {
	logger, err := newLogger(app.cfg, logOutput)
	if err != nil {
		return err
	}

	registry, err := app.wireRegistry(logger, qr.TerminalRenderer{})
	if err != nil {
		return err
	}

	pairCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		pairCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	pairErr := pairUntilReady(pairCtx, out, registry, id)

	drainCtx, drainCancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer drainCancel()
	if err := registry.Close(drainCtx); err != nil {
		pairErr = errors.Join(pairErr, fmt.Errorf("close registry: %w", err))
	}

	return pairErr
}

func pairUntilReady(ctx context.Context, out io.Writer, registry *application.Registry, id domain.AccountID) error {
	observer := &pairObserver{events: make(chan domain.Event, pairQueueSize)}
	if _, err := registry.GetOrCreate(ctx, id, observer); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return errPairTimeout
			}
			return nil
		case event := <-observer.events:
			switch event.Type {
			case domain.EventState:
				if event.State == domain.SessionActive {
					_, _ = fmt.Fprintf(out, "%s is already linked\n", id)
					return nil
				}
				if event.QRCode != "" {
					printTerminalQR(out, event.QRCode)
				}
			case domain.EventChallengeIssued:
				printTerminalQR(out, event.QRCode)
			case domain.EventAuthenticated:
				_, _ = fmt.Fprintf(out, "%s: authenticated\n", id)
			case domain.EventReady:
				_, _ = fmt.Fprintf(out, "%s linked\n", id)
				return nil
			case domain.EventError:
				_, _ = fmt.Fprintf(out, "%s: error: %s\n", id, event.Error)
			case domain.EventDisconnected:
				return fmt.Errorf("%w: %s", errSessionDisconnected, event.Reason)
			}
		}
	}
}

func printTerminalQR(out io.Writer, code string) {
	_, _ = fmt.Fprintln(out, "Scan with WhatsApp > Settings > Linked devices:")
	_, _ = fmt.Fprintln(out, code)
}
