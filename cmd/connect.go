package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/bnema/whatsapp-accounts-broker/internal/adapters/render/qr"
	"github.com/bnema/whatsapp-accounts-broker/internal/adapters/transport/ws"
	"github.com/bnema/whatsapp-accounts-broker/internal/domain"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/spf13/cobra"
)

const (
	connectRequestID = "connect"
	qrFileMode       = 0o600
)

var errSessionDisconnected = errors.New("session disconnected")

// brokerFrame decodes both pushed events and request results.
type brokerFrame struct {
	domain.Event
	ID string `json:"id"`
	OK bool   `json:"ok"`
}

type connectOptions struct {
	server    string
	accountID domain.AccountID
	restart   bool
	follow    bool
	qrFile    string
}

func newConnectCmd(app *app) *cobra.Command {
	var (
		server    string
		accountID string
		restart   bool
		follow    bool
		qrFile    string
	)

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Request a session from a running broker and follow its events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := domain.ParseAccountID(accountID)
			if err != nil {
				return err
			}
			if qrFile == "" {
				qrFile = filepath.Join(os.TempDir(), "wab-"+string(id)+"-qr.png")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runConnect(ctx, cmd.OutOrStdout(), connectOptions{
				server:    app.serverURL(server),
				accountID: id,
				restart:   restart,
				follow:    follow,
				qrFile:    qrFile,
			})
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "Broker base URL (default derived from listen)")
	cmd.Flags().StringVar(&accountID, "account", "", "Account ID")
	cmd.Flags().BoolVar(&restart, "restart", false, "Replace a live session with a fresh one")
	cmd.Flags().BoolVar(&follow, "follow", false, "Keep streaming events once the session is ready")
	cmd.Flags().StringVar(&qrFile, "qr-file", "", "Where to write QR code PNGs (default in the temp dir)")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}

func runConnect(ctx context.Context, out io.Writer, opts connectOptions) error {
	conn, _, err := websocket.Dial(ctx, socketURL(opts.server), nil)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer func() { _ = conn.CloseNow() }()

	err = wsjson.Write(ctx, conn, ws.Request{
		ID:        connectRequestID,
		Type:      ws.RequestSession,
		AccountID: string(opts.accountID),
		Restart:   opts.restart,
	})
	if err != nil {
		return fmt.Errorf("send session request: %w", err)
	}

	for {
		var frame brokerFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			if ctx.Err() != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "")
				return nil
			}
			return fmt.Errorf("read broker frame: %w", err)
		}

		done, err := handleFrame(out, opts, frame)
		if err != nil {
			return err
		}
		if done {
			return conn.Close(websocket.StatusNormalClosure, "")
		}
	}
}

func handleFrame(out io.Writer, opts connectOptions, frame brokerFrame) (bool, error) {
	switch frame.Type {
	case "result":
		if frame.ID == connectRequestID && !frame.OK {
			return false, fmt.Errorf("request session: %s", frame.Error)
		}
	case domain.EventState:
		_, _ = fmt.Fprintf(out, "%s: %s\n", frame.AccountID, frame.State)
		if frame.QRCode != "" {
			return false, writeQR(out, opts.qrFile, frame.QRCode)
		}
		if frame.State == domain.SessionActive && !opts.follow {
			return true, nil
		}
	case domain.EventChallengeIssued:
		return false, writeQR(out, opts.qrFile, frame.QRCode)
	case domain.EventAuthenticated:
		_, _ = fmt.Fprintf(out, "%s: authenticated\n", frame.AccountID)
	case domain.EventReady:
		_, _ = fmt.Fprintf(out, "%s: ready\n", frame.AccountID)
		return !opts.follow, nil
	case domain.EventMessage:
		if frame.Message != nil {
			_, _ = fmt.Fprintf(out, "[%s] %s: %s\n", frame.Message.Timestamp.Format(time.TimeOnly), frame.Message.SenderID, frame.Message.Text)
		}
	case domain.EventError:
		_, _ = fmt.Fprintf(out, "%s: error: %s\n", frame.AccountID, frame.Error)
	case domain.EventDisconnected:
		return true, fmt.Errorf("%w: %s", errSessionDisconnected, frame.Reason)
	}

	return false, nil
}

func writeQR(out io.Writer, path, dataURL string) error {
	png, err := qr.DecodeDataURL(dataURL)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, png, qrFileMode); err != nil {
		return fmt.Errorf("write qr code: %w", err)
	}

	_, err = fmt.Fprintf(out, "scan the QR code saved to %s\n", path)
	return err
}

func socketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	default:
		return base + "/ws"
	}
}
