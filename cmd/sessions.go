package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	sessionsrender "github.com/bnema/whatsapp-accounts-broker/internal/adapters/render/sessions"
	"github.com/bnema/whatsapp-accounts-broker/internal/application"
	"github.com/bnema/whatsapp-accounts-broker/internal/domain"
	"github.com/spf13/cobra"
)

const maxBrokerResponseBytes = 1 << 20

var errBrokerUnavailable = errors.New("broker unavailable")

func newSessionsCmd(app *app) *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage sessions of a running broker",
	}

	cmd.PersistentFlags().StringVar(&server, "server", "", "Broker base URL (default derived from listen)")

	cmd.AddCommand(
		newSessionsListCmd(app, &server),
		newSessionsLogoutCmd(app, &server),
	)

	return cmd
}

func newSessionsListCmd(app *app, server *string) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List live sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			base := app.serverURL(*server)

			var sessions []application.SessionSummary
			fetch := func(ctx context.Context) error {
				var err error
				sessions, err = fetchSessions(ctx, app.httpClient, base)
				return err
			}

			if asJSON {
				if err := fetch(cmd.Context()); err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(sessions)
			}

			if err := runWithSpinner(cmd.Context(), cmd.ErrOrStderr(), "Fetching sessions...", fetch); err != nil {
				return err
			}

			rendered, err := app.sessionRenderer(sessions, sessionsrender.RenderOptions{Now: app.now()})
			if err != nil {
				return fmt.Errorf("render sessions: %w", err)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Render JSON output")

	return cmd
}

func newSessionsLogoutCmd(app *app, server *string) *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Unlink an account and end its session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := domain.ParseAccountID(accountID)
			if err != nil {
				return err
			}

			if err := logoutSession(cmd.Context(), app.httpClient, app.serverURL(*server), id); err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "logged out %s\n", id)
			return err
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "Account ID")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}

func fetchSessions(ctx context.Context, client *http.Client, base string) ([]application.SessionSummary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/sessions", nil)
	if err != nil {
		return nil, fmt.Errorf("create sessions request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errBrokerUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBrokerResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read sessions response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, brokerError(resp.StatusCode, body)
	}

	var payload struct {
		Sessions []application.SessionSummary `json:"sessions"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode sessions response: %w", err)
	}

	return payload.Sessions, nil
}

func logoutSession(ctx context.Context, client *http.Client, base string, id domain.AccountID) error {
	endpoint := base + "/api/sessions/" + url.PathEscape(string(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create logout request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", errBrokerUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBrokerResponseBytes))
	return brokerError(resp.StatusCode, body)
}

func brokerError(status int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return fmt.Errorf("broker returned %d: %s", status, payload.Error)
	}
	return fmt.Errorf("broker returned %d", status)
}
