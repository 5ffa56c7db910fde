package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	app, err := wireApp()
	return newRootCmdFor(app, err)
}

func newRootCmdFor(app *app, wireErr error) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "wab",
		Short:         "WhatsApp accounts broker (wab): one live session per account",
		Long:          "wab keeps one live WhatsApp Web session per account, relays pairing QR codes and session events to observers over WebSocket, and restores linked accounts on restart.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	if wireErr != nil {
		rootCmd.RunE = func(_ *cobra.Command, _ []string) error {
			return wireErr
		}
		return rootCmd
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(app),
		newSessionsCmd(app),
		newConnectCmd(app),
		newPairCmd(app),
	)

	return rootCmd
}
