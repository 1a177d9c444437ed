// Command chat-tui is a terminal client for a chathub server.
package main

import (
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/chathub/internal/config"
)

type options struct {
	server    string
	token     string
	origin    string
	altScreen bool
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func newRootCmd() *cobra.Command {
	config.LoadDotEnv()
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "chat-tui",
		Short:         "Terminal client for chathub",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.token == "" {
				return fmt.Errorf("a token is required (--token or CHATHUB_TOKEN)")
			}
			conn, err := dial(opts.server, opts.token, opts.origin)
			if err != nil {
				return err
			}
			defer conn.Close()

			inbound := make(chan tea.Msg, 256)
			go readLoop(conn, inbound)

			progOpts := []tea.ProgramOption{tea.WithMouseCellMotion()}
			if opts.altScreen {
				progOpts = append(progOpts, tea.WithAltScreen())
			}
			_, err = tea.NewProgram(newModel(conn, inbound), progOpts...).Run()
			return err
		},
	}
	cmd.Flags().StringVar(&opts.server, "server", envOr("CHATHUB_SERVER", "ws://localhost:8080"), "server base URL")
	cmd.Flags().StringVar(&opts.token, "token", os.Getenv("CHATHUB_TOKEN"), "connection token")
	cmd.Flags().StringVar(&opts.origin, "origin", envOr("CHATHUB_ORIGIN", "http://localhost:8080"), "Origin header sent on the upgrade")
	cmd.Flags().BoolVar(&opts.altScreen, "alt-screen", true, "use the terminal's alternate screen")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "chat-tui: %v\n", err)
		os.Exit(1)
	}
}
