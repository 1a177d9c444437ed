package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/chathub/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

const defaultConfigPath = "chathub.yaml"

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	configPath string
	envFiles   []string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "chathub",
		Short:         "Real-time multi-room chat hub",
		Long:          "chathub serves the main room, direct messages and group chats over WebSocket, with moderation and @ai streaming replies.",
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.CompletionOptions.DisableDefaultCmd = true

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "config file path")
	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "dotenv files loaded before reading the environment")

	cmd.AddCommand(newServeCmd(opts), newBansCmd(opts), newTokenCmd(opts))
	return cmd
}

// load builds the configuration: defaults, then the YAML file, then the
// environment. An explicitly named config file must exist.
func (o *rootOptions) load(cmd *cobra.Command) (config.Config, error) {
	config.LoadDotEnv(o.envFiles...)
	cfg, err := config.Load(o.configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return cfg, err
	}
	config.ApplyEnv(&cfg)
	return cfg, nil
}
