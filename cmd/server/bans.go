package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize/english"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/chathub/internal/banstore"
)

func newBansCmd(root *rootOptions) *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "bans",
		Short: "Inspect or edit the persisted ban list while the hub is stopped",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "ban database path (default from config)")

	open := func(cmd *cobra.Command) (*banstore.Store, error) {
		path := dbPath
		if path == "" {
			cfg, err := root.load(cmd)
			if err != nil {
				return nil, err
			}
			path = cfg.Moderation.BanDB
		}
		if path == "" {
			return nil, fmt.Errorf("no ban database configured")
		}
		return banstore.Open(path)
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Print banned users and origins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := open(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			snap, err := store.Load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\n", english.Plural(len(snap.Users), "banned user", ""))
			for _, name := range snap.Users {
				if origin := snap.UserOrigins[name]; origin != "" {
					fmt.Fprintf(out, "  %s (%s)\n", name, origin)
				} else {
					fmt.Fprintf(out, "  %s\n", name)
				}
			}
			fmt.Fprintf(out, "%s\n", english.Plural(len(snap.Origins), "banned origin", ""))
			if len(snap.Origins) > 0 {
				fmt.Fprintf(out, "  %s\n", strings.Join(snap.Origins, "\n  "))
			}
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove <name>...",
		Short: "Lift bans by username, together with the origin banned alongside",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			for _, name := range args {
				if err := store.Remove(name); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "unbanned %s\n", name)
			}
			return nil
		},
	}

	cmd.AddCommand(list, remove)
	return cmd
}
