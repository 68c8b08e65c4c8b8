package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pders01/feedsync/internal/config"
	"github.com/pders01/feedsync/internal/feed"
	"github.com/pders01/feedsync/internal/storage"
)

func (a *app) readCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "read [URL [GUID]]",
		Short: "Mark an entry, a feed or every feed read",
		Long: `Mark entries read. Read state is final: entries never become unread again.

  feedsync read URL GUID   # one entry
  feedsync read URL        # every entry of a feed
  feedsync read --all      # every entry of every configured feed`,
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.RangeArgs(1, 2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			w := cmd.OutOrStdout()

			return a.withManager(nil, func(m *feed.Manager, store storage.Store) error {
				if all {
					n, err := m.MarkAllRead(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(w, "marked %d entries read\n", n)
					return nil
				}

				feedURL, err := feedArg(args[0])
				if err != nil {
					return err
				}
				if len(args) == 2 {
					if err := m.MarkEntryRead(ctx, feedURL, args[1]); err != nil {
						return err
					}
					fmt.Fprintf(w, "marked %s read\n", args[1])
					return nil
				}

				n, err := m.MarkFeedRead(ctx, feedURL)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "marked %d entries of %s read\n", n, feedURL)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "mark every configured feed read")
	return cmd
}

func (a *app) resetIconCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-icon URL",
		Short: "Forget a feed's icon so the next sync resolves it again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			feedURL, err := feedArg(args[0])
			if err != nil {
				return err
			}
			return a.withManager(nil, func(m *feed.Manager, store storage.Store) error {
				err := m.ResetIcon(cmd.Context(), feedURL)
				if errors.Is(err, storage.ErrFeedNotFound) {
					return fmt.Errorf("%s has not been synced yet", feedURL)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "icon of %s will be resolved on the next sync\n", feedURL)
				return nil
			})
		},
	}
}

func generateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate-config [PATH]",
		Short: "Write the default configuration file",
		Args:  cobra.MaximumNArgs(1),
		// no config is loaded for this command
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultPath()
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.GenerateDefaultConfig(path); err != nil {
				return fmt.Errorf("failed to generate config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated default configuration at: %s\n", path)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "version",
		Short:             "Show version information",
		Args:              cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "feedsync %s\n", Version)
			fmt.Fprintln(w, "Feed synchronization engine")
			fmt.Fprintln(w, "github.com/pders01/feedsync")
		},
	}
}
