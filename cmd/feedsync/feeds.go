package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/pders01/feedsync/internal/config"
	"github.com/pders01/feedsync/internal/feed"
	"github.com/pders01/feedsync/internal/storage"
)

var (
	categoryStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4ECDC4"))
	unreadStyle   = lipgloss.NewStyle().Bold(true)
	readStyle     = lipgloss.NewStyle().Faint(true)
	errorStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
)

const uncategorized = "Uncategorized"

func (a *app) feedsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "feeds",
		Short: "List configured feeds with unread counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withManager(nil, func(m *feed.Manager, store storage.Store) error {
				return renderFeeds(cmd.Context(), cmd.OutOrStdout(), m, store)
			})
		},
	}
}

// renderFeeds prints the sources grouped by category in configuration order.
// Feeds whose last sync in this process failed are marked with "!".
func renderFeeds(ctx context.Context, w io.Writer, m *feed.Manager, store storage.Store) error {
	sources := m.Sources()
	categories := lo.Uniq(lo.Map(sources, func(s config.Source, _ int) string {
		return categoryOf(s)
	}))

	for _, category := range categories {
		fmt.Fprintln(w, categoryStyle.Render(category))
		for _, src := range sources {
			if categoryOf(src) != category {
				continue
			}
			line, err := feedLine(ctx, m, store, src)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "  "+line)
		}
	}
	return nil
}

func categoryOf(s config.Source) string {
	if s.Category == "" {
		return uncategorized
	}
	return s.Category
}

func feedLine(ctx context.Context, m *feed.Manager, store storage.Store, src config.Source) (string, error) {
	title := src.URL
	unread := 0
	rec, err := store.GetFeed(ctx, src.URL)
	switch {
	case errors.Is(err, storage.ErrFeedNotFound):
	case err != nil:
		return "", err
	default:
		if rec.Title != "" {
			title = rec.Title
		}
		unread = rec.Unread
	}

	marker := " "
	if m.Status(src.URL).Failed() {
		marker = errorStyle.Render("!")
	}
	count := readStyle.Render(fmt.Sprintf("%4d", unread))
	if unread > 0 {
		count = unreadStyle.Render(fmt.Sprintf("%4d", unread))
	}
	return fmt.Sprintf("%s %s  %s", marker, count, title), nil
}

func (a *app) entriesCmd() *cobra.Command {
	var unreadOnly bool
	cmd := &cobra.Command{
		Use:   "entries URL",
		Short: "List the stored entries of a feed, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			feedURL, err := feedArg(args[0])
			if err != nil {
				return err
			}
			return a.withManager(nil, func(m *feed.Manager, store storage.Store) error {
				entries, err := store.GetEntries(cmd.Context(), feedURL)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				for _, e := range entries {
					if unreadOnly && !e.Unread {
						continue
					}
					fmt.Fprintln(w, entryLine(e))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&unreadOnly, "unread", false, "only list unread entries")
	return cmd
}

func entryLine(e *storage.Entry) string {
	title := strings.TrimSpace(e.Title)
	if title == "" {
		title = e.Link
	}
	date := e.PublishedTime().Format(time.DateOnly)
	if e.Unread {
		return fmt.Sprintf("* %s  %s  %s", date, unreadStyle.Render(title), e.GUID)
	}
	return fmt.Sprintf("  %s  %s  %s", date, title, readStyle.Render(e.GUID))
}
