// vidmesh is the command-line surface of the client core: publish,
// browse and moderate short videos over the relay network and the peer
// swarm.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vidmesh/vidmesh/internal/app"
	"github.com/vidmesh/vidmesh/internal/config"
	"github.com/vidmesh/vidmesh/internal/event"
	"github.com/vidmesh/vidmesh/internal/feed"
	"github.com/vidmesh/vidmesh/internal/profile"
	"github.com/vidmesh/vidmesh/internal/transport"
)

var (
	configFile string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vidmesh",
		Short: "Decentralized short-video client",
		Long: `A relay-published, swarm-delivered short-video client. Posts are
signed events on independent relays; media travels peer to peer with a
content-addressed gateway as fallback.`,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		runCmd(),
		publishCmd(),
		feedCmd(),
		followCmd(),
		unfollowCmd(),
		reportCmd(),
		profileCmd(),
		statusCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newApp loads configuration and assembles the client core.
func newApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, setupLogger())
}

func runCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the client, printing the live feed until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := parseMode(mode)
			if err != nil {
				return err
			}
			err = a.SubscribeFeed(ctx, m, func(items []*event.ContentItem) {
				fmt.Printf("--- feed (%d items) ---\n", len(items))
				for _, item := range items {
					printItem(item)
				}
			})
			if err != nil {
				return err
			}

			fmt.Printf("running as %s, ^C to stop\n", a.PublicKey())
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "global", "feed mode: global or following")
	return cmd
}

func publishCmd() *cobra.Command {
	var (
		title       string
		summary     string
		hashtags    []string
		fallbackCID string
	)
	cmd := &cobra.Command{
		Use:   "publish <media-file>",
		Short: "Seed a video into the swarm and announce it to the relays",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			media, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if title == "" {
				title = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}

			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			item, err := a.Publish(ctx, app.PublishRequest{
				Title:       title,
				Summary:     summary,
				Hashtags:    hashtags,
				Media:       media,
				FallbackCID: fallbackCID,
			})
			if err != nil {
				return err
			}
			fmt.Printf("published %s\n  locator: %s\n", item.ID, item.Locator)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "post title (defaults to the file name)")
	cmd.Flags().StringVar(&summary, "summary", "", "post summary")
	cmd.Flags().StringSliceVar(&hashtags, "tag", nil, "hashtags (repeatable)")
	cmd.Flags().StringVar(&fallbackCID, "fallback-cid", "", "content-addressed fallback for gateway retrieval")
	return cmd
}

func feedCmd() *cobra.Command {
	var (
		mode string
		wait time.Duration
	)
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Fetch the current timeline and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := parseMode(mode)
			if err != nil {
				return err
			}
			if err := a.SubscribeFeed(ctx, m, nil); err != nil {
				return err
			}
			// give the relays a moment to replay stored events
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
			items := a.FeedItems()
			if len(items) == 0 {
				fmt.Println("feed is empty")
				return nil
			}
			for _, item := range items {
				printItem(item)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "global", "feed mode: global or following")
	cmd.Flags().DurationVar(&wait, "wait", 3*time.Second, "how long to collect events")
	return cmd
}

func followCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "follow <pubkey>",
		Short: "Add a user to the contact list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Follow(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("following %s\n", args[0])
			return nil
		},
	}
}

func unfollowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unfollow <pubkey>",
		Short: "Remove a user from the contact list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Unfollow(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("unfollowed %s\n", args[0])
			return nil
		},
	}
}

func reportCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "report <event-id> <author-pubkey>",
		Short: "File an abuse report against a post",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			item := &event.ContentItem{ID: args[0], Author: args[1]}
			if err := a.Report(ctx, item, reason); err != nil {
				return err
			}
			fmt.Printf("reported %s (author score now %.3f)\n", args[0], a.TrustScore(args[1]))
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "spam", "report reason")
	return cmd
}

func profileCmd() *cobra.Command {
	var (
		name    string
		about   string
		picture string
	)
	cmd := &cobra.Command{
		Use:   "profile [pubkey]",
		Short: "Show a profile, or update your own with the set flags",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if name != "" || about != "" || picture != "" {
				p, err := a.UpdateOwnProfile(ctx, profile.Profile{
					Name: name, About: about, Picture: picture,
				})
				if err != nil {
					return err
				}
				printProfile(p)
				return nil
			}

			pubkey := a.PublicKey()
			if len(args) == 1 {
				pubkey = args[0]
			}
			p, err := a.GetProfile(ctx, pubkey)
			if err != nil {
				return err
			}
			printProfile(p)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "set display name")
	cmd.Flags().StringVar(&about, "about", "", "set about text")
	cmd.Flags().StringVar(&picture, "picture", "", "set picture URL")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show identity and live transfer sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			fmt.Printf("pubkey: %s\n", a.PublicKey())
			sessions := a.Sessions()
			if len(sessions) == 0 {
				fmt.Println("no active sessions")
				return nil
			}
			for _, s := range sessions {
				printSession(s)
			}
			return nil
		},
	}
}

func parseMode(s string) (feed.Mode, error) {
	switch s {
	case "global":
		return feed.ModeGlobal, nil
	case "following":
		return feed.ModeFollowing, nil
	default:
		return feed.ModeGlobal, fmt.Errorf("unknown feed mode %q", s)
	}
}

func printItem(item *event.ContentItem) {
	fmt.Printf("%s  %s\n", item.ID[:minInt(12, len(item.ID))], item.Title)
	if item.Summary != "" {
		fmt.Printf("    %s\n", item.Summary)
	}
	if len(item.Hashtags) > 0 {
		fmt.Printf("    #%s\n", strings.Join(item.Hashtags, " #"))
	}
	fmt.Printf("    by %s at %s\n", item.Author, time.Unix(item.CreatedAt, 0).Format(time.RFC3339))
}

func printProfile(p profile.Profile) {
	fmt.Printf("%s (%s)\n", p.DisplayName(), p.PubKey)
	if p.About != "" {
		fmt.Printf("  %s\n", p.About)
	}
	if p.Picture != "" {
		fmt.Printf("  picture: %s\n", p.Picture)
	}
}

func printSession(s transport.Info) {
	fmt.Printf("%s  %-11s peers=%d progress=%.0f%%",
		s.TransferID[:12], s.State, s.PeerCount, s.Progress*100)
	if s.Seeding {
		fmt.Print("  (seeding)")
	}
	fmt.Println()
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
