package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kenjisakuragi/YT2Mail/internal/config"
	"github.com/kenjisakuragi/YT2Mail/internal/logging"
	"github.com/kenjisakuragi/YT2Mail/internal/models"
	"github.com/kenjisakuragi/YT2Mail/internal/pipeline"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// app is the state shared by every subcommand after PersistentPreRunE.
type app struct {
	cfg *config.Config
	log *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "yt2mail",
		Short: "Summarize new Starter Story uploads and email them to subscribers",
		Long: `yt2mail discovers new uploads on a YouTube channel, obtains a transcript
(captions first, audio as a fallback), extracts a business summary with Gemini,
stores it and emails it to every entitled subscriber.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			a.cfg = config.Load()
			a.log = logging.New(a.cfg.LogLevel)
			slog.SetDefault(a.log)
			return a.cfg.Validate()
		},
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("yt2mail %s (%s, %s)\n", version, commit, buildDate)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "digest",
		Short: "Process uploads since the last run and email them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), pipeline.RunOptions{Channel: a.cfg.DigestChannel})
		},
	})

	var maxItems int
	backfillCmd := &cobra.Command{
		Use:   "backfill <channel>",
		Short: "Process a channel's whole upload history",
		Long: `Process every upload of a channel regardless of the last run.
<channel> may be a UC… channel id, an @handle or a channel URL.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), pipeline.RunOptions{
				Channel:  args[0],
				Backfill: true,
				MaxItems: maxItems,
			})
		},
	}
	backfillCmd.Flags().IntVar(&maxItems, "max", 0, "maximum number of videos to process (0 = all)")
	rootCmd.AddCommand(backfillCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "redeliver <video-id>",
		Short: "Email a stored video to entitled users who have not received it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.redeliver(cmd.Context(), args[0])
		},
	})

	rootCmd.AddCommand(a.channelCmd(), a.userCmd())
	return rootCmd
}

func (a *app) run(ctx context.Context, opts pipeline.RunOptions) error {
	st, err := openStores(ctx, a.cfg, a.log)
	if err != nil {
		return err
	}
	defer st.close()

	p, cleanup, err := buildPipeline(ctx, a.cfg, st, a.log)
	defer cleanup()
	if err != nil {
		a.log.Error("pipeline setup failed", slog.Any("error", err))
		return err
	}

	stats, err := p.Run(ctx, opts)
	if err != nil {
		a.log.Error("run aborted", slog.Any("error", err), slog.Int("processed", stats.Processed), slog.Int("failed", stats.Failed))
		return err
	}
	return nil
}

func (a *app) redeliver(ctx context.Context, externalID string) error {
	st, err := openStores(ctx, a.cfg, a.log)
	if err != nil {
		return err
	}
	defer st.close()

	p := pipeline.New(pipeline.Deps{
		Videos:   st.videos,
		Users:    st.users,
		Delivery: newDelivery(a.cfg, st, a.log),
	}, a.cfg.DigestLookback, a.log)

	result, err := p.Redeliver(ctx, externalID)
	if err != nil {
		return err
	}
	fmt.Printf("delivered %d, failed %d, skipped %d\n", result.Delivered, result.Failed, result.Skipped)
	return nil
}

func (a *app) channelCmd() *cobra.Command {
	channelCmd := &cobra.Command{
		Use:   "channel",
		Short: "Manage registered channels",
	}

	var category string
	addCmd := &cobra.Command{
		Use:   "add <channel>",
		Short: "Resolve a channel and register it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStores(ctx, a.cfg, a.log)
			if err != nil {
				return err
			}
			defer st.close()

			youtube, err := newYouTube(ctx, a.cfg, a.log)
			if err != nil {
				return err
			}
			info, err := youtube.ResolveChannel(ctx, args[0])
			if err != nil {
				return err
			}

			channel := &models.Channel{
				ChannelID:   info.ID,
				ChannelName: info.Title,
				Category:    category,
				IsActive:    true,
			}
			if err := st.channels.Upsert(ctx, channel); err != nil {
				return fmt.Errorf("register channel: %w", err)
			}
			fmt.Printf("registered %s (%s)\n", channel.ChannelName, channel.ChannelID)
			return nil
		},
	}
	addCmd.Flags().StringVar(&category, "category", "", "channel category label")
	channelCmd.AddCommand(addCmd)
	return channelCmd
}

func (a *app) userCmd() *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage recipients",
	}

	var (
		status string
		admin  bool
	)
	addCmd := &cobra.Command{
		Use:   "add <email>",
		Short: "Create or update a recipient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch status {
			case models.SubscriptionActive, models.SubscriptionTrialing, models.SubscriptionCanceled,
				models.SubscriptionPastDue, models.SubscriptionUnpaid:
			default:
				return fmt.Errorf("unknown subscription status %q", status)
			}

			ctx := cmd.Context()
			st, err := openStores(ctx, a.cfg, a.log)
			if err != nil {
				return err
			}
			defer st.close()

			user := &models.User{
				Email:              strings.TrimSpace(args[0]),
				SubscriptionStatus: status,
				IsAdmin:            admin,
			}
			if err := st.users.Upsert(ctx, user); err != nil {
				return fmt.Errorf("save user: %w", err)
			}
			fmt.Printf("saved %s (%s, entitled=%t)\n", user.Email, user.ID, user.IsEntitled())
			return nil
		},
	}
	addCmd.Flags().StringVar(&status, "status", models.SubscriptionActive, "subscription status")
	addCmd.Flags().BoolVar(&admin, "admin", false, "grant the admin override")
	userCmd.AddCommand(addCmd)
	return userCmd
}
