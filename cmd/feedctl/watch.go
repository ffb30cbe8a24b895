package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/garnizeh/expertfeed/internal/feed"
	"github.com/garnizeh/expertfeed/internal/match"
	"github.com/garnizeh/expertfeed/internal/realtime"
	"github.com/garnizeh/expertfeed/pkg/marketplace"
)

var (
	watchBackendURL string
	watchToken      string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run a provider feed and reprint it on every change",
	Long: `Loads the provider profile and candidate questions from the HTTP API,
joins the profile's realtime topics and prints the ranked feed every time it
changes. The profile is read once; restart to pick up profile edits.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchBackendURL, "backend-url", "", "Base URL of the expertfeed API (overrides config)")
	watchCmd.Flags().StringVar(&watchToken, "token", "", "Provider bearer token (overrides config)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	backend := cfg.Backend
	if watchBackendURL != "" {
		backend.BaseURL = watchBackendURL
	}
	if watchToken != "" {
		backend.Token = watchToken
	}
	backend = backend.WithDefaults()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := marketplace.NewDefaultClient(backend)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Health(ctx); err != nil {
		logger.Warn("backend health check failed", slog.String("url", backend.BaseURL), slog.Any("err", err))
	}

	rdb := newRedis(cfg)
	defer rdb.Close()

	ch, err := realtime.Open(ctx, rdb, realtime.WithChannelLogger(logger))
	if err != nil {
		return err
	}
	defer ch.Close()

	out := cmd.OutOrStdout()
	f := feed.New(client, client, ch,
		feed.WithLogger(logger),
		feed.WithOnChange(func(entries []match.Entry) { printFeed(out, time.Now(), entries) }),
	)
	defer func() {
		teardown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := f.Close(teardown); err != nil {
			logger.Warn("leave topics", slog.Any("err", err))
		}
	}()

	if err := f.Load(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "watching %d topics: %s\n", len(f.Topics()), strings.Join(f.Topics(), ", "))

	f.Run(ctx, ch.Events())
	return nil
}

// printFeed writes one ranked listing, highest score first.
func printFeed(w io.Writer, at time.Time, entries []match.Entry) {
	fmt.Fprintf(w, "\n== %s  %d matching questions\n", at.Format(time.TimeOnly), len(entries))
	if len(entries) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tCREATED\tCATEGORY\tTAGS\tTITLE")
	for _, e := range entries {
		q := e.Question
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			e.Score,
			q.CreatedAt.Local().Format(time.DateTime),
			q.Category,
			strings.Join(q.Tags, ","),
			q.Title,
		)
	}
	tw.Flush()
}
