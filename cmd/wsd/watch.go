package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/watershed/internal/ingest"
	"github.com/fyrsmithlabs/watershed/internal/report"
	"github.com/fyrsmithlabs/watershed/internal/services"
)

var watchSettle time.Duration

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVar(&watchSettle, "settle", 500*time.Millisecond, "how long a manifest must be unchanged before it runs")
}

var watchCmd = &cobra.Command{
	Use:   "watch DIR",
	Short: "Run every manifest dropped into a folder",
	Long: `Watch DIR for *.toml manifests and run each one as it settles.

Batches run one at a time. A failed manifest is logged and the watcher keeps
going. Stop with Ctrl-C.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	var opts []services.BuildOption
	if cfg.Events.NATSURL != "" {
		nc, err := nats.Connect(cfg.Events.NATSURL, nats.Name("wsd-watch"))
		if err != nil {
			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		defer nc.Close()
		opts = append(opts, services.WithNATS(nc))
	}

	out := cmd.OutOrStdout()
	handle := func(ctx context.Context, path string) error {
		rep, err := runManifest(ctx, cfg, path, opts...)
		if rep != nil {
			fmt.Fprintln(out, report.RenderText(rep))
		}
		return err
	}

	w, err := ingest.New(ingest.Config{Dir: args[0], Settle: watchSettle}, handle, logger)
	if err != nil {
		return err
	}
	logger.Info("watching for manifests", zap.String("dir", args[0]))
	return w.Run(cmd.Context())
}
