package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/maximilianredt/eforms-conversion-uploader/internal/config"
	"github.com/maximilianredt/eforms-conversion-uploader/internal/domain"
	"github.com/maximilianredt/eforms-conversion-uploader/internal/logger"
	"github.com/maximilianredt/eforms-conversion-uploader/internal/metrics"
	"github.com/maximilianredt/eforms-conversion-uploader/internal/queue/sqs"
	"github.com/maximilianredt/eforms-conversion-uploader/internal/repository/clickhouse"
	"github.com/maximilianredt/eforms-conversion-uploader/internal/syncer"
	"github.com/maximilianredt/eforms-conversion-uploader/internal/uploader"
	"github.com/maximilianredt/eforms-conversion-uploader/internal/uploader/googleads"
	"github.com/maximilianredt/eforms-conversion-uploader/internal/uploader/microsoftads"
)

type runOptions struct {
	envFile      string
	dryRun       bool
	actionMap    string
	lookbackDays int
}

func newRootCommand() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "conversion-syncer",
		Short: "Sync warehouse conversion events to ad platforms",
		Long: `Reads conversion events from the ClickHouse warehouse and reports
them to Google Ads and Microsoft Ads as offline conversions, then
retracts conversions for refunded users. Every attempt is recorded in
an append-only conversion log that makes repeated runs idempotent.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.envFile, "env-file", "", "load environment from this file before reading config")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "log what would be sent without calling any platform or writing the log")
	cmd.Flags().StringVar(&opts.actionMap, "action-map", "", "path to the action map YAML (overrides ACTION_MAP_PATH)")
	cmd.Flags().IntVar(&opts.lookbackDays, "lookback-days", 0, "override the candidate lookback window (overrides LOOKBACK_DAYS)")

	return cmd
}

func run(cmd *cobra.Command, opts *runOptions) error {
	if opts.envFile != "" {
		if err := godotenv.Load(opts.envFile); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", opts.envFile, err)
		}
	} else {
		// Best effort: a local .env is optional.
		_ = godotenv.Load()
	}

	if opts.dryRun {
		os.Setenv("DRY_RUN", "true")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if opts.actionMap != "" {
		cfg.Sync.ActionMapPath = opts.actionMap
	}
	if opts.lookbackDays > 0 {
		cfg.Sync.LookbackDays = opts.lookbackDays
	}

	log, err := logger.New(cfg.Service.Environment)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func(log *zap.Logger) {
		_ = log.Sync()
	}(log)

	actions, err := config.LoadActionMap(cfg.Sync.ActionMapPath)
	if err != nil {
		return err
	}
	if err := actions.Validate(); err != nil {
		return err
	}

	runID := uuid.NewString()
	log.Info("Starting conversion syncer",
		zap.String("environment", cfg.Service.Environment),
		zap.String("run_id", runID),
		zap.Bool("dry_run", cfg.Sync.DryRun),
		zap.Int("lookback_days", cfg.Sync.LookbackDays))

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Service.RunTimeout > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, cfg.Service.RunTimeout)
		defer timeoutCancel()
	}

	chClient, err := clickhouse.NewClient(ctx, &cfg.ClickHouse, log)
	if err != nil {
		return fmt.Errorf("failed to create ClickHouse client: %w", err)
	}
	defer func() {
		if err := chClient.Close(); err != nil {
			log.Error("Failed to close ClickHouse client", zap.Error(err))
		}
	}()

	params := clickhouse.QueryParams{
		LogTable:        cfg.ClickHouse.LogTable,
		LookbackDays:    cfg.Sync.LookbackDays,
		MaxRetries:      cfg.Sync.MaxRetries,
		IncludeRenewals: cfg.Sync.SendRenewalPayments,
	}
	source := clickhouse.NewSource(chClient, params, log)
	clog := clickhouse.NewLog(chClient, cfg.ClickHouse.LogTable, log)

	uploaders := buildUploaders(cfg, log)

	m := metrics.New()
	engine := syncer.New(source, clog, uploaders, actions, syncer.Options{
		RunID:               runID,
		DryRun:              cfg.Sync.DryRun,
		CurrencyCode:        cfg.Sync.CurrencyCode,
		EnhancedConversions: cfg.Sync.EnableEnhancedConversions,
	}, m, log)

	summary, runErr := engine.Run(ctx)

	m.Push(cfg.Metrics.PushgatewayURL, cfg.Metrics.JobName, log)

	if cfg.SQS.QueueURL != "" && !cfg.Sync.DryRun {
		publishCtx, publishCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer publishCancel()

		publisher, err := sqs.NewClient(publishCtx, cfg.SQS, log)
		if err != nil {
			log.Error("Failed to create SQS client", zap.Error(err))
		} else if err := publisher.PublishSummary(publishCtx, summary); err != nil {
			log.Error("Failed to publish run summary", zap.Error(err))
		}
	}

	log.Info("Sync run finished",
		zap.String("run_id", summary.RunID),
		zap.Duration("duration", summary.FinishedAt.Sub(summary.StartedAt)),
		zap.Int("failed", summary.TotalFailed()))

	if runErr != nil {
		return fmt.Errorf("sync run had pass failures: %w", runErr)
	}
	return nil
}

// buildUploaders wires one uploader per platform. Dry runs get logging
// stand-ins so no credentials are needed and no network call is made.
func buildUploaders(cfg *config.Config, log *zap.Logger) []uploader.Uploader {
	if cfg.Sync.DryRun {
		var ups []uploader.Uploader
		for _, p := range domain.Platforms() {
			ups = append(ups, uploader.NewDryRun(p, log))
		}
		return ups
	}
	return []uploader.Uploader{
		googleads.NewClient(cfg.GoogleAds, make(googleads.ActionCache), log),
		microsoftads.NewClient(cfg.MicrosoftAds, log),
	}
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
