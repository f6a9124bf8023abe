package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/whisper/linechat/internal/logging"
	"github.com/whisper/linechat/internal/messaging"
	"github.com/whisper/linechat/internal/moderation"
	"github.com/whisper/linechat/internal/report"
)

var flags struct {
	natsURL     string
	databaseURL string
	logLevel    string
}

var rootCmd = &cobra.Command{
	Use:   "moderator",
	Short: "Audit trail for chat server reports and bans",
	Long: `moderator subscribes to the moderation.> subjects the chat server
publishes on and logs every report and ban, keeping a running tally per
reported user. With a database URL set, every event is also archived in
PostgreSQL.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flags.natsURL, "nats-url", "", "NATS server URL (NATS_URL)")
	f.StringVar(&flags.databaseURL, "database-url", "", "PostgreSQL URL for the event archive (DATABASE_URL)")
	f.StringVar(&flags.logLevel, "log-level", "", "log level (LOG_LEVEL)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(flag, key, fallback string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func run(_ *cobra.Command, _ []string) error {
	_ = godotenv.Load()

	logger, err := logging.New(envOr(flags.logLevel, "LOG_LEVEL", "info"))
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	logger = logger.Named("moderator")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var archive *report.Store
	if databaseURL := envOr(flags.databaseURL, "DATABASE_URL", ""); databaseURL != "" {
		if err := report.Migrate(databaseURL); err != nil {
			return err
		}
		db, err := report.Open(ctx, databaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		archive = report.NewStore(db)
		logger.Info("archiving moderation events to postgres")
	}

	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = envOr(flags.natsURL, "NATS_URL", natsConfig.URL)
	natsConfig.Name = "linechat-moderator"

	nc, err := messaging.NewNATSClient(natsConfig, logger)
	if err != nil {
		return err
	}
	defer nc.Close()

	audit := moderation.NewAudit()
	err = nc.SubscribeModeration(func(ev moderation.Event) {
		summary := audit.Record(ev)
		fields := []zap.Field{
			zap.String("reporter", ev.Reporter),
			zap.String("target", ev.Target),
			zap.Int("reports", ev.Reports),
			zap.Int("reports_seen", summary.Reports),
			zap.Int("bans_seen", summary.Bans),
		}
		switch ev.Type {
		case moderation.TypeBan:
			logger.Warn("user banned", append(fields, zap.Time("ban_until", summary.BanUntil))...)
		default:
			logger.Info("user reported", fields...)
		}
		if archive != nil {
			archiveEvent(ctx, logger, archive, ev)
		}
	})
	if err != nil {
		return err
	}

	logger.Info("moderation audit running", zap.String("nats_url", natsConfig.URL))

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case now := <-ticker.C:
			for _, s := range audit.Banned(now) {
				logger.Info("ban in force",
					zap.String("target", s.Target),
					zap.Time("ban_until", s.BanUntil),
					zap.Strings("reporters", s.Reporters))
			}
		}
	}
}

func archiveEvent(ctx context.Context, logger *zap.Logger, archive *report.Store, ev moderation.Event) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := archive.Archive(ctx, ev); err != nil {
		logger.Error("failed to archive event", zap.String("target", ev.Target), zap.Error(err))
		return
	}
	if ev.Type != moderation.TypeBan {
		return
	}
	bans, err := archive.CountSince(ctx, moderation.TypeBan, ev.Target, time.Now().Add(-30*24*time.Hour))
	if err != nil {
		logger.Error("failed to count bans", zap.String("target", ev.Target), zap.Error(err))
		return
	}
	logger.Info("archived ban", zap.String("target", ev.Target), zap.Int("bans_last_30d", bans))
}
