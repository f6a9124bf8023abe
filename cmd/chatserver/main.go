package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/whisper/linechat/internal/config"
	"github.com/whisper/linechat/internal/logging"
	"github.com/whisper/linechat/internal/messaging"
	"github.com/whisper/linechat/internal/metrics"
	"github.com/whisper/linechat/internal/ratelimit"
	"github.com/whisper/linechat/internal/server"
)

const shutdownTimeout = 10 * time.Second

var flags struct {
	host            string
	port            int
	banDuration     time.Duration
	reportThreshold int
	opsAddr         string
	logLevel        string
}

var rootCmd = &cobra.Command{
	Use:   "chatserver",
	Short: "Line-protocol TCP chat server",
	Long: `chatserver accepts plain TCP connections speaking a newline-delimited
command protocol (/sign_in, /send_all, /send, /get_chat_with, /status,
/report, /send_delayed, /cancel_scheduled, /sign_out).

Configuration comes from the environment (optionally a .env file) and is
overridden by flags.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flags.host, "host", "", "bind host (CHAT_HOST)")
	f.IntVar(&flags.port, "port", 0, "bind port (CHAT_PORT)")
	f.DurationVar(&flags.banDuration, "ban-duration", 0, "ban length once the report threshold is reached (BAN_DURATION)")
	f.IntVar(&flags.reportThreshold, "report-threshold", 0, "distinct reports that trigger a ban (REPORT_THRESHOLD)")
	f.StringVar(&flags.opsAddr, "ops-addr", "", "metrics and health listen address, \"off\" to disable (OPS_ADDR)")
	f.StringVar(&flags.logLevel, "log-level", "", "log level (LOG_LEVEL)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	f := cmd.Flags()
	if f.Changed("host") {
		cfg.Host = flags.host
	}
	if f.Changed("port") {
		cfg.Port = flags.port
	}
	if f.Changed("ban-duration") {
		cfg.BanDuration = flags.banDuration
	}
	if f.Changed("report-threshold") {
		cfg.ReportThreshold = flags.reportThreshold
	}
	if f.Changed("ops-addr") {
		cfg.OpsAddr = flags.opsAddr
		if cfg.OpsAddr == "off" {
			cfg.OpsAddr = ""
		}
	}
	if f.Changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("chat server starting",
		zap.String("listen_addr", cfg.ListenAddr()),
		zap.Duration("ban_duration", cfg.BanDuration),
		zap.Int("report_threshold", cfg.ReportThreshold),
		zap.String("ops_addr", cfg.OpsAddr),
		zap.String("nats_url", cfg.NATSURL),
		zap.String("redis_addr", cfg.RedisAddr))

	var opts []server.Option

	// --- Redis (optional shared rate limiting) ---
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			logger.Warn("redis unavailable, using in-process rate limiting", zap.Error(err))
		} else {
			rule := ratelimit.CommandRule(cfg.RateLimit.Commands, cfg.RateLimit.Window)
			opts = append(opts, server.WithLimiter(ratelimit.NewRedisLimiter(rdb, rule, logger)))
		}
	}

	// --- NATS (optional moderation events) ---
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Name = "linechat-server"

		nc, err := messaging.NewNATSClient(natsConfig, logger)
		if err != nil {
			logger.Warn("nats unavailable, moderation events disabled", zap.Error(err))
		} else {
			defer nc.Close()
			opts = append(opts, server.WithNotifier(nc))
		}
	}

	srv := server.New(cfg, logger, opts...)

	// --- Ops HTTP ---
	var ops *http.Server
	if cfg.OpsAddr != "" {
		ops = &http.Server{
			Addr:              cfg.OpsAddr,
			Handler:           metrics.Router(srv.ConnCount),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("ops server failed", zap.Error(err))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe(ctx) }()

	select {
	case err := <-serveErr:
		if !errors.Is(err, server.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("chat server shutdown incomplete", zap.Error(err))
	}
	if ops != nil {
		if err := ops.Shutdown(shutdownCtx); err != nil {
			logger.Warn("ops server shutdown", zap.Error(err))
		}
	}
	logger.Info("chat server stopped")
	return nil
}
