package main

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bgpkit-collab/bgparchive/internal/archive"
	"github.com/bgpkit-collab/bgparchive/internal/catalog"
	"github.com/bgpkit-collab/bgparchive/internal/config"
	"github.com/bgpkit-collab/bgparchive/internal/db"
	bgphttp "github.com/bgpkit-collab/bgparchive/internal/http"
	"github.com/bgpkit-collab/bgparchive/internal/ingestkafka"
	"github.com/bgpkit-collab/bgparchive/internal/maintenance"
	"github.com/bgpkit-collab/bgparchive/internal/metrics"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe()
	case "migrate":
		runMigrate()
	case "maintenance":
		runMaintenance()
	case "verify":
		runVerify()
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: bgparchived <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve         Start the archive service")
	fmt.Println("  migrate       Run catalog database migrations")
	fmt.Println("  maintenance   Run catalog partition maintenance (create new, drop old)")
	fmt.Println("  verify        Re-hash archived segments against their manifests")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config <path>   Path to configuration YAML file")
	fmt.Println("  --log-level <lvl> Override log level (debug, info, warn, error)")
}

func parseFlags(args []string) (configPath string, logLevel string) {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			if i+1 < len(args) {
				configPath = args[i+1]
				i++
			}
		case "--log-level":
			if i+1 < len(args) {
				logLevel = args[i+1]
				i++
			}
		}
	}
	return
}

func loadConfig(args []string) (*config.Config, *zap.Logger) {
	configPath, logLevelOverride := parseFlags(args)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if logLevelOverride != "" {
		cfg.Service.LogLevel = logLevelOverride
	}

	logger := initLogger(cfg.Service.LogLevel)
	return cfg, logger
}

func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zap.DebugLevel
	case "warn":
		zapLevel = zap.WarnLevel
	case "error":
		zapLevel = zap.ErrorLevel
	default:
		zapLevel = zap.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

// migrationsDir returns the path to the migrations directory relative to the binary.
func migrationsDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "migrations"
	}
	return filepath.Join(filepath.Dir(exe), "migrations")
}

func runServe() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	metrics.Register()

	logger.Info("starting bgparchived",
		zap.String("instance_id", cfg.Service.InstanceID),
		zap.String("http_listen", cfg.Service.HTTPListen),
		zap.String("collector_id", cfg.Archive.CollectorID),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The archive service only needs an IP to stamp into TABLE_DUMP_V2 peer
	// index tables built from a bare RibSnapshotInput that omits one;
	// CollectorID itself is usually a short mnemonic, not an address.
	collectorBGPID := net.ParseIP(cfg.Archive.CollectorID)
	if collectorBGPID == nil {
		collectorBGPID = net.ParseIP("127.0.0.1")
	}

	archiveSvc, err := archive.NewArchiveService(&cfg.Archive, collectorBGPID, logger.Named("archive"))
	if err != nil {
		logger.Fatal("failed to start archive service", zap.Error(err))
	}
	defer archiveSvc.Close()

	var catalogPool *pgxpool.Pool
	var catalogWriter *catalog.Writer
	if cfg.Catalog.Enabled {
		catalogPool, err = db.NewPool(ctx, cfg.Catalog.Postgres.DSN, cfg.Catalog.Postgres.MaxConns, cfg.Catalog.Postgres.MinConns)
		if err != nil {
			logger.Fatal("failed to connect to catalog database", zap.Error(err))
		}
		defer catalogPool.Close()

		pm := maintenance.NewPartitionManager(catalogPool, cfg.Catalog.Retention.Days, cfg.Catalog.Retention.Timezone, logger.Named("maintenance"))
		if err := pm.CreatePartitions(ctx); err != nil {
			logger.Fatal("failed to create catalog partitions on startup", zap.Error(err))
		}

		catalogWriter = catalog.NewWriter(catalogPool, logger.Named("catalog"))
		events, unsubscribe := archiveSvc.SubscribeEvents()
		defer unsubscribe()
		go catalogWriter.Run(ctx, events)

		logger.Info("catalog writer started")
	}

	var ingestConsumer *ingestkafka.Consumer
	if cfg.IngestKafka.Enabled {
		tlsCfg, err := cfg.IngestKafka.BuildTLSConfig()
		if err != nil {
			logger.Fatal("failed to build ingest Kafka TLS config", zap.Error(err))
		}
		saslMech := cfg.IngestKafka.BuildSASLMechanism()

		ingestConsumer, err = ingestkafka.NewConsumer(
			cfg.IngestKafka.Brokers, cfg.IngestKafka.GroupID, cfg.IngestKafka.Topic, cfg.IngestKafka.ClientID,
			cfg.IngestKafka.FetchMaxBytes, tlsCfg, saslMech, archiveSvc, logger.Named("ingestkafka"),
		)
		if err != nil {
			logger.Fatal("failed to create ingest Kafka consumer", zap.Error(err))
		}
		defer ingestConsumer.Close()

		go ingestConsumer.Run(ctx)

		logger.Info("ingest Kafka consumer started",
			zap.String("topic", cfg.IngestKafka.Topic), zap.String("group_id", cfg.IngestKafka.GroupID))
	}

	httpServer := bgphttp.NewServer(cfg.Service.HTTPListen, catalogPool, ingestConsumerStatus(ingestConsumer), archiveSvc, logger.Named("http"))
	if err := httpServer.Start(); err != nil {
		logger.Fatal("failed to start HTTP server", zap.Error(err))
	}

	logger.Info("bgparchived started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownTimeout := time.Duration(cfg.Service.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	cancel()

	logger.Info("bgparchived stopped")
}

// ingestConsumerStatus returns consumer as a bgphttp.ConsumerStatus, or a
// nil interface (rather than one holding a nil *Consumer) when the adapter
// isn't enabled, so NewServer can tell "not configured" apart from
// "configured but unhealthy".
func ingestConsumerStatus(consumer *ingestkafka.Consumer) bgphttp.ConsumerStatus {
	if consumer == nil {
		return nil
	}
	return consumer
}

func runMigrate() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	if !cfg.Catalog.Enabled {
		logger.Fatal("catalog.enabled is false; nothing to migrate")
	}

	logger.Info("running catalog migrations",
		zap.String("dsn", redactDSN(cfg.Catalog.Postgres.DSN)),
	)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Catalog.Postgres.DSN, cfg.Catalog.Postgres.MaxConns, cfg.Catalog.Postgres.MinConns)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, migrationsDir(), logger); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}

	logger.Info("migrations complete")
}

func runMaintenance() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	if !cfg.Catalog.Enabled {
		logger.Fatal("catalog.enabled is false; nothing to maintain")
	}

	logger.Info("running catalog partition maintenance",
		zap.Int("retention_days", cfg.Catalog.Retention.Days),
		zap.String("timezone", cfg.Catalog.Retention.Timezone),
	)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Catalog.Postgres.DSN, cfg.Catalog.Postgres.MaxConns, cfg.Catalog.Postgres.MinConns)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	pm := maintenance.NewPartitionManager(pool, cfg.Catalog.Retention.Days, cfg.Catalog.Retention.Timezone, logger)
	if err := pm.Run(ctx); err != nil {
		logger.Fatal("maintenance failed", zap.Error(err))
	}

	logger.Info("partition maintenance complete")
}

func runVerify() {
	cfg, logger := loadConfig(os.Args[2:])
	defer logger.Sync()

	if !cfg.Archive.Enabled {
		logger.Fatal("archive.enabled is false; nothing to verify")
	}

	logger.Info("verifying archived segments", zap.String("root", cfg.Archive.Root))

	result, err := archive.VerifyManifests(context.Background(), &cfg.Archive, logger)
	if err != nil {
		logger.Fatal("verify failed", zap.Error(err))
	}

	logger.Info("verify complete",
		zap.Int("checked", result.Checked),
		zap.Int("mismatched", result.Mismatched),
		zap.Int("rebuilt", result.Rebuilt),
		zap.Int("unverifiable", result.Unverifiable),
	)

	if result.Mismatched > 0 || result.Unverifiable > 0 {
		os.Exit(1)
	}
}

func redactDSN(dsn string) string {
	if !strings.Contains(dsn, "://") {
		// keyword=value format, e.g. "host=... password=... dbname=..."; redact
		// the password=... portion only.
		re := regexp.MustCompile(`password\s*=\s*\S+`)
		return re.ReplaceAllString(dsn, "password=***")
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
