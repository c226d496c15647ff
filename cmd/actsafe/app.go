package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/actsafe/pkg/config"
	"github.com/Mindburn-Labs/actsafe/pkg/database"
	"github.com/Mindburn-Labs/actsafe/pkg/evidence"
	"github.com/Mindburn-Labs/actsafe/pkg/observability"
	"github.com/Mindburn-Labs/actsafe/pkg/policy"
	"github.com/Mindburn-Labs/actsafe/pkg/receipts"
	"github.com/Mindburn-Labs/actsafe/pkg/replayguard"
	"github.com/Mindburn-Labs/actsafe/pkg/spend"
)

// app holds the storage components selected by configuration.
type app struct {
	cfg       *config.Config
	db        *database.DB
	redis     *redis.Client
	receipts  *receipts.Store
	ledger    *spend.Ledger
	replay    replayguard.Store
	telemetry *observability.Provider
	logger    *slog.Logger
}

// openApp loads configuration and opens the configured backends.
func openApp(ctx context.Context, stderr io.Writer) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(stderr, cfg.LogLevel)
	slog.SetDefault(logger)

	telemetry, err := observability.New(ctx, &observability.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
	})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, telemetry: telemetry, logger: logger}
	if err := a.openStorage(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) openStorage(ctx context.Context) error {
	cfg := a.cfg
	switch cfg.Backend {
	case config.BackendFile:
		a.receipts = receipts.NewStore(receipts.NewFileBackend(cfg.DataDir))
		a.ledger = spend.NewLedger(spend.NewFileStorage(filepath.Join(cfg.DataDir, spend.FileName)))
	case config.BackendSQLite, config.BackendPostgres:
		db, err := database.Open(ctx, database.Dialect(cfg.Backend), cfg.DatabaseURL)
		if err != nil {
			return err
		}
		a.db = db
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		a.receipts = receipts.NewStore(receipts.NewSQLBackend(db))
		a.ledger = spend.NewLedger(spend.NewSQLStorage(db))
	default:
		return fmt.Errorf("unsupported backend %q", cfg.Backend)
	}

	switch cfg.ReplayBackend {
	case config.ReplayFile:
		a.replay = replayguard.NewFileStore(filepath.Join(cfg.DataDir, replayguard.FileName))
	case config.ReplaySQL:
		a.replay = replayguard.NewSQLStore(a.db)
	case config.ReplayRedis:
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.replay = replayguard.NewRedisStore(a.redis, replayguard.DefaultKeyPrefix)
	default:
		return fmt.Errorf("unsupported replay backend %q", cfg.ReplayBackend)
	}
	return nil
}

func (a *app) evidenceStore(ctx context.Context) (evidence.Store, error) {
	return evidence.NewStoreFromConfig(ctx, a.cfg.Evidence)
}

func (a *app) policyDocument() (*policy.Document, error) {
	return policy.Load(a.cfg.PolicyPath)
}

// Close releases every opened backend.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// withApp opens the app for the duration of fn and maps errors to exit code 2.
func withApp(stderr io.Writer, fn func(ctx context.Context, a *app) int) int {
	ctx := context.Background()
	a, err := openApp(ctx, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer func() { _ = a.Close(ctx) }()
	return fn(ctx, a)
}
