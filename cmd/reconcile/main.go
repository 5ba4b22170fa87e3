package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		concurrency int
		dryRun      bool
		purgeKeys   bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&concurrency, "concurrency", 4, "orders reconciled in parallel")
	flag.BoolVar(&dryRun, "dry-run", false, "report drift without rewriting order caches")
	flag.BoolVar(&purgeKeys, "purge-idempotency", true, "delete expired idempotency keys after reconciling")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, concurrency, dryRun, purgeKeys); err != nil {
		slog.Error("reconcile failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("reconcile completed successfully")
}

func run(ctx context.Context, databaseURL string, concurrency int, dryRun, purgeKeys bool) error {
	lg, err := zap.NewProduction()
	if err != nil {
		return errors.Wrap(err, "create logger")
	}
	defer func() { _ = lg.Sync() }()

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("replaying ledger",
		slog.Int("concurrency", concurrency),
		slog.Bool("dry_run", dryRun),
	)

	r := payment.NewReconciler(
		postgres.NewOrderRepository(pool),
		postgres.NewLedgerRepository(pool),
		lg.Named("reconcile"),
		concurrency,
		dryRun,
	)
	report, err := r.Run(ctx)
	slog.Info("ledger replayed",
		slog.Int64("checked", report.Checked),
		slog.Int64("drifted", report.Drifted),
		slog.Int64("fixed", report.Fixed),
	)
	if err != nil {
		return errors.Wrap(err, "reconcile orders")
	}

	if !purgeKeys || dryRun {
		return nil
	}

	purged, err := postgres.NewIdempotencyRepository(pool).Purge(ctx)
	if err != nil {
		return errors.Wrap(err, "purge idempotency keys")
	}
	slog.Info("purged expired idempotency keys", slog.Int64("count", purged))

	return nil
}
