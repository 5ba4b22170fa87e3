package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"

	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
)

const (
	progressEvery = 100_000
	gzipBlockSize = 1 << 20
)

// Pager reads ledger rows in id order.
type Pager interface {
	Page(ctx context.Context, afterID int64, limit int) ([]payment.Entry, error)
}

func main() {
	var (
		databaseURL string
		outFile     string
		afterID     int64
		pageSize    int
		gzipBlocks  int
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&outFile, "out", "ledger.jsonl.gz", "output file")
	flag.Int64Var(&afterID, "after-id", 0, "export only ledger rows with a greater id")
	flag.IntVar(&pageSize, "page-size", 5000, "rows fetched per query")
	flag.IntVar(&gzipBlocks, "gzip-blocks", 8, "blocks compressed in parallel")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if pageSize < 1 {
		slog.Error("page size must be positive")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, outFile, afterID, pageSize, gzipBlocks); err != nil {
		slog.Error("ledger export failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("ledger export completed successfully", slog.String("path", outFile))
}

func run(ctx context.Context, databaseURL, outFile string, afterID int64, pageSize, gzipBlocks int) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	f, err := os.Create(outFile)
	if err != nil {
		return errors.Wrap(err, "create output file")
	}
	defer func() { _ = f.Close() }()

	gz := pgzip.NewWriter(f)
	if err := gz.SetConcurrency(gzipBlockSize, gzipBlocks); err != nil {
		return errors.Wrap(err, "configure gzip")
	}

	n, lastID, err := export(ctx, postgres.NewLedgerRepository(pool), gz, afterID, pageSize)
	if err != nil {
		return errors.Wrap(err, "export")
	}
	if err := gz.Close(); err != nil {
		return errors.Wrap(err, "flush gzip")
	}
	if err := f.Sync(); err != nil {
		return errors.Wrap(err, "sync output file")
	}

	slog.Info("exported ledger rows", slog.Int64("count", n), slog.Int64("last_id", lastID))
	return nil
}

// export writes one JSON object per ledger row to w and returns the row count
// and the last exported id, which can seed a later incremental run.
func export(ctx context.Context, p Pager, w io.Writer, afterID int64, pageSize int) (int64, int64, error) {
	bw := bufio.NewWriter(w)
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	var count int64
	for {
		entries, err := p.Page(ctx, afterID, pageSize)
		if err != nil {
			return count, afterID, errors.Wrapf(err, "page after %d", afterID)
		}
		for _, entry := range entries {
			e.Reset()
			encodeEntry(e, entry)
			if _, err := bw.Write(e.Bytes()); err != nil {
				return count, afterID, errors.Wrap(err, "write row")
			}
			if err := bw.WriteByte('\n'); err != nil {
				return count, afterID, errors.Wrap(err, "write row")
			}
			afterID = entry.ID
			count++
			if count%progressEvery == 0 {
				slog.Info("export progress", slog.Int64("rows", count), slog.Int64("last_id", afterID))
			}
		}
		if len(entries) < pageSize {
			break
		}
	}
	if err := bw.Flush(); err != nil {
		return count, afterID, errors.Wrap(err, "flush")
	}
	return count, afterID, nil
}

func encodeEntry(e *jx.Encoder, entry payment.Entry) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(entry.ID)
	e.FieldStart("order_id")
	e.Str(entry.OrderID)
	e.FieldStart("method")
	e.Str(entry.Method)
	e.FieldStart("status")
	e.Str(string(entry.Status))
	e.FieldStart("amount")
	e.Str(entry.Amount.StringFixed(2))
	e.FieldStart("provider_reference")
	e.Str(entry.ProviderReference)
	e.FieldStart("payload")
	if len(entry.Payload) > 0 && jx.Valid(entry.Payload) {
		e.Raw(entry.Payload)
	} else if len(entry.Payload) > 0 {
		e.Str(base64.StdEncoding.EncodeToString(entry.Payload))
	} else {
		e.Null()
	}
	e.FieldStart("created_at")
	e.Str(entry.CreatedAt.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
}
