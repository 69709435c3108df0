package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vladislavdragonenkov/checkout/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	envPostgresDSN = "CHECKOUT_POSTGRES_DSN"
)

// migrator — часть postgres.Store, нужная утилите.
type migrator interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (int64, int, error)
	PendingMigrations(ctx context.Context) ([]postgres.Migration, error)
}

func main() {
	var (
		direction string
		steps     int
		dsn       string
	)

	flag.StringVar(&direction, "direction", "up", "migration direction: up|down|status|pending")
	flag.IntVar(&steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	flag.StringVar(&dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	flag.Parse()

	_ = godotenv.Load()

	if strings.TrimSpace(dsn) == "" {
		dsn = strings.TrimSpace(os.Getenv(envPostgresDSN))
	}
	if dsn == "" {
		fail("%s (or -dsn) is required", envPostgresDSN)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		fail("open postgres store: %v", err)
	}
	defer store.Close()

	if err := runMigrate(ctx, store, direction, steps, os.Stdout); err != nil {
		fail("%v", err)
	}
}

func runMigrate(ctx context.Context, m migrator, direction string, steps int, out io.Writer) error {
	switch strings.ToLower(strings.TrimSpace(direction)) {
	case "up":
		if err := m.MigrateUp(ctx, steps); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
		return printStatus(ctx, m, out, "migrate up ok")
	case "down":
		if steps <= 0 {
			steps = 1
		}
		if err := m.MigrateDown(ctx, steps); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
		return printStatus(ctx, m, out, "migrate down ok")
	case "status":
		return printStatus(ctx, m, out, "migration status")
	case "pending":
		pending, err := m.PendingMigrations(ctx)
		if err != nil {
			return fmt.Errorf("list pending migrations failed: %w", err)
		}
		if len(pending) == 0 {
			_, _ = fmt.Fprintln(out, "no pending migrations")
			return nil
		}
		for _, migration := range pending {
			_, _ = fmt.Fprintf(out, "pending: %04d_%s\n", migration.Version, migration.Name)
		}
		return nil
	default:
		return fmt.Errorf("unsupported direction: %s (use up|down|status|pending)", direction)
	}
}

func printStatus(ctx context.Context, m migrator, out io.Writer, prefix string) error {
	version, count, err := m.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	_, _ = fmt.Fprintf(out, "%s: version=%d applied=%d\n", prefix, version, count)
	return nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
