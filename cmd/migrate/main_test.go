package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/checkout/internal/storage/postgres"
)

type fakeMigrator struct {
	upSteps   []int
	downSteps []int
	version   int64
	applied   int
	pending   []postgres.Migration
	err       error
}

func (f *fakeMigrator) MigrateUp(_ context.Context, steps int) error {
	f.upSteps = append(f.upSteps, steps)
	return f.err
}

func (f *fakeMigrator) MigrateDown(_ context.Context, steps int) error {
	f.downSteps = append(f.downSteps, steps)
	return f.err
}

func (f *fakeMigrator) MigrationStatus(context.Context) (int64, int, error) {
	return f.version, f.applied, nil
}

func (f *fakeMigrator) PendingMigrations(context.Context) ([]postgres.Migration, error) {
	return f.pending, f.err
}

func TestRunMigrate(t *testing.T) {
	ctx := context.Background()

	t.Run("up applies all by default", func(t *testing.T) {
		m := &fakeMigrator{version: 2, applied: 2}
		var out bytes.Buffer
		require.NoError(t, runMigrate(ctx, m, " UP ", 0, &out))
		require.Equal(t, []int{0}, m.upSteps)
		require.Equal(t, "migrate up ok: version=2 applied=2\n", out.String())
	})

	t.Run("down defaults to one step", func(t *testing.T) {
		m := &fakeMigrator{version: 1, applied: 1}
		var out bytes.Buffer
		require.NoError(t, runMigrate(ctx, m, "down", 0, &out))
		require.Equal(t, []int{1}, m.downSteps)
		require.Contains(t, out.String(), "migrate down ok")
	})

	t.Run("pending lists versions", func(t *testing.T) {
		m := &fakeMigrator{pending: []postgres.Migration{{Version: 2, Name: "gateway_reconciliation"}}}
		var out bytes.Buffer
		require.NoError(t, runMigrate(ctx, m, "pending", 0, &out))
		require.Equal(t, "pending: 0002_gateway_reconciliation\n", out.String())
	})

	t.Run("nothing pending", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runMigrate(ctx, &fakeMigrator{}, "pending", 0, &out))
		require.Equal(t, "no pending migrations\n", out.String())
	})

	t.Run("errors are wrapped", func(t *testing.T) {
		m := &fakeMigrator{err: errors.New("locked")}
		require.ErrorContains(t, runMigrate(ctx, m, "up", 0, &bytes.Buffer{}), "migrate up failed: locked")
	})

	t.Run("unsupported direction", func(t *testing.T) {
		require.ErrorContains(t, runMigrate(ctx, &fakeMigrator{}, "sideways", 0, &bytes.Buffer{}), "unsupported direction")
	})
}

func TestMainAgainstPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("CHECKOUT_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("CHECKOUT_POSTGRES_TEST_DSN is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	store, err := postgres.Open(ctx, dsn)
	cancel()
	if err != nil {
		t.Skipf("postgres is not available: %v", err)
	}
	_ = store.Close()

	for _, args := range [][]string{
		{"-direction=status", "-dsn=" + dsn},
		{"-direction=up", "-dsn=" + dsn},
		{"-direction=pending", "-dsn=" + dsn},
	} {
		withMigrateCLIArgs(t, args, main)
	}
}

func TestMainMissingDSNExits(t *testing.T) {
	if os.Getenv("MIGRATE_TEST_EXIT") == "1" {
		withMigrateCLIArgs(t, []string{"-direction=status", "-dsn="}, func() {
			_ = os.Unsetenv("CHECKOUT_POSTGRES_DSN")
			main()
		})
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestMainMissingDSNExits")
	cmd.Env = append(os.Environ(), "MIGRATE_TEST_EXIT=1")
	err := cmd.Run()
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	require.NotZero(t, exitErr.ExitCode())
}

func withMigrateCLIArgs(t *testing.T, args []string, fn func()) {
	t.Helper()

	oldArgs := os.Args
	oldCommandLine := flag.CommandLine

	os.Args = append([]string{"migrate"}, args...)
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	defer func() {
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	}()

	fn()
}
