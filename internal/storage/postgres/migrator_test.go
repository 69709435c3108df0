package postgres

import (
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func migrationFile(body string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(body)}
}

func TestLoadMigrationsFromFS(t *testing.T) {
	t.Parallel()

	t.Run("pairs are ordered by version", func(t *testing.T) {
		migrations, err := loadMigrationsFromFS(fstest.MapFS{
			"sql/migrations/0002_ledger.up.sql":   migrationFile("CREATE TABLE ledger (id INT);"),
			"sql/migrations/0002_ledger.down.sql": migrationFile("DROP TABLE ledger;"),
			"sql/migrations/0001_core.up.sql":     migrationFile("CREATE TABLE core (id INT);"),
			"sql/migrations/0001_core.down.sql":   migrationFile("DROP TABLE core;"),
		})
		require.NoError(t, err)
		require.Len(t, migrations, 2)
		require.Equal(t, int64(1), migrations[0].Version)
		require.Equal(t, "core", migrations[0].Name)
		require.Equal(t, "ledger", migrations[1].Name)
		require.Equal(t, "DROP TABLE ledger;", migrations[1].DownSQL)
	})

	broken := map[string]fstest.MapFS{
		"missing down": {
			"sql/migrations/0001_core.up.sql": migrationFile("CREATE TABLE core (id INT);"),
		},
		"bad file name": {
			"sql/migrations/core.sql": migrationFile("SELECT 1;"),
		},
		"blank body": {
			"sql/migrations/0001_core.up.sql":   migrationFile("  \n"),
			"sql/migrations/0001_core.down.sql": migrationFile("DROP TABLE core;"),
		},
	}
	for name, fsys := range broken {
		t.Run(name, func(t *testing.T) {
			_, err := loadMigrationsFromFS(fsys)
			require.Error(t, err)
		})
	}
}

func TestSelectMigrations(t *testing.T) {
	t.Parallel()

	migrations := []Migration{
		{Version: 1, Name: "init"},
		{Version: 2, Name: "events"},
		{Version: 3, Name: "more"},
	}

	up, err := selectMigrations(migrations, map[int64]bool{1: true}, migrationUp, 0)
	if err != nil {
		t.Fatalf("select up: %v", err)
	}
	if len(up) != 2 || up[0].Version != 2 || up[1].Version != 3 {
		t.Fatalf("unexpected up plan: %+v", up)
	}

	upOne, err := selectMigrations(migrations, map[int64]bool{}, migrationUp, 1)
	if err != nil {
		t.Fatalf("select up one: %v", err)
	}
	if len(upOne) != 1 || upOne[0].Version != 1 {
		t.Fatalf("unexpected single-step plan: %+v", upOne)
	}

	down, err := selectMigrations(migrations, map[int64]bool{1: true, 2: true}, migrationDown, 5)
	if err != nil {
		t.Fatalf("select down: %v", err)
	}
	if len(down) != 2 || down[0].Version != 2 || down[1].Version != 1 {
		t.Fatalf("down plan must be newest first: %+v", down)
	}

	if _, err := selectMigrations(migrations, map[int64]bool{9: true}, migrationDown, 1); err == nil {
		t.Fatal("expected error for unknown applied version")
	}
	if _, err := selectMigrations(migrations, nil, migrationDirection("sideways"), 0); err == nil {
		t.Fatal("expected error for unsupported direction")
	}
}

func TestEmbeddedMigrationsAreConsistent(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		t.Fatalf("load embedded migrations: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 embedded migrations, got %d", len(migrations))
	}
	if !strings.Contains(migrations[0].UpSQL, "inventory_levels") {
		t.Fatal("first migration must create inventory_levels")
	}
	if !strings.Contains(migrations[1].UpSQL, "processed_gateway_events") {
		t.Fatal("second migration must create processed_gateway_events")
	}
}
