package migrations

import (
	"context"
	"database/sql"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestSources_ReturnsPostgresAndSQLite(t *testing.T) {
	sources, err := Sources()
	if err != nil {
		t.Fatalf("sources: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sources))
	}

	var postgresFound bool
	var sqliteFound bool
	for _, source := range sources {
		matches, globErr := fs.Glob(source.FS, "*.up.sql")
		if globErr != nil {
			t.Fatalf("glob %s: %v", source.Dialect, globErr)
		}
		if len(matches) == 0 {
			t.Fatalf("expected %s migration files, got none", source.Dialect)
		}
		switch source.Dialect {
		case DialectPostgres:
			postgresFound = true
		case DialectSQLite:
			sqliteFound = true
		}
	}

	if !postgresFound {
		t.Fatalf("expected postgres source")
	}
	if !sqliteFound {
		t.Fatalf("expected sqlite source")
	}
}

func TestSourceFor_RejectsUnknownDialect(t *testing.T) {
	if _, err := SourceFor("mysql"); err == nil {
		t.Fatalf("expected unknown dialect error")
	}
}

func TestSourceFor_EveryUpMigrationHasADown(t *testing.T) {
	for _, dialect := range Dialects() {
		source, err := SourceFor(dialect)
		if err != nil {
			t.Fatalf("source for %s: %v", dialect, err)
		}
		ups, err := fs.Glob(source.FS, "*.up.sql")
		if err != nil {
			t.Fatalf("glob %s: %v", dialect, err)
		}
		for _, up := range ups {
			down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
			content, err := fs.ReadFile(source.FS, down)
			if err != nil {
				t.Fatalf("read %s %s: %v", dialect, down, err)
			}
			if strings.TrimSpace(string(content)) == "" {
				t.Fatalf("expected %s %s to have SQL content", dialect, down)
			}
		}
	}
}

func TestRegister_HonorsDialectsAndLabel(t *testing.T) {
	var dialects []string
	var labels []string
	err := Register(context.Background(), func(_ context.Context, dialect string, label string, fsys fs.FS) error {
		if fsys == nil {
			t.Fatalf("expected filesystem for %s", dialect)
		}
		dialects = append(dialects, dialect)
		labels = append(labels, label)
		return nil
	}, WithDialects(DialectSQLite), WithSourceLabel("banksync-host"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if len(dialects) != 1 || dialects[0] != DialectSQLite {
		t.Fatalf("expected single sqlite registration, got %v", dialects)
	}
	if labels[0] != "banksync-host" {
		t.Fatalf("expected banksync-host label, got %q", labels[0])
	}
}

func TestRegister_RequiresRegisterFunc(t *testing.T) {
	if err := Register(context.Background(), nil); err == nil {
		t.Fatalf("expected register function error")
	}
}

func TestSQLiteWebhookEventDedupMigration_ApplyAndRollback(t *testing.T) {
	db, err := sql.Open("sqlite3", "file:migrations-webhook-event-dedup?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()

	source, err := SourceFor(DialectSQLite)
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}
	sqliteMigrations := source.FS

	if err := execSQLMigration(context.Background(), db, sqliteMigrations, "00001_banksync_core_schema.up.sql"); err != nil {
		t.Fatalf("apply core schema migration: %v", err)
	}

	insertStatement := `
		INSERT INTO bank_webhook_events
			(id, provider, event_id, event_type, payload, received_at, verification_state, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	seedRows := [][]any{
		{"evt-row-1", "plaid", "wh_1", "SYNC_UPDATES_AVAILABLE", "{}", "2026-01-01T00:00:00Z", "verified", ""},
		{"evt-row-2", "plaid", "", "SYNC_UPDATES_AVAILABLE", "{}", "2026-01-01T00:01:00Z", "verified", ""},
		{"evt-row-3", "plaid", "", "SYNC_UPDATES_AVAILABLE", "{}", "2026-01-01T00:02:00Z", "verified", ""},
	}
	for _, row := range seedRows {
		if _, err := db.ExecContext(context.Background(), insertStatement, row...); err != nil {
			t.Fatalf("insert seed row %v: %v", row[0], err)
		}
	}

	if err := execSQLMigration(
		context.Background(),
		db,
		sqliteMigrations,
		"00002_banksync_webhook_event_dedup.up.sql",
	); err != nil {
		t.Fatalf("apply dedup migration up: %v", err)
	}

	if _, err := db.ExecContext(
		context.Background(),
		insertStatement,
		"evt-row-dup", "plaid", "wh_1", "SYNC_UPDATES_AVAILABLE", "{}", "2026-01-02T00:00:00Z", "verified", "",
	); err == nil {
		t.Fatalf("expected unique index violation for duplicate event id")
	}

	// Blank event ids stay exempt from the uniqueness constraint.
	if _, err := db.ExecContext(
		context.Background(),
		insertStatement,
		"evt-row-4", "plaid", "", "SYNC_UPDATES_AVAILABLE", "{}", "2026-01-02T00:01:00Z", "verified", "",
	); err != nil {
		t.Fatalf("expected blank event id insert to succeed: %v", err)
	}

	if err := execSQLMigration(
		context.Background(),
		db,
		sqliteMigrations,
		"00002_banksync_webhook_event_dedup.down.sql",
	); err != nil {
		t.Fatalf("apply dedup migration down: %v", err)
	}

	if _, err := db.ExecContext(
		context.Background(),
		insertStatement,
		"evt-row-dup", "plaid", "wh_1", "SYNC_UPDATES_AVAILABLE", "{}", "2026-01-03T00:00:00Z", "verified", "",
	); err != nil {
		t.Fatalf("expected duplicate insert to succeed after down migration: %v", err)
	}
}

func execSQLMigration(ctx context.Context, db *sql.DB, fsys fs.FS, filename string) error {
	content, err := fs.ReadFile(fsys, filepath.Clean(filename))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(content))
	return err
}
