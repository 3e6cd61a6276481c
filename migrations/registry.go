// Package migrations ships the embedded SQL schema for the bank-sync
// tables (connections, cursors, transactions, vault records, webhook
// events, audit entries) and hands per-dialect migration filesystems
// to a host application's migration runner.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"strings"
)

//go:embed sql/postgres/*.sql sql/sqlite/*.sql
var schemaFS embed.FS

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

const defaultSourceLabel = "go-banksync"

// Source is one dialect's embedded migration filesystem. Files are
// numbered NNNNN_name.up.sql / NNNNN_name.down.sql pairs applied in
// lexical order.
type Source struct {
	Dialect string
	FS      fs.FS
}

// Dialects lists the dialects this package ships migrations for.
func Dialects() []string {
	return []string{DialectPostgres, DialectSQLite}
}

// SourceFor resolves the embedded filesystem for one dialect and
// checks every up migration has a matching down migration.
func SourceFor(dialect string) (Source, error) {
	normalized := strings.TrimSpace(strings.ToLower(dialect))
	switch normalized {
	case DialectPostgres, DialectSQLite:
	default:
		return Source{}, fmt.Errorf("migrations: unknown dialect %q", dialect)
	}

	sub, err := fs.Sub(schemaFS, "sql/"+normalized)
	if err != nil {
		return Source{}, fmt.Errorf("migrations: resolve %s filesystem: %w", normalized, err)
	}
	ups, err := fs.Glob(sub, "*.up.sql")
	if err != nil {
		return Source{}, fmt.Errorf("migrations: glob %s: %w", normalized, err)
	}
	if len(ups) == 0 {
		return Source{}, fmt.Errorf("migrations: %s filesystem has no *.up.sql files", normalized)
	}
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		if _, statErr := fs.Stat(sub, down); statErr != nil {
			return Source{}, fmt.Errorf("migrations: %s migration %s has no down file: %w", normalized, up, statErr)
		}
	}

	return Source{Dialect: normalized, FS: sub}, nil
}

// Sources resolves filesystems for the requested dialects, defaulting
// to every shipped dialect.
func Sources(dialects ...string) ([]Source, error) {
	if len(dialects) == 0 {
		dialects = Dialects()
	}
	sources := make([]Source, 0, len(dialects))
	seen := make(map[string]struct{}, len(dialects))
	for _, dialect := range dialects {
		source, err := SourceFor(dialect)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[source.Dialect]; dup {
			continue
		}
		seen[source.Dialect] = struct{}{}
		sources = append(sources, source)
	}
	return sources, nil
}

// RegisterFunc receives one dialect's filesystem. The label tags rows
// in the host's migration bookkeeping table.
type RegisterFunc func(ctx context.Context, dialect string, label string, fsys fs.FS) error

type registration struct {
	label    string
	dialects []string
}

type Option func(*registration)

func WithSourceLabel(label string) Option {
	return func(r *registration) {
		if trimmed := strings.TrimSpace(label); trimmed != "" {
			r.label = trimmed
		}
	}
}

func WithDialects(dialects ...string) Option {
	return func(r *registration) {
		if len(dialects) > 0 {
			r.dialects = dialects
		}
	}
}

// Register feeds the requested dialects' migration filesystems to
// registerFn, stopping at the first failure.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) error {
	if registerFn == nil {
		return fmt.Errorf("migrations: register function is required")
	}

	reg := registration{label: defaultSourceLabel}
	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}

	sources, err := Sources(reg.dialects...)
	if err != nil {
		return err
	}
	for _, source := range sources {
		if err := registerFn(ctx, source.Dialect, reg.label, source.FS); err != nil {
			return fmt.Errorf("migrations: register %s: %w", source.Dialect, err)
		}
	}
	return nil
}
