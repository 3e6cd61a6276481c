package sqlstore

import (
	"context"
	"fmt"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-banksync/audit"
	"github.com/goliatone/go-banksync/core"
)

// AuditSink appends audit entries to the database. Inserts only; the
// trail has no update or delete path.
type AuditSink struct {
	repo repository.Repository[*auditEntryRecord]
}

func NewAuditSink(db *bun.DB) (*AuditSink, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*auditEntryRecord](db, auditEntryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid audit repository wiring: %w", err)
		}
	}
	return &AuditSink{repo: repo}, nil
}

func (s *AuditSink) Write(ctx context.Context, entry core.AuditEntry) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: audit sink is not configured")
	}
	row := &auditEntryRecord{
		ID:                   entry.ID,
		Timestamp:            entry.Timestamp,
		Level:                string(entry.Level),
		Action:               string(entry.Action),
		Provider:             string(entry.Provider),
		ConnectionExternalID: entry.ConnectionExternalID,
		Message:              entry.Message,
		Metadata:             entry.Metadata,
	}
	if _, err := s.repo.Create(ctx, row); err != nil {
		return fmt.Errorf("sqlstore: append audit entry: %w", err)
	}
	return nil
}

// Entries returns the trail for one connection, oldest first. Read
// path for operator tooling; the connector never queries it.
func (s *AuditSink) Entries(
	ctx context.Context,
	provider core.Provider,
	connectionExternalID string,
) ([]core.AuditEntry, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: audit sink is not configured")
	}
	rows, _, err := s.repo.List(ctx,
		repository.SelectBy("provider", "=", string(provider)),
		repository.SelectBy("connection_external_id", "=", connectionExternalID),
		repository.OrderBy("timestamp ASC"),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list audit entries: %w", err)
	}
	out := make([]core.AuditEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, core.AuditEntry{
			ID:                   row.ID,
			Timestamp:            row.Timestamp,
			Level:                core.AuditLevel(row.Level),
			Action:               core.AuditAction(row.Action),
			Provider:             core.Provider(row.Provider),
			ConnectionExternalID: row.ConnectionExternalID,
			Message:              row.Message,
			Metadata:             row.Metadata,
		})
	}
	return out, nil
}

var _ audit.Sink = (*AuditSink)(nil)
