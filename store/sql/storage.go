package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-banksync/core"
)

// Storage is the bun-backed core.Storage implementation. It works
// against sqlite and postgres through the dialects wired in Open.
type Storage struct {
	db           *bun.DB
	connections  *ConnectionStore
	cursors      *SyncCursorStore
	transactions *TransactionStore
	webhooks     *WebhookStore
}

func NewStorage(db *bun.DB) (*Storage, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	webhookRepo := repository.NewRepository[*webhookEventRecord](db, webhookEventHandlers())
	if validator, ok := webhookRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid webhook repository wiring: %w", err)
		}
	}
	return &Storage{
		db:           db,
		connections:  &ConnectionStore{db: db},
		cursors:      &SyncCursorStore{db: db},
		transactions: &TransactionStore{db: db},
		webhooks:     &WebhookStore{db: db, repo: webhookRepo},
	}, nil
}

func (s *Storage) Connections() core.ConnectionStore   { return s.connections }
func (s *Storage) Cursors() core.SyncCursorStore       { return s.cursors }
func (s *Storage) Transactions() core.TransactionStore { return s.transactions }
func (s *Storage) Webhooks() core.WebhookStore         { return s.webhooks }

func (s *Storage) DB() *bun.DB {
	if s == nil {
		return nil
	}
	return s.db
}

type ConnectionStore struct {
	db *bun.DB
}

func (s *ConnectionStore) Upsert(ctx context.Context, conn core.Connection) (core.Connection, error) {
	if s == nil || s.db == nil {
		return core.Connection{}, fmt.Errorf("sqlstore: connection store is not configured")
	}
	if err := conn.Provider.Validate(); err != nil {
		return core.Connection{}, err
	}
	if strings.TrimSpace(conn.ConnectionExternalID) == "" {
		return core.Connection{}, fmt.Errorf("sqlstore: connection external id is required")
	}
	record := newConnectionRecord(conn)
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (provider, connection_external_id) DO UPDATE").
		Set("display_name = EXCLUDED.display_name").
		Set("institution_id = EXCLUDED.institution_id").
		Set("institution_name = EXCLUDED.institution_name").
		Set("status = EXCLUDED.status").
		Set("last_synced_at = EXCLUDED.last_synced_at").
		Set("last_attempted_at = EXCLUDED.last_attempted_at").
		Set("last_error = EXCLUDED.last_error").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return core.Connection{}, fmt.Errorf("sqlstore: upsert connection: %w", err)
	}
	return record.toDomain(), nil
}

func (s *ConnectionStore) Get(
	ctx context.Context,
	provider core.Provider,
	connectionExternalID string,
) (*core.Connection, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: connection store is not configured")
	}
	record := &connectionRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.provider = ?", string(provider)).
		Where("?TableAlias.connection_external_id = ?", strings.TrimSpace(connectionExternalID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlstore: get connection: %w", err)
	}
	conn := record.toDomain()
	return &conn, nil
}

type SyncCursorStore struct {
	db *bun.DB
}

func (s *SyncCursorStore) Get(
	ctx context.Context,
	provider core.Provider,
	connectionExternalID string,
) (*core.SyncCursorState, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: sync cursor store is not configured")
	}
	record := &syncCursorRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.provider = ?", string(provider)).
		Where("?TableAlias.connection_external_id = ?", strings.TrimSpace(connectionExternalID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlstore: get sync cursor: %w", err)
	}
	state := record.toDomain()
	return &state, nil
}

func (s *SyncCursorStore) Upsert(ctx context.Context, state core.SyncCursorState) (core.SyncCursorState, error) {
	if s == nil || s.db == nil {
		return core.SyncCursorState{}, fmt.Errorf("sqlstore: sync cursor store is not configured")
	}
	if err := state.Provider.Validate(); err != nil {
		return core.SyncCursorState{}, err
	}
	if strings.TrimSpace(state.ConnectionExternalID) == "" {
		return core.SyncCursorState{}, fmt.Errorf("sqlstore: connection external id is required")
	}
	record := newSyncCursorRecord(state)
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (provider, connection_external_id) DO UPDATE").
		Set("cursor = EXCLUDED.cursor").
		Set("status = EXCLUDED.status").
		Set("last_attempted_at = EXCLUDED.last_attempted_at").
		Set("last_synced_at = EXCLUDED.last_synced_at").
		Set("last_error = EXCLUDED.last_error").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return core.SyncCursorState{}, fmt.Errorf("sqlstore: upsert sync cursor: %w", err)
	}
	return record.toDomain(), nil
}

type TransactionStore struct {
	db *bun.DB
}

// ApplyDelta lands the whole delta in one transaction so a partially
// applied sync can never advance a cursor.
func (s *TransactionStore) ApplyDelta(
	ctx context.Context,
	provider core.Provider,
	connectionExternalID string,
	delta core.TransactionDelta,
) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: transaction store is not configured")
	}
	connectionExternalID = strings.TrimSpace(connectionExternalID)
	if connectionExternalID == "" {
		return fmt.Errorf("sqlstore: connection external id is required")
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		upserts := make([]core.Transaction, 0, len(delta.Added)+len(delta.Modified))
		upserts = append(upserts, delta.Added...)
		upserts = append(upserts, delta.Modified...)
		for _, txn := range upserts {
			record := newTransactionRecord(provider, connectionExternalID, txn)
			_, err := tx.NewInsert().
				Model(record).
				On("CONFLICT (provider, connection_external_id, provider_transaction_id) DO UPDATE").
				Set("account_id = EXCLUDED.account_id").
				Set("name = EXCLUDED.name").
				Set("merchant_name = EXCLUDED.merchant_name").
				Set("amount = EXCLUDED.amount").
				Set("iso_currency_code = EXCLUDED.iso_currency_code").
				Set("date = EXCLUDED.date").
				Set("pending = EXCLUDED.pending").
				Set("category = EXCLUDED.category").
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("sqlstore: upsert transaction %q: %w", txn.ProviderTransactionID, err)
			}
		}
		if len(delta.RemovedProviderTransactionIDs) > 0 {
			_, err := tx.NewDelete().
				Model((*transactionRecord)(nil)).
				Where("provider = ?", string(provider)).
				Where("connection_external_id = ?", connectionExternalID).
				Where("provider_transaction_id IN (?)", bun.In(delta.RemovedProviderTransactionIDs)).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("sqlstore: remove transactions: %w", err)
			}
		}
		return nil
	})
}

func (s *TransactionStore) ListByConnection(
	ctx context.Context,
	provider core.Provider,
	connectionExternalID string,
) ([]core.Transaction, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: transaction store is not configured")
	}
	var records []transactionRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.provider = ?", string(provider)).
		Where("?TableAlias.connection_external_id = ?", strings.TrimSpace(connectionExternalID)).
		OrderExpr("?TableAlias.date ASC, ?TableAlias.provider_transaction_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list transactions: %w", err)
	}
	out := make([]core.Transaction, 0, len(records))
	for i := range records {
		out = append(out, records[i].toDomain())
	}
	return out, nil
}

type WebhookStore struct {
	db   *bun.DB
	repo repository.Repository[*webhookEventRecord]
}

func (s *WebhookStore) Record(ctx context.Context, record core.WebhookRecord) (core.WebhookRecord, error) {
	if s == nil || s.repo == nil {
		return core.WebhookRecord{}, fmt.Errorf("sqlstore: webhook store is not configured")
	}
	if strings.TrimSpace(record.ID) == "" {
		return core.WebhookRecord{}, fmt.Errorf("sqlstore: webhook record id is required")
	}
	created, err := s.repo.Create(ctx, newWebhookEventRecord(record))
	if err != nil {
		return core.WebhookRecord{}, fmt.Errorf("sqlstore: record webhook: %w", err)
	}
	return created.toDomain(), nil
}

// ListByProvider returns the forensic trail, newest first.
func (s *WebhookStore) ListByProvider(ctx context.Context, provider core.Provider) ([]core.WebhookRecord, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: webhook store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("provider", "=", string(provider)),
		repository.OrderBy("received_at DESC"),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list webhooks: %w", err)
	}
	out := make([]core.WebhookRecord, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

var (
	_ core.Storage          = (*Storage)(nil)
	_ core.ConnectionStore  = (*ConnectionStore)(nil)
	_ core.SyncCursorStore  = (*SyncCursorStore)(nil)
	_ core.TransactionStore = (*TransactionStore)(nil)
	_ core.WebhookStore     = (*WebhookStore)(nil)
)
