package sqlstore

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-banksync/core"
)

type connectionRecord struct {
	bun.BaseModel `bun:"table:bank_connections,alias:bc"`

	Provider             string     `bun:"provider,pk"`
	ConnectionExternalID string     `bun:"connection_external_id,pk"`
	DisplayName          string     `bun:"display_name"`
	InstitutionID        string     `bun:"institution_id"`
	InstitutionName      string     `bun:"institution_name"`
	Status               string     `bun:"status,notnull"`
	LastSyncedAt         *time.Time `bun:"last_synced_at,nullzero"`
	LastAttemptedAt      *time.Time `bun:"last_attempted_at,nullzero"`
	LastError            string     `bun:"last_error"`
	CreatedAt            time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt            time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newConnectionRecord(conn core.Connection) *connectionRecord {
	return &connectionRecord{
		Provider:             string(conn.Provider),
		ConnectionExternalID: conn.ConnectionExternalID,
		DisplayName:          conn.DisplayName,
		InstitutionID:        conn.InstitutionID,
		InstitutionName:      conn.InstitutionName,
		Status:               string(conn.Status),
		LastSyncedAt:         conn.LastSyncedAt,
		LastAttemptedAt:      conn.LastAttemptedAt,
		LastError:            conn.LastError,
		CreatedAt:            conn.CreatedAt,
		UpdatedAt:            conn.UpdatedAt,
	}
}

func (r *connectionRecord) toDomain() core.Connection {
	return core.Connection{
		Provider:             core.Provider(r.Provider),
		ConnectionExternalID: r.ConnectionExternalID,
		DisplayName:          r.DisplayName,
		InstitutionID:        r.InstitutionID,
		InstitutionName:      r.InstitutionName,
		Status:               core.ConnectionStatus(r.Status),
		LastSyncedAt:         r.LastSyncedAt,
		LastAttemptedAt:      r.LastAttemptedAt,
		LastError:            r.LastError,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}

type syncCursorRecord struct {
	bun.BaseModel `bun:"table:bank_sync_cursors,alias:bsc"`

	Provider             string     `bun:"provider,pk"`
	ConnectionExternalID string     `bun:"connection_external_id,pk"`
	Cursor               string     `bun:"cursor"`
	Status               string     `bun:"status,notnull"`
	LastAttemptedAt      *time.Time `bun:"last_attempted_at,nullzero"`
	LastSyncedAt         *time.Time `bun:"last_synced_at,nullzero"`
	LastError            string     `bun:"last_error"`
	UpdatedAt            time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newSyncCursorRecord(state core.SyncCursorState) *syncCursorRecord {
	return &syncCursorRecord{
		Provider:             string(state.Provider),
		ConnectionExternalID: state.ConnectionExternalID,
		Cursor:               state.Cursor,
		Status:               string(state.Status),
		LastAttemptedAt:      state.LastAttemptedAt,
		LastSyncedAt:         state.LastSyncedAt,
		LastError:            state.LastError,
		UpdatedAt:            state.UpdatedAt,
	}
}

func (r *syncCursorRecord) toDomain() core.SyncCursorState {
	return core.SyncCursorState{
		Provider:             core.Provider(r.Provider),
		ConnectionExternalID: r.ConnectionExternalID,
		Cursor:               r.Cursor,
		Status:               core.SyncStatus(r.Status),
		LastAttemptedAt:      r.LastAttemptedAt,
		LastSyncedAt:         r.LastSyncedAt,
		LastError:            r.LastError,
		UpdatedAt:            r.UpdatedAt,
	}
}

type transactionRecord struct {
	bun.BaseModel `bun:"table:bank_transactions,alias:bt"`

	Provider              string    `bun:"provider,pk"`
	ConnectionExternalID  string    `bun:"connection_external_id,pk"`
	ProviderTransactionID string    `bun:"provider_transaction_id,pk"`
	AccountID             string    `bun:"account_id"`
	Name                  string    `bun:"name"`
	MerchantName          string    `bun:"merchant_name"`
	Amount                float64   `bun:"amount,notnull"`
	ISOCurrencyCode       string    `bun:"iso_currency_code"`
	Date                  time.Time `bun:"date,nullzero"`
	Pending               bool      `bun:"pending,notnull"`
	Category              []string  `bun:"category,type:jsonb"`
}

func newTransactionRecord(provider core.Provider, connectionExternalID string, txn core.Transaction) *transactionRecord {
	return &transactionRecord{
		Provider:              string(provider),
		ConnectionExternalID:  connectionExternalID,
		ProviderTransactionID: txn.ProviderTransactionID,
		AccountID:             txn.AccountID,
		Name:                  txn.Name,
		MerchantName:          txn.MerchantName,
		Amount:                txn.Amount,
		ISOCurrencyCode:       txn.ISOCurrencyCode,
		Date:                  txn.Date,
		Pending:               txn.Pending,
		Category:              txn.Category,
	}
}

func (r *transactionRecord) toDomain() core.Transaction {
	return core.Transaction{
		ProviderTransactionID: r.ProviderTransactionID,
		AccountID:             r.AccountID,
		Name:                  r.Name,
		MerchantName:          r.MerchantName,
		Amount:                r.Amount,
		ISOCurrencyCode:       r.ISOCurrencyCode,
		Date:                  r.Date,
		Pending:               r.Pending,
		Category:              r.Category,
	}
}

type webhookEventRecord struct {
	bun.BaseModel `bun:"table:bank_webhook_events,alias:bwe"`

	ID                string    `bun:"id,pk"`
	Provider          string    `bun:"provider,notnull"`
	EventID           string    `bun:"event_id"`
	EventType         string    `bun:"event_type"`
	Payload           string    `bun:"payload"`
	ReceivedAt        time.Time `bun:"received_at,nullzero,notnull"`
	VerificationState string    `bun:"verification_state,notnull"`
	Reason            string    `bun:"reason"`
}

func newWebhookEventRecord(record core.WebhookRecord) *webhookEventRecord {
	return &webhookEventRecord{
		ID:                record.ID,
		Provider:          string(record.Provider),
		EventID:           record.EventID,
		EventType:         record.EventType,
		Payload:           record.Payload,
		ReceivedAt:        record.ReceivedAt,
		VerificationState: string(record.VerificationState),
		Reason:            record.Reason,
	}
}

func (r *webhookEventRecord) toDomain() core.WebhookRecord {
	return core.WebhookRecord{
		ID:                r.ID,
		Provider:          core.Provider(r.Provider),
		EventID:           r.EventID,
		EventType:         r.EventType,
		Payload:           r.Payload,
		ReceivedAt:        r.ReceivedAt,
		VerificationState: core.VerificationState(r.VerificationState),
		Reason:            r.Reason,
	}
}

type vaultEntryRecord struct {
	bun.BaseModel `bun:"table:bank_vault_records,alias:bvr"`

	Provider               string    `bun:"provider,pk"`
	ConnectionExternalID   string    `bun:"connection_external_id,pk"`
	AccessTokenCiphertext  []byte    `bun:"access_token_ciphertext,notnull"`
	RefreshTokenCiphertext []byte    `bun:"refresh_token_ciphertext"`
	CreatedAt              time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt              time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type auditEntryRecord struct {
	bun.BaseModel `bun:"table:bank_audit_entries,alias:bae"`

	ID                   string         `bun:"id,pk"`
	Timestamp            time.Time      `bun:"timestamp,nullzero,notnull"`
	Level                string         `bun:"level,notnull"`
	Action               string         `bun:"action,notnull"`
	Provider             string         `bun:"provider"`
	ConnectionExternalID string         `bun:"connection_external_id"`
	Message              string         `bun:"message"`
	Metadata             map[string]any `bun:"metadata,type:jsonb"`
}
