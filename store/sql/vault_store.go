package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/uptrace/bun"

	"github.com/goliatone/go-banksync/core"
	"github.com/goliatone/go-banksync/vault"
)

// VaultRecordStore persists ciphertext envelopes. Plaintext tokens
// never reach this package; encryption happens in the vault layer.
type VaultRecordStore struct {
	db *bun.DB
}

func NewVaultRecordStore(db *bun.DB) (*VaultRecordStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &VaultRecordStore{db: db}, nil
}

func (s *VaultRecordStore) Get(
	ctx context.Context,
	provider core.Provider,
	connectionExternalID string,
) (*vault.Record, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: vault record store is not configured")
	}
	row := &vaultEntryRecord{}
	err := s.db.NewSelect().
		Model(row).
		Where("?TableAlias.provider = ?", string(provider)).
		Where("?TableAlias.connection_external_id = ?", strings.TrimSpace(connectionExternalID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlstore: get vault record: %w", err)
	}
	return &vault.Record{
		Provider:               core.Provider(row.Provider),
		ConnectionExternalID:   row.ConnectionExternalID,
		AccessTokenCiphertext:  row.AccessTokenCiphertext,
		RefreshTokenCiphertext: row.RefreshTokenCiphertext,
		CreatedAt:              row.CreatedAt,
		UpdatedAt:              row.UpdatedAt,
	}, nil
}

func (s *VaultRecordStore) Put(ctx context.Context, record vault.Record) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: vault record store is not configured")
	}
	row := &vaultEntryRecord{
		Provider:               string(record.Provider),
		ConnectionExternalID:   record.ConnectionExternalID,
		AccessTokenCiphertext:  record.AccessTokenCiphertext,
		RefreshTokenCiphertext: record.RefreshTokenCiphertext,
		CreatedAt:              record.CreatedAt,
		UpdatedAt:              record.UpdatedAt,
	}
	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (provider, connection_external_id) DO UPDATE").
		Set("access_token_ciphertext = EXCLUDED.access_token_ciphertext").
		Set("refresh_token_ciphertext = EXCLUDED.refresh_token_ciphertext").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("sqlstore: put vault record: %w", err)
	}
	return nil
}

func (s *VaultRecordStore) Delete(
	ctx context.Context,
	provider core.Provider,
	connectionExternalID string,
) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: vault record store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*vaultEntryRecord)(nil)).
		Where("provider = ?", string(provider)).
		Where("connection_external_id = ?", strings.TrimSpace(connectionExternalID)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("sqlstore: delete vault record: %w", err)
	}
	return nil
}

var _ vault.RecordStore = (*VaultRecordStore)(nil)
