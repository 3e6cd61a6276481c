package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/goliatone/go-banksync/core"
)

// MemoryRecordStore keeps vault records in process memory. Suitable
// for tests and the insecure_dev runtime assembly.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[string]Record)}
}

func (s *MemoryRecordStore) Get(
	_ context.Context,
	provider core.Provider,
	connectionExternalID string,
) (*Record, error) {
	if s == nil {
		return nil, fmt.Errorf("vault: record store is nil")
	}
	s.mu.RLock()
	record, ok := s.records[recordKey(provider, connectionExternalID)]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	copied := record
	copied.AccessTokenCiphertext = append([]byte(nil), record.AccessTokenCiphertext...)
	copied.RefreshTokenCiphertext = append([]byte(nil), record.RefreshTokenCiphertext...)
	return &copied, nil
}

func (s *MemoryRecordStore) Put(_ context.Context, record Record) error {
	if s == nil {
		return fmt.Errorf("vault: record store is nil")
	}
	if err := validateKey(record.Provider, record.ConnectionExternalID); err != nil {
		return err
	}
	stored := record
	stored.AccessTokenCiphertext = append([]byte(nil), record.AccessTokenCiphertext...)
	stored.RefreshTokenCiphertext = append([]byte(nil), record.RefreshTokenCiphertext...)
	s.mu.Lock()
	s.records[recordKey(record.Provider, record.ConnectionExternalID)] = stored
	s.mu.Unlock()
	return nil
}

func (s *MemoryRecordStore) Delete(
	_ context.Context,
	provider core.Provider,
	connectionExternalID string,
) error {
	if s == nil {
		return fmt.Errorf("vault: record store is nil")
	}
	s.mu.Lock()
	delete(s.records, recordKey(provider, connectionExternalID))
	s.mu.Unlock()
	return nil
}

func recordKey(provider core.Provider, connectionExternalID string) string {
	return string(provider) + "/" + connectionExternalID
}

var _ RecordStore = (*MemoryRecordStore)(nil)
