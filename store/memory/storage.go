package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-banksync/core"
)

// Storage is a process-local core.Storage implementation. It backs
// tests and the insecure_dev runtime; nothing survives a restart.
type Storage struct {
	connections  *connectionStore
	cursors      *cursorStore
	transactions *transactionStore
	webhooks     *webhookStore
}

func NewStorage() *Storage {
	return &Storage{
		connections:  &connectionStore{items: map[string]core.Connection{}},
		cursors:      &cursorStore{items: map[string]core.SyncCursorState{}},
		transactions: &transactionStore{items: map[string]map[string]core.Transaction{}},
		webhooks:     &webhookStore{},
	}
}

func (s *Storage) Connections() core.ConnectionStore   { return s.connections }
func (s *Storage) Cursors() core.SyncCursorStore       { return s.cursors }
func (s *Storage) Transactions() core.TransactionStore { return s.transactions }
func (s *Storage) Webhooks() core.WebhookStore         { return s.webhooks }

// WebhookRecords returns the persisted webhook trail in arrival order.
func (s *Storage) WebhookRecords() []core.WebhookRecord {
	return s.webhooks.records()
}

func storageKey(provider core.Provider, connectionExternalID string) string {
	return string(provider) + "/" + strings.TrimSpace(connectionExternalID)
}

type connectionStore struct {
	mu    sync.RWMutex
	items map[string]core.Connection
}

func (s *connectionStore) Upsert(_ context.Context, conn core.Connection) (core.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[storageKey(conn.Provider, conn.ConnectionExternalID)] = conn
	return conn, nil
}

func (s *connectionStore) Get(_ context.Context, provider core.Provider, connectionExternalID string) (*core.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.items[storageKey(provider, connectionExternalID)]
	if !ok {
		return nil, nil
	}
	return &conn, nil
}

type cursorStore struct {
	mu    sync.RWMutex
	items map[string]core.SyncCursorState
}

func (s *cursorStore) Get(_ context.Context, provider core.Provider, connectionExternalID string) (*core.SyncCursorState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.items[storageKey(provider, connectionExternalID)]
	if !ok {
		return nil, nil
	}
	return &state, nil
}

func (s *cursorStore) Upsert(_ context.Context, state core.SyncCursorState) (core.SyncCursorState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[storageKey(state.Provider, state.ConnectionExternalID)] = state
	return state, nil
}

type transactionStore struct {
	mu    sync.RWMutex
	items map[string]map[string]core.Transaction
}

// ApplyDelta upserts added and modified rows and drops removed ids in
// one critical section, mirroring the transactional contract the SQL
// adapter provides.
func (s *transactionStore) ApplyDelta(
	_ context.Context,
	provider core.Provider,
	connectionExternalID string,
	delta core.TransactionDelta,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storageKey(provider, connectionExternalID)
	rows, ok := s.items[key]
	if !ok {
		rows = map[string]core.Transaction{}
		s.items[key] = rows
	}
	for _, txn := range delta.Added {
		rows[txn.ProviderTransactionID] = txn
	}
	for _, txn := range delta.Modified {
		rows[txn.ProviderTransactionID] = txn
	}
	for _, id := range delta.RemovedProviderTransactionIDs {
		delete(rows, id)
	}
	return nil
}

func (s *transactionStore) ListByConnection(
	_ context.Context,
	provider core.Provider,
	connectionExternalID string,
) ([]core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.items[storageKey(provider, connectionExternalID)]
	out := make([]core.Transaction, 0, len(rows))
	for _, txn := range rows {
		out = append(out, txn)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ProviderTransactionID < out[j].ProviderTransactionID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

type webhookStore struct {
	mu      sync.RWMutex
	entries []core.WebhookRecord
}

func (s *webhookStore) Record(_ context.Context, record core.WebhookRecord) (core.WebhookRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, record)
	return record, nil
}

func (s *webhookStore) records() []core.WebhookRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.WebhookRecord, len(s.entries))
	copy(out, s.entries)
	return out
}

var _ core.Storage = (*Storage)(nil)
