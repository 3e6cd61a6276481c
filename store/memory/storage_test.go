package memory

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-banksync/core"
)

func day(dayOfMonth int) time.Time {
	return time.Date(2025, time.June, dayOfMonth, 0, 0, 0, 0, time.UTC)
}

func TestConnectionStore_GetMissingReturnsNil(t *testing.T) {
	storage := NewStorage()
	conn, err := storage.Connections().Get(context.Background(), core.ProviderPlaid, "item-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if conn != nil {
		t.Fatalf("expected nil for missing connection, got %+v", conn)
	}
}

func TestConnectionStore_UpsertRoundTrip(t *testing.T) {
	storage := NewStorage()
	ctx := context.Background()

	saved, err := storage.Connections().Upsert(ctx, core.Connection{
		Provider:             core.ProviderPlaid,
		ConnectionExternalID: "item-1",
		Status:               core.ConnectionStatusActive,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	loaded, err := storage.Connections().Get(ctx, core.ProviderPlaid, "item-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded == nil || loaded.Status != saved.Status {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
}

func TestTransactionStore_ApplyDeltaUpsertsAndRemoves(t *testing.T) {
	storage := NewStorage()
	ctx := context.Background()

	err := storage.Transactions().ApplyDelta(ctx, core.ProviderPlaid, "item-1", core.TransactionDelta{
		Added: []core.Transaction{
			{ProviderTransactionID: "txn-1", Name: "COFFEE", Amount: 4.5, Date: day(2)},
			{ProviderTransactionID: "txn-2", Name: "GROCERIES", Amount: 61.2, Date: day(1)},
		},
	})
	if err != nil {
		t.Fatalf("first delta: %v", err)
	}

	err = storage.Transactions().ApplyDelta(ctx, core.ProviderPlaid, "item-1", core.TransactionDelta{
		Modified:                      []core.Transaction{{ProviderTransactionID: "txn-1", Name: "COFFEE SHOP", Amount: 4.5, Date: day(2)}},
		RemovedProviderTransactionIDs: []string{"txn-2"},
	})
	if err != nil {
		t.Fatalf("second delta: %v", err)
	}

	rows, err := storage.Transactions().ListByConnection(ctx, core.ProviderPlaid, "item-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || rows[0].ProviderTransactionID != "txn-1" || rows[0].Name != "COFFEE SHOP" {
		t.Fatalf("unexpected rows after delta: %+v", rows)
	}
}

func TestTransactionStore_ListOrdersByDate(t *testing.T) {
	storage := NewStorage()
	ctx := context.Background()

	err := storage.Transactions().ApplyDelta(ctx, core.ProviderPlaid, "item-1", core.TransactionDelta{
		Added: []core.Transaction{
			{ProviderTransactionID: "txn-b", Date: day(9)},
			{ProviderTransactionID: "txn-a", Date: day(3)},
			{ProviderTransactionID: "txn-c", Date: day(9)},
		},
	})
	if err != nil {
		t.Fatalf("delta: %v", err)
	}
	rows, err := storage.Transactions().ListByConnection(ctx, core.ProviderPlaid, "item-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := []string{rows[0].ProviderTransactionID, rows[1].ProviderTransactionID, rows[2].ProviderTransactionID}
	want := []string{"txn-a", "txn-b", "txn-c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order mismatch: got %v want %v", got, want)
		}
	}
}

func TestWebhookStore_RecordsPreserveArrivalOrder(t *testing.T) {
	storage := NewStorage()
	ctx := context.Background()

	for _, id := range []string{"wh-1", "wh-2", "wh-3"} {
		if _, err := storage.Webhooks().Record(ctx, core.WebhookRecord{ID: id, Provider: core.ProviderPlaid}); err != nil {
			t.Fatalf("record %s: %v", id, err)
		}
	}
	records := storage.WebhookRecords()
	if len(records) != 3 || records[0].ID != "wh-1" || records[2].ID != "wh-3" {
		t.Fatalf("unexpected webhook trail: %+v", records)
	}
}
