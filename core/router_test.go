package core

import (
	"context"
	"strings"
	"testing"
)

type testClient struct {
	id Provider
}

func (c testClient) ID() Provider { return c.id }

func (testClient) CreateLinkToken(context.Context, CreateLinkTokenRequest) (CreateLinkTokenResponse, error) {
	return CreateLinkTokenResponse{}, nil
}

func (testClient) ExchangePublicToken(context.Context, ExchangePublicTokenRequest) (ExchangeResult, error) {
	return ExchangeResult{}, nil
}

func (testClient) SyncTransactions(context.Context, SyncTransactionsRequest) (TransactionDelta, error) {
	return TransactionDelta{}, nil
}

func (testClient) Disconnect(context.Context, DisconnectRequest) error { return nil }

func TestProviderRouter_ProvidersDeterministicOrder(t *testing.T) {
	router := NewProviderRouter()
	for _, client := range []ProviderClient{
		testClient{id: ProviderTeller},
		testClient{id: ProviderPlaid},
		testClient{id: ProviderMX},
	} {
		if err := router.Register(client); err != nil {
			t.Fatalf("register client: %v", err)
		}
	}

	got := router.Providers()
	want := []Provider{ProviderMX, ProviderPlaid, ProviderTeller}
	if len(got) != len(want) {
		t.Fatalf("expected %d providers, got %d", len(want), len(got))
	}
	for idx := range want {
		if got[idx] != want[idx] {
			t.Fatalf("unexpected ordering at index %d: got %v want %v", idx, got, want)
		}
	}
}

func TestProviderRouter_DuplicateIDRejected(t *testing.T) {
	router := NewProviderRouter()
	if err := router.Register(testClient{id: ProviderPlaid}); err != nil {
		t.Fatalf("register client: %v", err)
	}
	if err := router.Register(testClient{id: ProviderPlaid}); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestProviderRouter_RequireNamesMissingProvider(t *testing.T) {
	router := NewProviderRouter()
	if err := router.Register(testClient{id: ProviderPlaid}); err != nil {
		t.Fatalf("register client: %v", err)
	}

	if _, err := router.Require(ProviderPlaid); err != nil {
		t.Fatalf("require registered provider: %v", err)
	}

	_, err := router.Require(ProviderMX)
	if err == nil {
		t.Fatalf("expected require to fail for unregistered provider")
	}
	if !strings.Contains(err.Error(), `"mx"`) {
		t.Fatalf("expected error to name the missing provider, got %q", err.Error())
	}
}

func TestProviderRouter_GetEmptyID(t *testing.T) {
	router := NewProviderRouter()
	if _, ok := router.Get(""); ok {
		t.Fatalf("expected lookup with empty id to miss")
	}
}
