package plaid

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/goliatone/go-banksync/core"
)

type stubVault struct {
	pairs   map[string]core.TokenPair
	deleted []string
}

func newStubVault() *stubVault {
	return &stubVault{pairs: map[string]core.TokenPair{}}
}

func (v *stubVault) SetTokens(_ context.Context, in core.SetTokensInput) error {
	v.pairs[in.ConnectionExternalID] = core.TokenPair{
		AccessToken:  in.AccessToken,
		RefreshToken: in.RefreshToken,
	}
	return nil
}

func (v *stubVault) GetTokens(_ context.Context, _ core.Provider, id string) (*core.TokenPair, error) {
	pair, ok := v.pairs[id]
	if !ok {
		return nil, nil
	}
	return &pair, nil
}

func (v *stubVault) DeleteTokens(_ context.Context, _ core.Provider, id string) error {
	delete(v.pairs, id)
	v.deleted = append(v.deleted, id)
	return nil
}

type scriptedResponse struct {
	status int
	body   string
}

type scriptedHTTP struct {
	t         *testing.T
	responses []scriptedResponse
	requests  []core.TransportRequest
}

func (c *scriptedHTTP) Send(_ context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	c.requests = append(c.requests, req)
	if len(c.responses) == 0 {
		c.t.Fatalf("unexpected extra request to %s", req.URL)
	}
	next := c.responses[0]
	c.responses = c.responses[1:]
	return core.TransportResponse{StatusCode: next.status, Body: []byte(next.body)}, nil
}

func (c *scriptedHTTP) requestCursor(t *testing.T, index int) string {
	t.Helper()
	if index >= len(c.requests) {
		t.Fatalf("request %d never happened (%d total)", index, len(c.requests))
	}
	var payload syncRequest
	if err := json.Unmarshal(c.requests[index].Body, &payload); err != nil {
		t.Fatalf("decode request %d: %v", index, err)
	}
	return payload.Cursor
}

type recordingLogger struct {
	warns []string
}

func (l *recordingLogger) Trace(string, ...any) {}
func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Info(string, ...any)  {}
func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.warns = append(l.warns, msg)
}
func (l *recordingLogger) Error(string, ...any)                    {}
func (l *recordingLogger) Fatal(string, ...any)                    {}
func (l *recordingLogger) WithFields(map[string]any) core.Logger   { return l }
func (l *recordingLogger) WithContext(context.Context) core.Logger { return l }

func newTestClient(t *testing.T, httpClient core.HTTPClient, tokenVault core.TokenVault) *Client {
	t.Helper()
	client, err := New(Config{ClientID: "client-id", Secret: "secret"}, httpClient, tokenVault)
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	return client
}

func syncPage(added int, cursor string, hasMore bool) string {
	page := syncResponse{NextCursor: cursor, HasMore: hasMore}
	for i := 0; i < added; i++ {
		page.Added = append(page.Added, syncTransaction{
			TransactionID: fmt.Sprintf("txn-%s-%d", cursor, i),
			AccountID:     "acct-1",
			Name:          "COFFEE SHOP",
			Amount:        4.5,
			Date:          "2025-06-01",
		})
	}
	encoded, _ := json.Marshal(page)
	return string(encoded)
}

const mutationErrorBody = `{
	"error_type": "TRANSACTIONS_ERROR",
	"error_code": "TRANSACTIONS_SYNC_MUTATION_DURING_PAGINATION",
	"error_message": "Underlying item mutated during pagination.",
	"request_id": "req-mutation"
}`

func TestExchangePublicToken_StoresCredentialInVault(t *testing.T) {
	httpClient := &scriptedHTTP{t: t, responses: []scriptedResponse{
		{status: http.StatusOK, body: `{"access_token":"access-123","item_id":"item-9"}`},
	}}
	tokenVault := newStubVault()
	client := newTestClient(t, httpClient, tokenVault)

	result, err := client.ExchangePublicToken(context.Background(), core.ExchangePublicTokenRequest{
		PublicToken:     "public-abc",
		InstitutionName: "First Example Bank",
	})
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if result.ConnectionExternalID != "item-9" {
		t.Fatalf("unexpected external id %q", result.ConnectionExternalID)
	}
	pair, _ := tokenVault.GetTokens(context.Background(), ProviderID, "item-9")
	if pair == nil || pair.AccessToken != "access-123" {
		t.Fatalf("credential not stored: %+v", pair)
	}
}

func TestSyncTransactions_PaginatesToCompletion(t *testing.T) {
	httpClient := &scriptedHTTP{t: t, responses: []scriptedResponse{
		{status: http.StatusOK, body: syncPage(2, "cursor-1", true)},
		{status: http.StatusOK, body: syncPage(1, "cursor-2", true)},
		{status: http.StatusOK, body: `{"added":[],"modified":[{"transaction_id":"txn-m"}],"removed":[{"transaction_id":"txn-r"}],"next_cursor":"cursor-3","has_more":false}`},
	}}
	tokenVault := newStubVault()
	_ = tokenVault.SetTokens(context.Background(), core.SetTokensInput{
		Provider: ProviderID, ConnectionExternalID: "item-9", AccessToken: "access-123",
	})
	client := newTestClient(t, httpClient, tokenVault)

	delta, err := client.SyncTransactions(context.Background(), core.SyncTransactionsRequest{
		ConnectionExternalID: "item-9",
		Cursor:               "cursor-0",
	})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(delta.Added) != 3 || len(delta.Modified) != 1 || len(delta.RemovedProviderTransactionIDs) != 1 {
		t.Fatalf("unexpected delta counts: %+v", delta)
	}
	if delta.NextCursor != "cursor-3" || delta.HasMore {
		t.Fatalf("unexpected terminal cursor state: %+v", delta)
	}

	wantCursors := []string{"cursor-0", "cursor-1", "cursor-2"}
	for idx, want := range wantCursors {
		if got := httpClient.requestCursor(t, idx); got != want {
			t.Fatalf("request %d used cursor %q, want %q", idx, got, want)
		}
	}
}

func TestSyncTransactions_UnparsableDateLogsWarning(t *testing.T) {
	httpClient := &scriptedHTTP{t: t, responses: []scriptedResponse{
		{status: http.StatusOK, body: `{"added":[{"transaction_id":"txn-bad-date","account_id":"acct-1","name":"COFFEE SHOP","amount":4.5,"date":"06/01/2025"}],"next_cursor":"cursor-1","has_more":false}`},
	}}
	tokenVault := newStubVault()
	_ = tokenVault.SetTokens(context.Background(), core.SetTokensInput{
		Provider: ProviderID, ConnectionExternalID: "item-9", AccessToken: "access-123",
	})
	logger := &recordingLogger{}
	client, err := New(Config{ClientID: "client-id", Secret: "secret"}, httpClient, tokenVault, WithLogger(logger))
	if err != nil {
		t.Fatalf("create client: %v", err)
	}

	delta, err := client.SyncTransactions(context.Background(), core.SyncTransactionsRequest{
		ConnectionExternalID: "item-9",
	})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(delta.Added) != 1 || !delta.Added[0].Date.IsZero() {
		t.Fatalf("expected zero-time date for unparsable value, got %+v", delta.Added)
	}
	if len(logger.warns) != 1 {
		t.Fatalf("expected one warning for unparsable date, got %v", logger.warns)
	}
}

func TestSyncTransactions_MutationRestartsFromOriginalCursor(t *testing.T) {
	httpClient := &scriptedHTTP{t: t, responses: []scriptedResponse{
		{status: http.StatusOK, body: syncPage(2, "cursor-1", true)},
		{status: http.StatusBadRequest, body: mutationErrorBody},
		{status: http.StatusOK, body: syncPage(1, "cursor-1b", true)},
		{status: http.StatusOK, body: syncPage(1, "cursor-2b", false)},
	}}
	tokenVault := newStubVault()
	_ = tokenVault.SetTokens(context.Background(), core.SetTokensInput{
		Provider: ProviderID, ConnectionExternalID: "item-9", AccessToken: "access-123",
	})
	client := newTestClient(t, httpClient, tokenVault)

	delta, err := client.SyncTransactions(context.Background(), core.SyncTransactionsRequest{
		ConnectionExternalID: "item-9",
		Cursor:               "cursor-0",
	})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}

	// The restart must go back to cursor-0, not resume from cursor-1,
	// and the partial first run must not leak into the delta.
	wantCursors := []string{"cursor-0", "cursor-1", "cursor-0", "cursor-1b"}
	for idx, want := range wantCursors {
		if got := httpClient.requestCursor(t, idx); got != want {
			t.Fatalf("request %d used cursor %q, want %q", idx, got, want)
		}
	}
	if len(delta.Added) != 2 {
		t.Fatalf("expected only the clean run's transactions, got %d", len(delta.Added))
	}
	if delta.NextCursor != "cursor-2b" {
		t.Fatalf("unexpected final cursor %q", delta.NextCursor)
	}
}

func TestSyncTransactions_MutationRetryBoundPropagates(t *testing.T) {
	httpClient := &scriptedHTTP{t: t, responses: []scriptedResponse{
		{status: http.StatusBadRequest, body: mutationErrorBody},
		{status: http.StatusBadRequest, body: mutationErrorBody},
		{status: http.StatusBadRequest, body: mutationErrorBody},
	}}
	tokenVault := newStubVault()
	_ = tokenVault.SetTokens(context.Background(), core.SetTokensInput{
		Provider: ProviderID, ConnectionExternalID: "item-9", AccessToken: "access-123",
	})
	client := newTestClient(t, httpClient, tokenVault)

	_, err := client.SyncTransactions(context.Background(), core.SyncTransactionsRequest{
		ConnectionExternalID: "item-9",
	})
	if err == nil {
		t.Fatalf("expected bounded retries to propagate the error")
	}
	if ErrorCode(err) != ErrMutationDuringPagination {
		t.Fatalf("expected mutation error code, got %q", ErrorCode(err))
	}
	if len(httpClient.requests) != 3 {
		t.Fatalf("expected exactly 3 attempts (original + 2 restarts), got %d", len(httpClient.requests))
	}
}

func TestSyncTransactions_MissingCredentialFails(t *testing.T) {
	httpClient := &scriptedHTTP{t: t}
	client := newTestClient(t, httpClient, newStubVault())

	_, err := client.SyncTransactions(context.Background(), core.SyncTransactionsRequest{
		ConnectionExternalID: "item-unknown",
	})
	if err == nil {
		t.Fatalf("expected missing credential to fail")
	}
	if len(httpClient.requests) != 0 {
		t.Fatalf("expected no network traffic without a credential")
	}
}

func TestDisconnect_RevokesThenDeletesVaultEntry(t *testing.T) {
	httpClient := &scriptedHTTP{t: t, responses: []scriptedResponse{
		{status: http.StatusOK, body: `{"removed":true}`},
	}}
	tokenVault := newStubVault()
	_ = tokenVault.SetTokens(context.Background(), core.SetTokensInput{
		Provider: ProviderID, ConnectionExternalID: "item-9", AccessToken: "access-123",
	})
	client := newTestClient(t, httpClient, tokenVault)

	if err := client.Disconnect(context.Background(), core.DisconnectRequest{ConnectionExternalID: "item-9"}); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if len(tokenVault.deleted) != 1 || tokenVault.deleted[0] != "item-9" {
		t.Fatalf("expected vault entry deletion, got %v", tokenVault.deleted)
	}
}

func TestDisconnect_NoStoredCredentialIsNoop(t *testing.T) {
	httpClient := &scriptedHTTP{t: t}
	client := newTestClient(t, httpClient, newStubVault())

	if err := client.Disconnect(context.Background(), core.DisconnectRequest{ConnectionExternalID: "item-9"}); err != nil {
		t.Fatalf("expected no-op success, got %v", err)
	}
	if len(httpClient.requests) != 0 {
		t.Fatalf("expected no revoke call without a credential")
	}
}

func TestDisconnect_ProviderFailureKeepsVaultEntry(t *testing.T) {
	httpClient := &scriptedHTTP{t: t, responses: []scriptedResponse{
		{status: http.StatusInternalServerError, body: `{"error_type":"API_ERROR","error_code":"INTERNAL_SERVER_ERROR","error_message":"try again"}`},
	}}
	tokenVault := newStubVault()
	_ = tokenVault.SetTokens(context.Background(), core.SetTokensInput{
		Provider: ProviderID, ConnectionExternalID: "item-9", AccessToken: "access-123",
	})
	client := newTestClient(t, httpClient, tokenVault)

	if err := client.Disconnect(context.Background(), core.DisconnectRequest{ConnectionExternalID: "item-9"}); err == nil {
		t.Fatalf("expected provider failure to propagate")
	}
	if len(tokenVault.deleted) != 0 {
		t.Fatalf("vault entry must survive a failed revoke")
	}
	if pair, _ := tokenVault.GetTokens(context.Background(), ProviderID, "item-9"); pair == nil {
		t.Fatalf("credential should remain for retry")
	}
}

func TestCreateLinkToken_RequiresUserID(t *testing.T) {
	client := newTestClient(t, &scriptedHTTP{t: t}, newStubVault())
	if _, err := client.CreateLinkToken(context.Background(), core.CreateLinkTokenRequest{}); err == nil {
		t.Fatalf("expected missing user id to fail")
	}
}
