package connector

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/goliatone/go-banksync/audit"
	"github.com/goliatone/go-banksync/core"
	"github.com/goliatone/go-banksync/store/memory"
	"github.com/goliatone/go-banksync/webhooks"
)

type fakeClient struct {
	id core.Provider

	linkResponse core.CreateLinkTokenResponse
	linkErr      error

	exchangeResult core.ExchangeResult
	exchangeErr    error

	syncDelta   core.TransactionDelta
	syncErr     error
	syncCursors []string

	disconnectErr   error
	disconnectCalls int
}

func (c *fakeClient) ID() core.Provider { return c.id }

func (c *fakeClient) CreateLinkToken(_ context.Context, _ core.CreateLinkTokenRequest) (core.CreateLinkTokenResponse, error) {
	return c.linkResponse, c.linkErr
}

func (c *fakeClient) ExchangePublicToken(_ context.Context, _ core.ExchangePublicTokenRequest) (core.ExchangeResult, error) {
	return c.exchangeResult, c.exchangeErr
}

func (c *fakeClient) SyncTransactions(_ context.Context, req core.SyncTransactionsRequest) (core.TransactionDelta, error) {
	c.syncCursors = append(c.syncCursors, req.Cursor)
	return c.syncDelta, c.syncErr
}

func (c *fakeClient) Disconnect(_ context.Context, _ core.DisconnectRequest) error {
	c.disconnectCalls++
	return c.disconnectErr
}

type harness struct {
	service *Service
	client  *fakeClient
	storage *memory.Storage
	sink    *audit.MemorySink
	now     time.Time
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		client:  &fakeClient{id: core.ProviderPlaid},
		storage: memory.NewStorage(),
		sink:    audit.NewMemorySink(),
		now:     time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC),
	}
	router := core.NewProviderRouter()
	if err := router.Register(h.client); err != nil {
		t.Fatalf("register client: %v", err)
	}
	auditLogger, err := audit.NewLogger(h.sink,
		audit.WithClock(func() time.Time { return h.now }))
	if err != nil {
		t.Fatalf("audit logger: %v", err)
	}
	sequence := 0
	base := []Option{
		WithRouter(router),
		WithStorage(h.storage),
		WithAuditLogger(auditLogger),
		WithClock(func() time.Time { return h.now }),
		WithIDGenerator(func() string {
			sequence++
			return fmt.Sprintf("record-%03d", sequence)
		}),
	}
	service, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	h.service = service
	return h
}

func (h *harness) lastAudit(t *testing.T) core.AuditEntry {
	t.Helper()
	entries := h.sink.Entries()
	if len(entries) == 0 {
		t.Fatalf("expected audit entries")
	}
	return entries[len(entries)-1]
}

func (h *harness) connect(t *testing.T, externalID string) core.Connection {
	t.Helper()
	h.client.exchangeResult = core.ExchangeResult{
		ConnectionExternalID: externalID,
		InstitutionName:      "First Example Bank",
	}
	conn, err := h.service.ConnectWithPublicToken(context.Background(), core.ProviderPlaid,
		core.ExchangePublicTokenRequest{PublicToken: "public-abc"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	return conn
}

func TestCreateLinkToken_AuditsSuccess(t *testing.T) {
	h := newHarness(t)
	h.client.linkResponse = core.CreateLinkTokenResponse{LinkToken: "link-abc"}

	response, err := h.service.CreateLinkToken(context.Background(), core.ProviderPlaid,
		core.CreateLinkTokenRequest{UserID: "user-1"})
	if err != nil {
		t.Fatalf("create link token: %v", err)
	}
	if response.LinkToken != "link-abc" {
		t.Fatalf("unexpected link token %q", response.LinkToken)
	}
	entry := h.lastAudit(t)
	if entry.Action != core.AuditActionLinkTokenCreated || entry.Level != core.AuditLevelInfo {
		t.Fatalf("unexpected audit entry: %+v", entry)
	}
}

func TestCreateLinkToken_FailureAuditsAndPropagates(t *testing.T) {
	h := newHarness(t)
	h.client.linkErr = fmt.Errorf("plaid: upstream unavailable")

	_, err := h.service.CreateLinkToken(context.Background(), core.ProviderPlaid,
		core.CreateLinkTokenRequest{UserID: "user-1"})
	if err == nil {
		t.Fatalf("expected provider error")
	}
	entry := h.lastAudit(t)
	if entry.Action != core.AuditActionLinkTokenFailed || entry.Level != core.AuditLevelError {
		t.Fatalf("unexpected audit entry: %+v", entry)
	}
}

func TestCreateLinkToken_UnregisteredProviderFails(t *testing.T) {
	h := newHarness(t)
	_, err := h.service.CreateLinkToken(context.Background(), core.ProviderMX,
		core.CreateLinkTokenRequest{UserID: "user-1"})
	if err == nil {
		t.Fatalf("expected unregistered provider to fail")
	}
	if len(h.sink.Entries()) != 0 {
		t.Fatalf("routing failures are not provider lifecycle events")
	}
}

func TestConnectWithPublicToken_CreatesActiveConnectionAndFreshCursor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	conn := h.connect(t, "item-1")
	if conn.Status != core.ConnectionStatusActive {
		t.Fatalf("expected active connection, got %s", conn.Status)
	}
	if conn.InstitutionName != "First Example Bank" {
		t.Fatalf("unexpected institution %q", conn.InstitutionName)
	}

	cursor, err := h.storage.Cursors().Get(ctx, core.ProviderPlaid, "item-1")
	if err != nil || cursor == nil {
		t.Fatalf("expected fresh cursor, got %+v (%v)", cursor, err)
	}
	if cursor.Cursor != "" || cursor.Status != core.SyncStatusIdle {
		t.Fatalf("fresh cursor should be empty and idle: %+v", cursor)
	}
	entry := h.lastAudit(t)
	if entry.Action != core.AuditActionExchangeComplete {
		t.Fatalf("unexpected audit action %s", entry.Action)
	}
}

func TestConnectWithPublicToken_FailureLeavesStorageUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.client.exchangeErr = fmt.Errorf("plaid: INVALID_PUBLIC_TOKEN")

	_, err := h.service.ConnectWithPublicToken(ctx, core.ProviderPlaid,
		core.ExchangePublicTokenRequest{PublicToken: "public-bad"})
	if err == nil {
		t.Fatalf("expected exchange failure")
	}
	conn, _ := h.storage.Connections().Get(ctx, core.ProviderPlaid, "item-1")
	if conn != nil {
		t.Fatalf("no connection should exist after a failed exchange")
	}
	entry := h.lastAudit(t)
	if entry.Action != core.AuditActionExchangeFailed || entry.Level != core.AuditLevelError {
		t.Fatalf("unexpected audit entry: %+v", entry)
	}
}

func TestSyncConnection_AdvancesCursorAfterDeltaApplied(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.connect(t, "item-1")

	h.client.syncDelta = core.TransactionDelta{
		Added: []core.Transaction{
			{ProviderTransactionID: "txn-1", Amount: 9.99, Date: h.now},
		},
		NextCursor: "cursor-1",
	}
	outcome, err := h.service.SyncConnection(ctx, SyncInput{
		Provider:             core.ProviderPlaid,
		ConnectionExternalID: "item-1",
	})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if outcome.Cursor.Cursor != "cursor-1" || outcome.Cursor.Status != core.SyncStatusIdle {
		t.Fatalf("cursor did not advance cleanly: %+v", outcome.Cursor)
	}
	if outcome.Cursor.LastSyncedAt == nil || outcome.Cursor.LastAttemptedAt == nil {
		t.Fatalf("timestamps not recorded: %+v", outcome.Cursor)
	}

	rows, err := h.storage.Transactions().ListByConnection(ctx, core.ProviderPlaid, "item-1")
	if err != nil || len(rows) != 1 {
		t.Fatalf("delta not applied: %v %v", rows, err)
	}
	conn, _ := h.storage.Connections().Get(ctx, core.ProviderPlaid, "item-1")
	if conn.Status != core.ConnectionStatusActive || conn.LastSyncedAt == nil {
		t.Fatalf("connection not marked synced: %+v", conn)
	}

	entry := h.lastAudit(t)
	if entry.Action != core.AuditActionSyncCompleted {
		t.Fatalf("unexpected audit action %s", entry.Action)
	}
	if entry.Metadata["added"] != 1 {
		t.Fatalf("audit metadata missing counts: %+v", entry.Metadata)
	}
}

func TestSyncConnection_ResumesFromStoredCursor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.connect(t, "item-1")

	h.client.syncDelta = core.TransactionDelta{NextCursor: "cursor-1"}
	if _, err := h.service.SyncConnection(ctx, SyncInput{
		Provider: core.ProviderPlaid, ConnectionExternalID: "item-1",
	}); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	h.client.syncDelta = core.TransactionDelta{NextCursor: "cursor-2"}
	if _, err := h.service.SyncConnection(ctx, SyncInput{
		Provider: core.ProviderPlaid, ConnectionExternalID: "item-1",
	}); err != nil {
		t.Fatalf("second sync: %v", err)
	}

	want := []string{"", "cursor-1"}
	if len(h.client.syncCursors) != len(want) {
		t.Fatalf("unexpected sync calls: %v", h.client.syncCursors)
	}
	for i := range want {
		if h.client.syncCursors[i] != want[i] {
			t.Fatalf("sync %d used cursor %q, want %q", i, h.client.syncCursors[i], want[i])
		}
	}
}

func TestSyncConnection_CursorOverrideWins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.connect(t, "item-1")

	override := "replay-cursor"
	h.client.syncDelta = core.TransactionDelta{NextCursor: "cursor-9"}
	if _, err := h.service.SyncConnection(ctx, SyncInput{
		Provider:             core.ProviderPlaid,
		ConnectionExternalID: "item-1",
		CursorOverride:       &override,
	}); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if h.client.syncCursors[0] != "replay-cursor" {
		t.Fatalf("override ignored, provider saw %q", h.client.syncCursors[0])
	}
}

func TestSyncConnection_FailureLeavesCursorValueUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.connect(t, "item-1")

	h.client.syncDelta = core.TransactionDelta{NextCursor: "cursor-1"}
	if _, err := h.service.SyncConnection(ctx, SyncInput{
		Provider: core.ProviderPlaid, ConnectionExternalID: "item-1",
	}); err != nil {
		t.Fatalf("seed sync: %v", err)
	}

	h.client.syncErr = fmt.Errorf("plaid: ITEM_LOGIN_REQUIRED")
	_, err := h.service.SyncConnection(ctx, SyncInput{
		Provider: core.ProviderPlaid, ConnectionExternalID: "item-1",
	})
	if err == nil {
		t.Fatalf("expected sync failure")
	}

	cursor, _ := h.storage.Cursors().Get(ctx, core.ProviderPlaid, "item-1")
	if cursor.Cursor != "cursor-1" {
		t.Fatalf("cursor value must survive a failed run, got %q", cursor.Cursor)
	}
	if cursor.Status != core.SyncStatusError || cursor.LastError == "" {
		t.Fatalf("failed run not recorded on cursor: %+v", cursor)
	}
	conn, _ := h.storage.Connections().Get(ctx, core.ProviderPlaid, "item-1")
	if conn.Status != core.ConnectionStatusError || conn.LastError == "" {
		t.Fatalf("failed run not recorded on connection: %+v", conn)
	}
	entry := h.lastAudit(t)
	if entry.Action != core.AuditActionSyncFailed || entry.Level != core.AuditLevelError {
		t.Fatalf("unexpected audit entry: %+v", entry)
	}
}

func TestSyncConnection_UnknownConnectionFailsBeforeProviderCall(t *testing.T) {
	h := newHarness(t)
	_, err := h.service.SyncConnection(context.Background(), SyncInput{
		Provider:             core.ProviderPlaid,
		ConnectionExternalID: "item-missing",
	})
	if err == nil {
		t.Fatalf("expected unknown connection to fail")
	}
	if len(h.client.syncCursors) != 0 {
		t.Fatalf("provider must not be called for an unknown connection")
	}
}

func TestDisconnectConnection_MarksDisconnectedAndResetsCursor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.connect(t, "item-1")
	h.client.syncDelta = core.TransactionDelta{NextCursor: "cursor-1"}
	if _, err := h.service.SyncConnection(ctx, SyncInput{
		Provider: core.ProviderPlaid, ConnectionExternalID: "item-1",
	}); err != nil {
		t.Fatalf("seed sync: %v", err)
	}

	if err := h.service.DisconnectConnection(ctx, core.ProviderPlaid, "item-1"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	conn, _ := h.storage.Connections().Get(ctx, core.ProviderPlaid, "item-1")
	if conn.Status != core.ConnectionStatusDisconnected {
		t.Fatalf("expected disconnected, got %s", conn.Status)
	}
	cursor, _ := h.storage.Cursors().Get(ctx, core.ProviderPlaid, "item-1")
	if cursor.Cursor != "" || cursor.Status != core.SyncStatusIdle {
		t.Fatalf("cursor not reset: %+v", cursor)
	}
	entry := h.lastAudit(t)
	if entry.Action != core.AuditActionDisconnected {
		t.Fatalf("unexpected audit action %s", entry.Action)
	}
}

func TestDisconnectConnection_ProviderFailureLeavesStateIntact(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.connect(t, "item-1")

	h.client.disconnectErr = fmt.Errorf("plaid: INTERNAL_SERVER_ERROR")
	if err := h.service.DisconnectConnection(ctx, core.ProviderPlaid, "item-1"); err == nil {
		t.Fatalf("expected disconnect failure")
	}
	conn, _ := h.storage.Connections().Get(ctx, core.ProviderPlaid, "item-1")
	if conn.Status != core.ConnectionStatusActive {
		t.Fatalf("connection must stay active after failed revoke, got %s", conn.Status)
	}
	entry := h.lastAudit(t)
	if entry.Action != core.AuditActionDisconnectFailed {
		t.Fatalf("unexpected audit action %s", entry.Action)
	}
}

func webhookVerifier(t *testing.T, secret string, now time.Time) *webhooks.Verifier {
	t.Helper()
	verifier := webhooks.NewVerifier(webhooks.WithVerifierClock(func() time.Time { return now }))
	err := verifier.Configure(core.ProviderPlaid, webhooks.Strategy{
		SignatureHeader: "Plaid-Signature",
		SignaturePrefix: "v1=",
		TimestampHeader: "Plaid-Timestamp",
		Secrets:         webhooks.NewStaticSecretResolver(map[core.Provider]string{core.ProviderPlaid: secret}),
	})
	if err != nil {
		t.Fatalf("configure verifier: %v", err)
	}
	return verifier
}

func signWebhook(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "." + string(body)))
	return "v1=" + hex.EncodeToString(mac.Sum(nil))
}

func TestIngestWebhook_AcceptedDeliveryIsRecordedVerified(t *testing.T) {
	now := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, WithVerifier(webhookVerifier(t, "secret-1", now)))
	h.now = now

	body := []byte(`{"webhook_type":"TRANSACTIONS","webhook_code":"SYNC_UPDATES_AVAILABLE"}`)
	timestamp := fmt.Sprintf("%d", now.Unix())
	result, err := h.service.IngestWebhook(context.Background(), IngestWebhookInput{
		Provider:  core.ProviderPlaid,
		EventType: "SYNC_UPDATES_AVAILABLE",
		Headers: map[string]string{
			"Plaid-Signature": signWebhook("secret-1", timestamp, body),
			"Plaid-Timestamp": timestamp,
		},
		Body: body,
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !result.Accepted || result.Record.VerificationState != core.VerificationStateVerified {
		t.Fatalf("expected verified record: %+v", result)
	}
	records := h.storage.WebhookRecords()
	if len(records) != 1 || records[0].Payload != string(body) {
		t.Fatalf("webhook not persisted: %+v", records)
	}
	entry := h.lastAudit(t)
	if entry.Action != core.AuditActionWebhookReceived {
		t.Fatalf("unexpected audit action %s", entry.Action)
	}
}

func TestIngestWebhook_RejectedDeliveryIsStillRecorded(t *testing.T) {
	now := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, WithVerifier(webhookVerifier(t, "secret-1", now)))
	h.now = now

	body := []byte(`{}`)
	timestamp := fmt.Sprintf("%d", now.Unix())
	result, err := h.service.IngestWebhook(context.Background(), IngestWebhookInput{
		Provider: core.ProviderPlaid,
		Headers: map[string]string{
			"Plaid-Signature": "v1=invalid",
			"Plaid-Timestamp": timestamp,
		},
		Body: body,
	})
	if err != nil {
		t.Fatalf("ingest must not error on rejection: %v", err)
	}
	if result.Accepted {
		t.Fatalf("expected rejection")
	}
	if result.Verification.Reason != webhooks.ReasonInvalidSignature {
		t.Fatalf("unexpected reason %s", result.Verification.Reason)
	}
	records := h.storage.WebhookRecords()
	if len(records) != 1 || records[0].VerificationState != core.VerificationStateRejected {
		t.Fatalf("rejected delivery must still be persisted: %+v", records)
	}
	if records[0].Reason != string(webhooks.ReasonInvalidSignature) {
		t.Fatalf("record missing reason: %+v", records[0])
	}
	entry := h.lastAudit(t)
	if entry.Action != core.AuditActionWebhookRejected || entry.Level != core.AuditLevelWarning {
		t.Fatalf("unexpected audit entry: %+v", entry)
	}
}

func TestIngestWebhook_NeverTriggersSync(t *testing.T) {
	now := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, WithVerifier(webhookVerifier(t, "secret-1", now)))
	h.now = now

	body := []byte(`{"webhook_code":"SYNC_UPDATES_AVAILABLE"}`)
	timestamp := fmt.Sprintf("%d", now.Unix())
	_, err := h.service.IngestWebhook(context.Background(), IngestWebhookInput{
		Provider: core.ProviderPlaid,
		Headers: map[string]string{
			"Plaid-Signature": signWebhook("secret-1", timestamp, body),
			"Plaid-Timestamp": timestamp,
		},
		Body: body,
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(h.client.syncCursors) != 0 {
		t.Fatalf("ingestion must not call the provider sync endpoint")
	}
}
