package connector

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"

	"github.com/goliatone/go-banksync/audit"
	"github.com/goliatone/go-banksync/core"
	"github.com/goliatone/go-banksync/webhooks"
)

type Option func(*Service)

func WithRouter(router *core.ProviderRouter) Option {
	return func(s *Service) { s.router = router }
}

func WithStorage(storage core.Storage) Option {
	return func(s *Service) { s.storage = storage }
}

func WithAuditLogger(logger *audit.Logger) Option {
	return func(s *Service) { s.audit = logger }
}

func WithVerifier(verifier *webhooks.Verifier) Option {
	return func(s *Service) { s.verifier = verifier }
}

func WithLogger(logger core.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithIDGenerator(nextID func() string) Option {
	return func(s *Service) {
		if nextID != nil {
			s.nextID = nextID
		}
	}
}

// Service orchestrates the connection lifecycle across the provider
// router, storage, the audit trail, and the webhook verifier. It owns
// the state rules: cursors only advance after a delta is applied, and
// every lifecycle event lands in the audit log.
type Service struct {
	router   *core.ProviderRouter
	storage  core.Storage
	audit    *audit.Logger
	verifier *webhooks.Verifier
	logger   core.Logger
	now      func() time.Time
	nextID   func() string
}

func New(opts ...Option) (*Service, error) {
	svc := &Service{
		now:    func() time.Time { return time.Now().UTC() },
		nextID: uuid.NewString,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(svc)
	}
	if svc.router == nil {
		return nil, fmt.Errorf("connector: provider router is required")
	}
	if svc.storage == nil {
		return nil, fmt.Errorf("connector: storage is required")
	}
	if svc.audit == nil {
		return nil, fmt.Errorf("connector: audit logger is required")
	}
	svc.logger = glog.Ensure(svc.logger)
	return svc, nil
}

func (s *Service) CreateLinkToken(
	ctx context.Context,
	provider core.Provider,
	req core.CreateLinkTokenRequest,
) (core.CreateLinkTokenResponse, error) {
	client, err := s.router.Require(provider)
	if err != nil {
		return core.CreateLinkTokenResponse{}, core.MapError(err)
	}

	response, err := client.CreateLinkToken(ctx, req)
	if err != nil {
		s.auditError(ctx, core.AuditActionLinkTokenFailed, err,
			audit.WithProvider(provider),
			audit.WithMetadata(map[string]any{"user_id": req.UserID}))
		return core.CreateLinkTokenResponse{}, core.MapError(err)
	}

	s.auditInfo(ctx, core.AuditActionLinkTokenCreated, "link token created",
		audit.WithProvider(provider),
		audit.WithMetadata(map[string]any{"user_id": req.UserID}))
	return response, nil
}

// ConnectWithPublicToken exchanges a public token and registers the
// resulting connection as active with a fresh sync cursor. A failed
// exchange leaves storage untouched.
func (s *Service) ConnectWithPublicToken(
	ctx context.Context,
	provider core.Provider,
	req core.ExchangePublicTokenRequest,
) (core.Connection, error) {
	client, err := s.router.Require(provider)
	if err != nil {
		return core.Connection{}, core.MapError(err)
	}

	result, err := client.ExchangePublicToken(ctx, req)
	if err != nil {
		s.auditError(ctx, core.AuditActionExchangeFailed, err, audit.WithProvider(provider))
		return core.Connection{}, core.MapError(err)
	}

	now := s.now()
	conn := core.Connection{
		Provider:             provider,
		ConnectionExternalID: result.ConnectionExternalID,
		DisplayName:          result.DisplayName,
		InstitutionID:        result.InstitutionID,
		InstitutionName:      result.InstitutionName,
		Status:               core.ConnectionStatusActive,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if existing, getErr := s.storage.Connections().Get(ctx, provider, result.ConnectionExternalID); getErr == nil && existing != nil {
		conn.CreatedAt = existing.CreatedAt
		conn.LastSyncedAt = existing.LastSyncedAt
		conn.LastAttemptedAt = existing.LastAttemptedAt
	}
	saved, err := s.storage.Connections().Upsert(ctx, conn)
	if err != nil {
		return core.Connection{}, core.MapError(err)
	}

	_, err = s.storage.Cursors().Upsert(ctx, core.SyncCursorState{
		Provider:             provider,
		ConnectionExternalID: result.ConnectionExternalID,
		Cursor:               "",
		Status:               core.SyncStatusIdle,
		UpdatedAt:            now,
	})
	if err != nil {
		return core.Connection{}, core.MapError(err)
	}

	s.auditInfo(ctx, core.AuditActionExchangeComplete, "public token exchanged",
		audit.WithProvider(provider),
		audit.WithConnection(result.ConnectionExternalID),
		audit.WithMetadata(map[string]any{"institution": result.InstitutionName}))
	return saved, nil
}

// SyncInput selects the connection to sync. CursorOverride replaces
// the stored cursor for this run only; pass nil to resume from where
// the last successful run left off.
type SyncInput struct {
	Provider             core.Provider
	ConnectionExternalID string
	CursorOverride       *string
}

// SyncOutcome reports one completed sync run.
type SyncOutcome struct {
	Delta  core.TransactionDelta
	Cursor core.SyncCursorState
}

// SyncConnection runs one cursor sync end to end: attempt marked
// before the provider call, delta applied atomically, cursor advanced
// only after the delta lands. A failed run records the error and
// leaves the cursor value where it was, so the next run retries the
// same window. The service does not serialize runs; callers must not
// sync the same connection concurrently.
func (s *Service) SyncConnection(ctx context.Context, in SyncInput) (SyncOutcome, error) {
	client, err := s.router.Require(in.Provider)
	if err != nil {
		return SyncOutcome{}, core.MapError(err)
	}
	externalID := strings.TrimSpace(in.ConnectionExternalID)
	if externalID == "" {
		return SyncOutcome{}, serviceError(
			"connector: connection external id is required",
			goerrors.CategoryBadInput, core.ErrorBadInput)
	}

	conn, err := s.storage.Connections().Get(ctx, in.Provider, externalID)
	if err != nil {
		return SyncOutcome{}, core.MapError(err)
	}
	if conn == nil {
		return SyncOutcome{}, serviceError(
			fmt.Sprintf("connector: connection not found: %s/%s", in.Provider, externalID),
			goerrors.CategoryNotFound, core.ErrorConnectionMissing)
	}

	cursor, err := s.loadCursor(ctx, in.Provider, externalID)
	if err != nil {
		return SyncOutcome{}, core.MapError(err)
	}
	startCursor := cursor.Cursor
	if in.CursorOverride != nil {
		startCursor = *in.CursorOverride
	}

	now := s.now()
	cursor.Status = core.SyncStatusRunning
	cursor.LastAttemptedAt = &now
	cursor.UpdatedAt = now
	if cursor, err = s.storage.Cursors().Upsert(ctx, cursor); err != nil {
		return SyncOutcome{}, core.MapError(err)
	}

	s.auditInfo(ctx, core.AuditActionSyncStarted, "sync started",
		audit.WithProvider(in.Provider),
		audit.WithConnection(externalID),
		audit.WithMetadata(map[string]any{"cursor": startCursor}))

	delta, err := client.SyncTransactions(ctx, core.SyncTransactionsRequest{
		ConnectionExternalID: externalID,
		Cursor:               startCursor,
	})
	if err != nil {
		return SyncOutcome{}, s.failSync(ctx, conn, cursor, err)
	}

	err = s.storage.Transactions().ApplyDelta(ctx, in.Provider, externalID, delta)
	if err != nil {
		return SyncOutcome{}, s.failSync(ctx, conn, cursor, err)
	}

	finished := s.now()
	cursor.Cursor = delta.NextCursor
	cursor.Status = core.SyncStatusIdle
	cursor.LastSyncedAt = &finished
	cursor.LastError = ""
	cursor.UpdatedAt = finished
	if cursor, err = s.storage.Cursors().Upsert(ctx, cursor); err != nil {
		return SyncOutcome{}, core.MapError(err)
	}

	if transitionErr := conn.TransitionTo(core.ConnectionStatusActive, "", finished); transitionErr == nil {
		conn.LastSyncedAt = &finished
		conn.LastAttemptedAt = &now
		if _, err := s.storage.Connections().Upsert(ctx, *conn); err != nil {
			return SyncOutcome{}, core.MapError(err)
		}
	}

	s.auditInfo(ctx, core.AuditActionSyncCompleted, "sync completed",
		audit.WithProvider(in.Provider),
		audit.WithConnection(externalID),
		audit.WithMetadata(map[string]any{
			"added":    len(delta.Added),
			"modified": len(delta.Modified),
			"removed":  len(delta.RemovedProviderTransactionIDs),
			"cursor":   delta.NextCursor,
		}))
	return SyncOutcome{Delta: delta, Cursor: cursor}, nil
}

// failSync records a failed run. The cursor VALUE stays untouched so
// the next attempt replays the same window; only status and error
// metadata change.
func (s *Service) failSync(
	ctx context.Context,
	conn *core.Connection,
	cursor core.SyncCursorState,
	cause error,
) error {
	now := s.now()
	cursor.Status = core.SyncStatusError
	cursor.LastError = cause.Error()
	cursor.UpdatedAt = now
	if _, err := s.storage.Cursors().Upsert(ctx, cursor); err != nil {
		s.logger.Error("cursor error state not persisted", "error", err)
	}

	if transitionErr := conn.TransitionTo(core.ConnectionStatusError, cause.Error(), now); transitionErr == nil {
		conn.LastAttemptedAt = &now
		if _, err := s.storage.Connections().Upsert(ctx, *conn); err != nil {
			s.logger.Error("connection error state not persisted", "error", err)
		}
	}

	s.auditError(ctx, core.AuditActionSyncFailed, cause,
		audit.WithProvider(conn.Provider),
		audit.WithConnection(conn.ConnectionExternalID))
	return core.MapError(cause)
}

// DisconnectConnection revokes the provider credential and marks the
// connection disconnected with its cursor reset. Revocation failure
// leaves connection and cursor state intact for a retry.
func (s *Service) DisconnectConnection(
	ctx context.Context,
	provider core.Provider,
	connectionExternalID string,
) error {
	client, err := s.router.Require(provider)
	if err != nil {
		return core.MapError(err)
	}
	externalID := strings.TrimSpace(connectionExternalID)

	if err := client.Disconnect(ctx, core.DisconnectRequest{ConnectionExternalID: externalID}); err != nil {
		s.auditError(ctx, core.AuditActionDisconnectFailed, err,
			audit.WithProvider(provider),
			audit.WithConnection(externalID))
		return core.MapError(err)
	}

	now := s.now()
	conn, err := s.storage.Connections().Get(ctx, provider, externalID)
	if err != nil {
		return core.MapError(err)
	}
	if conn != nil {
		if err := conn.TransitionTo(core.ConnectionStatusDisconnected, "", now); err != nil {
			return core.MapError(err)
		}
		if _, err := s.storage.Connections().Upsert(ctx, *conn); err != nil {
			return core.MapError(err)
		}
	}

	_, err = s.storage.Cursors().Upsert(ctx, core.SyncCursorState{
		Provider:             provider,
		ConnectionExternalID: externalID,
		Cursor:               "",
		Status:               core.SyncStatusIdle,
		UpdatedAt:            now,
	})
	if err != nil {
		return core.MapError(err)
	}

	s.auditInfo(ctx, core.AuditActionDisconnected, "connection disconnected",
		audit.WithProvider(provider),
		audit.WithConnection(externalID))
	return nil
}

// IngestWebhookInput carries one raw inbound delivery. Body must be
// the unmodified payload bytes the provider signed.
type IngestWebhookInput struct {
	Provider  core.Provider
	EventID   string
	EventType string
	Headers   map[string]string
	Body      []byte
}

// IngestResult reports the verification outcome alongside the
// persisted forensic record.
type IngestResult struct {
	Accepted     bool
	Verification webhooks.Result
	Record       core.WebhookRecord
}

// IngestWebhook verifies the delivery's signature and persists a
// webhook record for every attempt, accepted or rejected. It never
// triggers a sync; deciding what to do with an accepted event belongs
// to the caller.
func (s *Service) IngestWebhook(ctx context.Context, in IngestWebhookInput) (IngestResult, error) {
	if s.verifier == nil {
		return IngestResult{}, serviceError(
			"connector: webhook verifier is not configured",
			goerrors.CategoryOperation, core.ErrorInternal)
	}

	verification := s.verifier.Verify(ctx, webhooks.Request{
		Provider: in.Provider,
		Headers:  in.Headers,
		Body:     in.Body,
	})

	record := core.WebhookRecord{
		ID:         s.nextID(),
		Provider:   in.Provider,
		EventID:    strings.TrimSpace(in.EventID),
		EventType:  strings.TrimSpace(in.EventType),
		Payload:    string(in.Body),
		ReceivedAt: s.now(),
	}
	if verification.Verified {
		record.VerificationState = core.VerificationStateVerified
	} else {
		record.VerificationState = core.VerificationStateRejected
		record.Reason = string(verification.Reason)
	}

	saved, err := s.storage.Webhooks().Record(ctx, record)
	if err != nil {
		return IngestResult{}, serviceWrapError(err, "connector: record webhook",
			goerrors.CategoryOperation, nil)
	}

	if verification.Verified {
		s.auditInfo(ctx, core.AuditActionWebhookReceived, "webhook accepted",
			audit.WithProvider(in.Provider),
			audit.WithMetadata(map[string]any{"event_type": record.EventType, "record_id": saved.ID}))
	} else {
		s.auditWarning(ctx, core.AuditActionWebhookRejected, verification,
			audit.WithProvider(in.Provider),
			audit.WithMetadata(map[string]any{"event_type": record.EventType, "record_id": saved.ID}))
	}

	return IngestResult{
		Accepted:     verification.Verified,
		Verification: verification,
		Record:       saved,
	}, nil
}

func (s *Service) loadCursor(
	ctx context.Context,
	provider core.Provider,
	connectionExternalID string,
) (core.SyncCursorState, error) {
	state, err := s.storage.Cursors().Get(ctx, provider, connectionExternalID)
	if err != nil {
		return core.SyncCursorState{}, err
	}
	if state != nil {
		return *state, nil
	}
	return core.SyncCursorState{
		Provider:             provider,
		ConnectionExternalID: connectionExternalID,
		Status:               core.SyncStatusIdle,
	}, nil
}

// Audit failures must not mask the primary outcome; they are logged
// and dropped.
func (s *Service) auditInfo(ctx context.Context, action core.AuditAction, message string, opts ...audit.EntryOption) {
	if _, err := s.audit.Info(ctx, action, message, opts...); err != nil {
		s.logger.Error("audit write failed", "action", string(action), "error", err)
	}
}

func (s *Service) auditWarning(ctx context.Context, action core.AuditAction, verification webhooks.Result, opts ...audit.EntryOption) {
	message := fmt.Sprintf("webhook rejected: %s", verification.Reason)
	opts = append(opts, audit.WithMetadata(map[string]any{"reason": string(verification.Reason)}))
	if _, err := s.audit.Warning(ctx, action, message, opts...); err != nil {
		s.logger.Error("audit write failed", "action", string(action), "error", err)
	}
}

func (s *Service) auditError(ctx context.Context, action core.AuditAction, cause error, opts ...audit.EntryOption) {
	if _, err := s.audit.Error(ctx, action, cause.Error(), opts...); err != nil {
		s.logger.Error("audit write failed", "action", string(action), "error", err)
	}
}
