package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownProvider                   = errors.New("core: unknown provider")
	ErrInvalidConnectionStatusTransition = errors.New("core: invalid connection status transition")
	ErrConnectionNotFound                = errors.New("core: connection not found")
)

// Provider identifies a bank-data aggregator. Only providers with a
// registered client can be used; the rest are known but unsupported.
type Provider string

const (
	ProviderPlaid    Provider = "plaid"
	ProviderMX       Provider = "mx"
	ProviderFinicity Provider = "finicity"
	ProviderTeller   Provider = "teller"
)

func (p Provider) String() string {
	return string(p)
}

func (p Provider) Validate() error {
	switch p {
	case ProviderPlaid, ProviderMX, ProviderFinicity, ProviderTeller:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownProvider, string(p))
}

func ParseProvider(value string) (Provider, error) {
	provider := Provider(strings.ToLower(strings.TrimSpace(value)))
	if err := provider.Validate(); err != nil {
		return "", err
	}
	return provider, nil
}

type ConnectionStatus string

const (
	ConnectionStatusActive         ConnectionStatus = "active"
	ConnectionStatusRequiresReauth ConnectionStatus = "requires_reauth"
	ConnectionStatusDisconnected   ConnectionStatus = "disconnected"
	ConnectionStatusError          ConnectionStatus = "error"
)

// Connection is one linked institution login, keyed by
// (provider, connection external id). The connector never deletes
// connections; disconnect is a terminal status change.
type Connection struct {
	Provider             Provider
	ConnectionExternalID string
	DisplayName          string
	InstitutionID        string
	InstitutionName      string
	Status               ConnectionStatus
	LastSyncedAt         *time.Time
	LastAttemptedAt      *time.Time
	LastError            string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (c *Connection) TransitionTo(status ConnectionStatus, reason string, now time.Time) error {
	if c == nil {
		return nil
	}
	if c.Status == status {
		c.UpdatedAt = now
		if strings.TrimSpace(reason) != "" {
			c.LastError = strings.TrimSpace(reason)
		}
		return nil
	}
	if !connectionTransitionAllowed(c.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidConnectionStatusTransition, c.Status, status)
	}
	c.Status = status
	c.UpdatedAt = now
	if strings.TrimSpace(reason) != "" {
		c.LastError = strings.TrimSpace(reason)
	}
	if status == ConnectionStatusActive {
		c.LastError = ""
	}
	return nil
}

func connectionTransitionAllowed(current, next ConnectionStatus) bool {
	allowed := map[ConnectionStatus]map[ConnectionStatus]struct{}{
		ConnectionStatusActive: {
			ConnectionStatusRequiresReauth: {},
			ConnectionStatusDisconnected:   {},
			ConnectionStatusError:          {},
		},
		ConnectionStatusRequiresReauth: {
			ConnectionStatusActive:       {},
			ConnectionStatusDisconnected: {},
			ConnectionStatusError:        {},
		},
		ConnectionStatusError: {
			ConnectionStatusActive:         {},
			ConnectionStatusRequiresReauth: {},
			ConnectionStatusDisconnected:   {},
		},
		ConnectionStatusDisconnected: {
			ConnectionStatusActive: {},
		},
	}
	next = ConnectionStatus(strings.TrimSpace(string(next)))
	transitions, ok := allowed[current]
	if !ok {
		return false
	}
	_, ok = transitions[next]
	return ok
}

type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusRunning SyncStatus = "running"
	SyncStatusError   SyncStatus = "error"
)

// SyncCursorState tracks pagination progress for one connection. The
// cursor only advances after a delta has been applied successfully;
// a failed sync leaves it untouched so the run is safe to retry.
type SyncCursorState struct {
	Provider             Provider
	ConnectionExternalID string
	Cursor               string
	Status               SyncStatus
	LastAttemptedAt      *time.Time
	LastSyncedAt         *time.Time
	LastError            string
	UpdatedAt            time.Time
}

// TokenPair holds provider credentials in plaintext. It only ever
// exists in memory; persistence goes through the token vault.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Transaction is the normalized provider transaction shape. Amount is
// positive for charges and negative for refunds/credits, matching the
// reference provider's convention.
type Transaction struct {
	ProviderTransactionID string
	AccountID             string
	Name                  string
	MerchantName          string
	Amount                float64
	ISOCurrencyCode       string
	Date                  time.Time
	Pending               bool
	Category              []string
}

// TransactionDelta is the immutable result of one sync call, applied
// atomically through the transaction store.
type TransactionDelta struct {
	Added                         []Transaction
	Modified                      []Transaction
	RemovedProviderTransactionIDs []string
	NextCursor                    string
	HasMore                       bool
}

type AuditLevel string

const (
	AuditLevelInfo    AuditLevel = "info"
	AuditLevelWarning AuditLevel = "warning"
	AuditLevelError   AuditLevel = "error"
)

// AuditAction is the closed taxonomy of connector lifecycle events.
type AuditAction string

const (
	AuditActionLinkTokenCreated AuditAction = "link_token.created"
	AuditActionLinkTokenFailed  AuditAction = "link_token.failed"
	AuditActionExchangeComplete AuditAction = "exchange.completed"
	AuditActionExchangeFailed   AuditAction = "exchange.failed"
	AuditActionSyncStarted      AuditAction = "sync.started"
	AuditActionSyncCompleted    AuditAction = "sync.completed"
	AuditActionSyncFailed       AuditAction = "sync.failed"
	AuditActionDisconnected     AuditAction = "disconnect.completed"
	AuditActionDisconnectFailed AuditAction = "disconnect.failed"
	AuditActionWebhookReceived  AuditAction = "webhook.received"
	AuditActionWebhookRejected  AuditAction = "webhook.rejected"
)

// AuditEntry is append-only; entries are never mutated or deleted.
type AuditEntry struct {
	ID                   string
	Timestamp            time.Time
	Level                AuditLevel
	Action               AuditAction
	Provider             Provider
	ConnectionExternalID string
	Message              string
	Metadata             map[string]any
}

type VerificationState string

const (
	VerificationStateVerified VerificationState = "verified"
	VerificationStateRejected VerificationState = "rejected"
)

// WebhookRecord is persisted for every ingested webhook, accepted or
// rejected, as a forensic trail.
type WebhookRecord struct {
	ID                string
	Provider          Provider
	EventID           string
	EventType         string
	Payload           string
	ReceivedAt        time.Time
	VerificationState VerificationState
	Reason            string
}
