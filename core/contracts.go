package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// TransportRequest is the only shape provider clients use to reach the
// network; they never depend on a concrete HTTP library.
type TransportRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	Timeout time.Duration
}

type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

type HTTPClient interface {
	Send(ctx context.Context, req TransportRequest) (TransportResponse, error)
}

type CreateLinkTokenRequest struct {
	UserID       string
	ClientName   string
	Products     []string
	CountryCodes []string
	Language     string
	WebhookURL   string
	RedirectURI  string
}

type CreateLinkTokenResponse struct {
	LinkToken  string
	Expiration *time.Time
}

type ExchangePublicTokenRequest struct {
	PublicToken     string
	DisplayName     string
	InstitutionID   string
	InstitutionName string
}

// ExchangeResult reports a completed token exchange. The provider
// client stores the credential in the vault itself; plaintext tokens
// never cross this boundary.
type ExchangeResult struct {
	ConnectionExternalID string
	InstitutionID        string
	InstitutionName      string
	DisplayName          string
}

type SyncTransactionsRequest struct {
	ConnectionExternalID string
	Cursor               string
}

type DisconnectRequest struct {
	ConnectionExternalID string
}

// ProviderClient is the capability surface one aggregator implements.
// Additional aggregators are new implementations behind this same
// interface, registered on the ProviderRouter.
type ProviderClient interface {
	ID() Provider
	CreateLinkToken(ctx context.Context, req CreateLinkTokenRequest) (CreateLinkTokenResponse, error)
	ExchangePublicToken(ctx context.Context, req ExchangePublicTokenRequest) (ExchangeResult, error)
	SyncTransactions(ctx context.Context, req SyncTransactionsRequest) (TransactionDelta, error)
	Disconnect(ctx context.Context, req DisconnectRequest) error
}

type SetTokensInput struct {
	Provider             Provider
	ConnectionExternalID string
	AccessToken          string
	RefreshToken         string
}

// TokenVault encrypts and stores provider credentials. GetTokens
// returns (nil, nil) when no record exists.
type TokenVault interface {
	SetTokens(ctx context.Context, in SetTokensInput) error
	GetTokens(ctx context.Context, provider Provider, connectionExternalID string) (*TokenPair, error)
	DeleteTokens(ctx context.Context, provider Provider, connectionExternalID string) error
}

type ConnectionStore interface {
	Upsert(ctx context.Context, conn Connection) (Connection, error)
	Get(ctx context.Context, provider Provider, connectionExternalID string) (*Connection, error)
}

type SyncCursorStore interface {
	Get(ctx context.Context, provider Provider, connectionExternalID string) (*SyncCursorState, error)
	Upsert(ctx context.Context, state SyncCursorState) (SyncCursorState, error)
}

type TransactionStore interface {
	ApplyDelta(ctx context.Context, provider Provider, connectionExternalID string, delta TransactionDelta) error
	ListByConnection(ctx context.Context, provider Provider, connectionExternalID string) ([]Transaction, error)
}

type WebhookStore interface {
	Record(ctx context.Context, record WebhookRecord) (WebhookRecord, error)
}

// Storage is the port the connector persists through. Implementations
// live with the collaborator; store/memory and store/sql ship as
// ready-made adapters.
type Storage interface {
	Connections() ConnectionStore
	Cursors() SyncCursorStore
	Transactions() TransactionStore
	Webhooks() WebhookStore
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
