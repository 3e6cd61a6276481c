package plaid

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-banksync/core"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

const (
	ProviderID = core.ProviderPlaid

	EnvironmentSandbox    = "sandbox"
	EnvironmentProduction = "production"

	sandboxBaseURL    = "https://sandbox.plaid.com"
	productionBaseURL = "https://production.plaid.com"

	// ErrMutationDuringPagination is Plaid's signal that the item
	// changed underneath an in-flight pagination, invalidating every
	// cursor handed out during the loop.
	ErrMutationDuringPagination = "TRANSACTIONS_SYNC_MUTATION_DURING_PAGINATION"

	// maxMutationRestarts bounds how many times one sync run restarts
	// from its original cursor before the error propagates.
	maxMutationRestarts = 2

	defaultPageSize       = 100
	defaultRequestTimeout = 30 * time.Second
)

type Config struct {
	ClientID    string
	Secret      string
	Environment string
	BaseURL     string
	ClientName  string
	PageSize    int
	Timeout     time.Duration
}

func DefaultConfig() Config {
	return Config{
		Environment: EnvironmentSandbox,
		ClientName:  "banksync",
		PageSize:    defaultPageSize,
		Timeout:     defaultRequestTimeout,
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ClientID) == "" {
		return fmt.Errorf("plaid: client id is required")
	}
	if strings.TrimSpace(c.Secret) == "" {
		return fmt.Errorf("plaid: secret is required")
	}
	return nil
}

func (c Config) baseURL() string {
	if url := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/"); url != "" {
		return url
	}
	if strings.EqualFold(strings.TrimSpace(c.Environment), EnvironmentProduction) {
		return productionBaseURL
	}
	return sandboxBaseURL
}

// Client implements the provider capability surface against Plaid's
// REST API. It reaches the network only through the injected HTTP
// client port and reads credentials only through the token vault.
type Client struct {
	cfg    Config
	http   core.HTTPClient
	vault  core.TokenVault
	logger core.Logger
}

type Option func(*Client)

func WithLogger(logger core.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func New(cfg Config, httpClient core.HTTPClient, tokenVault core.TokenVault, opts ...Option) (*Client, error) {
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = defaults.Environment
	}
	if strings.TrimSpace(cfg.ClientName) == "" {
		cfg.ClientName = defaults.ClientName
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaults.PageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if httpClient == nil {
		return nil, fmt.Errorf("plaid: http client is required")
	}
	if tokenVault == nil {
		return nil, fmt.Errorf("plaid: token vault is required")
	}
	client := &Client{cfg: cfg, http: httpClient, vault: tokenVault}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	client.logger = glog.Ensure(client.logger)
	return client, nil
}

func (c *Client) ID() core.Provider {
	return ProviderID
}

type linkTokenUser struct {
	ClientUserID string `json:"client_user_id"`
}

type linkTokenCreateRequest struct {
	ClientID     string        `json:"client_id"`
	Secret       string        `json:"secret"`
	ClientName   string        `json:"client_name"`
	Language     string        `json:"language"`
	CountryCodes []string      `json:"country_codes"`
	User         linkTokenUser `json:"user"`
	Products     []string      `json:"products,omitempty"`
	Webhook      string        `json:"webhook,omitempty"`
	RedirectURI  string        `json:"redirect_uri,omitempty"`
}

type linkTokenCreateResponse struct {
	LinkToken  string `json:"link_token"`
	Expiration string `json:"expiration"`
}

func (c *Client) CreateLinkToken(
	ctx context.Context,
	req core.CreateLinkTokenRequest,
) (core.CreateLinkTokenResponse, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return core.CreateLinkTokenResponse{}, providerError(
			"plaid: user id is required", goerrors.CategoryBadInput, nil)
	}
	clientName := strings.TrimSpace(req.ClientName)
	if clientName == "" {
		clientName = c.cfg.ClientName
	}
	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = "en"
	}
	countryCodes := req.CountryCodes
	if len(countryCodes) == 0 {
		countryCodes = []string{"US"}
	}
	products := req.Products
	if len(products) == 0 {
		products = []string{"transactions"}
	}

	payload := linkTokenCreateRequest{
		ClientID:     c.cfg.ClientID,
		Secret:       c.cfg.Secret,
		ClientName:   clientName,
		Language:     language,
		CountryCodes: countryCodes,
		User:         linkTokenUser{ClientUserID: strings.TrimSpace(req.UserID)},
		Products:     products,
		Webhook:      strings.TrimSpace(req.WebhookURL),
		RedirectURI:  strings.TrimSpace(req.RedirectURI),
	}
	var decoded linkTokenCreateResponse
	if err := c.post(ctx, "/link/token/create", payload, &decoded); err != nil {
		return core.CreateLinkTokenResponse{}, err
	}

	response := core.CreateLinkTokenResponse{LinkToken: decoded.LinkToken}
	if ts, err := time.Parse(time.RFC3339, decoded.Expiration); err == nil {
		response.Expiration = &ts
	}
	return response, nil
}

type exchangeRequest struct {
	ClientID    string `json:"client_id"`
	Secret      string `json:"secret"`
	PublicToken string `json:"public_token"`
}

type exchangeResponse struct {
	AccessToken string `json:"access_token"`
	ItemID      string `json:"item_id"`
}

func (c *Client) ExchangePublicToken(
	ctx context.Context,
	req core.ExchangePublicTokenRequest,
) (core.ExchangeResult, error) {
	if strings.TrimSpace(req.PublicToken) == "" {
		return core.ExchangeResult{}, providerError(
			"plaid: public token is required", goerrors.CategoryBadInput, nil)
	}

	payload := exchangeRequest{
		ClientID:    c.cfg.ClientID,
		Secret:      c.cfg.Secret,
		PublicToken: strings.TrimSpace(req.PublicToken),
	}
	var decoded exchangeResponse
	if err := c.post(ctx, "/item/public_token/exchange", payload, &decoded); err != nil {
		return core.ExchangeResult{}, err
	}
	if strings.TrimSpace(decoded.AccessToken) == "" || strings.TrimSpace(decoded.ItemID) == "" {
		return core.ExchangeResult{}, providerError(
			"plaid: exchange returned an incomplete credential", goerrors.CategoryExternal, nil)
	}

	err := c.vault.SetTokens(ctx, core.SetTokensInput{
		Provider:             ProviderID,
		ConnectionExternalID: decoded.ItemID,
		AccessToken:          decoded.AccessToken,
	})
	if err != nil {
		return core.ExchangeResult{}, err
	}

	return core.ExchangeResult{
		ConnectionExternalID: decoded.ItemID,
		InstitutionID:        strings.TrimSpace(req.InstitutionID),
		InstitutionName:      strings.TrimSpace(req.InstitutionName),
		DisplayName:          strings.TrimSpace(req.DisplayName),
	}, nil
}

type syncRequest struct {
	ClientID    string `json:"client_id"`
	Secret      string `json:"secret"`
	AccessToken string `json:"access_token"`
	Cursor      string `json:"cursor,omitempty"`
	Count       int    `json:"count,omitempty"`
}

type syncTransaction struct {
	TransactionID   string   `json:"transaction_id"`
	AccountID       string   `json:"account_id"`
	Name            string   `json:"name"`
	MerchantName    string   `json:"merchant_name"`
	Amount          float64  `json:"amount"`
	ISOCurrencyCode string   `json:"iso_currency_code"`
	Date            string   `json:"date"`
	Pending         bool     `json:"pending"`
	Category        []string `json:"category"`
}

type removedTransaction struct {
	TransactionID string `json:"transaction_id"`
}

type syncResponse struct {
	Added      []syncTransaction    `json:"added"`
	Modified   []syncTransaction    `json:"modified"`
	Removed    []removedTransaction `json:"removed"`
	NextCursor string               `json:"next_cursor"`
	HasMore    bool                 `json:"has_more"`
}

// SyncTransactions walks the cursor-paginated sync endpoint until the
// provider reports no more pages. When Plaid invalidates the
// pagination mid-loop, the whole run restarts from the ORIGINAL
// starting cursor; pages fetched after the mutation are not
// trustworthy. Restarts are bounded before the error propagates.
func (c *Client) SyncTransactions(
	ctx context.Context,
	req core.SyncTransactionsRequest,
) (core.TransactionDelta, error) {
	externalID := strings.TrimSpace(req.ConnectionExternalID)
	if externalID == "" {
		return core.TransactionDelta{}, providerError(
			"plaid: connection external id is required", goerrors.CategoryBadInput, nil)
	}

	pair, err := c.vault.GetTokens(ctx, ProviderID, externalID)
	if err != nil {
		return core.TransactionDelta{}, err
	}
	if pair == nil {
		return core.TransactionDelta{}, providerError(
			fmt.Sprintf("plaid: no stored credential for connection %q", externalID),
			goerrors.CategoryNotFound, nil)
	}

	originalCursor := strings.TrimSpace(req.Cursor)
	restarts := 0
	for {
		delta, err := c.syncFromCursor(ctx, pair.AccessToken, originalCursor)
		if err == nil {
			return delta, nil
		}
		if ErrorCode(err) != ErrMutationDuringPagination {
			return core.TransactionDelta{}, err
		}
		restarts++
		if restarts > maxMutationRestarts {
			return core.TransactionDelta{}, err
		}
	}
}

func (c *Client) syncFromCursor(
	ctx context.Context,
	accessToken string,
	cursor string,
) (core.TransactionDelta, error) {
	delta := core.TransactionDelta{}
	for {
		payload := syncRequest{
			ClientID:    c.cfg.ClientID,
			Secret:      c.cfg.Secret,
			AccessToken: accessToken,
			Cursor:      cursor,
			Count:       c.cfg.PageSize,
		}
		var page syncResponse
		if err := c.post(ctx, "/transactions/sync", payload, &page); err != nil {
			return core.TransactionDelta{}, err
		}

		for _, txn := range page.Added {
			delta.Added = append(delta.Added, c.toDomain(txn))
		}
		for _, txn := range page.Modified {
			delta.Modified = append(delta.Modified, c.toDomain(txn))
		}
		for _, removed := range page.Removed {
			delta.RemovedProviderTransactionIDs = append(
				delta.RemovedProviderTransactionIDs, removed.TransactionID)
		}

		cursor = page.NextCursor
		if !page.HasMore {
			delta.NextCursor = page.NextCursor
			delta.HasMore = false
			return delta, nil
		}
	}
}

func (c *Client) toDomain(t syncTransaction) core.Transaction {
	date, err := time.Parse("2006-01-02", t.Date)
	if err != nil {
		c.logger.Warn("transaction date unparsable, using zero time",
			"transaction_id", t.TransactionID, "date", t.Date)
	}
	return core.Transaction{
		ProviderTransactionID: t.TransactionID,
		AccountID:             t.AccountID,
		Name:                  t.Name,
		MerchantName:          t.MerchantName,
		Amount:                t.Amount,
		ISOCurrencyCode:       t.ISOCurrencyCode,
		Date:                  date,
		Pending:               t.Pending,
		Category:              append([]string(nil), t.Category...),
	}
}

type itemRemoveRequest struct {
	ClientID    string `json:"client_id"`
	Secret      string `json:"secret"`
	AccessToken string `json:"access_token"`
}

// Disconnect revokes the provider-side credential, then deletes the
// vault entry. A connection with no stored credential is a no-op
// success so disconnect stays idempotent.
func (c *Client) Disconnect(ctx context.Context, req core.DisconnectRequest) error {
	externalID := strings.TrimSpace(req.ConnectionExternalID)
	if externalID == "" {
		return providerError("plaid: connection external id is required", goerrors.CategoryBadInput, nil)
	}

	pair, err := c.vault.GetTokens(ctx, ProviderID, externalID)
	if err != nil {
		return err
	}
	if pair == nil {
		return nil
	}

	payload := itemRemoveRequest{
		ClientID:    c.cfg.ClientID,
		Secret:      c.cfg.Secret,
		AccessToken: pair.AccessToken,
	}
	if err := c.post(ctx, "/item/remove", payload, &struct{}{}); err != nil {
		return err
	}
	return c.vault.DeleteTokens(ctx, ProviderID, externalID)
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return providerWrapError(err, "plaid: encode request", goerrors.CategoryInternal, nil)
	}

	response, err := c.http.Send(ctx, core.TransportRequest{
		Method:  http.MethodPost,
		URL:     c.cfg.baseURL() + path,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
		Timeout: c.cfg.Timeout,
	})
	if err != nil {
		return providerWrapError(err, "plaid: "+path, goerrors.CategoryExternal, map[string]any{"path": path})
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return decodeAPIError(path, response)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(response.Body, out); err != nil {
		return providerWrapError(err, "plaid: decode response", goerrors.CategoryExternal,
			map[string]any{"path": path, "status_code": response.StatusCode})
	}
	return nil
}

var _ core.ProviderClient = (*Client)(nil)
