package vault

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-banksync/core"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// Record is the persisted ciphertext envelope for one connection's
// credentials. No component outside this package reads raw ciphertext.
type Record struct {
	Provider               core.Provider
	ConnectionExternalID   string
	AccessTokenCiphertext  []byte
	RefreshTokenCiphertext []byte
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// RecordStore persists vault records keyed by
// (provider, connection external id). Get returns (nil, nil) on miss.
// Writes are single-record replaces; partial writes are not exposed.
type RecordStore interface {
	Get(ctx context.Context, provider core.Provider, connectionExternalID string) (*Record, error)
	Put(ctx context.Context, record Record) error
	Delete(ctx context.Context, provider core.Provider, connectionExternalID string) error
}

func validateKey(provider core.Provider, connectionExternalID string) error {
	if strings.TrimSpace(string(provider)) == "" {
		return fmt.Errorf("vault: provider is required")
	}
	if strings.TrimSpace(connectionExternalID) == "" {
		return fmt.Errorf("vault: connection external id is required")
	}
	return nil
}

func validateSetInput(in core.SetTokensInput) error {
	if err := validateKey(in.Provider, in.ConnectionExternalID); err != nil {
		return err
	}
	if strings.TrimSpace(in.AccessToken) == "" {
		return fmt.Errorf("vault: access token is required")
	}
	return nil
}
