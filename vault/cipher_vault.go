package vault

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-banksync/core"
)

// CipherVault encrypts each token field independently with an injected
// symmetric cipher. Created timestamps survive updates; updated
// timestamps refresh on every write.
type CipherVault struct {
	cipher Cipher
	store  RecordStore
	now    func() time.Time
}

type CipherVaultOption func(*CipherVault)

func WithCipherVaultClock(now func() time.Time) CipherVaultOption {
	return func(v *CipherVault) {
		if now != nil {
			v.now = now
		}
	}
}

func NewCipherVault(cipher Cipher, store RecordStore, opts ...CipherVaultOption) (*CipherVault, error) {
	if cipher == nil {
		return nil, fmt.Errorf("vault: cipher is required")
	}
	if store == nil {
		return nil, fmt.Errorf("vault: record store is required")
	}
	v := &CipherVault{
		cipher: cipher,
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(v)
	}
	return v, nil
}

func (v *CipherVault) SetTokens(ctx context.Context, in core.SetTokensInput) error {
	if v == nil {
		return fmt.Errorf("vault: cipher vault is nil")
	}
	if err := validateSetInput(in); err != nil {
		return err
	}

	accessCiphertext, err := v.cipher.Encrypt(ctx, []byte(in.AccessToken))
	if err != nil {
		return fmt.Errorf("vault: encrypt access token: %w", err)
	}
	var refreshCiphertext []byte
	if strings.TrimSpace(in.RefreshToken) != "" {
		refreshCiphertext, err = v.cipher.Encrypt(ctx, []byte(in.RefreshToken))
		if err != nil {
			return fmt.Errorf("vault: encrypt refresh token: %w", err)
		}
	}

	now := v.now()
	record := Record{
		Provider:               in.Provider,
		ConnectionExternalID:   strings.TrimSpace(in.ConnectionExternalID),
		AccessTokenCiphertext:  accessCiphertext,
		RefreshTokenCiphertext: refreshCiphertext,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	existing, err := v.store.Get(ctx, record.Provider, record.ConnectionExternalID)
	if err != nil {
		return err
	}
	if existing != nil && !existing.CreatedAt.IsZero() {
		record.CreatedAt = existing.CreatedAt
	}
	return v.store.Put(ctx, record)
}

func (v *CipherVault) GetTokens(
	ctx context.Context,
	provider core.Provider,
	connectionExternalID string,
) (*core.TokenPair, error) {
	if v == nil {
		return nil, fmt.Errorf("vault: cipher vault is nil")
	}
	if err := validateKey(provider, connectionExternalID); err != nil {
		return nil, err
	}
	record, err := v.store.Get(ctx, provider, strings.TrimSpace(connectionExternalID))
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}

	accessToken, err := v.cipher.Decrypt(ctx, record.AccessTokenCiphertext)
	if err != nil {
		return nil, fmt.Errorf("vault: decrypt access token: %w", err)
	}
	pair := &core.TokenPair{AccessToken: string(accessToken)}
	if len(record.RefreshTokenCiphertext) > 0 {
		refreshToken, err := v.cipher.Decrypt(ctx, record.RefreshTokenCiphertext)
		if err != nil {
			return nil, fmt.Errorf("vault: decrypt refresh token: %w", err)
		}
		pair.RefreshToken = string(refreshToken)
	}
	return pair, nil
}

func (v *CipherVault) DeleteTokens(
	ctx context.Context,
	provider core.Provider,
	connectionExternalID string,
) error {
	if v == nil {
		return fmt.Errorf("vault: cipher vault is nil")
	}
	if err := validateKey(provider, connectionExternalID); err != nil {
		return err
	}
	return v.store.Delete(ctx, provider, strings.TrimSpace(connectionExternalID))
}

var _ core.TokenVault = (*CipherVault)(nil)
