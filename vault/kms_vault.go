package vault

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-banksync/core"
)

type KMSEncryptRequest struct {
	KeyID             string
	Plaintext         []byte
	EncryptionContext map[string]string
}

type KMSEncryptResponse struct {
	Ciphertext []byte
}

type KMSDecryptRequest struct {
	KeyID             string
	Ciphertext        []byte
	EncryptionContext map[string]string
}

type KMSDecryptResponse struct {
	Plaintext []byte
}

// KMSClient is the normalized shape cloud adapters reduce their SDK
// flavors to. Implementations must bind the encryption context as AAD:
// decrypting under a different context has to fail, never return wrong
// plaintext.
type KMSClient interface {
	Encrypt(ctx context.Context, req KMSEncryptRequest) (KMSEncryptResponse, error)
	Decrypt(ctx context.Context, req KMSDecryptRequest) (KMSDecryptResponse, error)
}

// KMSVault stores tokens via envelope encryption through a KMS client.
// Every token is bound to {baseContext..., provider,
// connection_external_id, token_type}, so ciphertext cannot be replayed
// against a different connection or token slot.
type KMSVault struct {
	client      KMSClient
	store       RecordStore
	keyID       string
	baseContext map[string]string
	now         func() time.Time
}

type KMSVaultOption func(*KMSVault)

func WithKMSBaseContext(context map[string]string) KMSVaultOption {
	return func(v *KMSVault) {
		v.baseContext = copyStringMap(context)
	}
}

func WithKMSVaultClock(now func() time.Time) KMSVaultOption {
	return func(v *KMSVault) {
		if now != nil {
			v.now = now
		}
	}
}

func NewKMSVault(client KMSClient, store RecordStore, keyID string, opts ...KMSVaultOption) (*KMSVault, error) {
	if client == nil {
		return nil, fmt.Errorf("vault: kms client is required")
	}
	if store == nil {
		return nil, fmt.Errorf("vault: record store is required")
	}
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		return nil, fmt.Errorf("vault: kms key id is required")
	}
	v := &KMSVault{
		client: client,
		store:  store,
		keyID:  keyID,
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

func (v *KMSVault) SetTokens(ctx context.Context, in core.SetTokensInput) error {
	if v == nil {
		return fmt.Errorf("vault: kms vault is nil")
	}
	if err := validateSetInput(in); err != nil {
		return err
	}

	externalID := strings.TrimSpace(in.ConnectionExternalID)
	accessCiphertext, err := v.encrypt(ctx, in.Provider, externalID, tokenTypeAccess, in.AccessToken)
	if err != nil {
		return err
	}
	var refreshCiphertext []byte
	if strings.TrimSpace(in.RefreshToken) != "" {
		refreshCiphertext, err = v.encrypt(ctx, in.Provider, externalID, tokenTypeRefresh, in.RefreshToken)
		if err != nil {
			return err
		}
	}

	now := v.now()
	record := Record{
		Provider:               in.Provider,
		ConnectionExternalID:   externalID,
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

func (v *KMSVault) GetTokens(
	ctx context.Context,
	provider core.Provider,
	connectionExternalID string,
) (*core.TokenPair, error) {
	if v == nil {
		return nil, fmt.Errorf("vault: kms vault is nil")
	}
	if err := validateKey(provider, connectionExternalID); err != nil {
		return nil, err
	}
	externalID := strings.TrimSpace(connectionExternalID)
	record, err := v.store.Get(ctx, provider, externalID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}

	accessToken, err := v.decrypt(ctx, provider, externalID, tokenTypeAccess, record.AccessTokenCiphertext)
	if err != nil {
		return nil, err
	}
	pair := &core.TokenPair{AccessToken: accessToken}
	if len(record.RefreshTokenCiphertext) > 0 {
		refreshToken, err := v.decrypt(ctx, provider, externalID, tokenTypeRefresh, record.RefreshTokenCiphertext)
		if err != nil {
			return nil, err
		}
		pair.RefreshToken = refreshToken
	}
	return pair, nil
}

func (v *KMSVault) DeleteTokens(
	ctx context.Context,
	provider core.Provider,
	connectionExternalID string,
) error {
	if v == nil {
		return fmt.Errorf("vault: kms vault is nil")
	}
	if err := validateKey(provider, connectionExternalID); err != nil {
		return err
	}
	return v.store.Delete(ctx, provider, strings.TrimSpace(connectionExternalID))
}

func (v *KMSVault) encrypt(
	ctx context.Context,
	provider core.Provider,
	connectionExternalID string,
	tokenType string,
	plaintext string,
) ([]byte, error) {
	response, err := v.client.Encrypt(ctx, KMSEncryptRequest{
		KeyID:             v.keyID,
		Plaintext:         []byte(plaintext),
		EncryptionContext: v.encryptionContext(provider, connectionExternalID, tokenType),
	})
	if err != nil {
		return nil, fmt.Errorf("vault: kms encrypt %s token: %w", tokenType, err)
	}
	if len(response.Ciphertext) == 0 {
		return nil, fmt.Errorf("vault: kms encrypt returned empty ciphertext")
	}
	return response.Ciphertext, nil
}

func (v *KMSVault) decrypt(
	ctx context.Context,
	provider core.Provider,
	connectionExternalID string,
	tokenType string,
	ciphertext []byte,
) (string, error) {
	response, err := v.client.Decrypt(ctx, KMSDecryptRequest{
		KeyID:             v.keyID,
		Ciphertext:        ciphertext,
		EncryptionContext: v.encryptionContext(provider, connectionExternalID, tokenType),
	})
	if err != nil {
		return "", fmt.Errorf("vault: kms decrypt %s token: %w", tokenType, err)
	}
	if len(response.Plaintext) == 0 {
		return "", fmt.Errorf("vault: kms decrypt returned empty plaintext")
	}
	return string(response.Plaintext), nil
}

func (v *KMSVault) encryptionContext(
	provider core.Provider,
	connectionExternalID string,
	tokenType string,
) map[string]string {
	context := make(map[string]string, len(v.baseContext)+3)
	for key, value := range v.baseContext {
		context[key] = value
	}
	context["provider"] = string(provider)
	context["connection_external_id"] = connectionExternalID
	context["token_type"] = tokenType
	return context
}

func copyStringMap(input map[string]string) map[string]string {
	if len(input) == 0 {
		return nil
	}
	output := make(map[string]string, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		output[trimmedKey] = strings.TrimSpace(value)
	}
	if len(output) == 0 {
		return nil
	}
	return output
}

var _ core.TokenVault = (*KMSVault)(nil)
