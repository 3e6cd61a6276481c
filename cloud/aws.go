package cloud

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-banksync/core"
	"github.com/goliatone/go-banksync/vault"
	"github.com/goliatone/go-banksync/webhooks"
)

// AWSKMSAPI is the slice of the AWS KMS surface the vault needs. The
// aws-sdk-go-v2 kms.Client satisfies it through a thin caller-side
// wrapper; tests inject fakes.
type AWSKMSAPI interface {
	Encrypt(ctx context.Context, keyID string, plaintext []byte, encryptionContext map[string]string) ([]byte, error)
	Decrypt(ctx context.Context, keyID string, ciphertext []byte, encryptionContext map[string]string) ([]byte, error)
}

// AWSKMSClient normalizes an AWS KMS caller to the vault's client
// shape. The encryption context passes through unchanged; KMS binds it
// as AAD on the service side.
type AWSKMSClient struct {
	api AWSKMSAPI
}

func NewAWSKMSClient(api AWSKMSAPI) (*AWSKMSClient, error) {
	if api == nil {
		return nil, fmt.Errorf("cloud: aws kms api is required")
	}
	return &AWSKMSClient{api: api}, nil
}

func (c *AWSKMSClient) Encrypt(ctx context.Context, req vault.KMSEncryptRequest) (vault.KMSEncryptResponse, error) {
	if c == nil || c.api == nil {
		return vault.KMSEncryptResponse{}, fmt.Errorf("cloud: aws kms client is not configured")
	}
	ciphertext, err := c.api.Encrypt(ctx, req.KeyID, req.Plaintext, req.EncryptionContext)
	if err != nil {
		return vault.KMSEncryptResponse{}, fmt.Errorf("cloud: aws kms encrypt: %w", err)
	}
	return vault.KMSEncryptResponse{Ciphertext: ciphertext}, nil
}

func (c *AWSKMSClient) Decrypt(ctx context.Context, req vault.KMSDecryptRequest) (vault.KMSDecryptResponse, error) {
	if c == nil || c.api == nil {
		return vault.KMSDecryptResponse{}, fmt.Errorf("cloud: aws kms client is not configured")
	}
	plaintext, err := c.api.Decrypt(ctx, req.KeyID, req.Ciphertext, req.EncryptionContext)
	if err != nil {
		return vault.KMSDecryptResponse{}, fmt.Errorf("cloud: aws kms decrypt: %w", err)
	}
	return vault.KMSDecryptResponse{Plaintext: plaintext}, nil
}

// AWSSecretsAPI fetches one secret value by id, the shape of Secrets
// Manager's GetSecretValue.
type AWSSecretsAPI interface {
	GetSecretValue(ctx context.Context, secretID string) (string, error)
}

// AWSSecretResolver resolves webhook signing secrets from Secrets
// Manager, one secret per provider under a shared prefix:
// {prefix}/webhooks/{provider}.
type AWSSecretResolver struct {
	api    AWSSecretsAPI
	prefix string
}

func NewAWSSecretResolver(api AWSSecretsAPI, prefix string) (*AWSSecretResolver, error) {
	if api == nil {
		return nil, fmt.Errorf("cloud: aws secrets api is required")
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return nil, fmt.Errorf("cloud: secret prefix is required")
	}
	return &AWSSecretResolver{api: api, prefix: prefix}, nil
}

func (r *AWSSecretResolver) Resolve(
	ctx context.Context,
	provider core.Provider,
	_ map[string]string,
) (string, error) {
	if r == nil || r.api == nil {
		return "", fmt.Errorf("cloud: aws secret resolver is not configured")
	}
	secretID := fmt.Sprintf("%s/webhooks/%s", r.prefix, provider)
	value, err := r.api.GetSecretValue(ctx, secretID)
	if err != nil {
		return "", fmt.Errorf("cloud: aws secret %q: %w", secretID, err)
	}
	return value, nil
}

var (
	_ vault.KMSClient         = (*AWSKMSClient)(nil)
	_ webhooks.SecretResolver = (*AWSSecretResolver)(nil)
)
