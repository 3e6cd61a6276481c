package cloud

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-banksync/core"
	"github.com/goliatone/go-banksync/vault"
	"github.com/goliatone/go-banksync/webhooks"
)

// GCPKMSAPI is the slice of Cloud KMS the vault needs. Cloud KMS takes
// additional authenticated data as raw bytes rather than a context
// map; the adapter canonicalizes the map before each call.
type GCPKMSAPI interface {
	Encrypt(ctx context.Context, keyName string, plaintext, additionalAuthenticatedData []byte) ([]byte, error)
	Decrypt(ctx context.Context, keyName string, ciphertext, additionalAuthenticatedData []byte) ([]byte, error)
}

// GCPKMSClient normalizes a Cloud KMS caller to the vault's client
// shape, folding the encryption context into AAD deterministically so
// a context mismatch always fails decryption.
type GCPKMSClient struct {
	api GCPKMSAPI
}

func NewGCPKMSClient(api GCPKMSAPI) (*GCPKMSClient, error) {
	if api == nil {
		return nil, fmt.Errorf("cloud: gcp kms api is required")
	}
	return &GCPKMSClient{api: api}, nil
}

func (c *GCPKMSClient) Encrypt(ctx context.Context, req vault.KMSEncryptRequest) (vault.KMSEncryptResponse, error) {
	if c == nil || c.api == nil {
		return vault.KMSEncryptResponse{}, fmt.Errorf("cloud: gcp kms client is not configured")
	}
	ciphertext, err := c.api.Encrypt(ctx, req.KeyID, req.Plaintext, canonicalContext(req.EncryptionContext))
	if err != nil {
		return vault.KMSEncryptResponse{}, fmt.Errorf("cloud: gcp kms encrypt: %w", err)
	}
	return vault.KMSEncryptResponse{Ciphertext: ciphertext}, nil
}

func (c *GCPKMSClient) Decrypt(ctx context.Context, req vault.KMSDecryptRequest) (vault.KMSDecryptResponse, error) {
	if c == nil || c.api == nil {
		return vault.KMSDecryptResponse{}, fmt.Errorf("cloud: gcp kms client is not configured")
	}
	plaintext, err := c.api.Decrypt(ctx, req.KeyID, req.Ciphertext, canonicalContext(req.EncryptionContext))
	if err != nil {
		return vault.KMSDecryptResponse{}, fmt.Errorf("cloud: gcp kms decrypt: %w", err)
	}
	return vault.KMSDecryptResponse{Plaintext: plaintext}, nil
}

// GCPSecretsAPI reads the latest version of a named secret, the shape
// of Secret Manager's AccessSecretVersion.
type GCPSecretsAPI interface {
	AccessSecret(ctx context.Context, name string) ([]byte, error)
}

// GCPSecretResolver resolves webhook signing secrets from Secret
// Manager. Secret names follow
// projects/{project}/secrets/{prefix}-webhooks-{provider}/versions/latest.
type GCPSecretResolver struct {
	api     GCPSecretsAPI
	project string
	prefix  string
}

func NewGCPSecretResolver(api GCPSecretsAPI, project, prefix string) (*GCPSecretResolver, error) {
	if api == nil {
		return nil, fmt.Errorf("cloud: gcp secrets api is required")
	}
	project = strings.TrimSpace(project)
	if project == "" {
		return nil, fmt.Errorf("cloud: gcp project is required")
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), "-")
	if prefix == "" {
		return nil, fmt.Errorf("cloud: secret prefix is required")
	}
	return &GCPSecretResolver{api: api, project: project, prefix: prefix}, nil
}

func (r *GCPSecretResolver) Resolve(
	ctx context.Context,
	provider core.Provider,
	_ map[string]string,
) (string, error) {
	if r == nil || r.api == nil {
		return "", fmt.Errorf("cloud: gcp secret resolver is not configured")
	}
	name := fmt.Sprintf("projects/%s/secrets/%s-webhooks-%s/versions/latest", r.project, r.prefix, provider)
	value, err := r.api.AccessSecret(ctx, name)
	if err != nil {
		return "", fmt.Errorf("cloud: gcp secret %q: %w", name, err)
	}
	return string(value), nil
}

var (
	_ vault.KMSClient         = (*GCPKMSClient)(nil)
	_ webhooks.SecretResolver = (*GCPSecretResolver)(nil)
)
