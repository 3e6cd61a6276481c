package cloud

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/goliatone/go-banksync/vault"
)

// InsecureDevKMSClient is a local stand-in for a managed KMS. It runs
// AES-256-GCM with the canonicalized encryption context bound as AAD,
// so context mismatches fail exactly like they do against real KMS.
// The key lives in process memory; never deploy this outside local
// development.
type InsecureDevKMSClient struct {
	key []byte
}

func NewInsecureDevKMSClient(keyMaterial []byte) (*InsecureDevKMSClient, error) {
	if len(keyMaterial) == 0 {
		return nil, fmt.Errorf("cloud: dev key material is required")
	}
	sum := sha256.Sum256(keyMaterial)
	key := make([]byte, len(sum))
	copy(key, sum[:])
	return &InsecureDevKMSClient{key: key}, nil
}

func (c *InsecureDevKMSClient) Encrypt(_ context.Context, req vault.KMSEncryptRequest) (vault.KMSEncryptResponse, error) {
	if c == nil {
		return vault.KMSEncryptResponse{}, fmt.Errorf("cloud: dev kms client is nil")
	}
	if len(req.Plaintext) == 0 {
		return vault.KMSEncryptResponse{}, fmt.Errorf("cloud: plaintext is required")
	}
	gcm, err := c.gcm()
	if err != nil {
		return vault.KMSEncryptResponse{}, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return vault.KMSEncryptResponse{}, fmt.Errorf("cloud: nonce generation failed: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, req.Plaintext, canonicalContext(req.EncryptionContext))
	return vault.KMSEncryptResponse{Ciphertext: append(nonce, sealed...)}, nil
}

func (c *InsecureDevKMSClient) Decrypt(_ context.Context, req vault.KMSDecryptRequest) (vault.KMSDecryptResponse, error) {
	if c == nil {
		return vault.KMSDecryptResponse{}, fmt.Errorf("cloud: dev kms client is nil")
	}
	gcm, err := c.gcm()
	if err != nil {
		return vault.KMSDecryptResponse{}, err
	}
	if len(req.Ciphertext) <= gcm.NonceSize() {
		return vault.KMSDecryptResponse{}, fmt.Errorf("cloud: ciphertext is too short")
	}
	nonce := req.Ciphertext[:gcm.NonceSize()]
	sealed := req.Ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, canonicalContext(req.EncryptionContext))
	if err != nil {
		return vault.KMSDecryptResponse{}, fmt.Errorf("cloud: decrypt payload: %w", err)
	}
	return vault.KMSDecryptResponse{Plaintext: plaintext}, nil
}

func (c *InsecureDevKMSClient) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("cloud: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cloud: create gcm: %w", err)
	}
	return gcm, nil
}

var _ vault.KMSClient = (*InsecureDevKMSClient)(nil)
