package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-banksync/core"
)

const DefaultMaxTimestampAge = 300 * time.Second

type Reason string

const (
	ReasonProviderNotConfigured Reason = "provider_not_configured"
	ReasonMissingSignature      Reason = "missing_signature"
	ReasonMissingTimestamp      Reason = "missing_timestamp"
	ReasonTimestampOutOfRange   Reason = "timestamp_out_of_range"
	ReasonSecretUnavailable     Reason = "secret_unavailable"
	ReasonInvalidSignature      Reason = "invalid_signature"
)

type DigestEncoding string

const (
	DigestEncodingHex    DigestEncoding = "hex"
	DigestEncodingBase64 DigestEncoding = "base64"
)

// SecretResolver resolves the signing secret for one delivery. An
// empty secret or an error both surface as secret_unavailable; the
// verifier never propagates resolver failures as panics or errors.
type SecretResolver interface {
	Resolve(ctx context.Context, provider core.Provider, headers map[string]string) (string, error)
}

// SignedPayloadBuilder assembles the bytes the HMAC is computed over.
// The default is "{timestamp}.{rawBody}" when a timestamp header is
// configured, else the raw body alone.
type SignedPayloadBuilder func(timestamp string, body []byte) []byte

// Strategy describes one provider's HMAC scheme.
type Strategy struct {
	SignatureHeader    string
	SignaturePrefix    string
	TimestampHeader    string
	MaxTimestampAge    time.Duration
	Encoding           DigestEncoding
	Secrets            SecretResolver
	BuildSignedPayload SignedPayloadBuilder
}

// Request carries the raw inbound webhook. Body must be the exact raw
// payload bytes; the signature is computed over them unmodified.
type Request struct {
	Provider core.Provider
	Headers  map[string]string
	Body     []byte
}

// Result is the structured verification outcome. Verification never
// returns an error; every failure maps to a closed reason code so the
// hot ingestion path can always log and record the attempt.
type Result struct {
	Verified bool
	Reason   Reason
	Detail   string
}

type VerifierOption func(*Verifier)

func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// Verifier checks webhook signatures per provider strategy. Configure
// and Verify are safe to call concurrently.
type Verifier struct {
	mu         sync.RWMutex
	strategies map[core.Provider]Strategy
	now        func() time.Time
}

func NewVerifier(opts ...VerifierOption) *Verifier {
	v := &Verifier{
		strategies: make(map[core.Provider]Strategy),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(v)
	}
	return v
}

func (v *Verifier) Configure(provider core.Provider, strategy Strategy) error {
	if v == nil {
		return fmt.Errorf("webhooks: verifier is nil")
	}
	if strings.TrimSpace(string(provider)) == "" {
		return fmt.Errorf("webhooks: provider is required")
	}
	if strings.TrimSpace(strategy.SignatureHeader) == "" {
		return fmt.Errorf("webhooks: signature header is required")
	}
	if strategy.Secrets == nil {
		return fmt.Errorf("webhooks: secret resolver is required")
	}
	if strategy.MaxTimestampAge <= 0 {
		strategy.MaxTimestampAge = DefaultMaxTimestampAge
	}
	if strategy.Encoding == "" {
		strategy.Encoding = DigestEncodingHex
	}
	v.mu.Lock()
	v.strategies[provider] = strategy
	v.mu.Unlock()
	return nil
}

func (v *Verifier) Verify(ctx context.Context, req Request) Result {
	if v == nil {
		return Result{Reason: ReasonProviderNotConfigured, Detail: "verifier is not configured"}
	}
	v.mu.RLock()
	strategy, ok := v.strategies[req.Provider]
	v.mu.RUnlock()
	if !ok {
		return Result{
			Reason: ReasonProviderNotConfigured,
			Detail: fmt.Sprintf("no webhook strategy for provider %q", req.Provider),
		}
	}

	signature, ok := v.readSignature(strategy, req.Headers)
	if !ok {
		return Result{
			Reason: ReasonMissingSignature,
			Detail: fmt.Sprintf("header %q is missing", strategy.SignatureHeader),
		}
	}

	timestamp := ""
	if strings.TrimSpace(strategy.TimestampHeader) != "" {
		timestamp = headerValue(req.Headers, strategy.TimestampHeader)
		epoch, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
		if err != nil {
			return Result{
				Reason: ReasonMissingTimestamp,
				Detail: fmt.Sprintf("header %q is missing or not epoch seconds", strategy.TimestampHeader),
			}
		}
		age := v.now().Unix() - epoch
		if age < 0 {
			age = -age
		}
		if time.Duration(age)*time.Second > strategy.MaxTimestampAge {
			return Result{
				Reason: ReasonTimestampOutOfRange,
				Detail: fmt.Sprintf("timestamp is %ds away from now, max age %s", age, strategy.MaxTimestampAge),
			}
		}
		timestamp = strings.TrimSpace(timestamp)
	}

	secret, err := strategy.Secrets.Resolve(ctx, req.Provider, req.Headers)
	if err != nil {
		return Result{Reason: ReasonSecretUnavailable, Detail: err.Error()}
	}
	if strings.TrimSpace(secret) == "" {
		return Result{
			Reason: ReasonSecretUnavailable,
			Detail: fmt.Sprintf("no signing secret for provider %q", req.Provider),
		}
	}

	payload := v.signedPayload(strategy, timestamp, req.Body)
	expected := computeDigest(secret, payload, strategy.Encoding)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return Result{Reason: ReasonInvalidSignature, Detail: "signature does not match expected digest"}
	}
	return Result{Verified: true}
}

// readSignature extracts the signature token from the configured
// header. The header may hold comma-separated tokens; the first one
// carrying the configured prefix wins, with the prefix stripped.
func (v *Verifier) readSignature(strategy Strategy, headers map[string]string) (string, bool) {
	raw := headerValue(headers, strategy.SignatureHeader)
	if raw == "" {
		return "", false
	}
	prefix := strategy.SignaturePrefix
	if prefix == "" {
		return raw, true
	}
	for _, token := range strings.Split(raw, ",") {
		token = strings.TrimSpace(token)
		if strings.HasPrefix(token, prefix) {
			return strings.TrimPrefix(token, prefix), true
		}
	}
	return "", false
}

func (v *Verifier) signedPayload(strategy Strategy, timestamp string, body []byte) []byte {
	if strategy.BuildSignedPayload != nil {
		return strategy.BuildSignedPayload(timestamp, body)
	}
	if strings.TrimSpace(strategy.TimestampHeader) != "" {
		payload := make([]byte, 0, len(timestamp)+1+len(body))
		payload = append(payload, timestamp...)
		payload = append(payload, '.')
		payload = append(payload, body...)
		return payload
	}
	return body
}

func computeDigest(secret string, payload []byte, encoding DigestEncoding) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	sum := mac.Sum(nil)
	if encoding == DigestEncodingBase64 {
		return base64.StdEncoding.EncodeToString(sum)
	}
	return hex.EncodeToString(sum)
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
