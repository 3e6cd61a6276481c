package inbound

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"

	"github.com/goliatone/go-banksync/connector"
	"github.com/goliatone/go-banksync/core"
)

const defaultClaimTTL = 10 * time.Minute

func badDelivery(message string, fields map[string]any) error {
	err := goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.ErrorBadInput)
	if len(fields) > 0 {
		err.WithMetadata(fields)
	}
	return err
}

func internalFault(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.ErrorInternal)
}

// Ingestor is the connector surface the dispatcher delivers into.
// *connector.Service satisfies it.
type Ingestor interface {
	IngestWebhook(ctx context.Context, in connector.IngestWebhookInput) (connector.IngestResult, error)
}

// ClaimStore provides the idempotency claim lifecycle. Claim returns
// ok=false when the key is already held or completed within its TTL.
type ClaimStore interface {
	Claim(ctx context.Context, key string, lease time.Duration) (claimID string, ok bool, err error)
	Complete(ctx context.Context, claimID string) error
	Fail(ctx context.Context, claimID string, cause error, retryAt time.Time) error
}

// Delivery is one raw webhook delivery as it arrived on the wire.
type Delivery struct {
	Provider  core.Provider
	EventID   string
	EventType string
	Headers   map[string]string
	Body      []byte
}

// Outcome reports what happened to a delivery. Duplicate deliveries
// are acknowledged without re-ingesting.
type Outcome struct {
	Accepted   bool
	Duplicate  bool
	StatusCode int
	Record     core.WebhookRecord
}

type IdempotencyKeyExtractor func(delivery Delivery) (string, error)

type Dispatcher struct {
	ingestor   Ingestor
	store      ClaimStore
	extractKey IdempotencyKeyExtractor
	claimTTL   time.Duration
}

type DispatcherOption func(*Dispatcher)

func WithIdempotencyKeyExtractor(extract IdempotencyKeyExtractor) DispatcherOption {
	return func(d *Dispatcher) {
		if extract != nil {
			d.extractKey = extract
		}
	}
}

func WithClaimTTL(ttl time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if ttl > 0 {
			d.claimTTL = ttl
		}
	}
}

func NewDispatcher(ingestor Ingestor, store ClaimStore, opts ...DispatcherOption) (*Dispatcher, error) {
	if ingestor == nil {
		return nil, badDelivery("inbound: ingestor is required", nil)
	}
	d := &Dispatcher{
		ingestor:   ingestor,
		store:      store,
		extractKey: DefaultIdempotencyKey,
		claimTTL:   defaultClaimTTL,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(d)
	}
	return d, nil
}

// Dispatch claims the delivery's idempotency key, hands the payload to
// the connector, and settles the claim. A deterministic rejection
// (bad signature) completes the claim: replaying the same payload
// cannot change the outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, delivery Delivery) (Outcome, error) {
	if d == nil || d.ingestor == nil {
		return Outcome{}, internalFault("inbound: dispatcher is not configured")
	}
	provider := core.Provider(strings.TrimSpace(string(delivery.Provider)))
	if provider == "" {
		return Outcome{}, badDelivery("inbound: provider is required", nil)
	}
	delivery.Provider = provider

	claimID := ""
	if d.store != nil {
		key, err := d.extractKey(delivery)
		if err != nil {
			return Outcome{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "inbound: resolve idempotency key").
				WithCode(http.StatusBadRequest).
				WithTextCode(core.ErrorBadInput).
				WithMetadata(map[string]any{"provider": string(provider)})
		}
		var accepted bool
		claimID, accepted, err = d.store.Claim(ctx, string(provider)+":"+key, d.claimTTL)
		if err != nil {
			return Outcome{}, goerrors.Wrap(err, goerrors.CategoryOperation, "inbound: idempotency claim failed").
				WithCode(http.StatusInternalServerError).
				WithTextCode(core.ErrorInternal).
				WithMetadata(map[string]any{"provider": string(provider), "idempotency": key})
		}
		if !accepted {
			return Outcome{Accepted: true, Duplicate: true, StatusCode: http.StatusOK}, nil
		}
	}

	result, err := d.ingestor.IngestWebhook(ctx, connector.IngestWebhookInput{
		Provider:  provider,
		EventID:   delivery.EventID,
		EventType: delivery.EventType,
		Headers:   delivery.Headers,
		Body:      delivery.Body,
	})
	if err != nil {
		ingestErr := goerrors.Wrap(err, goerrors.CategoryOperation, "inbound: webhook ingestion failed").
			WithCode(http.StatusInternalServerError).
			WithTextCode(core.ErrorInternal).
			WithMetadata(map[string]any{"provider": string(provider)})
		if d.store != nil && claimID != "" {
			if failErr := d.store.Fail(ctx, claimID, err, time.Time{}); failErr != nil {
				return Outcome{}, errors.Join(ingestErr, failErr)
			}
		}
		return Outcome{}, ingestErr
	}

	if d.store != nil && claimID != "" {
		if err := d.store.Complete(ctx, claimID); err != nil {
			return Outcome{}, goerrors.Wrap(err, goerrors.CategoryOperation, "inbound: complete idempotency claim").
				WithCode(http.StatusInternalServerError).
				WithTextCode(core.ErrorInternal).
				WithMetadata(map[string]any{"provider": string(provider), "claim_id": claimID})
		}
	}

	outcome := Outcome{
		Accepted:   result.Accepted,
		StatusCode: http.StatusOK,
		Record:     result.Record,
	}
	if !result.Accepted {
		outcome.StatusCode = http.StatusUnauthorized
	}
	return outcome, nil
}

// DefaultIdempotencyKey prefers an explicit delivery id and falls back
// to a digest of the raw body, so providers without delivery ids still
// dedupe exact retries.
func DefaultIdempotencyKey(delivery Delivery) (string, error) {
	if value := strings.TrimSpace(delivery.EventID); value != "" {
		return value, nil
	}
	for _, header := range []string{"Idempotency-Key", "X-Idempotency-Key", "X-Message-Id", "Webhook-Id"} {
		if value := headerValue(delivery.Headers, header); value != "" {
			return value, nil
		}
	}
	if len(delivery.Body) == 0 {
		return "", badDelivery("inbound: delivery has no idempotency key and no body", map[string]any{
			"provider": string(delivery.Provider),
		})
	}
	digest := sha256.Sum256(delivery.Body)
	return "body:" + hex.EncodeToString(digest[:]), nil
}

type claimState string

const (
	claimStateHeld     claimState = "held"
	claimStateComplete claimState = "complete"
	claimStateRetry    claimState = "retry"
)

type claim struct {
	key       string
	state     claimState
	claimID   string
	leaseTTL  time.Duration
	expiresAt time.Time
	retryAt   time.Time
}

// MemoryClaimStore keeps idempotency claims in process memory.
// Completed claims evict after their TTL.
type MemoryClaimStore struct {
	mu      sync.Mutex
	byKey   map[string]claim
	byClaim map[string]string

	Now func() time.Time
}

func NewMemoryClaimStore() *MemoryClaimStore {
	return &MemoryClaimStore{
		byKey:   map[string]claim{},
		byClaim: map[string]string{},
	}
}

func (s *MemoryClaimStore) Claim(_ context.Context, key string, lease time.Duration) (string, bool, error) {
	if s == nil {
		return "", false, internalFault("inbound: claim store is nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, badDelivery("inbound: idempotency key is required", nil)
	}
	if lease <= 0 {
		lease = defaultClaimTTL
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpired(now)

	existing, found := s.byKey[key]
	if found {
		switch existing.state {
		case claimStateComplete:
			if now.Before(existing.expiresAt) {
				return "", false, nil
			}
		case claimStateHeld:
			if now.Before(existing.expiresAt) {
				return "", false, nil
			}
		case claimStateRetry:
			if !existing.retryAt.IsZero() && now.Before(existing.retryAt) {
				return "", false, nil
			}
		}
		delete(s.byClaim, existing.claimID)
	}

	claimID := uuid.NewString()
	s.byKey[key] = claim{
		key:       key,
		state:     claimStateHeld,
		claimID:   claimID,
		leaseTTL:  lease,
		expiresAt: now.Add(lease),
	}
	s.byClaim[claimID] = key
	return claimID, true, nil
}

func (s *MemoryClaimStore) Complete(_ context.Context, claimID string) error {
	if s == nil {
		return internalFault("inbound: claim store is nil")
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return badDelivery("inbound: claim id is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key, found := s.byClaim[claimID]
	if !found {
		return nil
	}
	entry, exists := s.byKey[key]
	if !exists || entry.claimID != claimID || entry.state != claimStateHeld {
		delete(s.byClaim, claimID)
		return nil
	}
	entry.state = claimStateComplete
	entry.expiresAt = s.now().Add(entry.leaseTTL)
	entry.retryAt = time.Time{}
	s.byKey[key] = entry
	delete(s.byClaim, claimID)
	return nil
}

func (s *MemoryClaimStore) Fail(_ context.Context, claimID string, _ error, retryAt time.Time) error {
	if s == nil {
		return internalFault("inbound: claim store is nil")
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return badDelivery("inbound: claim id is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key, found := s.byClaim[claimID]
	if !found {
		return nil
	}
	entry, exists := s.byKey[key]
	if !exists || entry.claimID != claimID || entry.state != claimStateHeld {
		delete(s.byClaim, claimID)
		return nil
	}
	if retryAt.IsZero() {
		retryAt = s.now()
	}
	entry.state = claimStateRetry
	entry.retryAt = retryAt.UTC()
	entry.expiresAt = time.Time{}
	s.byKey[key] = entry
	delete(s.byClaim, claimID)
	return nil
}

func (s *MemoryClaimStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *MemoryClaimStore) evictExpired(now time.Time) {
	for key, entry := range s.byKey {
		if entry.state != claimStateComplete {
			continue
		}
		if entry.expiresAt.IsZero() || !now.Before(entry.expiresAt) {
			delete(s.byClaim, entry.claimID)
			delete(s.byKey, key)
		}
	}
}

func headerValue(headers map[string]string, key string) string {
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

var _ ClaimStore = (*MemoryClaimStore)(nil)
