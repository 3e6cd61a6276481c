package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-banksync/core"
)

// BucketFunc derives the throttle bucket for an outgoing request.
type BucketFunc func(req core.TransportRequest) string

// Transport decorates an HTTP client port with an adaptive throttle
// policy. Calls inside an open throttle window fail without reaching
// the network.
type Transport struct {
	next     core.HTTPClient
	policy   *AdaptivePolicy
	provider string
	bucket   BucketFunc
}

type TransportOption func(*Transport)

// WithBucketFunc overrides how requests map to throttle buckets. The
// default uses the last URL path segment.
func WithBucketFunc(fn BucketFunc) TransportOption {
	return func(t *Transport) {
		if fn != nil {
			t.bucket = fn
		}
	}
}

func NewTransport(next core.HTTPClient, policy *AdaptivePolicy, provider string, opts ...TransportOption) (*Transport, error) {
	if next == nil {
		return nil, fmt.Errorf("ratelimit: next http client is required")
	}
	if policy == nil {
		return nil, fmt.Errorf("ratelimit: adaptive policy is required")
	}
	provider = strings.TrimSpace(strings.ToLower(provider))
	if provider == "" {
		return nil, fmt.Errorf("ratelimit: provider is required")
	}
	transport := &Transport{
		next:     next,
		policy:   policy,
		provider: provider,
		bucket:   pathBucket,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(transport)
		}
	}
	return transport, nil
}

func (t *Transport) Send(ctx context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	if t == nil || t.next == nil {
		return core.TransportResponse{}, fmt.Errorf("ratelimit: transport is not configured")
	}

	key := Key{Provider: t.provider, Bucket: t.bucket(req)}
	if err := t.policy.BeforeCall(ctx, key); err != nil {
		var throttled ThrottledError
		if errors.As(err, &throttled) {
			return core.TransportResponse{}, throttled.ToRichError()
		}
		return core.TransportResponse{}, err
	}

	res, err := t.next.Send(ctx, req)
	if err != nil {
		return res, err
	}

	if observeErr := t.policy.AfterCall(ctx, key, ResponseMeta{
		StatusCode: res.StatusCode,
		Headers:    res.Headers,
	}); observeErr != nil {
		return res, observeErr
	}
	return res, nil
}

func pathBucket(req core.TransportRequest) string {
	parsed, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil {
		return "default"
	}
	trimmed := strings.Trim(parsed.Path, "/")
	if trimmed == "" {
		return "default"
	}
	segments := strings.Split(trimmed, "/")
	return strings.ToLower(segments[len(segments)-1])
}

var _ core.HTTPClient = (*Transport)(nil)
