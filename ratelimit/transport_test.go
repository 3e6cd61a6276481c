package ratelimit

import (
	"context"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-banksync/core"
)

type scriptedHTTPClient struct {
	responses []core.TransportResponse
	calls     int
}

func (c *scriptedHTTPClient) Send(_ context.Context, _ core.TransportRequest) (core.TransportResponse, error) {
	c.calls++
	if c.calls > len(c.responses) {
		return core.TransportResponse{StatusCode: 200}, nil
	}
	return c.responses[c.calls-1], nil
}

func TestTransport_BlocksAfterThrottledResponse(t *testing.T) {
	next := &scriptedHTTPClient{
		responses: []core.TransportResponse{
			{StatusCode: 429, Headers: map[string]string{"Retry-After": "30"}},
		},
	}
	policy := NewAdaptivePolicy(NewMemoryStateStore())
	now := time.Unix(1_700_000_000, 0).UTC()
	policy.Now = func() time.Time { return now }

	transport, err := NewTransport(next, policy, "plaid")
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}

	req := core.TransportRequest{Method: "POST", URL: "https://sandbox.plaid.com/transactions/sync"}
	res, err := transport.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("first send: %v", err)
	}
	if res.StatusCode != 429 {
		t.Fatalf("expected provider 429 surfaced, got %d", res.StatusCode)
	}

	now = now.Add(10 * time.Second)
	_, err = transport.Send(context.Background(), req)
	if err == nil {
		t.Fatalf("expected throttled call to fail before reaching the network")
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected rich error, got %T", err)
	}
	if rich.TextCode != core.ErrorRateLimited {
		t.Fatalf("expected %q, got %q", core.ErrorRateLimited, rich.TextCode)
	}
	if next.calls != 1 {
		t.Fatalf("expected one network call, got %d", next.calls)
	}

	now = now.Add(30 * time.Second)
	if _, err := transport.Send(context.Background(), req); err != nil {
		t.Fatalf("expected call after throttle window to pass: %v", err)
	}
	if next.calls != 2 {
		t.Fatalf("expected second network call after window, got %d", next.calls)
	}
}

func TestTransport_BucketsByLastPathSegment(t *testing.T) {
	next := &scriptedHTTPClient{
		responses: []core.TransportResponse{
			{StatusCode: 429, Headers: map[string]string{"Retry-After": "30"}},
			{StatusCode: 200},
		},
	}
	policy := NewAdaptivePolicy(NewMemoryStateStore())
	now := time.Unix(1_700_000_000, 0).UTC()
	policy.Now = func() time.Time { return now }

	transport, err := NewTransport(next, policy, "plaid")
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}

	syncReq := core.TransportRequest{Method: "POST", URL: "https://sandbox.plaid.com/transactions/sync"}
	if _, err := transport.Send(context.Background(), syncReq); err != nil {
		t.Fatalf("throttle-seeding send: %v", err)
	}

	// A different endpoint bucket of the same provider stays open.
	linkReq := core.TransportRequest{Method: "POST", URL: "https://sandbox.plaid.com/link/token/create"}
	if _, err := transport.Send(context.Background(), linkReq); err != nil {
		t.Fatalf("expected separate bucket to pass: %v", err)
	}
	if next.calls != 2 {
		t.Fatalf("expected both network calls, got %d", next.calls)
	}
}

func TestTransport_RequiresDependencies(t *testing.T) {
	policy := NewAdaptivePolicy(NewMemoryStateStore())
	if _, err := NewTransport(nil, policy, "plaid"); err == nil {
		t.Fatalf("expected missing next client to fail")
	}
	if _, err := NewTransport(&scriptedHTTPClient{}, nil, "plaid"); err == nil {
		t.Fatalf("expected missing policy to fail")
	}
	if _, err := NewTransport(&scriptedHTTPClient{}, policy, "  "); err == nil {
		t.Fatalf("expected blank provider to fail")
	}
}
