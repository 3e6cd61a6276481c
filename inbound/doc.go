// Package inbound accepts provider-originated webhook deliveries and
// feeds them to the connector.
//
// Deliveries use claim/complete/fail idempotency semantics so provider
// retries of an already-processed webhook are acknowledged without
// re-ingesting, while transient failures remain retryable.
package inbound
