// Package banksync assembles the bank-data connector: provider
// routing, encrypted token storage, webhook verification, audit
// logging, and cursor-driven transaction sync behind one runtime.
package banksync

import (
	"github.com/goliatone/go-banksync/connector"
	"github.com/goliatone/go-banksync/core"
)

type Provider = core.Provider

type Connection = core.Connection

type ConnectionStatus = core.ConnectionStatus

type Transaction = core.Transaction

type TransactionDelta = core.TransactionDelta

type SyncCursorState = core.SyncCursorState

type WebhookRecord = core.WebhookRecord

type AuditEntry = core.AuditEntry

type Storage = core.Storage

type TokenVault = core.TokenVault

type ProviderClient = core.ProviderClient

type ProviderRouter = core.ProviderRouter

type Logger = core.Logger

type Service = connector.Service

type SyncInput = connector.SyncInput

type SyncOutcome = connector.SyncOutcome

type IngestWebhookInput = connector.IngestWebhookInput

type IngestResult = connector.IngestResult

const (
	ProviderPlaid = core.ProviderPlaid
)

var NewProviderRouter = core.NewProviderRouter
