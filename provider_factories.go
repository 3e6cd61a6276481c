package banksync

import (
	"github.com/goliatone/go-banksync/core"
	"github.com/goliatone/go-banksync/providers/plaid"
)

// PlaidProvider builds the Plaid client against an HTTP client port
// and a token vault, ready to register with a ProviderRouter.
func PlaidProvider(cfg plaid.Config, httpClient core.HTTPClient, tokenVault core.TokenVault) (core.ProviderClient, error) {
	return plaid.New(cfg, httpClient, tokenVault)
}
