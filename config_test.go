package banksync

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.Vault.KeyID = "alias/banksync"
	cfg.Webhooks.StaticSecrets = map[string]string{"plaid": "whsec_test"}
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ServiceName != "banksync" {
		t.Fatalf("expected service name banksync, got %q", cfg.ServiceName)
	}
	if cfg.Vault.Mode != VaultModeAWS {
		t.Fatalf("expected aws vault mode default, got %q", cfg.Vault.Mode)
	}
	if cfg.Webhooks.SecretSource != SecretSourceStatic {
		t.Fatalf("expected static secret source default, got %q", cfg.Webhooks.SecretSource)
	}
	if cfg.Storage.Kind != StorageKindMemory {
		t.Fatalf("expected memory storage default, got %q", cfg.Storage.Kind)
	}
	if cfg.Webhooks.maxTimestampAge() != 5*time.Minute {
		t.Fatalf("expected 5m timestamp age, got %s", cfg.Webhooks.maxTimestampAge())
	}
	if cfg.Webhooks.secretCacheTTL() != 5*time.Minute {
		t.Fatalf("expected 5m secret cache ttl, got %s", cfg.Webhooks.secretCacheTTL())
	}
}

func TestConfigValidate_FailFastBranches(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing service name",
			mutate:  func(c *Config) { c.ServiceName = " " },
			wantErr: "service_name",
		},
		{
			name:    "aws vault without key id",
			mutate:  func(c *Config) { c.Vault.KeyID = "" },
			wantErr: "vault.key_id",
		},
		{
			name: "insecure dev without opt-in",
			mutate: func(c *Config) {
				c.Vault.Mode = VaultModeInsecureDev
				c.Vault.DevKeyMaterial = "dev-material"
			},
			wantErr: "allow_insecure_dev",
		},
		{
			name: "insecure dev without key material",
			mutate: func(c *Config) {
				c.Vault.Mode = VaultModeInsecureDev
				c.Vault.AllowInsecureDev = true
			},
			wantErr: "dev_key_material",
		},
		{
			name:    "unknown vault mode",
			mutate:  func(c *Config) { c.Vault.Mode = "vault9000" },
			wantErr: "vault.mode",
		},
		{
			name:    "static source without secrets",
			mutate:  func(c *Config) { c.Webhooks.StaticSecrets = nil },
			wantErr: "static_secrets",
		},
		{
			name: "aws secret source without prefix",
			mutate: func(c *Config) {
				c.Webhooks.SecretSource = SecretSourceAWS
			},
			wantErr: "secret_prefix",
		},
		{
			name: "gcp secret source without project",
			mutate: func(c *Config) {
				c.Webhooks.SecretSource = SecretSourceGCP
				c.Webhooks.SecretPrefix = "banksync/webhooks"
			},
			wantErr: "gcp_project",
		},
		{
			name: "sql storage without dsn",
			mutate: func(c *Config) {
				c.Storage.Kind = StorageKindSQL
				c.Storage.Driver = "sqlite3"
			},
			wantErr: "storage.dsn",
		},
		{
			name: "plaid enabled without credentials",
			mutate: func(c *Config) {
				c.Plaid.Enabled = true
			},
			wantErr: "plaid.client_id",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error mentioning %q, got %v", tc.wantErr, err)
			}
		})
	}

	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config to pass, got %v", err)
	}
}

func TestEnvRawLoader_NestsAndCoerces(t *testing.T) {
	env := map[string]string{
		"BANKSYNC_SERVICE_NAME":                       "banksync-test",
		"BANKSYNC_VAULT_MODE":                         "insecure_dev",
		"BANKSYNC_VAULT_ALLOW_INSECURE_DEV":           "true",
		"BANKSYNC_PLAID_PAGE_SIZE":                    "1",
		"BANKSYNC_WEBHOOKS_MAX_TIMESTAMP_AGE_SECONDS": "0",
		"BANKSYNC_WEBHOOKS_SECRET_CACHE_TTL_SECONDS":  "120",
		"BANKSYNC_STORAGE_DSN":                        "  ",
	}
	loader := EnvRawLoader{Lookup: func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	}}

	raw, err := loader.LoadRaw()
	if err != nil {
		t.Fatalf("load raw: %v", err)
	}

	if raw["service_name"] != "banksync-test" {
		t.Fatalf("expected service_name, got %#v", raw["service_name"])
	}
	vaultSection, ok := raw["vault"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested vault section, got %#v", raw["vault"])
	}
	if vaultSection["mode"] != "insecure_dev" {
		t.Fatalf("expected vault.mode, got %#v", vaultSection["mode"])
	}
	if vaultSection["allow_insecure_dev"] != true {
		t.Fatalf("expected bool coercion, got %#v", vaultSection["allow_insecure_dev"])
	}
	plaidSection, ok := raw["plaid"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested plaid section, got %#v", raw["plaid"])
	}
	if plaidSection["page_size"] != 1 {
		t.Fatalf("expected int coercion for page_size=1, got %#v", plaidSection["page_size"])
	}
	webhooksSection, ok := raw["webhooks"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested webhooks section, got %#v", raw["webhooks"])
	}
	if webhooksSection["max_timestamp_age_seconds"] != 0 {
		t.Fatalf("expected int coercion for age=0, got %#v", webhooksSection["max_timestamp_age_seconds"])
	}
	if webhooksSection["secret_cache_ttl_seconds"] != 120 {
		t.Fatalf("expected secret cache ttl binding, got %#v", webhooksSection["secret_cache_ttl_seconds"])
	}
	if _, present := raw["storage"]; present {
		t.Fatalf("expected blank values skipped, got %#v", raw["storage"])
	}
}
