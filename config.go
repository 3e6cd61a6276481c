package banksync

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	VaultModeAWS         = "aws"
	VaultModeGCP         = "gcp"
	VaultModeInsecureDev = "insecure_dev"
)

const (
	SecretSourceStatic = "static"
	SecretSourceAWS    = "aws"
	SecretSourceGCP    = "gcp"
)

const (
	StorageKindMemory = "memory"
	StorageKindSQL    = "sql"
)

type VaultConfig struct {
	Mode             string            `koanf:"mode" mapstructure:"mode"`
	KeyID            string            `koanf:"key_id" mapstructure:"key_id"`
	AllowInsecureDev bool              `koanf:"allow_insecure_dev" mapstructure:"allow_insecure_dev"`
	DevKeyMaterial   string            `koanf:"dev_key_material" mapstructure:"dev_key_material"`
	BaseContext      map[string]string `koanf:"base_context" mapstructure:"base_context"`
}

type WebhookConfig struct {
	SecretSource           string            `koanf:"secret_source" mapstructure:"secret_source"`
	StaticSecrets          map[string]string `koanf:"static_secrets" mapstructure:"static_secrets"`
	SecretPrefix           string            `koanf:"secret_prefix" mapstructure:"secret_prefix"`
	GCPProject             string            `koanf:"gcp_project" mapstructure:"gcp_project"`
	MaxTimestampAgeSeconds int               `koanf:"max_timestamp_age_seconds" mapstructure:"max_timestamp_age_seconds"`
	SecretCacheTTLSeconds  int               `koanf:"secret_cache_ttl_seconds" mapstructure:"secret_cache_ttl_seconds"`
}

type StorageConfig struct {
	Kind         string `koanf:"kind" mapstructure:"kind"`
	Driver       string `koanf:"driver" mapstructure:"driver"`
	DSN          string `koanf:"dsn" mapstructure:"dsn"`
	CreateTables bool   `koanf:"create_tables" mapstructure:"create_tables"`
}

type PlaidConfig struct {
	Enabled     bool   `koanf:"enabled" mapstructure:"enabled"`
	ClientID    string `koanf:"client_id" mapstructure:"client_id"`
	Secret      string `koanf:"secret" mapstructure:"secret"`
	Environment string `koanf:"environment" mapstructure:"environment"`
	BaseURL     string `koanf:"base_url" mapstructure:"base_url"`
	ClientName  string `koanf:"client_name" mapstructure:"client_name"`
	PageSize    int    `koanf:"page_size" mapstructure:"page_size"`
}

type Config struct {
	ServiceName string        `koanf:"service_name" mapstructure:"service_name"`
	Vault       VaultConfig   `koanf:"vault" mapstructure:"vault"`
	Webhooks    WebhookConfig `koanf:"webhooks" mapstructure:"webhooks"`
	Storage     StorageConfig `koanf:"storage" mapstructure:"storage"`
	Plaid       PlaidConfig   `koanf:"plaid" mapstructure:"plaid"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "banksync",
		Vault: VaultConfig{
			Mode: VaultModeAWS,
		},
		Webhooks: WebhookConfig{
			SecretSource:           SecretSourceStatic,
			MaxTimestampAgeSeconds: 300,
			SecretCacheTTLSeconds:  300,
		},
		Storage: StorageConfig{
			Kind: StorageKindMemory,
		},
		Plaid: PlaidConfig{
			Environment: "sandbox",
			ClientName:  "banksync",
		},
	}
}

func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("banksync: config is nil")
	}
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("banksync: service_name is required")
	}

	switch strings.TrimSpace(c.Vault.Mode) {
	case VaultModeAWS, VaultModeGCP:
		if strings.TrimSpace(c.Vault.KeyID) == "" {
			return fmt.Errorf("banksync: vault.key_id is required for vault mode %q", c.Vault.Mode)
		}
	case VaultModeInsecureDev:
		if !c.Vault.AllowInsecureDev {
			return fmt.Errorf("banksync: vault mode %q requires vault.allow_insecure_dev=true", VaultModeInsecureDev)
		}
		if strings.TrimSpace(c.Vault.DevKeyMaterial) == "" {
			return fmt.Errorf("banksync: vault.dev_key_material is required for vault mode %q", VaultModeInsecureDev)
		}
	default:
		return fmt.Errorf("banksync: vault.mode must be one of %q, %q, %q",
			VaultModeAWS, VaultModeGCP, VaultModeInsecureDev)
	}

	switch strings.TrimSpace(c.Webhooks.SecretSource) {
	case SecretSourceStatic:
		if len(c.Webhooks.StaticSecrets) == 0 {
			return fmt.Errorf("banksync: webhooks.static_secrets is required for secret source %q", SecretSourceStatic)
		}
	case SecretSourceAWS:
		if strings.TrimSpace(c.Webhooks.SecretPrefix) == "" {
			return fmt.Errorf("banksync: webhooks.secret_prefix is required for secret source %q", SecretSourceAWS)
		}
	case SecretSourceGCP:
		if strings.TrimSpace(c.Webhooks.SecretPrefix) == "" {
			return fmt.Errorf("banksync: webhooks.secret_prefix is required for secret source %q", SecretSourceGCP)
		}
		if strings.TrimSpace(c.Webhooks.GCPProject) == "" {
			return fmt.Errorf("banksync: webhooks.gcp_project is required for secret source %q", SecretSourceGCP)
		}
	default:
		return fmt.Errorf("banksync: webhooks.secret_source must be one of %q, %q, %q",
			SecretSourceStatic, SecretSourceAWS, SecretSourceGCP)
	}

	switch strings.TrimSpace(c.Storage.Kind) {
	case StorageKindMemory:
	case StorageKindSQL:
		if strings.TrimSpace(c.Storage.Driver) == "" {
			return fmt.Errorf("banksync: storage.driver is required for storage kind %q", StorageKindSQL)
		}
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return fmt.Errorf("banksync: storage.dsn is required for storage kind %q", StorageKindSQL)
		}
	default:
		return fmt.Errorf("banksync: storage.kind must be %q or %q", StorageKindMemory, StorageKindSQL)
	}

	if c.Plaid.Enabled {
		if strings.TrimSpace(c.Plaid.ClientID) == "" {
			return fmt.Errorf("banksync: plaid.client_id is required when plaid is enabled")
		}
		if strings.TrimSpace(c.Plaid.Secret) == "" {
			return fmt.Errorf("banksync: plaid.secret is required when plaid is enabled")
		}
	}
	return nil
}

func (c WebhookConfig) maxTimestampAge() time.Duration {
	if c.MaxTimestampAgeSeconds <= 0 {
		return 300 * time.Second
	}
	return time.Duration(c.MaxTimestampAgeSeconds) * time.Second
}

func (c WebhookConfig) secretCacheTTL() time.Duration {
	if c.SecretCacheTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.SecretCacheTTLSeconds) * time.Second
}

// LoadDotEnv loads .env files into the process environment before
// EnvRawLoader runs. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if strings.TrimSpace(path) == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("banksync: load env file %s: %w", path, err)
		}
	}
	return nil
}

const envPrefix = "BANKSYNC_"

// EnvRawLoader reads BANKSYNC_* environment variables into a raw
// config map: BANKSYNC_VAULT_MODE=aws becomes vault.mode="aws".
type EnvRawLoader struct {
	Lookup func(key string) (string, bool)
}

func (l EnvRawLoader) LoadRaw() (map[string]any, error) {
	lookup := l.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	raw := map[string]any{}
	assign := func(path []string, value any) {
		node := raw
		for _, segment := range path[:len(path)-1] {
			child, ok := node[segment].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[segment] = child
			}
			node = child
		}
		node[path[len(path)-1]] = value
	}

	for env, path := range envBindings {
		value, ok := lookup(env)
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		assign(path, coerceEnvValue(value))
	}
	return raw, nil
}

var envBindings = map[string][]string{
	envPrefix + "SERVICE_NAME":                       {"service_name"},
	envPrefix + "VAULT_MODE":                         {"vault", "mode"},
	envPrefix + "VAULT_KEY_ID":                       {"vault", "key_id"},
	envPrefix + "VAULT_ALLOW_INSECURE_DEV":           {"vault", "allow_insecure_dev"},
	envPrefix + "VAULT_DEV_KEY_MATERIAL":             {"vault", "dev_key_material"},
	envPrefix + "WEBHOOKS_SECRET_SOURCE":             {"webhooks", "secret_source"},
	envPrefix + "WEBHOOKS_SECRET_PREFIX":             {"webhooks", "secret_prefix"},
	envPrefix + "WEBHOOKS_GCP_PROJECT":               {"webhooks", "gcp_project"},
	envPrefix + "WEBHOOKS_MAX_TIMESTAMP_AGE_SECONDS": {"webhooks", "max_timestamp_age_seconds"},
	envPrefix + "WEBHOOKS_SECRET_CACHE_TTL_SECONDS":  {"webhooks", "secret_cache_ttl_seconds"},
	envPrefix + "STORAGE_KIND":                       {"storage", "kind"},
	envPrefix + "STORAGE_DRIVER":                     {"storage", "driver"},
	envPrefix + "STORAGE_DSN":                        {"storage", "dsn"},
	envPrefix + "STORAGE_CREATE_TABLES":              {"storage", "create_tables"},
	envPrefix + "PLAID_ENABLED":                      {"plaid", "enabled"},
	envPrefix + "PLAID_CLIENT_ID":                    {"plaid", "client_id"},
	envPrefix + "PLAID_SECRET":                       {"plaid", "secret"},
	envPrefix + "PLAID_ENVIRONMENT":                  {"plaid", "environment"},
	envPrefix + "PLAID_BASE_URL":                     {"plaid", "base_url"},
	envPrefix + "PLAID_CLIENT_NAME":                  {"plaid", "client_name"},
	envPrefix + "PLAID_PAGE_SIZE":                    {"plaid", "page_size"},
}

// Integers win over booleans so "0" and "1" stay numeric for the
// numeric keys; bool fields still weak-decode from 0/1.
func coerceEnvValue(value string) any {
	trimmed := strings.TrimSpace(value)
	if parsed, err := strconv.Atoi(trimmed); err == nil {
		return parsed
	}
	if parsed, err := strconv.ParseBool(trimmed); err == nil {
		return parsed
	}
	return trimmed
}
