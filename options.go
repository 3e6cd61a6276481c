package banksync

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

// RawConfigLoader yields an untyped config map from a file, env vars,
// or any other source.
type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

// OptionsResolver merges defaults, loaded and runtime config, highest
// precedence last.
type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type envRawConfigLoader struct {
	loader EnvRawLoader
}

func (l envRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	return l.loader.LoadRaw()
}

// NewEnvConfigLoader wraps EnvRawLoader into a RawConfigLoader.
func NewEnvConfigLoader() RawConfigLoader {
	return envRawConfigLoader{loader: EnvRawLoader{}}
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	// No validator here: the loaded layer may be partial and only the
	// fully merged config has to validate.
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("banksync: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("banksync: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	vaultLayer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Vault.Mode) != "" {
		vaultLayer["mode"] = cfg.Vault.Mode
	}
	if includeZero || strings.TrimSpace(cfg.Vault.KeyID) != "" {
		vaultLayer["key_id"] = cfg.Vault.KeyID
	}
	if includeZero || cfg.Vault.AllowInsecureDev {
		vaultLayer["allow_insecure_dev"] = cfg.Vault.AllowInsecureDev
	}
	if includeZero || strings.TrimSpace(cfg.Vault.DevKeyMaterial) != "" {
		vaultLayer["dev_key_material"] = cfg.Vault.DevKeyMaterial
	}
	if includeZero || len(cfg.Vault.BaseContext) > 0 {
		vaultLayer["base_context"] = copyStringValues(cfg.Vault.BaseContext)
	}
	if len(vaultLayer) > 0 {
		layer["vault"] = vaultLayer
	}

	webhookLayer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Webhooks.SecretSource) != "" {
		webhookLayer["secret_source"] = cfg.Webhooks.SecretSource
	}
	if includeZero || len(cfg.Webhooks.StaticSecrets) > 0 {
		webhookLayer["static_secrets"] = copyStringValues(cfg.Webhooks.StaticSecrets)
	}
	if includeZero || strings.TrimSpace(cfg.Webhooks.SecretPrefix) != "" {
		webhookLayer["secret_prefix"] = cfg.Webhooks.SecretPrefix
	}
	if includeZero || strings.TrimSpace(cfg.Webhooks.GCPProject) != "" {
		webhookLayer["gcp_project"] = cfg.Webhooks.GCPProject
	}
	if includeZero || cfg.Webhooks.MaxTimestampAgeSeconds > 0 {
		webhookLayer["max_timestamp_age_seconds"] = cfg.Webhooks.MaxTimestampAgeSeconds
	}
	if includeZero || cfg.Webhooks.SecretCacheTTLSeconds > 0 {
		webhookLayer["secret_cache_ttl_seconds"] = cfg.Webhooks.SecretCacheTTLSeconds
	}
	if len(webhookLayer) > 0 {
		layer["webhooks"] = webhookLayer
	}

	storageLayer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Storage.Kind) != "" {
		storageLayer["kind"] = cfg.Storage.Kind
	}
	if includeZero || strings.TrimSpace(cfg.Storage.Driver) != "" {
		storageLayer["driver"] = cfg.Storage.Driver
	}
	if includeZero || strings.TrimSpace(cfg.Storage.DSN) != "" {
		storageLayer["dsn"] = cfg.Storage.DSN
	}
	if includeZero || cfg.Storage.CreateTables {
		storageLayer["create_tables"] = cfg.Storage.CreateTables
	}
	if len(storageLayer) > 0 {
		layer["storage"] = storageLayer
	}

	plaidLayer := map[string]any{}
	if includeZero || cfg.Plaid.Enabled {
		plaidLayer["enabled"] = cfg.Plaid.Enabled
	}
	if includeZero || strings.TrimSpace(cfg.Plaid.ClientID) != "" {
		plaidLayer["client_id"] = cfg.Plaid.ClientID
	}
	if includeZero || strings.TrimSpace(cfg.Plaid.Secret) != "" {
		plaidLayer["secret"] = cfg.Plaid.Secret
	}
	if includeZero || strings.TrimSpace(cfg.Plaid.Environment) != "" {
		plaidLayer["environment"] = cfg.Plaid.Environment
	}
	if includeZero || strings.TrimSpace(cfg.Plaid.BaseURL) != "" {
		plaidLayer["base_url"] = cfg.Plaid.BaseURL
	}
	if includeZero || strings.TrimSpace(cfg.Plaid.ClientName) != "" {
		plaidLayer["client_name"] = cfg.Plaid.ClientName
	}
	if includeZero || cfg.Plaid.PageSize > 0 {
		plaidLayer["page_size"] = cfg.Plaid.PageSize
	}
	if len(plaidLayer) > 0 {
		layer["plaid"] = plaidLayer
	}

	return layer
}

func copyStringValues(input map[string]string) map[string]string {
	if len(input) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}
