package banksync

import (
	"context"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-banksync/audit"
	"github.com/goliatone/go-banksync/cloud"
	"github.com/goliatone/go-banksync/connector"
	"github.com/goliatone/go-banksync/core"
	"github.com/goliatone/go-banksync/providers/plaid"
	"github.com/goliatone/go-banksync/ratelimit"
	memorystore "github.com/goliatone/go-banksync/store/memory"
	sqlstore "github.com/goliatone/go-banksync/store/sql"
	"github.com/goliatone/go-banksync/transport"
	"github.com/goliatone/go-banksync/vault"
	"github.com/goliatone/go-banksync/webhooks"
)

type runtimeBuilder struct {
	logger          core.Logger
	httpClient      core.HTTPClient
	awsKMS          cloud.AWSKMSAPI
	gcpKMS          cloud.GCPKMSAPI
	awsSecrets      cloud.AWSSecretsAPI
	gcpSecrets      cloud.GCPSecretsAPI
	storage         core.Storage
	recordStore     vault.RecordStore
	auditSink       audit.Sink
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	hooks           *ExtensionHooks
	now             func() time.Time
}

type Option func(*runtimeBuilder)

func WithLogger(logger core.Logger) Option {
	return func(b *runtimeBuilder) { b.logger = logger }
}

func WithHTTPClient(client core.HTTPClient) Option {
	return func(b *runtimeBuilder) { b.httpClient = client }
}

func WithAWSKMS(api cloud.AWSKMSAPI) Option {
	return func(b *runtimeBuilder) { b.awsKMS = api }
}

func WithGCPKMS(api cloud.GCPKMSAPI) Option {
	return func(b *runtimeBuilder) { b.gcpKMS = api }
}

func WithAWSSecrets(api cloud.AWSSecretsAPI) Option {
	return func(b *runtimeBuilder) { b.awsSecrets = api }
}

func WithGCPSecrets(api cloud.GCPSecretsAPI) Option {
	return func(b *runtimeBuilder) { b.gcpSecrets = api }
}

// WithStorage overrides the storage built from config.
func WithStorage(storage core.Storage) Option {
	return func(b *runtimeBuilder) { b.storage = storage }
}

// WithVaultRecordStore overrides the token record store built from config.
func WithVaultRecordStore(store vault.RecordStore) Option {
	return func(b *runtimeBuilder) { b.recordStore = store }
}

func WithAuditSink(sink audit.Sink) Option {
	return func(b *runtimeBuilder) { b.auditSink = sink }
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *runtimeBuilder) { b.configProvider = provider }
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *runtimeBuilder) { b.optionsResolver = resolver }
}

// WithExtensionHooks registers contributed provider packs with the
// runtime's router during assembly.
func WithExtensionHooks(hooks *ExtensionHooks) Option {
	return func(b *runtimeBuilder) { b.hooks = hooks }
}

func WithClock(now func() time.Time) Option {
	return func(b *runtimeBuilder) {
		if now != nil {
			b.now = now
		}
	}
}

// Runtime bundles the assembled collaborators for one resolved config.
type Runtime struct {
	cfg      Config
	router   *core.ProviderRouter
	storage  core.Storage
	vault    core.TokenVault
	verifier *webhooks.Verifier
	service  *connector.Service
	db       *bun.DB
}

func (r *Runtime) Config() Config {
	if r == nil {
		return Config{}
	}
	return r.cfg
}

func (r *Runtime) Service() *connector.Service {
	if r == nil {
		return nil
	}
	return r.service
}

func (r *Runtime) Storage() core.Storage {
	if r == nil {
		return nil
	}
	return r.storage
}

func (r *Runtime) TokenVault() core.TokenVault {
	if r == nil {
		return nil
	}
	return r.vault
}

func (r *Runtime) Verifier() *webhooks.Verifier {
	if r == nil {
		return nil
	}
	return r.verifier
}

func (r *Runtime) Router() *core.ProviderRouter {
	if r == nil {
		return nil
	}
	return r.router
}

// Close releases the database handle when the runtime owns one.
func (r *Runtime) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// New resolves config through the provider/resolver pipeline and
// assembles a runtime. Every missing credential or collaborator fails
// the build; nothing degrades silently.
func New(runtimeConfig Config, options ...Option) (*Runtime, error) {
	builder := runtimeBuilder{now: time.Now}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(&builder)
	}
	builder.logger = glog.Ensure(builder.logger)
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, fmt.Errorf("banksync: load config: %w", err)
	}
	cfg, err := builder.optionsResolver.Resolve(defaults, loaded, runtimeConfig)
	if err != nil {
		return nil, err
	}

	runtime := &Runtime{cfg: cfg}

	storage, db, err := buildStorage(cfg, builder)
	if err != nil {
		return nil, err
	}
	runtime.storage = storage
	runtime.db = db

	tokenVault, err := buildVault(cfg, builder, db)
	if err != nil {
		return nil, err
	}
	runtime.vault = tokenVault

	verifier, err := buildVerifier(cfg, builder)
	if err != nil {
		return nil, err
	}
	runtime.verifier = verifier

	router := core.NewProviderRouter()
	if cfg.Plaid.Enabled {
		httpClient := builder.httpClient
		if httpClient == nil {
			httpClient = transport.NewRESTClient(nil)
		}
		throttled, err := ratelimit.NewTransport(
			httpClient,
			ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore()),
			string(core.ProviderPlaid),
		)
		if err != nil {
			return nil, err
		}
		httpClient = throttled
		client, err := plaid.New(plaid.Config{
			ClientID:    cfg.Plaid.ClientID,
			Secret:      cfg.Plaid.Secret,
			Environment: cfg.Plaid.Environment,
			BaseURL:     cfg.Plaid.BaseURL,
			ClientName:  cfg.Plaid.ClientName,
			PageSize:    cfg.Plaid.PageSize,
		}, httpClient, tokenVault, plaid.WithLogger(builder.logger))
		if err != nil {
			return nil, err
		}
		if err := router.Register(client); err != nil {
			return nil, err
		}
	}
	if builder.hooks != nil {
		if err := builder.hooks.ApplyProviderPacks(router); err != nil {
			return nil, err
		}
	}
	runtime.router = router

	sink := builder.auditSink
	if sink == nil {
		loggerSink := audit.NewLoggerSink(builder.logger)
		if db != nil {
			sqlSink, err := sqlstore.NewAuditSink(db)
			if err != nil {
				return nil, err
			}
			sink = audit.NewFanoutSink(sqlSink, loggerSink)
		} else {
			sink = loggerSink
		}
	}
	auditLogger, err := audit.NewLogger(sink, audit.WithClock(builder.now))
	if err != nil {
		return nil, err
	}

	service, err := connector.New(
		connector.WithRouter(router),
		connector.WithStorage(storage),
		connector.WithAuditLogger(auditLogger),
		connector.WithVerifier(verifier),
		connector.WithLogger(builder.logger),
		connector.WithClock(builder.now),
	)
	if err != nil {
		return nil, err
	}
	runtime.service = service

	return runtime, nil
}

func buildStorage(cfg Config, builder runtimeBuilder) (core.Storage, *bun.DB, error) {
	if builder.storage != nil {
		return builder.storage, nil, nil
	}
	switch strings.TrimSpace(cfg.Storage.Kind) {
	case StorageKindMemory:
		return memorystore.NewStorage(), nil, nil
	case StorageKindSQL:
		db, err := sqlstore.Open(cfg.Storage.Driver, cfg.Storage.DSN)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Storage.CreateTables {
			if err := sqlstore.CreateTables(context.Background(), db); err != nil {
				_ = db.Close()
				return nil, nil, err
			}
		}
		storage, err := sqlstore.NewStorage(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return storage, db, nil
	default:
		return nil, nil, fmt.Errorf("banksync: unsupported storage kind %q", cfg.Storage.Kind)
	}
}

func buildVault(cfg Config, builder runtimeBuilder, db *bun.DB) (core.TokenVault, error) {
	recordStore := builder.recordStore
	if recordStore == nil {
		if db != nil {
			store, err := sqlstore.NewVaultRecordStore(db)
			if err != nil {
				return nil, err
			}
			recordStore = store
		} else {
			recordStore = vault.NewMemoryRecordStore()
		}
	}

	var kmsClient vault.KMSClient
	keyID := strings.TrimSpace(cfg.Vault.KeyID)
	switch strings.TrimSpace(cfg.Vault.Mode) {
	case VaultModeAWS:
		if builder.awsKMS == nil {
			return nil, fmt.Errorf("banksync: vault mode %q requires an AWS KMS client (WithAWSKMS)", VaultModeAWS)
		}
		client, err := cloud.NewAWSKMSClient(builder.awsKMS)
		if err != nil {
			return nil, err
		}
		kmsClient = client
	case VaultModeGCP:
		if builder.gcpKMS == nil {
			return nil, fmt.Errorf("banksync: vault mode %q requires a GCP KMS client (WithGCPKMS)", VaultModeGCP)
		}
		client, err := cloud.NewGCPKMSClient(builder.gcpKMS)
		if err != nil {
			return nil, err
		}
		kmsClient = client
	case VaultModeInsecureDev:
		if !cfg.Vault.AllowInsecureDev {
			return nil, fmt.Errorf("banksync: vault mode %q requires vault.allow_insecure_dev=true", VaultModeInsecureDev)
		}
		client, err := cloud.NewInsecureDevKMSClient([]byte(cfg.Vault.DevKeyMaterial))
		if err != nil {
			return nil, err
		}
		kmsClient = client
		if keyID == "" {
			keyID = "insecure-dev"
		}
	default:
		return nil, fmt.Errorf("banksync: unsupported vault mode %q", cfg.Vault.Mode)
	}

	return vault.NewKMSVault(kmsClient, recordStore, keyID,
		vault.WithKMSBaseContext(cfg.Vault.BaseContext),
	)
}

func buildVerifier(cfg Config, builder runtimeBuilder) (*webhooks.Verifier, error) {
	resolver, err := buildSecretResolver(cfg, builder)
	if err != nil {
		return nil, err
	}

	verifier := webhooks.NewVerifier(webhooks.WithVerifierClock(builder.now))
	err = verifier.Configure(core.ProviderPlaid, webhooks.Strategy{
		SignatureHeader: "Plaid-Signature",
		SignaturePrefix: "v1=",
		TimestampHeader: "Plaid-Timestamp",
		MaxTimestampAge: cfg.Webhooks.maxTimestampAge(),
		Encoding:        webhooks.DigestEncodingHex,
		Secrets:         resolver,
	})
	if err != nil {
		return nil, err
	}
	return verifier, nil
}

func buildSecretResolver(cfg Config, builder runtimeBuilder) (webhooks.SecretResolver, error) {
	switch strings.TrimSpace(cfg.Webhooks.SecretSource) {
	case SecretSourceStatic:
		secrets := make(map[core.Provider]string, len(cfg.Webhooks.StaticSecrets))
		for provider, secret := range cfg.Webhooks.StaticSecrets {
			secrets[core.Provider(provider)] = secret
		}
		return webhooks.NewStaticSecretResolver(secrets), nil
	case SecretSourceAWS:
		if builder.awsSecrets == nil {
			return nil, fmt.Errorf("banksync: webhook secret source %q requires an AWS secrets client (WithAWSSecrets)", SecretSourceAWS)
		}
		source, err := cloud.NewAWSSecretResolver(builder.awsSecrets, cfg.Webhooks.SecretPrefix)
		if err != nil {
			return nil, err
		}
		return webhooks.NewCachedSecretResolver(source, cfg.Webhooks.secretCacheTTL(),
			webhooks.WithCacheClock(builder.now))
	case SecretSourceGCP:
		if builder.gcpSecrets == nil {
			return nil, fmt.Errorf("banksync: webhook secret source %q requires a GCP secrets client (WithGCPSecrets)", SecretSourceGCP)
		}
		source, err := cloud.NewGCPSecretResolver(builder.gcpSecrets, cfg.Webhooks.GCPProject, cfg.Webhooks.SecretPrefix)
		if err != nil {
			return nil, err
		}
		return webhooks.NewCachedSecretResolver(source, cfg.Webhooks.secretCacheTTL(),
			webhooks.WithCacheClock(builder.now))
	default:
		return nil, fmt.Errorf("banksync: unsupported webhook secret source %q", cfg.Webhooks.SecretSource)
	}
}
