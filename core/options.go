package core

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "RECONCILER_"

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

// FileConfigLoader reads an optional YAML file and overlays RECONCILER_*
// environment variables. Nested keys use a double underscore, for example
// RECONCILER_SCHEDULE__BATCH_SIZE.
type FileConfigLoader struct {
	Path    string
	Environ func() []string
}

func (l FileConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	raw := map[string]any{}
	path := strings.TrimSpace(l.Path)
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("core: read config file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(content, &raw); err != nil {
			return nil, fmt.Errorf("core: parse config file %q: %w", path, err)
		}
		if raw == nil {
			raw = map[string]any{}
		}
	}

	environ := l.Environ
	if environ == nil {
		environ = os.Environ
	}
	for _, entry := range environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		segments := strings.Split(strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), "__")
		setNested(raw, segments, coerceEnvValue(segments[len(segments)-1], value))
	}
	return raw, nil
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
		loader = StaticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// LoadConfig resolves defaults < provider-loaded values < runtime overrides.
func LoadConfig(ctx context.Context, provider ConfigProvider, resolver OptionsResolver, runtime Config) (Config, error) {
	defaults := DefaultConfig()
	if provider == nil {
		provider = NewCfgxConfigProvider(nil)
	}
	if resolver == nil {
		resolver = GoOptionsResolver{}
	}
	loaded, err := provider.Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return resolver.Resolve(defaults, loaded, runtime)
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	putString(layer, "service_name", cfg.ServiceName, includeZero)

	webhook := map[string]any{}
	putString(webhook, "provider_id", cfg.Webhook.ProviderID, includeZero)
	putString(webhook, "signature_header", cfg.Webhook.SignatureHeader, includeZero)
	putString(webhook, "secret", cfg.Webhook.Secret, includeZero)
	putString(webhook, "algorithm", cfg.Webhook.Algorithm, includeZero)
	putSection(layer, "webhook", webhook)

	schedule := map[string]any{}
	putInt(schedule, "order_cleanup_interval_seconds", cfg.Schedule.OrderCleanupIntervalSeconds, includeZero)
	putInt(schedule, "pending_payment_interval_seconds", cfg.Schedule.PendingPaymentIntervalSeconds, includeZero)
	putInt(schedule, "product_visibility_interval_seconds", cfg.Schedule.ProductVisibilityIntervalSeconds, includeZero)
	putInt(schedule, "stale_order_threshold_seconds", cfg.Schedule.StaleOrderThresholdSeconds, includeZero)
	putInt(schedule, "run_timeout_seconds", cfg.Schedule.RunTimeoutSeconds, includeZero)
	putInt(schedule, "batch_size", cfg.Schedule.BatchSize, includeZero)
	putSection(layer, "schedule", schedule)

	provider := map[string]any{}
	putString(provider, "base_url", cfg.Provider.BaseURL, includeZero)
	putString(provider, "secret_key", cfg.Provider.SecretKey, includeZero)
	putInt(provider, "timeout_seconds", cfg.Provider.TimeoutSeconds, includeZero)
	putSection(layer, "provider", provider)

	database := map[string]any{}
	putString(database, "driver", cfg.Database.Driver, includeZero)
	putString(database, "dsn", cfg.Database.DSN, includeZero)
	putInt(database, "ping_timeout_seconds", cfg.Database.PingTimeoutSeconds, includeZero)
	if includeZero || cfg.Database.Debug {
		database["debug"] = cfg.Database.Debug
	}
	putSection(layer, "database", database)

	httpLayer := map[string]any{}
	putString(httpLayer, "addr", cfg.HTTP.Addr, includeZero)
	putSection(layer, "http", httpLayer)
	return layer
}

func putString(layer map[string]any, key string, value string, includeZero bool) {
	if includeZero || strings.TrimSpace(value) != "" {
		layer[key] = value
	}
}

func putInt(layer map[string]any, key string, value int, includeZero bool) {
	if includeZero || value != 0 {
		layer[key] = value
	}
}

func putSection(layer map[string]any, key string, section map[string]any) {
	if len(section) > 0 {
		layer[key] = section
	}
}

func setNested(raw map[string]any, segments []string, value any) {
	if len(segments) == 0 {
		return
	}
	current := raw
	for _, segment := range segments[:len(segments)-1] {
		next, ok := current[segment].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[segment] = next
		}
		current = next
	}
	current[segments[len(segments)-1]] = value
}

// coerceEnvValue only converts keys that decode into numeric or boolean fields.
func coerceEnvValue(key string, value string) any {
	trimmed := strings.TrimSpace(value)
	switch {
	case strings.HasSuffix(key, "_seconds"), key == "batch_size":
		if parsed, err := strconv.Atoi(trimmed); err == nil {
			return parsed
		}
	case key == "debug":
		if parsed, err := strconv.ParseBool(trimmed); err == nil {
			return parsed
		}
	}
	return value
}
