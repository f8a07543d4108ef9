package main

import (
	"context"
	"os"

	"github.com/goliatone/go-reconciler/adapters/gologger"
	"github.com/goliatone/go-reconciler/core"
	"github.com/goliatone/go-reconciler/migrations"
	sqlstore "github.com/goliatone/go-reconciler/store/sql"
	persistence "github.com/goliatone/go-persistence-bun"
)

// loadConfig resolves defaults < config file and RECONCILER_* env < flags.
func (o *rootOptions) loadConfig(ctx context.Context, runtime core.Config) (core.Config, error) {
	runtime.Database.Driver = o.dbDriver
	runtime.Database.DSN = o.dbDSN
	provider := core.NewCfgxConfigProvider(core.FileConfigLoader{Path: o.configPath})
	return core.LoadConfig(ctx, provider, core.GoOptionsResolver{}, runtime)
}

func (o *rootOptions) logger(name string) *gologger.LogrusLogger {
	return gologger.NewLogrusLogger(gologger.Options{
		Level:  o.logLevel,
		Format: o.logFormat,
		Output: os.Stderr,
	}).Named(name)
}

// openMigrated opens the configured database and applies pending migrations.
func openMigrated(ctx context.Context, cfg core.DatabaseConfig) (*persistence.Client, migrations.Registration, error) {
	client, err := sqlstore.Open(cfg)
	if err != nil {
		return nil, migrations.Registration{}, err
	}
	dialect, err := sqlstore.Dialect(cfg.GetDriver())
	if err != nil {
		_ = client.Close()
		return nil, migrations.Registration{}, err
	}
	reg, err := migrations.Apply(ctx, client, dialect)
	if err != nil {
		_ = client.Close()
		return nil, reg, err
	}
	return client, reg, nil
}
