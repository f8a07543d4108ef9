// Package migrations locates the embedded reconciler schema and applies it
// through go-persistence-bun.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	persistence "github.com/goliatone/go-persistence-bun"
	reconciler "github.com/goliatone/go-reconciler"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	rootDir   = "data/sql/migrations"
	sqliteDir = "sqlite"
)

// Source is the migration set for one dialect.
type Source struct {
	Dialect string
	Path    string
	FS      fs.FS
}

// Registration records which sources were handed to the migrator.
type Registration struct {
	Dialects []string
	Sources  []Source
}

type RegisterFunc func(ctx context.Context, source Source) error

// Sources resolves the postgres and sqlite migration sets. Without an
// argument the embedded schema is used.
func Sources(roots ...fs.FS) ([]Source, error) {
	root := reconciler.GetMigrationsFS()
	if len(roots) > 0 && roots[0] != nil {
		root = roots[0]
	}
	base, err := fs.Sub(root, rootDir)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s: %w", rootDir, err)
	}
	sqliteFS, err := fs.Sub(base, sqliteDir)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite migrations: %w", err)
	}

	sources := []Source{
		{Dialect: DialectPostgres, Path: rootDir, FS: base},
		{Dialect: DialectSQLite, Path: rootDir + "/" + sqliteDir, FS: sqliteFS},
	}
	for _, source := range sources {
		ups, err := fs.Glob(source.FS, "*.up.sql")
		if err != nil {
			return nil, fmt.Errorf("migrations: glob %s: %w", source.Path, err)
		}
		if len(ups) == 0 {
			return nil, fmt.Errorf("migrations: %s has no *.up.sql files", source.Path)
		}
	}
	return sources, nil
}

// Register hands the source of each requested dialect to fn. An empty
// dialect list registers every dialect.
func Register(ctx context.Context, fn RegisterFunc, dialects ...string) (Registration, error) {
	if fn == nil {
		return Registration{}, fmt.Errorf("migrations: register function is required")
	}
	sources, err := Sources()
	if err != nil {
		return Registration{}, err
	}

	wanted := map[string]bool{}
	for _, dialect := range dialects {
		normalized, err := normalizeDialect(dialect)
		if err != nil {
			return Registration{}, err
		}
		wanted[normalized] = true
	}

	var reg Registration
	for _, source := range sources {
		if len(wanted) > 0 && !wanted[source.Dialect] {
			continue
		}
		if err := fn(ctx, source); err != nil {
			return reg, fmt.Errorf("migrations: register %s: %w", source.Dialect, err)
		}
		reg.Dialects = append(reg.Dialects, source.Dialect)
		reg.Sources = append(reg.Sources, source)
	}
	return reg, nil
}

// Apply registers the migrations for dialect on client and runs them.
func Apply(ctx context.Context, client *persistence.Client, dialect string) (Registration, error) {
	if client == nil {
		return Registration{}, fmt.Errorf("migrations: persistence client is required")
	}
	if strings.TrimSpace(dialect) == "" {
		return Registration{}, fmt.Errorf("migrations: dialect is required")
	}
	reg, err := Register(ctx, func(_ context.Context, source Source) error {
		client.RegisterSQLMigrations(source.FS)
		return nil
	}, dialect)
	if err != nil {
		return reg, err
	}
	if err := client.Migrate(ctx); err != nil {
		return reg, fmt.Errorf("migrations: migrate %s: %w", strings.Join(reg.Dialects, ","), err)
	}
	return reg, nil
}

func normalizeDialect(dialect string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(dialect)) {
	case DialectPostgres:
		return DialectPostgres, nil
	case DialectSQLite:
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("migrations: unsupported dialect %q", dialect)
	}
}
