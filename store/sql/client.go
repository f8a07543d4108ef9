package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-reconciler/core"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// Dialect maps a configured driver name to its migration dialect.
func Dialect(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite3", "sqlite":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pg":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("sqlstore: unsupported database driver %q", driver)
	}
}

// Open connects to the configured database and wraps it in a go-persistence-bun
// client. Migrations are registered by the caller.
func Open(cfg core.DatabaseConfig) (*persistence.Client, error) {
	dialectName, err := Dialect(cfg.GetDriver())
	if err != nil {
		return nil, err
	}
	dsn := cfg.GetServer()
	if dsn == "" {
		return nil, fmt.Errorf("sqlstore: database dsn is required")
	}

	var (
		driverName string
		dialect    schema.Dialect
	)
	switch dialectName {
	case DialectSQLite:
		driverName = "sqlite3"
		dialect = sqlitedialect.New()
	default:
		driverName = "postgres"
		dialect = pgdialect.New()
	}

	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driverName, err)
	}
	if dialectName == DialectSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(cfg, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: new persistence client: %w", err)
	}
	return client, nil
}
