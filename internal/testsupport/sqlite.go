// Package testsupport opens migrated in-memory databases for package tests.
package testsupport

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-reconciler/core"
	"github.com/goliatone/go-reconciler/migrations"
	sqlstore "github.com/goliatone/go-reconciler/store/sql"
)

var sequence atomic.Int64

// SQLiteConfig returns a database config for a private shared-cache memory db.
func SQLiteConfig() core.DatabaseConfig {
	return core.DatabaseConfig{
		Driver: "sqlite3",
		DSN: fmt.Sprintf(
			"file:reconciler-%d-%d?mode=memory&cache=shared&_foreign_keys=on",
			time.Now().UnixNano(),
			sequence.Add(1),
		),
	}
}

// NewSQLiteClient opens a migrated in-memory client and closes it on cleanup.
func NewSQLiteClient(t testing.TB) *persistence.Client {
	t.Helper()
	client, err := sqlstore.Open(SQLiteConfig())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if _, err := migrations.Apply(context.Background(), client, migrations.DialectSQLite); err != nil {
		_ = client.Close()
		t.Fatalf("apply migrations: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// NewFactory returns repository stores on a fresh migrated database.
func NewFactory(t testing.TB) *sqlstore.RepositoryFactory {
	t.Helper()
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(NewSQLiteClient(t))
	if err != nil {
		t.Fatalf("repository factory: %v", err)
	}
	return factory
}
