package reconciler

import (
	"embed"
	"io/fs"
)

// migrationsFS holds the schema for payment events, orders, payments,
// products and the work queue. SQLite variants live under sqlite/.
//
//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

func GetMigrationsFS() fs.FS {
	return migrationsFS
}
