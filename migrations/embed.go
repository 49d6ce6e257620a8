// Package migrations embeds SQL migration files for use at runtime.
// Migrations are embedded so they work regardless of working directory.
// Each ledger backend has its own dialect directory.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed postgres/*.sql sqlite/*.sql
var root embed.FS

// Postgres returns the migration files for the Postgres ledger.
func Postgres() fs.FS {
	sub, err := fs.Sub(root, "postgres")
	if err != nil {
		panic(err)
	}
	return sub
}

// SQLite returns the migration files for the SQLite ledger.
func SQLite() fs.FS {
	sub, err := fs.Sub(root, "sqlite")
	if err != nil {
		panic(err)
	}
	return sub
}
