// Package migrations embeds the SQL schema for the SQLite and PostgreSQL
// storage backends.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed sqlite/*.sql postgres/*.sql
var files embed.FS

var (
	// SQLite holds the migrations for the embedded SQLite store.
	SQLite = sub("sqlite")

	// Postgres holds the migrations for the PostgreSQL store and journal.
	Postgres = sub("postgres")
)

func sub(dir string) fs.FS {
	f, err := fs.Sub(files, dir)
	if err != nil {
		panic(err)
	}
	return f
}
