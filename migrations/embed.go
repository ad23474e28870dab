// Package migrations embeds the SQL schema for the document store and the
// audit log so the binary can migrate a fresh database on its own.
package migrations

import (
	"embed"

	"github.com/GuLopes14/echobeacon-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
