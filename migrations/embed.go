// Package migrations embeds the SQL schema migrations into the binary
// and registers them with the database package.
//
// Migration files follow the naming convention
// YYYYMMDD_HHMMSS_description.{up,down}.sql and are applied in version
// order on startup.
package migrations

import (
	"embed"

	"github.com/hbastian/fieldline-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
