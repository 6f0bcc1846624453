// Package migrations embeds SQL migration files into the binary.
//
// This lets the sync daemon migrate its local database without shipping
// SQL files alongside the executable.
package migrations

import (
	"embed"

	"github.com/dinodia/dinodia-core/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "." // files are at the root of the embedded FS
}
