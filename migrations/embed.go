// Package migrations embeds SQL migration files for use at runtime.
// The relay applies them at startup unless FIREGLOBE_SKIP_MIGRATIONS is set.
package migrations

import "embed"

// FS is the embedded migrations filesystem.
// Contains the .sql files in this directory, applied in name order.
//
//go:embed *.sql
var FS embed.FS
