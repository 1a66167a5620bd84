package migrations

import "embed"

// FS contains the embedded SQLite registry migrations.
//
//go:embed *.sql
var FS embed.FS
