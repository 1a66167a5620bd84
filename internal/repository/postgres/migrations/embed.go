package migrations

import "embed"

// FS contains the embedded PostgreSQL registry migrations.
//
//go:embed *.sql
var FS embed.FS
