package migrations

import "embed"

// FS contains embedded SQLite migrations for builder storage.
//
//go:embed *.sql
var FS embed.FS
