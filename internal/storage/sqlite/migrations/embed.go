package migrations

import "embed"

// FS contains embedded SQLite migrations for the offline cache.
//
//go:embed *.sql
var FS embed.FS
