package migrations

import "embed"

// FS contains embedded PostgreSQL migrations for the ledger.
//
//go:embed *.sql
var FS embed.FS
