// Package migrations embeds the PostgreSQL schema for the key-value store.
package migrations

import "embed"

// FS holds the *.up.sql / *.down.sql files.
//
//go:embed *.sql
var FS embed.FS
