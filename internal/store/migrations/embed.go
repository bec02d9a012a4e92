// Package migrations embeds the SQL schema migrations for the metadata store.
package migrations

import "embed"

// FS holds NNN_name.up.sql files, applied in version order.
//
//go:embed *.sql
var FS embed.FS
