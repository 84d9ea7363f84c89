// Package migrations embeds the SQL migrations of the provisioning journal.
package migrations

import "embed"

// FS holds the *.sql migration files at its root.
//
//go:embed *.sql
var FS embed.FS
