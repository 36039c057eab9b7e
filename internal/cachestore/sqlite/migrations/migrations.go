// Package migrations embeds the SQLite cache store schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
