// Package migrations embeds the SQLite schema for the turn stores.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
