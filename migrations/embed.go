// Package migrations embeds the PostgreSQL schema applied at start-up.
package migrations

import "embed"

//go:embed *.up.sql
var FS embed.FS
