// Package migrations embeds the SQL schema for the local key-value store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
