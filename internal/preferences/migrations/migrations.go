// Package migrations embeds the goose migrations of the preferences
// database.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
