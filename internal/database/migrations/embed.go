// Package migrations embeds the versioned SQL schema.
package migrations

import "embed"

// FS holds every *.up.sql file of the schema.
//
//go:embed *.up.sql
var FS embed.FS
