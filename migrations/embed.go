// Package migrations embeds the SQL schema files so the binaries can
// apply them without shipping the directory alongside the executable.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
