// Package migrations embeds the Postgres schema so the binary migrates
// without a checkout of this directory.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
