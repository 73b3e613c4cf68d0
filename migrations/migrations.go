// Package migrations embeds the SQL schema migrations for the stats sink.
package migrations

import "embed"

// FS holds every *.sql migration, named in golang-migrate's
// <version>_<title>.<up|down>.sql convention.
//
//go:embed *.sql
var FS embed.FS
