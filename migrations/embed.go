// Package migrations carries the SQL schema, applied in file-name order by
// persistence.Migrator.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
