// Package migrations holds the SQL schema applied by goose.
package migrations

import "embed"

// FS contains the ordered goose migration files.
//
//go:embed *.sql
var FS embed.FS
