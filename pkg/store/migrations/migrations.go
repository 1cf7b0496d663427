// Package migrations embeds the versioned SQL schema for PostgreSQL
// deployments. SQLite deployments use GORM auto-migration instead.
package migrations

import "embed"

// FS holds the embedded migration files.
//
//go:embed *.sql
var FS embed.FS
