// Package migrations embeds the SQL schema migrations applied with goose.
package migrations

import "embed"

// Local holds the device-local SQLite schema
//
//go:embed local/*.sql
var Local embed.FS

// Postgres holds the schema of the postgres sync store backend
//
//go:embed postgres/*.sql
var Postgres embed.FS
