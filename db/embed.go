// Package db provides the embedded schema migrations.
package db

import "embed"

// Migrations holds the golang-migrate files, named NNNNNN_name.{up,down}.sql.
//
//go:embed migrations/*.sql
var Migrations embed.FS
