// Package db embeds the Postgres schema.
package db

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS
