package sqlassets

import "embed"

// Migrations holds the platform schema migrations in golang-migrate layout.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// Templates holds the schema fragments applied to customer databases.
//
//go:embed templates/*.sql templates/features/*.sql
var Templates embed.FS
