package sql

import "embed"

// Migrations holds the target-store DDL, applied in filename order.
//
//go:embed migrations/*.sql
var Migrations embed.FS
