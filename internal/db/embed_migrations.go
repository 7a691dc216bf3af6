package db

import "embed"

// MigrationFS holds the schema for users, sessions, jobs and audit_logs.
// Applied by internal/db/migrate from cmd/migrate.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
