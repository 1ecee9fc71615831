// Package migrations embeds the SQL schema migrations into the binary.
//
// The settings table backs the settings store (account credentials, MFA
// options and the persisted Arlo auth headers). The devices table holds the
// manifests mirrored into the host device registry. The audit_logs table
// records setting changes, session transitions and manual discovery runs.
package migrations

import "embed"

// FS holds every *.sql migration at its root.
//
//go:embed *.sql
var FS embed.FS
