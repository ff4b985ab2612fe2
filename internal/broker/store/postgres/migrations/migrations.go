// Package migrations embeds the broker's PostgreSQL schema for
// golang-migrate's iofs source driver, mirroring dittofs's
// pkg/store/metadata/postgres/migrations embed.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
