// Package static embeds the engine-managed schema migrations that
// create the per-project bookkeeping tables on first contact with a
// database.
package static

import "embed"

// EngineMigrations holds one directory per engine migration, each with
// an up.sql template parameterised by the schema identifier.
//
//go:embed engine-migrations
var EngineMigrations embed.FS
