package postgres

import (
	"context"
	_ "embed"
)

//go:embed schema.sql
var schemaSQL string

// Migrate creates the tables used by the repositories and the idempotency store. Statements are
// idempotent so it is safe to run on every start.
func Migrate(ctx context.Context, db *DB) error {
	if _, err := db.pool.Exec(ctx, schemaSQL); err != nil {
		return wrapError("migrate", err)
	}
	return nil
}
