package migrations

import (
	"context"
	"fmt"

	"solana-wallet-tracker/internal/storage/postgres"
)

// RunPostgresMigrations applies the embedded schema. Every file must be
// idempotent since all of them run on each start.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	files, err := readSQL(PostgresFS, "postgres")
	if err != nil {
		return err
	}
	for _, f := range files {
		if _, err := pool.Exec(ctx, f.body); err != nil {
			return fmt.Errorf("apply migration %s: %w", f.name, err)
		}
	}
	return nil
}
