// Package database provides SQLite connectivity for Gray Logic Cloudlink.
//
// Cloudlink keeps very little state: the per-source request budgets
// (see internal/kvstore) and the migration ledger. The database runs in
// WAL mode with a single connection, and the file is created 0600.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are forward-only files named YYYYMMDD_HHMMSS_description.up.sql.
// New columns must be NULLABLE or carry a DEFAULT.
package database
