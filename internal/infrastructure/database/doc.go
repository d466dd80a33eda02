// Package database provides the SQLite connection used for the kiosk's local
// attempt journal.
//
// The database runs in WAL mode with a single open connection (SQLite has one
// writer). Schema changes live in the migrations package as paired
// YYYYMMDD_HHMMSS_name.up.sql / .down.sql files embedded into the binary and
// registered through MigrationsFS.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// All queries use parameterised statements. The database file is created with
// 0600 permissions because the journal links subject IDs to timestamps.
package database
