// Package database provides the SQLite connection shared by the document
// store and the audit log.
//
// Schema changes live in migration files named
// YYYYMMDD_HHMMSS_description.{up,down}.sql, embedded by the migrations
// package. Migrate applies the pending ones, one transaction each;
// MigrationStatus and Rollback back the --migrations command-line actions.
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
