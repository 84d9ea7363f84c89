// Package database provides the SQLite connection used by the provisioning
// journal.
//
// Open configures WAL mode, a busy timeout and a single-connection pool.
// Migrate applies the *.up.sql files of an fs.FS (normally migrations.FS)
// in version order and records them in schema_migrations:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns are nullable or carry a default.
package database
