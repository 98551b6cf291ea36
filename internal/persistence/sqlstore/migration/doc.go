// Package migration applies versioned SQL files to a database.
//
// Migration files live in an fs.FS, usually embedded into the binary, and are
// named {version}_{description}.sql (e.g. "001_initial_schema.sql"). Applied
// versions are tracked in a schema_migrations table together with the
// checksum of the file they were applied from.
//
// Example usage:
//
//	manager := migration.NewManager(migration.NewExecutor(db), migrationFiles, "migrations", logger)
//	if err := manager.Run(ctx); err != nil {
//		return err
//	}
package migration
