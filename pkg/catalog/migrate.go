package catalog

import (
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/geogrid/routingtier/pkg/routeerr"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migrate applies every pending migration to the catalog schema. If
// externalPath is non-empty it is used as the migration source directory
// instead of the embedded set (CatalogConfig.MigrationsPath, spec §6),
// which is useful for operators iterating on schema changes without a
// rebuild.
func (c *Client) Migrate(externalPath string) error {
	driver, err := postgres.WithInstance(c.db, &postgres.Config{})
	if err != nil {
		return routeerr.Wrap(routeerr.Fatal, err, "building postgres migration driver")
	}

	var m *migrate.Migrate
	if externalPath != "" {
		m, err = migrate.NewWithDatabaseInstance("file://"+externalPath, "postgres", driver)
	} else {
		var src source.Driver
		src, err = iofs.New(embeddedMigrations, "migrations")
		if err == nil {
			m, err = migrate.NewWithInstance("iofs", src, "postgres", driver)
		}
	}
	if err != nil {
		return routeerr.Wrap(routeerr.Fatal, err, "constructing migrator")
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return routeerr.Wrap(routeerr.Fatal, err, "applying catalog migrations")
	}
	return nil
}
