package db

import (
	"github.com/pkg/errors"

	"github.com/memora-ai/memora/internal/profile"
	"github.com/memora-ai/memora/store"
	"github.com/memora-ai/memora/store/db/postgres"
	"github.com/memora-ai/memora/store/db/sqlite"
)

// NewDBDriver creates a new db driver based on the profile.
// PostgreSQL is the production driver with SQL-side vector search; SQLite is
// the embedded driver for development and single-node use.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver %q: only 'postgres' and 'sqlite' are supported", profile.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
