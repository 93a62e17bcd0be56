package postgres

import (
	"embed"
	"net/url"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/turtacn/progres-go/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/progres-go/pkg/errors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationURL rewrites a postgres:// DSN into the pgx5:// scheme the
// migrate driver registers under. Keyword/value DSNs are rejected.
func migrationURL(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		return "", errors.InvalidParam("schema migration needs a URL-form postgres DSN")
	}
	switch u.Scheme {
	case "postgres", "postgresql", "pgx5":
		u.Scheme = "pgx5"
	default:
		return "", errors.Newf(errors.ErrCodeInvalidParam, "unsupported DSN scheme %q", u.Scheme)
	}
	return u.String(), nil
}

func newMigrator(dsn string) (*migrate.Migrate, error) {
	target, err := migrationURL(dsn)
	if err != nil {
		return nil, err
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to open embedded migrations")
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, target)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorage, "failed to create migrate instance")
	}
	return m, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// RunMigrations applies all pending migrations
// ─────────────────────────────────────────────────────────────────────────────

// RunMigrations brings the collection schema up to date. No pending
// migrations is not an error.
func RunMigrations(dsn string, log logging.Logger) error {
	m, err := newMigrator(dsn)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		version, _, _ := m.Version()
		return errors.Wrap(err, errors.ErrCodeStorage, "failed to run migrations").
			WithDetail("current version " + strconv.FormatUint(uint64(version), 10))
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		log.Warn("Failed to read migration version", logging.Err(err))
	}
	log.Info("Postgres schema migrated",
		logging.Int64("version", int64(version)),
		logging.Bool("dirty", dirty),
	)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// RollbackMigration reverts migrations by steps
// ─────────────────────────────────────────────────────────────────────────────

// RollbackMigration reverts the schema by steps migrations.
func RollbackMigration(dsn string, steps int) error {
	if steps <= 0 {
		return errors.Newf(errors.ErrCodeInvalidParam, "steps must be greater than 0, got %d", steps)
	}
	m, err := newMigrator(dsn)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Steps(-steps); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return errors.New(errors.ErrCodeInvalidParam, "no migrations to roll back")
		}
		return errors.Wrap(err, errors.ErrCodeStorage, "failed to roll back migrations")
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// MigrationStatus reports the applied version
// ─────────────────────────────────────────────────────────────────────────────

// MigrationStatus returns the applied schema version and dirty flag. A
// fresh database reports version 0.
func MigrationStatus(dsn string) (version uint, dirty bool, err error) {
	m, err := newMigrator(dsn)
	if err != nil {
		return 0, false, err
	}
	defer m.Close()

	version, dirty, err = m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, errors.Wrap(err, errors.ErrCodeStorage, "failed to read migration version")
	}
	return version, dirty, nil
}
