package database

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"

	"reconciliation-engine/internal/config"
)

var ErrUnknownMigrationCommand = errors.New("unknown migration command")

// NewMigrator opens the migration source and the MySQL target from cfg.
func NewMigrator(cfg *config.Config) (*migrate.Migrate, error) {
	m, err := migrate.New(
		fmt.Sprintf("file://%s", cfg.Migration.Dir),
		cfg.GetMigrationDBURL(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize migrate: %w", err)
	}
	return m, nil
}

// RunMigration executes up, down or version. Steps limits up and down; zero
// applies everything. Having nothing to migrate is not an error.
func RunMigration(m *migrate.Migrate, command string, steps int, logger *zap.Logger) error {
	var err error
	switch command {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	case "version":
		version, dirty, verErr := m.Version()
		if errors.Is(verErr, migrate.ErrNilVersion) {
			logger.Info("no migrations have been applied yet")
			return nil
		}
		if verErr != nil {
			return fmt.Errorf("failed to get version: %w", verErr)
		}
		logger.Info("current migration version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownMigrationCommand, command)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("no migration changes to apply")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration %s failed: %w", command, err)
	}

	logger.Info("migration completed", zap.String("command", command))
	return nil
}
