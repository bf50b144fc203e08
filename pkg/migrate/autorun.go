package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/cartsync/pkg/config"
	"github.com/angelmondragon/cartsync/pkg/db"
	"github.com/angelmondragon/cartsync/pkg/logger"
)

// MaybeRun brings the snapshot schema up to date when auto-migrate is on.
// It fails when the recorded version lags the newest embedded migration.
func MaybeRun(ctx context.Context, cfg config.DBConfig, logg *logger.Logger, client *db.Client) error {
	if !cfg.AutoMigrate {
		return nil
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	driver := client.Driver()

	if err := Run(ctx, sqlDB, driver, "up"); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	version, err := Version(ctx, sqlDB, driver)
	if err != nil {
		return err
	}

	ctx = logg.WithFields(ctx, map[string]any{"driver": driver, "version": version})
	if version != latestEmbedded() {
		return fmt.Errorf("schema at version %d after auto-migrate, embedded migrations reach %d", version, latestEmbedded())
	}
	logg.Debug(ctx, "snapshot schema up to date")
	return nil
}
