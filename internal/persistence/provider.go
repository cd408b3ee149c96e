package persistence

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/flexops/flexops/internal/common/config"
	"github.com/flexops/flexops/internal/common/logger"
	"github.com/flexops/flexops/internal/db"
	"github.com/flexops/flexops/internal/db/dialect"
)

// Provide opens the database pools used by the repositories.
//
// sqlite opens a single-connection writer plus a read-only reader pool so the
// reconciliation tick can read while marks are being written. postgres opens
// one pgx pool serving both roles.
func Provide(cfg *config.Config, log *logger.Logger) (*db.Pool, func() error, error) {
	driver := cfg.Database.Driver
	if driver == "" {
		driver = "sqlite"
	}

	switch driver {
	case "sqlite":
		writerConn, err := db.OpenSQLite(cfg.Database.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		readerConn, err := db.OpenSQLiteReader(cfg.Database.Path)
		if err != nil {
			_ = writerConn.Close()
			return nil, nil, fmt.Errorf("failed to open sqlite read pool: %w", err)
		}
		pool := db.NewPool(
			sqlx.NewDb(writerConn, dialect.SQLite3),
			sqlx.NewDb(readerConn, dialect.SQLite3),
		)
		if log != nil {
			log.Info("Database initialized",
				zap.String("db_driver", driver),
				zap.String("db_path", cfg.Database.Path))
		}
		cleanup := func() error {
			// PRAGMA optimize refreshes query planner statistics; SQLite
			// recommends running it once before close.
			_, _ = pool.Writer().Exec("PRAGMA optimize")
			return pool.Close()
		}
		return pool, cleanup, nil

	case "postgres":
		conn, err := db.OpenPostgres(cfg.Database.DSN, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres database: %w", err)
		}
		pooled := sqlx.NewDb(conn, dialect.PGX)
		pool := db.NewPool(pooled, pooled)
		if log != nil {
			log.Info("Database initialized", zap.String("db_driver", driver))
		}
		return pool, pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}
