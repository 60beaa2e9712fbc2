// Package storage selects the PropertyStore implementation from config.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"listing_harvester/internal/domain"
	"listing_harvester/internal/shared"
	mysqlrepo "listing_harvester/internal/storage/mysql"
	pgrepo "listing_harvester/internal/storage/postgres"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Open connects to the configured store. The returned func releases it.
func Open(ctx context.Context, cfg shared.Config) (domain.PropertyStore, func(), error) {
	switch cfg.StoreDriver {
	case DriverMySQL, "":
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("sql.Open: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("mysql ping: %w", err)
		}
		log.Info().Str("driver", DriverMySQL).Msg("database connection ok")
		return mysqlrepo.New(db), func() { _ = db.Close() }, nil
	case DriverPostgres:
		pool, err := pgrepo.Open(ctx, cfg.PGDSN, cfg.PGMaxConns)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		log.Info().Str("driver", DriverPostgres).Msg("database connection ok")
		return pgrepo.New(pool), pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
