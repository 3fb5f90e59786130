// Package repository provides access to the reference catalog store. The
// catalog is read in fixed-size pages ordered by code; the validator loads it
// wholesale and refreshes on staleness.
package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "modernc.org/sqlite"

	"github.com/newpennine/orderextract/internal/common"
)

// CatalogRow is one product reference entry as stored.
type CatalogRow struct {
	Code        string
	Description string
}

// CatalogSource reads the reference catalog in pages. A page shorter than
// limit signals the end of the set.
type CatalogSource interface {
	FetchPage(ctx context.Context, offset, limit int) ([]CatalogRow, error)
	Ping(ctx context.Context) error
}

const catalogQuery = `SELECT code, description FROM data_code ORDER BY code LIMIT $1 OFFSET $2`

// PGCatalog reads the catalog from Postgres through a pgx pool.
type PGCatalog struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// OpenPG creates a pgx pool for the catalog store.
func OpenPG(ctx context.Context, cfg common.CatalogConfig, logger *slog.Logger) (*PGCatalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("catalog.connect", "driver", "postgres")

	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, common.WrapError(err, "parse catalog dsn")
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "orderextract"

	dialCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		return nil, common.WrapError(err, "connect catalog store")
	}
	return &PGCatalog{pool: pool, logger: logger}, nil
}

func (c *PGCatalog) FetchPage(ctx context.Context, offset, limit int) ([]CatalogRow, error) {
	rows, err := c.pool.Query(ctx, catalogQuery, limit, offset)
	if err != nil {
		return nil, common.NewAppError("CATALOG_QUERY", "fetch catalog page", err)
	}
	defer rows.Close()

	var out []CatalogRow
	for rows.Next() {
		var r CatalogRow
		if err := rows.Scan(&r.Code, &r.Description); err != nil {
			return nil, common.NewAppError("CATALOG_SCAN", "scan catalog row", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (c *PGCatalog) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// Close releases the pool.
func (c *PGCatalog) Close() {
	c.pool.Close()
}

// SQLiteCatalog reads the catalog from a SQLite file (or :memory:), used for
// local runs and tests.
type SQLiteCatalog struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (and pings) a SQLite catalog store.
func OpenSQLite(ctx context.Context, dsn string, logger *slog.Logger) (*SQLiteCatalog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, common.WrapError(err, "open sqlite catalog")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, common.WrapError(err, "ping sqlite catalog")
	}
	logger.Info("catalog.connect", "driver", "sqlite")
	return &SQLiteCatalog{db: db, logger: logger}, nil
}

func (c *SQLiteCatalog) FetchPage(ctx context.Context, offset, limit int) ([]CatalogRow, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT code, description FROM data_code ORDER BY code LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, common.NewAppError("CATALOG_QUERY", "fetch catalog page", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			c.logger.Warn("catalog.rows.close", "error", cerr)
		}
	}()

	var out []CatalogRow
	for rows.Next() {
		var r CatalogRow
		if err := rows.Scan(&r.Code, &r.Description); err != nil {
			return nil, common.NewAppError("CATALOG_SCAN", "scan catalog row", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (c *SQLiteCatalog) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the database handle.
func (c *SQLiteCatalog) Close() error {
	return c.db.Close()
}

// Open selects the catalog driver from configuration.
func Open(ctx context.Context, cfg common.CatalogConfig, logger *slog.Logger) (CatalogSource, func(), error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := OpenSQLite(ctx, cfg.DSN, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		p, err := OpenPG(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return p, func() { p.Close() }, nil
	}
}
